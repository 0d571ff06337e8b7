package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"propwatch/models"
)

// SQLiteStore is the file-based history store. Schema changes are
// additive only; old rows stay readable.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, wrap("open", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, wrap("migrate", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		price INTEGER NOT NULL,
		observed_at DATETIME NOT NULL,
		UNIQUE(fingerprint, observed_at)
	);

	CREATE TABLE IF NOT EXISTS listings (
		fingerprint TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		source_id TEXT,
		url TEXT,
		title TEXT,
		location TEXT,
		town TEXT,
		area_sqm REAL,
		bedrooms INTEGER,
		condition TEXT,
		description TEXT,
		description_en TEXT,
		image_urls JSON,
		first_seen_at DATETIME,
		last_seen_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_found INTEGER DEFAULT 0,
		listings_new INTEGER DEFAULT 0,
		price_changes INTEGER DEFAULT 0,
		matched INTEGER DEFAULT 0,
		units_skipped INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		site_id TEXT,
		town TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_observations_fingerprint ON observations(fingerprint, observed_at);
	CREATE INDEX IF NOT EXISTS idx_observations_observed ON observations(observed_at);
	CREATE INDEX IF NOT EXISTS idx_listings_site ON listings(site_id);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) UpsertListing(ctx context.Context, fingerprint string, l models.Listing, seenAt time.Time) error {
	images, _ := json.Marshal(l.ImageURLs)
	var condition *string
	if l.Condition != nil {
		c := string(*l.Condition)
		condition = &c
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (fingerprint, site_id, source_id, url, title, location, town,
			area_sqm, bedrooms, condition, description, description_en, image_urls,
			first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			site_id = excluded.site_id,
			source_id = excluded.source_id,
			url = excluded.url,
			title = excluded.title,
			location = excluded.location,
			town = excluded.town,
			area_sqm = excluded.area_sqm,
			bedrooms = excluded.bedrooms,
			condition = excluded.condition,
			description = excluded.description,
			description_en = excluded.description_en,
			image_urls = excluded.image_urls,
			last_seen_at = excluded.last_seen_at`,
		fingerprint, l.SiteID, l.SourceID, l.URL, l.Title, l.Location, l.Town,
		l.AreaSqm, l.Bedrooms, condition, l.Description, l.DescriptionEN, string(images),
		seenAt.UTC(), seenAt.UTC())
	return wrap("upsert listing", err)
}

// Record appends one observation. Timestamps are bound in UTC so the
// uniqueness check is independent of the zone the caller carries.
func (s *SQLiteStore) Record(ctx context.Context, fingerprint string, price int, observedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (fingerprint, price, observed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint, observed_at) DO NOTHING`,
		fingerprint, price, observedAt.UTC())
	return wrap("record observation", err)
}

func (s *SQLiteStore) Observations(ctx context.Context, fingerprint string) ([]models.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, price, observed_at FROM observations
		WHERE fingerprint = ? ORDER BY observed_at`, fingerprint)
	if err != nil {
		return nil, wrap("observations", err)
	}
	defer rows.Close()

	var obs []models.PriceObservation
	for rows.Next() {
		var o models.PriceObservation
		if err := rows.Scan(&o.Fingerprint, &o.Price, &o.ObservedAt); err != nil {
			return nil, wrap("observations scan", err)
		}
		obs = append(obs, o)
	}
	return obs, wrap("observations rows", rows.Err())
}

func (s *SQLiteStore) CurrentState(ctx context.Context, fingerprint string, now time.Time, maxAge time.Duration) (*models.ListingState, error) {
	obs, err := s.Observations(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	return DeriveState(fingerprint, obs, now, maxAge), nil
}

func (s *SQLiteStore) AllChanged(ctx context.Context, since time.Time) ([]models.ListingState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT fingerprint FROM observations
		GROUP BY fingerprint HAVING MAX(observed_at) >= ?`, since)
	if err != nil {
		return nil, wrap("all changed", err)
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, wrap("all changed scan", err)
		}
		fingerprints = append(fingerprints, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("all changed rows", err)
	}

	var states []models.ListingState
	for _, fp := range fingerprints {
		obs, err := s.Observations(ctx, fp)
		if err != nil {
			return nil, err
		}
		state := DeriveState(fp, obs, time.Now(), 0)
		if state == nil {
			continue
		}
		if state.Status == models.StatusNew || state.Status == models.StatusPriceChanged {
			states = append(states, *state)
		}
	}

	SortStates(states)
	return states, nil
}

func (s *SQLiteStore) Listing(ctx context.Context, fingerprint string) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT site_id, source_id, url, title, location, town, area_sqm, bedrooms,
			condition, description, description_en, image_urls
		FROM listings WHERE fingerprint = ?`, fingerprint)

	var l models.Listing
	var sourceID, url, title, location, town, condition, desc, descEN, images sql.NullString
	var area sql.NullFloat64
	var beds sql.NullInt64

	err := row.Scan(&l.SiteID, &sourceID, &url, &title, &location, &town,
		&area, &beds, &condition, &desc, &descEN, &images)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get listing", err)
	}

	l.SourceID = sourceID.String
	l.URL = url.String
	l.Title = title.String
	l.Location = location.String
	l.Town = town.String
	l.Description = desc.String
	l.DescriptionEN = descEN.String
	if area.Valid {
		l.AreaSqm = &area.Float64
	}
	if beds.Valid {
		b := int(beds.Int64)
		l.Bedrooms = &b
	}
	if condition.Valid && condition.String != "" {
		c := models.Condition(condition.String)
		l.Condition = &c
	}
	if images.Valid && images.String != "" {
		json.Unmarshal([]byte(images.String), &l.ImageURLs)
	}

	// Current price is ledger-owned, not a listings column.
	if obs, err := s.Observations(ctx, fingerprint); err == nil && len(obs) > 0 {
		l.Price = obs[len(obs)-1].Price
	}

	return &l, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.SearchRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status)
		VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, run.Status)
	return wrap("create run", err)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.SearchRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, listings_found = ?,
			listings_new = ?, price_changes = ?, matched = ?, units_skipped = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsFound, run.ListingsNew,
		run.PriceChanges, run.Matched, run.UnitsSkipped, run.ErrorsCount, run.ID)
	return wrap("update run", err)
}

func (s *SQLiteStore) Log(ctx context.Context, runID string, level models.LogLevel, message, siteID, town string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, site_id, town)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, siteID, town)
	return wrap("log", err)
}

func (s *SQLiteStore) RunLogs(ctx context.Context, runID string) ([]models.RunLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message, site_id, town
		FROM run_logs WHERE run_id = ? ORDER BY timestamp`, runID)
	if err != nil {
		return nil, wrap("run logs", err)
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var entry models.RunLog
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.Timestamp, &entry.Level,
			&entry.Message, &entry.SiteID, &entry.Town); err != nil {
			return nil, wrap("run logs scan", err)
		}
		logs = append(logs, entry)
	}
	return logs, wrap("run logs rows", rows.Err())
}
