package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"propwatch/models"
)

// PostgresStore implements HistoryStore against Postgres for deployments
// where the ledger is shared between machines. Same contract as the
// SQLite store; the orchestrator never knows which one it talks to.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, wrap("parse config", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, wrap("create pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("ping", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS observations (
		id BIGSERIAL PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		price BIGINT NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL,
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
		area_sqm DOUBLE PRECISION,
		bedrooms INT,
		condition TEXT,
		description TEXT,
		description_en TEXT,
		image_urls JSONB,
		first_seen_at TIMESTAMPTZ,
		last_seen_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		status TEXT,
		listings_found INT DEFAULT 0,
		listings_new INT DEFAULT 0,
		price_changes INT DEFAULT 0,
		matched INT DEFAULT 0,
		units_skipped INT DEFAULT 0,
		errors_count INT DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT,
		timestamp TIMESTAMPTZ,
		level TEXT,
		message TEXT,
		site_id TEXT,
		town TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_observations_fingerprint ON observations(fingerprint, observed_at);
	CREATE INDEX IF NOT EXISTS idx_observations_observed ON observations(observed_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, timestamp);
	`
	_, err := s.pool.Exec(ctx, schema)
	return wrap("migrate", err)
}

func (s *PostgresStore) UpsertListing(ctx context.Context, fingerprint string, l models.Listing, seenAt time.Time) error {
	images, _ := json.Marshal(l.ImageURLs)
	var condition *string
	if l.Condition != nil {
		c := string(*l.Condition)
		condition = &c
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (fingerprint, site_id, source_id, url, title, location, town,
			area_sqm, bedrooms, condition, description, description_en, image_urls,
			first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (fingerprint) DO UPDATE SET
			site_id = EXCLUDED.site_id,
			source_id = EXCLUDED.source_id,
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			location = EXCLUDED.location,
			town = EXCLUDED.town,
			area_sqm = EXCLUDED.area_sqm,
			bedrooms = EXCLUDED.bedrooms,
			condition = EXCLUDED.condition,
			description = EXCLUDED.description,
			description_en = EXCLUDED.description_en,
			image_urls = EXCLUDED.image_urls,
			last_seen_at = EXCLUDED.last_seen_at`,
		fingerprint, l.SiteID, l.SourceID, l.URL, l.Title, l.Location, l.Town,
		l.AreaSqm, l.Bedrooms, condition, l.Description, l.DescriptionEN, images, seenAt)
	return wrap("upsert listing", err)
}

func (s *PostgresStore) Record(ctx context.Context, fingerprint string, price int, observedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO observations (fingerprint, price, observed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint, observed_at) DO NOTHING`,
		fingerprint, price, observedAt)
	return wrap("record observation", err)
}

func (s *PostgresStore) Observations(ctx context.Context, fingerprint string) ([]models.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fingerprint, price, observed_at FROM observations
		WHERE fingerprint = $1 ORDER BY observed_at`, fingerprint)
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

func (s *PostgresStore) CurrentState(ctx context.Context, fingerprint string, now time.Time, maxAge time.Duration) (*models.ListingState, error) {
	obs, err := s.Observations(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	return DeriveState(fingerprint, obs, now, maxAge), nil
}

func (s *PostgresStore) AllChanged(ctx context.Context, since time.Time) ([]models.ListingState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fingerprint FROM observations
		GROUP BY fingerprint HAVING MAX(observed_at) >= $1`, since)
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

func (s *PostgresStore) Listing(ctx context.Context, fingerprint string) (*models.Listing, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT site_id, source_id, url, title, location, town, area_sqm, bedrooms,
			condition, description, description_en, image_urls
		FROM listings WHERE fingerprint = $1`, fingerprint)

	var l models.Listing
	var sourceID, url, title, location, town, condition, desc, descEN *string
	var images []byte

	err := row.Scan(&l.SiteID, &sourceID, &url, &title, &location, &town,
		&l.AreaSqm, &l.Bedrooms, &condition, &desc, &descEN, &images)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get listing", err)
	}

	l.SourceID = deref(sourceID)
	l.URL = deref(url)
	l.Title = deref(title)
	l.Location = deref(location)
	l.Town = deref(town)
	l.Description = deref(desc)
	l.DescriptionEN = deref(descEN)
	if condition != nil && *condition != "" {
		c := models.Condition(*condition)
		l.Condition = &c
	}
	if len(images) > 0 {
		json.Unmarshal(images, &l.ImageURLs)
	}

	if obs, err := s.Observations(ctx, fingerprint); err == nil && len(obs) > 0 {
		l.Price = obs[len(obs)-1].Price
	}

	return &l, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.SearchRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, started_at, status)
		VALUES ($1, $2, $3)`,
		run.ID, run.StartedAt, run.Status)
	return wrap("create run", err)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.SearchRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs SET finished_at = $1, status = $2, listings_found = $3,
			listings_new = $4, price_changes = $5, matched = $6, units_skipped = $7, errors_count = $8
		WHERE id = $9`,
		run.FinishedAt, run.Status, run.ListingsFound, run.ListingsNew,
		run.PriceChanges, run.Matched, run.UnitsSkipped, run.ErrorsCount, run.ID)
	return wrap("update run", err)
}

func (s *PostgresStore) Log(ctx context.Context, runID string, level models.LogLevel, message, siteID, town string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, site_id, town)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, time.Now(), level, message, siteID, town)
	return wrap("log", err)
}

func (s *PostgresStore) RunLogs(ctx context.Context, runID string) ([]models.RunLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, timestamp, level, message, site_id, town
		FROM run_logs WHERE run_id = $1 ORDER BY timestamp`, runID)
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
