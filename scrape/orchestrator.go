package scrape

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"propwatch/config"
	"propwatch/extract"
	"propwatch/fetch"
	"propwatch/filter"
	"propwatch/identity"
	"propwatch/models"
	"propwatch/normalize"
	"propwatch/storage"
)

const (
	minWorkers = 1
	maxWorkers = 4
)

// Fetcher retrieves documents. Satisfied by *fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Result, error)
}

// Match pairs a listing that passed the criteria with its derived ledger
// state.
type Match struct {
	Fingerprint string              `json:"fingerprint"`
	Listing     models.Listing      `json:"listing"`
	State       models.ListingState `json:"state"`
}

// SkippedUnit records one (site, town) unit the run could not process.
type SkippedUnit struct {
	SiteID string `json:"site_id"`
	Town   string `json:"town"`
	Reason string `json:"reason"`
}

// RunResult is the outcome of one full pipeline run.
type RunResult struct {
	Run     models.SearchRun
	Matches []Match
	Skipped []SkippedUnit
}

type unit struct {
	site *config.SiteConfig
	town string
	info config.Town
}

// Orchestrator drives the pipeline across the (site, town) matrix: fetch
// search pages, extract cards, normalize, resolve identity, record price
// observations, derive state, filter, deliver matches.
type Orchestrator struct {
	cfg      *config.Config
	store    storage.HistoryStore
	fetcher  Fetcher
	norm     *normalize.Normalizer
	resolver identity.Resolver
	reporter Reporter
	workers  int

	now func() time.Time
}

func NewOrchestrator(cfg *config.Config, store storage.HistoryStore, fetcher Fetcher, norm *normalize.Normalizer, reporter Reporter) *Orchestrator {
	workers := cfg.Workers
	if workers < minWorkers {
		workers = minWorkers
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}

	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		norm:     norm,
		reporter: reporter,
		workers:  workers,
		now:      time.Now,
	}
}

// Run executes one pipeline pass. Units fail independently: a skipped
// unit is reported, not fatal. Storage failures abort the run; already
// committed observations stay committed.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	units := o.units()

	run := &models.SearchRun{
		ID:        uuid.New().String(),
		StartedAt: o.now(),
		Status:    models.RunStatusRunning,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	o.logf(ctx, run.ID, models.LogLevelInfo, "", "", "run started: %d units, %d workers", len(units), o.workers)

	result := &RunResult{}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fatalErr error
	)

	queue := make(chan unit)
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range queue {
				out, err := o.processUnit(ctx, run.ID, u)

				mu.Lock()
				run.ListingsFound += out.found
				run.ListingsNew += out.newCount
				run.PriceChanges += out.priceChanges
				run.ErrorsCount += out.errors
				result.Matches = append(result.Matches, out.matches...)
				if err != nil {
					if storage.IsStorageError(err) || errors.Is(err, context.Canceled) {
						if fatalErr == nil && !errors.Is(err, context.Canceled) {
							fatalErr = err
						}
						mu.Unlock()
						cancel()
						continue
					}
					run.UnitsSkipped++
					run.ErrorsCount++
					result.Skipped = append(result.Skipped, SkippedUnit{
						SiteID: u.site.ID,
						Town:   u.town,
						Reason: err.Error(),
					})
					mu.Unlock()
					o.logf(ctx, run.ID, models.LogLevelError, u.site.ID, u.town, "unit skipped: %v", err)
					continue
				}
				mu.Unlock()
			}
		}()
	}

	for _, u := range units {
		select {
		case queue <- u:
		case <-ctx.Done():
		}
	}
	close(queue)
	wg.Wait()

	if fatalErr == nil && ctx.Err() != nil {
		fatalErr = ctx.Err()
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		a, b := result.Matches[i].State, result.Matches[j].State
		if !a.LastSeenAt.Equal(b.LastSeenAt) {
			return a.LastSeenAt.After(b.LastSeenAt)
		}
		return result.Matches[i].Fingerprint < result.Matches[j].Fingerprint
	})
	run.Matched = len(result.Matches)

	switch {
	case fatalErr != nil:
		run.Status = models.RunStatusFailed
	case run.UnitsSkipped > 0:
		run.Status = models.RunStatusDegraded
	default:
		run.Status = models.RunStatusCompleted
	}

	finished := o.now()
	run.FinishedAt = &finished
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("[scrape] run %s: update failed: %v", run.ID, err)
	}
	result.Run = *run

	o.logf(context.WithoutCancel(ctx), run.ID, models.LogLevelInfo, "", "",
		"run %s: %d found, %d new, %d price changes, %d matched, %d units skipped",
		run.Status, run.ListingsFound, run.ListingsNew, run.PriceChanges, run.Matched, run.UnitsSkipped)

	if fatalErr != nil {
		return result, fatalErr
	}

	if o.reporter != nil && len(result.Matches) > 0 {
		if err := o.reporter.Deliver(context.WithoutCancel(ctx), result.Matches); err != nil {
			o.logf(context.WithoutCancel(ctx), run.ID, models.LogLevelError, "", "", "reporter: %v", err)
		}
	}

	return result, nil
}

// units expands the configured source/location matrix. Unknown sources
// or towns are dropped silently; an empty target list means everything
// the site configs declare.
func (o *Orchestrator) units() []unit {
	sources := o.cfg.Search.TargetSources
	if len(sources) == 0 {
		for id := range o.cfg.Sites {
			sources = append(sources, id)
		}
		sort.Strings(sources)
	}

	var units []unit
	for _, siteID := range sources {
		site, ok := o.cfg.Sites[siteID]
		if !ok {
			continue
		}

		towns := o.cfg.Search.TargetLocations
		if len(towns) == 0 {
			for town := range site.Towns {
				towns = append(towns, town)
			}
			sort.Strings(towns)
		}

		for _, town := range towns {
			info, ok := site.Towns[town]
			if !ok {
				continue
			}
			units = append(units, unit{site: site, town: town, info: info})
		}
	}
	return units
}

type unitOutcome struct {
	found        int
	newCount     int
	priceChanges int
	errors       int
	matches      []Match
}

// processUnit runs the full pipeline for one (site, town) search page.
// The returned error skips the unit, unless it is a storage failure,
// which the caller treats as fatal.
func (o *Orchestrator) processUnit(ctx context.Context, runID string, u unit) (unitOutcome, error) {
	var out unitOutcome

	if err := ctx.Err(); err != nil {
		return out, err
	}

	extractor, err := extract.ForSite(u.site.ID)
	if err != nil {
		return out, err
	}

	searchURL := buildSearchURL(u.site.SearchURL, u.info)
	res, err := o.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		return out, fmt.Errorf("fetch %s: %w", searchURL, err)
	}

	raws, err := extractor.Extract(res.Body, u.town)
	if err != nil {
		return out, fmt.Errorf("extract: %w", err)
	}
	out.found = len(raws)
	o.logf(ctx, runID, models.LogLevelInfo, u.site.ID, u.town, "%d listings extracted (cached=%v)", len(raws), res.FromCache)

	maxAge := o.cfg.Search.Criteria.MaxListingAge.Std()
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		if u.site.FetchDetail && raw.URL != "" {
			o.enrichDescription(ctx, runID, extractor, &raw)
		}

		listing, err := o.norm.Normalize(ctx, raw)
		if err != nil {
			// Record-level failure: drop this listing, keep the unit.
			out.errors++
			o.logf(ctx, runID, models.LogLevelWarn, u.site.ID, u.town, "dropped %q: %v", raw.Title, err)
			continue
		}

		fingerprint := o.resolver.Resolve(listing)

		if err := o.store.UpsertListing(ctx, fingerprint, listing, res.FetchedAt); err != nil {
			return out, err
		}
		// The observation timestamp is the document's retrieval time, so
		// re-processing a cache-served page re-records nothing.
		if err := o.store.Record(ctx, fingerprint, listing.Price, res.FetchedAt); err != nil {
			return out, err
		}

		state, err := o.store.CurrentState(ctx, fingerprint, o.now(), maxAge)
		if err != nil {
			return out, err
		}
		if state == nil {
			continue
		}

		switch state.Status {
		case models.StatusNew:
			out.newCount++
		case models.StatusPriceChanged:
			out.priceChanges++
		case models.StatusStale:
			continue
		}

		if filter.Matches(listing, o.cfg.Search.Criteria) {
			out.matches = append(out.matches, Match{Fingerprint: fingerprint, Listing: listing, State: *state})
		}
	}

	return out, nil
}

// enrichDescription follows the listing link for the full description
// text. Best effort: any failure keeps the card text.
func (o *Orchestrator) enrichDescription(ctx context.Context, runID string, extractor extract.Extractor, raw *models.RawListing) {
	type descriptionExtractor interface {
		ExtractDescription(body []byte) (string, error)
	}
	de, ok := extractor.(descriptionExtractor)
	if !ok {
		return
	}

	res, err := o.fetcher.Fetch(ctx, raw.URL)
	if err != nil {
		o.logf(ctx, runID, models.LogLevelWarn, raw.SiteID, raw.Town, "detail fetch %s: %v", raw.URL, err)
		return
	}
	desc, err := de.ExtractDescription(res.Body)
	if err != nil {
		o.logf(ctx, runID, models.LogLevelWarn, raw.SiteID, raw.Town, "detail parse %s: %v", raw.URL, err)
		return
	}
	if desc != "" {
		raw.Description = desc
	}
}

func buildSearchURL(template string, town config.Town) string {
	url := strings.ReplaceAll(template, "{town}", town.Slug)
	return strings.ReplaceAll(url, "{region}", town.Region)
}

func (o *Orchestrator) logf(ctx context.Context, runID string, level models.LogLevel, siteID, town string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if siteID != "" {
		log.Printf("[scrape] %s %s/%s: %s", level, siteID, town, msg)
	} else {
		log.Printf("[scrape] %s: %s", level, msg)
	}
	if err := o.store.Log(ctx, runID, level, msg, siteID, town); err != nil {
		log.Printf("[scrape] run log write failed: %v", err)
	}
}
