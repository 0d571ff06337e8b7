package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"propwatch/config"
	"propwatch/fetch"
	"propwatch/identity"
	"propwatch/models"
	"propwatch/normalize"
	"propwatch/storage"
)

func immobiliareCard(href, title, price, details string) string {
	return fmt.Sprintf(`<div class="nd-list__item">
		<a class="nd-list__title" href="%s">%s</a>
		<div class="nd-list__price">%s</div>
		<div class="nd-list__details">%s</div>
	</div>`, href, title, price, details)
}

func immobiliarePage(cards ...string) string {
	return "<html><body>" + strings.Join(cards, "\n") + "</body></html>"
}

func testCriteria() models.Criteria {
	return models.Criteria{
		MinPrice:              150000,
		MaxPrice:              400000,
		MinBedrooms:           2,
		AllowUnknownCondition: true,
		MaxListingAge:         models.Duration(720 * time.Hour),
	}
}

func testConfig(baseURL string, fetchDetail bool, towns ...string) *config.Config {
	siteTowns := make(map[string]config.Town)
	for _, town := range towns {
		siteTowns[town] = config.Town{Slug: town, Region: "calabria"}
	}
	return &config.Config{
		Workers: 2,
		Sites: map[string]*config.SiteConfig{
			"immobiliare": {
				ID:          "immobiliare",
				Name:        "Immobiliare.it",
				SearchURL:   baseURL + "/vendita-case/{town}/",
				FetchDetail: fetchDetail,
				Towns:       siteTowns,
			},
		},
		Search: config.SearchConfig{
			Criteria:        testCriteria(),
			TargetSources:   []string{"immobiliare"},
			TargetLocations: towns,
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, ttl time.Duration) (*Orchestrator, *storage.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := fetch.OpenCache(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	client := fetch.NewClient(cache, ttl)
	norm := normalize.New(nil, "it", "en")
	return NewOrchestrator(cfg, store, client, norm, nil), store
}

func TestRunNewListingThenPriceChange(t *testing.T) {
	var drop int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		price := "€ 180.000"
		if atomic.LoadInt32(&drop) == 1 {
			price = "€ 170.000"
		}
		fmt.Fprint(w, immobiliarePage(
			immobiliareCard("/annunci/98765432/", "Trilocale via Roma", price, "3 locali · 120 m²"),
		))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, false, "crotone")
	// Zero TTL: every run refetches, so the second run sees the new price.
	orch, store := newTestOrchestrator(t, cfg, 0)
	ctx := context.Background()

	first, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Run.Status != models.RunStatusCompleted {
		t.Fatalf("first run status = %s", first.Run.Status)
	}
	if first.Run.ListingsFound != 1 || first.Run.ListingsNew != 1 || first.Run.Matched != 1 {
		t.Fatalf("first run counters: %+v", first.Run)
	}
	if len(first.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(first.Matches))
	}
	m := first.Matches[0]
	if m.State.Status != models.StatusNew || m.State.CurrentPrice != 180000 {
		t.Fatalf("first match state: %+v", m.State)
	}

	atomic.StoreInt32(&drop, 1)
	second, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Run.PriceChanges != 1 {
		t.Fatalf("second run counters: %+v", second.Run)
	}
	if len(second.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(second.Matches))
	}
	m = second.Matches[0]
	if m.State.Status != models.StatusPriceChanged {
		t.Fatalf("second match status = %s", m.State.Status)
	}
	if m.State.CurrentPrice != 170000 {
		t.Fatalf("current price = %d", m.State.CurrentPrice)
	}
	if m.State.PreviousPrice == nil || *m.State.PreviousPrice != 180000 {
		t.Fatalf("previous price = %v", m.State.PreviousPrice)
	}

	obs, err := store.Observations(ctx, m.Fingerprint)
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
}

func TestRunIdempotentOnCachedDocument(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, immobiliarePage(
			immobiliareCard("/annunci/98765432/", "Trilocale via Roma", "€ 180.000", "3 locali · 120 m²"),
		))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, false, "crotone")
	orch, store := newTestOrchestrator(t, cfg, time.Hour)
	ctx := context.Background()

	first, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected 1 network retrieval across both runs, got %d", n)
	}
	if len(second.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(second.Matches))
	}

	// Same cached document, same observation timestamp: the ledger must
	// not grow.
	obs, err := store.Observations(ctx, first.Matches[0].Fingerprint)
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("expected 1 observation after re-run, got %d", len(obs))
	}
	if second.Matches[0].State.Status != models.StatusNew {
		t.Fatalf("re-run status = %s", second.Matches[0].State.Status)
	}
}

func TestRunSkipsBlockedUnit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "catania") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, immobiliarePage(
			immobiliareCard("/annunci/11111111/", "Appartamento centro", "€ 200.000", "4 locali · 150 m²"),
		))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, false, "crotone", "catania")
	orch, store := newTestOrchestrator(t, cfg, time.Hour)

	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.Status != models.RunStatusDegraded {
		t.Fatalf("status = %s, want degraded", res.Run.Status)
	}
	if res.Run.UnitsSkipped != 1 || len(res.Skipped) != 1 {
		t.Fatalf("skipped bookkeeping: %+v / %+v", res.Run, res.Skipped)
	}
	if res.Skipped[0].Town != "catania" {
		t.Fatalf("skipped town = %s", res.Skipped[0].Town)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("healthy unit must still produce its match, got %d", len(res.Matches))
	}

	logs, err := store.RunLogs(context.Background(), res.Run.ID)
	if err != nil {
		t.Fatalf("run logs: %v", err)
	}
	var sawSkip bool
	for _, entry := range logs {
		if entry.Level == models.LogLevelError && entry.Town == "catania" {
			sawSkip = true
		}
	}
	if !sawSkip {
		t.Fatal("expected an error log row for the skipped unit")
	}
}

func TestRunDropsUnparsableListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, immobiliarePage(
			immobiliareCard("/annunci/22222222/", "Casa indipendente", "Prezzo su richiesta", "5 locali"),
			immobiliareCard("/annunci/33333333/", "Bilocale mare", "€ 160.000", "2 locali · 70 m²"),
		))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, false, "crotone")
	orch, _ := newTestOrchestrator(t, cfg, time.Hour)

	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.Status != models.RunStatusCompleted {
		t.Fatalf("a dropped listing must not degrade the run, status = %s", res.Run.Status)
	}
	if res.Run.ListingsFound != 2 {
		t.Fatalf("found = %d", res.Run.ListingsFound)
	}
	if res.Run.ErrorsCount != 1 {
		t.Fatalf("errors = %d", res.Run.ErrorsCount)
	}
	if len(res.Matches) != 1 || res.Matches[0].Listing.SourceID != "33333333" {
		t.Fatalf("matches: %+v", res.Matches)
	}
}

func TestRunFetchesDetailDescription(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/vendita-case/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, immobiliarePage(
			immobiliareCard(srvURL+"/annunci/55555555/", "Attico panoramico", "€ 350.000", "3 locali · 110 m²"),
		))
	})
	mux.HandleFunc("/annunci/55555555/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="im-description__text">
			Attico completamente ristrutturato con vista mare.
		</div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	cfg := testConfig(srv.URL, true, "crotone")
	cfg.Search.Criteria.AllowedConditions = []models.Condition{models.ConditionExcellent}
	cfg.Search.Criteria.AllowUnknownCondition = false

	orch, _ := newTestOrchestrator(t, cfg, time.Hour)
	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d (skipped %+v)", len(res.Matches), res.Skipped)
	}
	l := res.Matches[0].Listing
	if l.Condition == nil || *l.Condition != models.ConditionExcellent {
		t.Fatalf("condition = %v, want excellent from the detail page text", l.Condition)
	}
	if !strings.Contains(l.Description, "vista mare") {
		t.Fatalf("description not taken from detail page: %q", l.Description)
	}
}

func TestRunStoresRunRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, immobiliarePage(
			immobiliareCard("/annunci/44444444/", "Villetta", "€ 250.000", "4 locali · 140 m²"),
		))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, false, "crotone")
	orch, _ := newTestOrchestrator(t, cfg, time.Hour)

	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.ID == "" {
		t.Fatal("run id missing")
	}
	if res.Run.FinishedAt == nil {
		t.Fatal("finished_at missing")
	}
	fp := identity.Resolve(res.Matches[0].Listing)
	if fp != res.Matches[0].Fingerprint {
		t.Fatalf("match fingerprint %s does not round-trip through the resolver (%s)", res.Matches[0].Fingerprint, fp)
	}
}
