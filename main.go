package main

import (
	"context"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"propwatch/config"
	"propwatch/fetch"
	"propwatch/httputil"
	"propwatch/logging"
	"propwatch/models"
	"propwatch/normalize"
	"propwatch/scheduler"
	"propwatch/scrape"
	"propwatch/storage"
	"propwatch/translate"
)

var scrapeNow = flag.Bool("scrape", false, "Run the pipeline once and exit")

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Printf("Loaded %d site configs", len(cfg.Sites))
	for id, site := range cfg.Sites {
		log.Printf("  - %s (%s), %d towns", site.Name, id, len(site.Towns))
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open history store: %v", err)
	}
	defer store.Close()

	cache, err := fetch.OpenCache(cfg.CacheDBPath)
	if err != nil {
		log.Fatalf("Failed to open fetch cache: %v", err)
	}
	defer cache.Close()

	client := fetch.NewClient(cache, cfg.CacheTTL)
	client.SetHTTPClient(httputil.NewScrapingClient(cfg.ProxyURL))
	for _, site := range cfg.Sites {
		if host := siteHost(site.SearchURL); host != "" && site.RateLimitMS > 0 {
			client.SetHostInterval(host, time.Duration(site.RateLimitMS)*time.Millisecond)
		}
	}

	var translator translate.Translator
	if cfg.Translate.Enabled() {
		translator = translate.NewHTTPTranslator(cfg.Translate.Endpoint, cfg.Translate.APIKey)
		log.Printf("Translation: %s -> %s via %s", cfg.Translate.From, cfg.Translate.To, cfg.Translate.Endpoint)
	}
	norm := normalize.New(translator, cfg.Translate.From, cfg.Translate.To)

	orch := scrape.NewOrchestrator(cfg, store, client, norm, scrape.LogReporter{})

	if *scrapeNow {
		result, err := orch.Run(ctx)
		if err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		log.Printf("Run %s: %s, %d found, %d matched", result.Run.ID, result.Run.Status, result.Run.ListingsFound, result.Run.Matched)
		if result.Run.Status != models.RunStatusCompleted {
			os.Exit(1)
		}
		return
	}

	if cfg.Cron == "" {
		log.Fatal("Daemon mode needs SEARCH_CRON set (or pass -scrape for a one-shot run)")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg.Cron, orch)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	cancel()
}

// openStore picks Postgres when POSTGRES_URL is set, SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config) (storage.HistoryStore, error) {
	if cfg.PostgresURL != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		log.Println("History store: Postgres")
		return store, nil
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Printf("History store: SQLite at %s", cfg.DBPath)
	return store, nil
}

// siteHost extracts the host from a search URL template. Placeholders
// only ever appear in the path.
func siteHost(template string) string {
	u, err := url.Parse(template)
	if err != nil {
		return ""
	}
	return u.Host
}
