package storage

import (
	"context"
	"time"

	"propwatch/models"
)

// HistoryStore is the append-only price ledger plus the listing and run
// bookkeeping around it. It is the only state that survives across runs.
// SQLiteStore is the default; PostgresStore implements the same contract
// for shared deployments.
type HistoryStore interface {
	// UpsertListing stores the latest normalized fields for a fingerprint.
	// first_seen_at is set once; last_seen_at advances on every call.
	UpsertListing(ctx context.Context, fingerprint string, l models.Listing, seenAt time.Time) error

	// Record appends one price observation. Idempotent: an observation
	// with a timestamp already present for the fingerprint is a no-op.
	Record(ctx context.Context, fingerprint string, price int, observedAt time.Time) error

	// Observations returns the ledger for a fingerprint ordered by
	// observed_at ascending.
	Observations(ctx context.Context, fingerprint string) ([]models.PriceObservation, error)

	// CurrentState derives the materialized view from the ledger. Returns
	// nil when the fingerprint has no observations.
	CurrentState(ctx context.Context, fingerprint string, now time.Time, maxAge time.Duration) (*models.ListingState, error)

	// AllChanged returns every state whose status is new or price_changed
	// with activity since the given time, ordered by last_seen_at
	// descending, ties broken by fingerprint.
	AllChanged(ctx context.Context, since time.Time) ([]models.ListingState, error)

	// Listing returns the stored normalized fields for a fingerprint, or
	// nil when unknown.
	Listing(ctx context.Context, fingerprint string) (*models.Listing, error)

	CreateRun(ctx context.Context, run *models.SearchRun) error
	UpdateRun(ctx context.Context, run *models.SearchRun) error
	Log(ctx context.Context, runID string, level models.LogLevel, message, siteID, town string) error
	RunLogs(ctx context.Context, runID string) ([]models.RunLog, error)

	Close() error
}
