package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusDegraded  RunStatus = "degraded" // finished, but some (site, town) units were skipped
	RunStatusFailed    RunStatus = "failed"
)

// SearchRun is the bookkeeping record for one pipeline run.
type SearchRun struct {
	ID            string     `json:"id" db:"id"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	ListingsFound int        `json:"listings_found" db:"listings_found"`
	ListingsNew   int        `json:"listings_new" db:"listings_new"`
	PriceChanges  int        `json:"price_changes" db:"price_changes"`
	Matched       int        `json:"matched" db:"matched"`
	UnitsSkipped  int        `json:"units_skipped" db:"units_skipped"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
}
