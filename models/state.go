package models

import "time"

// PriceObservation is one timestamped price reading for a fingerprint.
// Rows are append-only: never mutated, never deleted.
type PriceObservation struct {
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	Price       int       `json:"price" db:"price"`
	ObservedAt  time.Time `json:"observed_at" db:"observed_at"`
}

type ListingStatus string

const (
	StatusNew          ListingStatus = "new"
	StatusUnchanged    ListingStatus = "unchanged"
	StatusPriceChanged ListingStatus = "price_changed"
	StatusStale        ListingStatus = "stale"
)

// ListingState is the materialized per-fingerprint view derived from the
// observation ledger. It is recomputed on read, never stored.
type ListingState struct {
	Fingerprint   string        `json:"fingerprint" db:"fingerprint"`
	FirstSeenAt   time.Time     `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt    time.Time     `json:"last_seen_at" db:"last_seen_at"`
	CurrentPrice  int           `json:"current_price" db:"current_price"`
	PreviousPrice *int          `json:"previous_price,omitempty" db:"previous_price"`
	Status        ListingStatus `json:"status" db:"status"`
}
