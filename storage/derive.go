package storage

import (
	"sort"
	"time"

	"propwatch/models"
)

// DeriveState computes the materialized view for one fingerprint from
// its observation ledger. Pure derivation: the ledger is the only input,
// so the state can never drift from it.
func DeriveState(fingerprint string, obs []models.PriceObservation, now time.Time, maxAge time.Duration) *models.ListingState {
	if len(obs) == 0 {
		return nil
	}

	sorted := make([]models.PriceObservation, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.Before(sorted[j].ObservedAt)
	})

	newest := sorted[len(sorted)-1]
	state := &models.ListingState{
		Fingerprint:  fingerprint,
		FirstSeenAt:  sorted[0].ObservedAt,
		LastSeenAt:   newest.ObservedAt,
		CurrentPrice: newest.Price,
	}

	switch {
	case maxAge > 0 && now.Sub(newest.ObservedAt) > maxAge:
		state.Status = models.StatusStale
	case len(sorted) == 1:
		state.Status = models.StatusNew
	default:
		prev := sorted[len(sorted)-2].Price
		state.PreviousPrice = &prev
		if prev != newest.Price {
			state.Status = models.StatusPriceChanged
		} else {
			state.Status = models.StatusUnchanged
		}
	}

	return state
}

// SortStates orders report output deterministically: last_seen_at
// descending, ties broken by fingerprint.
func SortStates(states []models.ListingState) {
	sort.Slice(states, func(i, j int) bool {
		if !states[i].LastSeenAt.Equal(states[j].LastSeenAt) {
			return states[i].LastSeenAt.After(states[j].LastSeenAt)
		}
		return states[i].Fingerprint < states[j].Fingerprint
	})
}
