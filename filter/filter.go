// Package filter evaluates acceptance criteria against normalized
// listings. Pure predicates: no I/O, no state.
package filter

import "propwatch/models"

// Matches reports whether a listing satisfies the criteria. All
// configured criteria are ANDed. Missing data is treated conservatively:
// an unknown bedroom count never satisfies a bedroom minimum.
func Matches(l models.Listing, c models.Criteria) bool {
	if c.MinPrice > 0 && l.Price < c.MinPrice {
		return false
	}
	if c.MaxPrice > 0 && l.Price > c.MaxPrice {
		return false
	}
	if c.MinBedrooms > 0 && (l.Bedrooms == nil || *l.Bedrooms < c.MinBedrooms) {
		return false
	}
	return c.ConditionAllowed(l.Condition)
}
