package extract

import (
	"fmt"
	"unicode/utf8"

	"propwatch/models"
)

// Extractor turns one fetched search-page document into raw listing
// records for a town. Markup differs per portal; every implementation
// produces the same shape. One unreadable card yields zero listings for
// that card, never an error for the document.
type Extractor interface {
	SiteID() string
	Extract(body []byte, town string) ([]models.RawListing, error)
}

// ForSite returns the extractor for a portal id.
func ForSite(siteID string) (Extractor, error) {
	switch siteID {
	case "immobiliare":
		return &ImmobiliareExtractor{}, nil
	case "casa":
		return &CasaExtractor{}, nil
	default:
		return nil, fmt.Errorf("no extractor for site %q", siteID)
	}
}

// ParseError marks a document that could not be parsed at all (encoding
// failure, truncated body). The orchestrator logs and skips the document.
type ParseError struct {
	SiteID string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s document: %s", e.SiteID, e.Reason)
}

// checkDocument rejects bodies no extractor can work with.
func checkDocument(siteID string, body []byte) error {
	if len(body) == 0 {
		return &ParseError{SiteID: siteID, Reason: "empty body"}
	}
	if !utf8.Valid(body) {
		return &ParseError{SiteID: siteID, Reason: "invalid encoding"}
	}
	return nil
}
