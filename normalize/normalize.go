package normalize

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"propwatch/models"
	"propwatch/translate"
)

var (
	priceRegex    = regexp.MustCompile(`€?\s*([\d][\d.,]*)`)
	areaRegex     = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:m²|m2|mq)`)
	bedroomsRegex = regexp.MustCompile(`(\d+)\s*(?:locali|camere|cam\b)`)
)

// FieldError marks a record whose required field could not be parsed.
// The orchestrator drops that one listing and continues.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("parse field %s: %s", e.Field, e.Reason)
}

// Normalizer converts raw listing records into typed listings. An
// optional translator fills DescriptionEN; translation failure degrades
// to the original text and never drops a listing.
type Normalizer struct {
	Translator translate.Translator
	From       string
	To         string
}

func New(translator translate.Translator, from, to string) *Normalizer {
	return &Normalizer{Translator: translator, From: from, To: to}
}

// Normalize parses the raw fields. Price is required; area, bedrooms and
// condition default to absent when unparsable.
func (n *Normalizer) Normalize(ctx context.Context, raw models.RawListing) (models.Listing, error) {
	price, err := ParsePrice(raw.PriceText)
	if err != nil {
		return models.Listing{}, err
	}

	listing := models.Listing{
		SiteID:      raw.SiteID,
		SourceID:    raw.SourceID,
		Title:       raw.Title,
		Price:       price,
		Location:    raw.Location,
		Town:        raw.Town,
		Description: raw.Description,
		URL:         raw.URL,
		ImageURLs:   raw.ImageURLs,
	}

	if area, ok := ParseArea(raw.DetailsText); ok {
		listing.AreaSqm = &area
		perSqm := float64(price) / area
		listing.PricePerSqm = &perSqm
	}
	if beds, ok := ParseBedrooms(raw.DetailsText); ok {
		listing.Bedrooms = &beds
	}

	listing.DescriptionEN = n.translated(ctx, raw.Description)

	if cond, ok := DetectCondition(raw.Description + " " + listing.DescriptionEN); ok {
		listing.Condition = &cond
	}

	return listing, nil
}

func (n *Normalizer) translated(ctx context.Context, text string) string {
	if n.Translator == nil || text == "" {
		return ""
	}
	out, err := n.Translator.Translate(ctx, text, n.From, n.To)
	if err != nil {
		// Non-fatal: keep the original-language text.
		log.Printf("[normalize] translation failed, keeping original: %v", err)
		return text
	}
	return out
}

// ParsePrice extracts a whole-euro amount from portal price text
// ("€ 180.000", "180,000 €"). Monetary values stay integers end to end.
func ParsePrice(text string) (int, error) {
	m := priceRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, &FieldError{Field: "price", Reason: fmt.Sprintf("no amount in %q", text)}
	}

	digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
	price, err := strconv.Atoi(digits)
	if err != nil || price <= 0 {
		return 0, &FieldError{Field: "price", Reason: fmt.Sprintf("bad amount %q", m[1])}
	}
	return price, nil
}

// ParseArea extracts square meters from details text ("120 m²", "95 mq").
func ParseArea(text string) (float64, bool) {
	m := areaRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	area, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || area <= 0 {
		return 0, false
	}
	return area, true
}

// ParseBedrooms extracts the room count ("3 locali", "2 camere").
func ParseBedrooms(text string) (int, bool) {
	m := bedroomsRegex.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0, false
	}
	beds, err := strconv.Atoi(m[1])
	if err != nil || beds <= 0 {
		return 0, false
	}
	return beds, true
}
