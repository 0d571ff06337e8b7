package models

// Condition is the fixed vocabulary a listing's state of repair is mapped
// onto. Free-text descriptions that match nothing stay unmapped (nil).
type Condition string

const (
	ConditionExcellent       Condition = "excellent"
	ConditionGood            Condition = "good"
	ConditionHabitable       Condition = "habitable"
	ConditionMinorRenovation Condition = "minor_renovation"
	ConditionMajorRenovation Condition = "major_renovation"
)

// RawListing holds the as-extracted fields of one listing card. Everything
// is text; the normalizer turns it into a Listing and the raw record is
// discarded.
type RawListing struct {
	SiteID      string
	SourceID    string // site-native listing id, empty when the markup carries none
	Title       string
	PriceText   string
	DetailsText string // free-form "3 locali · 120 m²" blob from the card
	Location    string
	Town        string
	Description string
	URL         string
	ImageURLs   []string
}

// Listing is the normalized, typed form of a listing observation.
type Listing struct {
	SiteID        string     `json:"site_id"`
	SourceID      string     `json:"source_id,omitempty"`
	Title         string     `json:"title"`
	Price         int        `json:"price"` // whole EUR
	AreaSqm       *float64   `json:"area_sqm,omitempty"`
	Bedrooms      *int       `json:"bedrooms,omitempty"`
	Condition     *Condition `json:"condition,omitempty"`
	Location      string     `json:"location"`
	Town          string     `json:"town"`
	Description   string     `json:"description"`
	DescriptionEN string     `json:"description_en,omitempty"`
	URL           string     `json:"url"`
	ImageURLs     []string   `json:"image_urls,omitempty"`
	PricePerSqm   *float64   `json:"price_per_sqm,omitempty"`
}
