package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func TestForSite(t *testing.T) {
	for _, id := range []string{"immobiliare", "casa"} {
		ex, err := ForSite(id)
		if err != nil {
			t.Fatalf("ForSite(%s): %v", id, err)
		}
		if ex.SiteID() != id {
			t.Fatalf("expected site id %s, got %s", id, ex.SiteID())
		}
	}
	if _, err := ForSite("zillow"); err == nil {
		t.Fatal("expected error for unknown site")
	}
}

func TestImmobiliareExtract(t *testing.T) {
	ex := &ImmobiliareExtractor{}
	listings, err := ex.Extract(loadFixture(t, "immobiliare_search.html"), "crotone")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	// Third card has no title link and must be skipped, not fail the document.
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}

	first := listings[0]
	if first.SourceID != "98765432" {
		t.Fatalf("expected source id 98765432, got %q", first.SourceID)
	}
	if first.PriceText != "€ 180.000" {
		t.Fatalf("unexpected price text %q", first.PriceText)
	}
	if first.URL != "https://www.immobiliare.it/annunci/98765432/" {
		t.Fatalf("unexpected URL %q", first.URL)
	}
	if first.Town != "crotone" {
		t.Fatalf("unexpected town %q", first.Town)
	}
	if !strings.Contains(first.DetailsText, "3 locali") {
		t.Fatalf("details text missing rooms: %q", first.DetailsText)
	}
	if first.Location != "via Regina Margherita 12, Crotone" {
		t.Fatalf("unexpected location %q", first.Location)
	}
	if len(first.ImageURLs) != 1 {
		t.Fatalf("expected 1 image, got %d", len(first.ImageURLs))
	}

	second := listings[1]
	if second.SourceID != "11223344" {
		t.Fatalf("expected source id 11223344, got %q", second.SourceID)
	}
	if second.PriceText != "€ 395.000" {
		t.Fatalf("unexpected price text %q", second.PriceText)
	}
}

func TestImmobiliareExtractDescription(t *testing.T) {
	ex := &ImmobiliareExtractor{}
	desc, err := ex.ExtractDescription(loadFixture(t, "immobiliare_detail.html"))
	if err != nil {
		t.Fatalf("extract description: %v", err)
	}
	if !strings.Contains(desc, "ristrutturato nel 2018") {
		t.Fatalf("unexpected description %q", desc)
	}
}

func TestCasaExtract(t *testing.T) {
	ex := &CasaExtractor{}
	listings, err := ex.Extract(loadFixture(t, "casa_search.html"), "catania")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	// Promo block has a listing-ish class but no price, so it's skipped.
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}

	first := listings[0]
	if first.SourceID != "4021587" {
		t.Fatalf("expected source id 4021587, got %q", first.SourceID)
	}
	if first.PriceText != "€ 210.000" {
		t.Fatalf("unexpected price text %q", first.PriceText)
	}
	if !strings.HasPrefix(first.URL, "https://www.casa.it/vendita/") {
		t.Fatalf("unexpected URL %q", first.URL)
	}
	if !strings.Contains(first.Description, "buone condizioni") {
		t.Fatalf("card text should carry the description: %q", first.Description)
	}

	// Second ad URL has no numeric id: fallback identity territory.
	if listings[1].SourceID != "" {
		t.Fatalf("expected empty source id, got %q", listings[1].SourceID)
	}
}

func TestExtractZeroListingsIsNotAnError(t *testing.T) {
	for _, id := range []string{"immobiliare", "casa"} {
		ex, _ := ForSite(id)
		listings, err := ex.Extract([]byte("<html><body><p>nessun risultato</p></body></html>"), "andria")
		if err != nil {
			t.Fatalf("%s: empty page should not error: %v", id, err)
		}
		if len(listings) != 0 {
			t.Fatalf("%s: expected 0 listings, got %d", id, len(listings))
		}
	}
}

func TestExtractMalformedDocument(t *testing.T) {
	bad := [][]byte{
		nil,
		{0xff, 0xfe, 0x00, 0x41}, // not valid UTF-8
	}
	ex := &ImmobiliareExtractor{}
	for _, body := range bad {
		_, err := ex.Extract(body, "crotone")
		if err == nil {
			t.Fatalf("expected parse error for body %v", body)
		}
		if _, ok := err.(*ParseError); !ok {
			t.Fatalf("expected *ParseError, got %T", err)
		}
	}
}
