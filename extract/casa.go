package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"propwatch/models"
)

const casaBase = "https://www.casa.it"

var (
	casaCardClasses = []string{"annuncio", "listing", "property", "casa-card"}
	casaIDRegex     = regexp.MustCompile(`[-/](\d{6,})/?$`)
	euroRegex       = regexp.MustCompile(`€\s*[\d.,]+`)
)

// CasaExtractor parses casa.it result pages. Casa markup drifts often, so
// cards are matched by class keywords rather than a fixed selector, and
// anything that doesn't look like a priced ad is skipped.
type CasaExtractor struct{}

func (e *CasaExtractor) SiteID() string { return "casa" }

func (e *CasaExtractor) Extract(body []byte, town string) ([]models.RawListing, error) {
	if err := checkDocument(e.SiteID(), body); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{SiteID: e.SiteID(), Reason: err.Error()}
	}

	matched := make(map[*html.Node]bool)
	var listings []models.RawListing

	doc.Find("article[class], div[class]").Each(func(i int, card *goquery.Selection) {
		class, _ := card.Attr("class")
		if !casaCardClass(class) {
			return
		}
		// Nested hits inside an already-matched card are the same ad.
		node := card.Get(0)
		for p := node.Parent; p != nil; p = p.Parent {
			if matched[p] {
				return
			}
		}
		matched[node] = true

		link := card.Find("a[href]").First()
		if link.Length() == 0 {
			return
		}
		href, _ := link.Attr("href")
		if href == "" {
			return
		}
		url := href
		if strings.HasPrefix(href, "/") {
			url = casaBase + href
		}

		text := strings.TrimSpace(card.Text())
		priceText := euroRegex.FindString(text)
		if priceText == "" {
			return
		}

		title := strings.TrimSpace(link.Text())
		if title == "" {
			title = firstLine(text)
		}

		raw := models.RawListing{
			SiteID:      e.SiteID(),
			Title:       title,
			PriceText:   priceText,
			DetailsText: text,
			Location:    title,
			Town:        town,
			Description: clip(text, 200),
			URL:         url,
		}

		if m := casaIDRegex.FindStringSubmatch(strings.TrimSuffix(href, "/")); m != nil {
			raw.SourceID = m[1]
		}

		if src, ok := card.Find("img").First().Attr("src"); ok && src != "" {
			raw.ImageURLs = append(raw.ImageURLs, src)
		}

		listings = append(listings, raw)
	})

	return listings, nil
}

func casaCardClass(class string) bool {
	lower := strings.ToLower(class)
	for _, keyword := range casaCardClasses {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "Property"
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
