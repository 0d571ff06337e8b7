package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"propwatch/models"
)

const immobiliareBase = "https://www.immobiliare.it"

// Immobiliare ad URLs look like /annunci/123456789/.
var immobiliareIDRegex = regexp.MustCompile(`/annunci/(\d+)`)

// ImmobiliareExtractor parses immobiliare.it search result pages.
type ImmobiliareExtractor struct{}

func (e *ImmobiliareExtractor) SiteID() string { return "immobiliare" }

func (e *ImmobiliareExtractor) Extract(body []byte, town string) ([]models.RawListing, error) {
	if err := checkDocument(e.SiteID(), body); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{SiteID: e.SiteID(), Reason: err.Error()}
	}

	var listings []models.RawListing
	doc.Find("div.nd-list__item").Each(func(i int, card *goquery.Selection) {
		titleLink := card.Find("a.nd-list__title").First()
		if titleLink.Length() == 0 {
			return
		}
		href, ok := titleLink.Attr("href")
		if !ok || href == "" {
			return
		}
		url := href
		if strings.HasPrefix(href, "/") {
			url = immobiliareBase + href
		}

		priceText := strings.TrimSpace(card.Find("div.nd-list__price").First().Text())
		if priceText == "" {
			return
		}

		raw := models.RawListing{
			SiteID:      e.SiteID(),
			Title:       strings.TrimSpace(titleLink.Text()),
			PriceText:   priceText,
			DetailsText: strings.TrimSpace(card.Find("div.nd-list__details").First().Text()),
			Location:    strings.TrimSpace(card.Find("div.nd-list__location").First().Text()),
			Town:        town,
			URL:         url,
		}
		if raw.Location == "" {
			raw.Location = raw.Title
		}

		if m := immobiliareIDRegex.FindStringSubmatch(href); m != nil {
			raw.SourceID = m[1]
		}

		card.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
			if src, ok := img.Attr("src"); ok && src != "" {
				raw.ImageURLs = append(raw.ImageURLs, src)
			}
			return len(raw.ImageURLs) < 3
		})

		listings = append(listings, raw)
	})

	return listings, nil
}

// ExtractDescription pulls the full description block from an
// immobiliare.it detail page. Missing block is not an error; the card
// text stands in.
func (e *ImmobiliareExtractor) ExtractDescription(body []byte) (string, error) {
	if err := checkDocument(e.SiteID(), body); err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", &ParseError{SiteID: e.SiteID(), Reason: err.Error()}
	}
	return strings.TrimSpace(doc.Find("div.im-description__text").First().Text()), nil
}
