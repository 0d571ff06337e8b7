package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"

	"propwatch/models"
)

var (
	// Italian street-word abbreviations, applied to location text before
	// hashing so "Viale della Libertà" and "v.le della liberta" collide.
	streetReplacements = map[string]string{
		"viale":       "vle",
		"via":         "v",
		"piazzale":    "pzale",
		"piazza":      "pza",
		"corso":       "cso",
		"largo":       "lgo",
		"vicolo":      "vco",
		"strada":      "str",
		"contrada":    "cda",
		"localita":    "loc",
		"frazione":    "fraz",
		"lungomare":   "lmare",
		"salita":      "sal",
		"traversa":    "trav",
		"provinciale": "prov",
	}
	nonAlnumRegex  = regexp.MustCompile(`[^a-z0-9\s]`)
	accentReplacer  = strings.NewReplacer(
		"à", "a", "è", "e", "é", "e", "ì", "i", "ò", "o", "ù", "u",
	)
)

// Tolerance controls how much re-scrape jitter the fallback fingerprint
// absorbs. Larger buckets merge more aggressively and raise the
// false-merge risk for distinct but similar properties.
type Tolerance struct {
	PriceBucket int     // EUR per bucket
	AreaBucket  float64 // sqm per bucket
}

var DefaultTolerance = Tolerance{PriceBucket: 5000, AreaBucket: 10}

// Resolver computes stable listing fingerprints. The zero value uses
// DefaultTolerance.
type Resolver struct {
	Tolerance Tolerance
}

// Resolve returns the canonical identity key for a listing. When the
// portal exposes a native id, (site, native id) is the identity: native
// ids are the most reliable signal and always win. Without one, the key
// is a composite of normalized location, price bucket and area bucket,
// stable under minor re-scrape noise but not under a real price or area
// move across a bucket boundary.
func (r Resolver) Resolve(l models.Listing) string {
	if l.SourceID != "" {
		return digest(fmt.Sprintf("%s|%s", l.SiteID, l.SourceID))
	}

	tol := r.Tolerance
	if tol.PriceBucket <= 0 {
		tol.PriceBucket = DefaultTolerance.PriceBucket
	}
	if tol.AreaBucket <= 0 {
		tol.AreaBucket = DefaultTolerance.AreaBucket
	}

	area := 0.0
	if l.AreaSqm != nil {
		area = *l.AreaSqm
	}

	input := fmt.Sprintf("%s|%s|%d|%d",
		NormalizeLocation(l.Town),
		NormalizeLocation(l.Location),
		l.Price/tol.PriceBucket,
		int(math.Round(area/tol.AreaBucket)),
	)
	return digest(input)
}

// Resolve computes a fingerprint with the default tolerance.
func Resolve(l models.Listing) string {
	return Resolver{}.Resolve(l)
}

func digest(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeLocation canonicalizes Italian address/location text:
// lowercase, accents stripped, punctuation removed, street words
// abbreviated, whitespace collapsed.
func NormalizeLocation(loc string) string {
	loc = strings.ToLower(strings.TrimSpace(loc))
	loc = accentReplacer.Replace(loc)
	loc = nonAlnumRegex.ReplaceAllString(loc, " ")

	words := strings.Fields(loc)
	for i, w := range words {
		if abbrev, ok := streetReplacements[w]; ok {
			words[i] = abbrev
		}
	}
	return strings.Join(words, " ")
}
