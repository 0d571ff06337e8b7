package normalize

import (
	"strings"

	"propwatch/models"
)

// Keyword lookup for the condition vocabulary, checked in order: the
// first bucket with a matching keyword wins, so "da ristrutturare
// parzialmente" lands on minor renovation before the bare "da
// ristrutturare" catches it.
var conditionKeywords = []struct {
	condition models.Condition
	keywords  []string
}{
	{models.ConditionExcellent, []string{"ottimo", "eccellente", "perfetto", "ristrutturato"}},
	{models.ConditionGood, []string{"buono", "buone condizioni"}},
	{models.ConditionHabitable, []string{"abitabile", "vivibile"}},
	{models.ConditionMinorRenovation, []string{"piccoli lavori", "da ristrutturare parzialmente"}},
	{models.ConditionMajorRenovation, []string{"da ristrutturare", "da rifare", "da sistemare"}},
}

// DetectCondition maps free-text description onto the fixed vocabulary.
// Unmatched text is not an error: the listing simply has no condition.
func DetectCondition(text string) (models.Condition, bool) {
	lower := strings.ToLower(text)
	for _, entry := range conditionKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lower, keyword) {
				return entry.condition, true
			}
		}
	}
	return "", false
}
