package docs

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/garescout/tender-cli/internal/model"
)

// Classifier assigns an attachment category from its filename or link text.
// Classification is pure: no I/O, the caller persists the result.
type Classifier struct {
	compilable  []string
	informative []string
}

// NewClassifier builds a Classifier from keyword lists. Keywords are
// normalized once at construction.
func NewClassifier(kw Keywords) *Classifier {
	return &Classifier{
		compilable:  normalizeAll(kw.Compilable),
		informative: normalizeAll(kw.Informative),
	}
}

// Classify scores distinct keyword hits from each list against the name.
// The list with more hits wins with confidence scaled by the margin; a tie
// (including no hits at all) stays Unclassified at zero confidence.
func (c *Classifier) Classify(name string) (model.AttachmentCategory, float64) {
	normalized := Normalize(name)

	compilableHits := countHits(normalized, c.compilable)
	informativeHits := countHits(normalized, c.informative)

	switch {
	case compilableHits > informativeHits:
		return model.CategoryCompilable, confidence(compilableHits - informativeHits)
	case informativeHits > compilableHits:
		return model.CategoryInformative, confidence(informativeHits - compilableHits)
	default:
		return model.CategoryUnclassified, 0.0
	}
}

func confidence(margin int) float64 {
	conf := 0.5 + 0.1*float64(margin)
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

func countHits(name string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			hits++
		}
	}
	return hits
}

// accentFolder strips combining marks after canonical decomposition, so
// "qualità" and "qualita" compare equal.
var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases and accent-folds a string for keyword matching.
func Normalize(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func normalizeAll(keywords []string) []string {
	out := make([]string, len(keywords))
	for i, kw := range keywords {
		out[i] = Normalize(kw)
	}
	return out
}
