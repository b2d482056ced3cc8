package textextract

import (
	"regexp"
	"strings"

	"github.com/garescout/tender-cli/internal/config"
	"github.com/garescout/tender-cli/internal/docs"
	"github.com/garescout/tender-cli/internal/model"
)

// perDocumentSectionCap bounds what a single document contributes to one
// section before aggregation across documents.
const perDocumentSectionCap = 2000

// rawTextFloor filters out documents whose text is too short to carry
// meaningful context for the model.
const rawTextFloor = 500

var blankLines = regexp.MustCompile(`\n\s*\n\s*\n+`)

// Analyzer locates keyword-anchored sections in extracted document text and
// merges them across a tender's documents.
type Analyzer struct {
	cfg      config.ExtractConfig
	sections map[string][]string
}

// NewAnalyzer builds an Analyzer from config and per-section keyword lists.
// Keywords are normalized once at construction.
func NewAnalyzer(cfg config.ExtractConfig, sections map[string][]string) *Analyzer {
	if cfg.MaxSectionChars <= 0 {
		cfg.MaxSectionChars = 3000
	}
	if cfg.MaxRawTextChars <= 0 {
		cfg.MaxRawTextChars = 50000
	}
	if cfg.ContextLines <= 0 {
		cfg.ContextLines = 5
	}
	if cfg.MinSectionLength <= 0 {
		cfg.MinSectionLength = 100
	}

	normalized := make(map[string][]string, len(sections))
	for key, keywords := range sections {
		list := make([]string, len(keywords))
		for i, kw := range keywords {
			list[i] = docs.Normalize(kw)
		}
		normalized[key] = list
	}
	return &Analyzer{cfg: cfg, sections: normalized}
}

// DocumentAnalysis holds what one document contributed.
type DocumentAnalysis struct {
	FileName string
	Sections map[string]string
	Text     string
}

// Merged is the tender-level aggregation across all analyzed documents.
type Merged struct {
	Sections map[string]string
	RawText  string
	Sources  []string
}

// Analyze scans one document's text for each configured section.
func (a *Analyzer) Analyze(fileName, text string) DocumentAnalysis {
	normalized := docs.Normalize(text)
	lines := strings.Split(normalized, "\n")

	out := DocumentAnalysis{
		FileName: fileName,
		Sections: make(map[string]string, len(a.sections)),
		Text:     text,
	}
	for key, keywords := range a.sections {
		if section := a.extractSection(lines, keywords); section != "" {
			out.Sections[key] = section
		}
	}
	return out
}

// extractSection collects context windows around keyword lines, deduplicated
// in order of first appearance. Results shorter than the configured floor
// are discarded as noise.
func (a *Analyzer) extractSection(lines []string, keywords []string) string {
	var matches []string
	seen := map[string]bool{}

	for i, line := range lines {
		for _, kw := range keywords {
			if !strings.Contains(line, kw) {
				continue
			}
			start := max(0, i-a.cfg.ContextLines)
			end := min(len(lines), i+a.cfg.ContextLines+1)
			window := strings.Join(lines[start:end], "\n")
			if !seen[window] {
				seen[window] = true
				matches = append(matches, window)
			}
			break
		}
	}
	if len(matches) == 0 {
		return ""
	}

	combined := strings.Join(matches, "\n\n")
	combined = strings.TrimSpace(blankLines.ReplaceAllString(combined, "\n\n"))

	if len(combined) > perDocumentSectionCap {
		combined = combined[:perDocumentSectionCap] + "..."
	}
	if len(combined) < a.cfg.MinSectionLength {
		return ""
	}
	return combined
}

// Merge aggregates per-document analyses into one per-section text with
// source attribution, plus a capped raw-text corpus.
func (a *Analyzer) Merge(analyses []DocumentAnalysis) Merged {
	merged := Merged{Sections: make(map[string]string, len(model.SectionKeys))}

	for _, key := range model.SectionKeys {
		var parts []string
		for _, doc := range analyses {
			if content := strings.TrimSpace(doc.Sections[key]); content != "" {
				parts = append(parts, "[From "+doc.FileName+"]\n"+content)
			}
		}
		if len(parts) == 0 {
			continue
		}
		section := strings.Join(parts, "\n\n---\n\n")
		if len(section) > a.cfg.MaxSectionChars {
			section = section[:a.cfg.MaxSectionChars] + "..."
		}
		merged.Sections[key] = section
	}

	var raw []string
	for _, doc := range analyses {
		merged.Sources = append(merged.Sources, doc.FileName)
		if len(doc.Text) > rawTextFloor {
			raw = append(raw, doc.Text)
		}
	}
	merged.RawText = strings.Join(raw, "\n\n")
	if len(merged.RawText) > a.cfg.MaxRawTextChars {
		merged.RawText = merged.RawText[:a.cfg.MaxRawTextChars]
	}

	return merged
}
