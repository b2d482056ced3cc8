package docs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/garescout/tender-cli/internal/model"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(DefaultKeywords())

	tests := []struct {
		name         string
		wantCategory model.AttachmentCategory
	}{
		{"Modulo_Offerta_Economica.xlsx", model.CategoryCompilable},
		{"domanda_di_partecipazione.pdf", model.CategoryCompilable},
		{"fac-simile dichiarazione.doc", model.CategoryCompilable},
		{"bando_gara.pdf", model.CategoryInformative},
		{"Capitolato_Tecnico.pdf", model.CategoryInformative},
		{"disciplinare di gara.pdf", model.CategoryInformative},
		{"documento_generico.pdf", model.CategoryUnclassified},
		{"", model.CategoryUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, _ := c.Classify(tt.name)
			assert.Equal(t, tt.wantCategory, category)
		})
	}
}

func TestClassifyConfidence(t *testing.T) {
	c := NewClassifier(Keywords{
		Compilable:  []string{"modulo", "schema", "domanda", "istanza", "dichiarazione", "allegato"},
		Informative: []string{"bando"},
	})

	// One-hit margin.
	_, conf := c.Classify("modulo.pdf")
	assert.InDelta(t, 0.6, conf, 1e-9)

	// Margin of three.
	_, conf = c.Classify("modulo schema domanda.pdf")
	assert.InDelta(t, 0.8, conf, 1e-9)

	// Confidence caps at 0.9 regardless of margin.
	_, conf = c.Classify("modulo schema domanda istanza dichiarazione allegato.pdf")
	assert.InDelta(t, 0.9, conf, 1e-9)

	// Tie yields zero confidence.
	cat, conf := c.Classify("modulo bando.pdf")
	assert.Equal(t, model.CategoryUnclassified, cat)
	assert.Zero(t, conf)
}

func TestClassifyAccentInsensitive(t *testing.T) {
	c := NewClassifier(Keywords{Informative: []string{"qualità"}})

	cat, _ := c.Classify("certificato_qualita.pdf")
	assert.Equal(t, model.CategoryInformative, cat)

	cat, _ = c.Classify("certificato_QUALITÀ.pdf")
	assert.Equal(t, model.CategoryInformative, cat)
}

func TestClassifyCountsDistinctKeywordsOnce(t *testing.T) {
	c := NewClassifier(Keywords{
		Compilable:  []string{"modulo"},
		Informative: []string{"bando", "avviso"},
	})

	// "modulo" appearing twice still counts as one hit, so the two distinct
	// informative keywords win.
	cat, _ := c.Classify("modulo_modulo_bando_avviso.pdf")
	assert.Equal(t, model.CategoryInformative, cat)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "qualita", Normalize("Qualità"))
	assert.Equal(t, "modalita di consegna", Normalize("MODALITÀ di Consegna"))
}
