// Package docs classifies and downloads tender attachments.
package docs

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Keywords holds the configurable keyword lists driving attachment
// classification and section extraction. Lists are matched case- and
// accent-insensitively.
type Keywords struct {
	Compilable  []string            `yaml:"compilable"`
	Informative []string            `yaml:"informative"`
	Sections    map[string][]string `yaml:"sections"`
}

// DefaultKeywords returns the built-in Italian procurement keyword lists.
func DefaultKeywords() Keywords {
	return Keywords{
		Compilable: []string{
			"modulo", "modello", "schema", "fac-simile", "facsimile",
			"domanda", "istanza", "dichiarazione", "autocertificazione",
			"offerta economica", "allegato a", "allegato b",
		},
		Informative: []string{
			"bando", "disciplinare", "capitolato", "avviso", "verbale",
			"determina", "delibera", "chiarimenti", "planimetria",
			"relazione", "elenco prezzi", "computo metrico",
		},
		Sections: map[string][]string{
			"qualifications": {
				"requisiti", "qualificazioni", "qualifica", "qualifiche",
				"certificazioni", "certificazione", "attestati", "attestato",
				"iscrizione", "iscrizioni", "albo", "qualità", "norme iso",
				"certificato", "patente", "licenza", "abilitazione",
			},
			"evaluation_criteria": {
				"valutazione", "criteri", "criterio", "punteggio", "punti",
				"offerta", "valutativo", "aggiudicazione", "priorità",
				"soglia", "minimo", "massimo", "qualitativo", "quantitativo",
				"sorteggio", "selezione",
			},
			"process_description": {
				"procedimento", "procedura", "processo", "fasi", "fase",
				"modalità", "fase di valutazione", "commissione", "commissario",
				"responsabile", "svolgimento", "calendario", "cronoprogramma",
			},
			"delivery_terms": {
				"consegna", "consegne", "tempi di consegna", "durata", "termine",
				"scadenza", "esecuzione", "realizzazione", "deliverable",
				"luogo di consegna", "sede di esecuzione", "cantiere",
			},
		},
	}
}

// LoadKeywords reads keyword lists from a YAML file. An empty path or a
// missing file yields the defaults; any list left empty in the file is
// backfilled from the defaults.
func LoadKeywords(path string) (Keywords, error) {
	defaults := DefaultKeywords()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return Keywords{}, eris.Wrapf(err, "docs: read keywords file %s", path)
	}

	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return Keywords{}, eris.Wrapf(err, "docs: parse keywords file %s", path)
	}

	if len(kw.Compilable) == 0 {
		kw.Compilable = defaults.Compilable
	}
	if len(kw.Informative) == 0 {
		kw.Informative = defaults.Informative
	}
	if len(kw.Sections) == 0 {
		kw.Sections = defaults.Sections
	}
	return kw, nil
}
