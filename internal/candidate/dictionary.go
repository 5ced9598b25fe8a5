package candidate

import (
	"os"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/billscan/billscan/internal/model"
)

// Dictionary maps field keys to known values (vendor names, account codes,
// payment terms) for exact and fuzzy lookup.
type Dictionary map[string][]string

// DictionarySet layers an originator-specific override dictionary over the
// global one. Vendor entries take precedence for the fields they define.
type DictionarySet struct {
	Global   Dictionary
	ByVendor map[string]Dictionary
	VendorID string
}

// LoadDictionary reads a YAML field-to-values dictionary file.
func LoadDictionary(path string) (Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "candidate: read dictionary %s", path)
	}
	var d Dictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, eris.Wrapf(err, "candidate: parse dictionary %s", path)
	}
	return d, nil
}

// Values returns the dictionary entries for a field, preferring the active
// vendor's override dictionary when it defines the field.
func (s *DictionarySet) Values(field string) []string {
	if s == nil {
		return nil
	}
	if s.VendorID != "" {
		if vd, ok := s.ByVendor[s.VendorID]; ok {
			if vals, ok := vd[field]; ok && len(vals) > 0 {
				return vals
			}
		}
	}
	if s.Global != nil {
		return s.Global[field]
	}
	return nil
}

// DictionaryStrategy matches recognized token runs against known values,
// exactly first, then fuzzily above the FuzzyMin similarity.
type DictionaryStrategy struct {
	Dicts    *DictionarySet
	FuzzyMin float64
}

func (d *DictionaryStrategy) Name() string { return "dictionary" }

func (d *DictionaryStrategy) Propose(spec *model.FieldSpec, arts []model.RecognitionArtifact) []Raw {
	known := d.Dicts.Values(spec.Key)
	if len(known) == 0 {
		return nil
	}

	var out []Raw
	for _, art := range arts {
		for _, run := range tokenRuns(art.Tokens, 4) {
			text := strings.TrimSpace(run.text)
			if text == "" {
				continue
			}
			for _, k := range known {
				if strings.EqualFold(text, k) {
					out = append(out, Raw{
						Field:         spec.Key,
						Value:         k,
						Confidence:    run.confidence,
						RecognitionID: art.ID,
						PassProfile:   art.Pass.Profile,
					})
					continue
				}
				score := levenshtein.Similarity(strings.ToLower(text), strings.ToLower(k), levenshtein.NewParams())
				if score >= d.FuzzyMin && score < 1.0 {
					out = append(out, Raw{
						Field:         spec.Key,
						Value:         k,
						Confidence:    run.confidence * score,
						RecognitionID: art.ID,
						PassProfile:   art.Pass.Profile,
					})
				}
			}
		}
	}
	return out
}

type run struct {
	text       string
	confidence float64
}

// tokenRuns yields every contiguous token sequence up to maxLen words, so
// multi-word dictionary entries like "Acme Supply Co" can match.
func tokenRuns(tokens []model.Token, maxLen int) []run {
	var runs []run
	for i := range tokens {
		text := ""
		confSum := 0.0
		for j := i; j < len(tokens) && j-i < maxLen; j++ {
			if text != "" {
				text += " "
			}
			text += tokens[j].Text
			confSum += tokens[j].Confidence
			runs = append(runs, run{
				text:       text,
				confidence: confSum / float64(j-i+1),
			})
		}
	}
	return runs
}
