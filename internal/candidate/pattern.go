package candidate

import (
	"regexp"

	"github.com/billscan/billscan/internal/model"
)

var (
	currencyRe   = regexp.MustCompile(`^\(?\$?\d{1,3}(?:,\d{3})*(?:\.\d{2})?\)?$`)
	dateRe       = regexp.MustCompile(`^(?:\d{4}-\d{2}-\d{2}|\d{1,2}[/.-]\d{1,2}[/.-]\d{4})$`)
	identifierRe = regexp.MustCompile(`^[A-Z]{2,6}[-#]?\d{3,12}$`)
)

// PatternStrategy proposes tokens whose shape matches the field's type:
// currency amounts, dates, and identifier formats. A field-specific pattern
// on the field spec overrides the generic identifier shape.
type PatternStrategy struct{}

func (p *PatternStrategy) Name() string { return "pattern" }

func (p *PatternStrategy) Propose(spec *model.FieldSpec, arts []model.RecognitionArtifact) []Raw {
	matcher := p.matcher(spec)
	if matcher == nil {
		return nil
	}

	var out []Raw
	for _, art := range arts {
		for _, tok := range art.Tokens {
			if !matcher(tok.Text) {
				continue
			}
			out = append(out, Raw{
				Field:         spec.Key,
				Value:         tok.Text,
				Confidence:    tok.Confidence,
				RecognitionID: art.ID,
				PassProfile:   art.Pass.Profile,
			})
		}
	}
	return out
}

func (p *PatternStrategy) matcher(spec *model.FieldSpec) func(string) bool {
	switch spec.Type {
	case model.FieldCurrency:
		return currencyRe.MatchString
	case model.FieldDate:
		return dateRe.MatchString
	case model.FieldIdentifier:
		if spec.Pattern != "" {
			return spec.MatchesPattern
		}
		return identifierRe.MatchString
	default:
		// Free-text fields have no recognizable shape.
		return nil
	}
}
