package candidate

import (
	"github.com/billscan/billscan/internal/model"
)

// ZonePriorStrategy proposes type-shaped tokens found inside the zone the
// schema expects the field to occupy. It is the weakest signal: it confirms
// location, not meaning, so the generator assigns it the lowest weight.
type ZonePriorStrategy struct{}

func (z *ZonePriorStrategy) Name() string { return "zoneprior" }

func (z *ZonePriorStrategy) Propose(spec *model.FieldSpec, arts []model.RecognitionArtifact) []Raw {
	if spec.Zone == "" {
		return nil
	}
	shaped := (&PatternStrategy{}).matcher(spec)

	var out []Raw
	for _, art := range arts {
		if art.Pass.Zone != spec.Zone {
			continue
		}
		for _, tok := range art.Tokens {
			if shaped != nil && !shaped(tok.Text) {
				continue
			}
			if shaped == nil && len(tok.Text) < 2 {
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
