package candidate

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/artifact"
	"github.com/billscan/billscan/internal/model"
)

// Generator runs the declared strategy list over recognition artifacts and
// merges proposals into candidate artifacts.
type Generator struct {
	store      artifact.Store
	strategies []WeightedStrategy
}

// NewGenerator creates a Generator.
func NewGenerator(store artifact.Store, strategies []WeightedStrategy) *Generator {
	return &Generator{store: store, strategies: strategies}
}

// Generate produces merged candidates for every field in the registry.
// Proposals with identical (field, normalized value) become one candidate:
// the first source keeps the primary recognition reference, all sources land
// in the evidence list, and the candidate's raw confidence is the best
// weighted confidence among them.
func (g *Generator) Generate(registry *model.FieldRegistry, arts []model.RecognitionArtifact) ([]model.CandidateArtifact, error) {
	merged := make(map[string]*model.CandidateArtifact)
	var order []string

	for i := range registry.Fields {
		spec := &registry.Fields[i]
		for _, ws := range g.strategies {
			for _, raw := range ws.Strategy.Propose(spec, arts) {
				normalized := Normalize(raw.Value, spec.Type)
				if normalized == "" {
					continue
				}
				conf := raw.Confidence * ws.Weight
				if conf >= 100 {
					conf = 99.99
				}
				ev := model.Evidence{
					Strategy:      ws.Strategy.Name(),
					RecognitionID: raw.RecognitionID,
					PassProfile:   raw.PassProfile,
					Confidence:    conf,
				}

				key := spec.Key + "\x00" + normalized
				c, ok := merged[key]
				if !ok {
					merged[key] = &model.CandidateArtifact{
						Field:         spec.Key,
						Raw:           raw.Value,
						Normalized:    normalized,
						Strategy:      ws.Strategy.Name(),
						RecognitionID: raw.RecognitionID,
						Confidence:    conf,
						Evidence:      []model.Evidence{ev},
					}
					order = append(order, key)
					continue
				}
				c.Evidence = append(c.Evidence, ev)
				if conf > c.Confidence {
					c.Confidence = conf
				}
			}
		}
	}

	out := make([]model.CandidateArtifact, 0, len(merged))
	for _, key := range order {
		c := merged[key]
		if err := g.assignID(c); err != nil {
			return nil, err
		}
		out = append(out, *c)
	}

	// Stable output order: field, then descending confidence, then value.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Normalized < out[j].Normalized
	})
	return out, nil
}

func (g *Generator) assignID(c *model.CandidateArtifact) error {
	payload, err := json.Marshal(struct {
		Field         string           `json:"field"`
		Normalized    string           `json:"normalized"`
		RecognitionID model.ArtifactID `json:"recognition_id"`
	}{c.Field, c.Normalized, c.RecognitionID})
	if err != nil {
		return eris.Wrap(err, "candidate: marshal")
	}
	id, err := g.store.Put(payload, model.KindCandidate)
	if err != nil {
		return eris.Wrap(err, "candidate: store")
	}
	c.ID = id
	return nil
}
