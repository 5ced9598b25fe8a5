// Package candidate extracts field-value candidates from recognition output
// through independent strategies. Identical normalized values from different
// strategies or passes merge into one candidate whose evidence accumulates
// every contributing source; evidence is never discarded.
package candidate

import (
	"github.com/billscan/billscan/internal/model"
)

// Raw is a strategy's proposal before normalization and merging.
type Raw struct {
	Field         string
	Value         string
	Confidence    float64
	RecognitionID model.ArtifactID
	PassProfile   string
}

// Strategy proposes candidate values for one field from recognition output.
// Strategies are pure over their inputs; ordering and weighting live in the
// generator's declared strategy list, not inside the strategies themselves.
type Strategy interface {
	Name() string
	Propose(spec *model.FieldSpec, arts []model.RecognitionArtifact) []Raw
}

// WeightedStrategy pairs a strategy with its declared weight. Weights scale
// the raw confidence a strategy reports, expressing how much the pipeline
// trusts each extraction method.
type WeightedStrategy struct {
	Strategy Strategy
	Weight   float64
}

// DefaultStrategies returns the standard strategy list in priority order.
func DefaultStrategies(dicts *DictionarySet, fuzzyMin float64, maxGapPx int) []WeightedStrategy {
	return []WeightedStrategy{
		{Strategy: &DictionaryStrategy{Dicts: dicts, FuzzyMin: fuzzyMin}, Weight: 1.0},
		{Strategy: &PatternStrategy{}, Weight: 0.9},
		{Strategy: &SpatialStrategy{MaxGapPx: maxGapPx}, Weight: 0.8},
		{Strategy: &ZonePriorStrategy{}, Weight: 0.6},
	}
}
