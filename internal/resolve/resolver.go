package resolve

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/model"
)

// Resolver merges candidates into one resolved value per field. It is pure:
// the same candidate set always yields identical values, confidences, and
// explanation strings.
type Resolver struct {
	cfg config.ResolverConfig
}

// New creates a Resolver with the given constants.
func New(cfg config.ResolverConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// valueGroup collects the merged candidates that share one normalized value
// for a field, with the consensus-boosted confidence.
type valueGroup struct {
	normalized string
	raw        string
	boosted    float64
	maxRaw     float64
	sources    int
	ids        []model.ArtifactID
}

// Resolve selects a value for every field, runs cross-field validation, and
// returns the resolution with contradictions attached. now anchors the
// future-date check so results are reproducible in tests.
func (r *Resolver) Resolve(registry *model.FieldRegistry, docID, vendorID string, cands []model.CandidateArtifact, now time.Time) *model.Resolution {
	res := &model.Resolution{
		DocumentID: docID,
		VendorID:   vendorID,
		Fields:     make(map[string]model.ResolvedField),
		ResolvedAt: now,
	}

	byField := make(map[string][]model.CandidateArtifact)
	for _, c := range cands {
		byField[c.Field] = append(byField[c.Field], c)
	}

	for i := range registry.Fields {
		spec := &registry.Fields[i]
		groups := r.groupValues(byField[spec.Key])
		if len(groups) == 0 {
			if spec.Required {
				res.Fields[spec.Key] = model.ResolvedField{
					Field:       spec.Key,
					Confidence:  0,
					Flags:       []string{model.FlagMissing},
					Explanation: explainMissing(spec),
				}
			}
			continue
		}
		res.Fields[spec.Key] = r.pick(spec, groups)
	}

	r.validate(registry, res, now)

	for key, f := range res.Fields {
		if f.Confidence < r.cfg.LowConfidenceBelow && !f.HasFlag(model.FlagLowConfidence) && !f.HasFlag(model.FlagMissing) {
			f.Flags = append(f.Flags, model.FlagLowConfidence)
			res.Fields[key] = f
		}
	}

	if len(res.Contradictions) > 0 {
		zap.L().Debug("resolution contradictions",
			zap.String("document_id", docID),
			zap.Int("count", len(res.Contradictions)),
			zap.String("max_severity", string(res.MaxSeverity())))
	}
	return res
}

// groupValues buckets candidates by normalized value and computes the
// consensus-boosted confidence per bucket. A value backed by a single
// (strategy, pass) source keeps its raw confidence unboosted.
func (r *Resolver) groupValues(cands []model.CandidateArtifact) []valueGroup {
	byValue := make(map[string]*valueGroup)
	var order []string
	for _, c := range cands {
		g, ok := byValue[c.Normalized]
		if !ok {
			g = &valueGroup{normalized: c.Normalized, raw: c.Raw}
			byValue[c.Normalized] = g
			order = append(order, c.Normalized)
		}
		g.ids = append(g.ids, c.ID)
		if c.Confidence > g.maxRaw {
			g.maxRaw = c.Confidence
		}
		if n := c.IndependentSources(); n > g.sources {
			g.sources = n
		}
	}

	groups := make([]valueGroup, 0, len(byValue))
	for _, v := range order {
		g := byValue[v]
		g.boosted = g.maxRaw
		if g.sources > 1 {
			boost := r.cfg.BoostPerSource * float64(g.sources-1)
			if boost > r.cfg.BoostCap {
				boost = r.cfg.BoostCap
			}
			g.boosted += boost
		}
		if g.boosted >= 100 {
			g.boosted = 99.99
		}
		groups = append(groups, *g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].boosted != groups[j].boosted {
			return groups[i].boosted > groups[j].boosted
		}
		return groups[i].normalized < groups[j].normalized
	})
	return groups
}

// pick builds the resolved field from the winning group plus bounded ranked
// alternatives.
func (r *Resolver) pick(spec *model.FieldSpec, groups []valueGroup) model.ResolvedField {
	top := groups[0]
	f := model.ResolvedField{
		Field:      spec.Key,
		Value:      top.normalized,
		Raw:        top.raw,
		Confidence: top.boosted,
		// The boosted score is frozen here as the calibration predictor;
		// penalties and calibration only ever move Confidence.
		RawConfidence: top.boosted,
		CandidateIDs:  top.ids,
	}
	max := r.cfg.MaxAlternatives
	for _, g := range groups[1:] {
		if len(f.Alternatives) >= max {
			break
		}
		f.Alternatives = append(f.Alternatives, model.Alternative{
			Value:      g.normalized,
			Confidence: g.boosted,
		})
	}
	f.Explanation = explainChosen(top, len(groups)-1)
	return f
}

// penalize subtracts the configured rule penalty from each named field and
// marks it, clamping at zero.
func (r *Resolver) penalize(res *model.Resolution, fields []string) {
	for _, key := range fields {
		f, ok := res.Fields[key]
		if !ok {
			continue
		}
		f.Confidence -= r.cfg.RulePenalty
		if f.Confidence < 0 {
			f.Confidence = 0
		}
		if !f.HasFlag(model.FlagPenalized) {
			f.Flags = append(f.Flags, model.FlagPenalized)
		}
		res.Fields[key] = f
	}
}
