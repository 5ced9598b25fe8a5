package candidate

import (
	"math"
	"strings"

	"github.com/billscan/billscan/internal/model"
)

// SpatialStrategy finds a label token matching one of the field's label
// hints (e.g. "Total", "Invoice #") and proposes the nearest value token to
// its right or directly below, within MaxGapPx.
type SpatialStrategy struct {
	MaxGapPx int
}

func (s *SpatialStrategy) Name() string { return "spatial" }

func (s *SpatialStrategy) Propose(spec *model.FieldSpec, arts []model.RecognitionArtifact) []Raw {
	if len(spec.LabelHints) == 0 {
		return nil
	}
	maxGap := s.MaxGapPx
	if maxGap <= 0 {
		maxGap = 220
	}

	var out []Raw
	for _, art := range arts {
		for i, tok := range art.Tokens {
			if !isLabel(tok.Text, spec.LabelHints) {
				continue
			}
			if value, dist := nearestValue(art.Tokens, i, maxGap); value != nil {
				// Confidence decays with distance from the label.
				proximity := 1.0 - float64(dist)/float64(maxGap)*0.3
				out = append(out, Raw{
					Field:         spec.Key,
					Value:         value.Text,
					Confidence:    value.Confidence * proximity,
					RecognitionID: art.ID,
					PassProfile:   art.Pass.Profile,
				})
			}
		}
	}
	return out
}

func isLabel(text string, hints []string) bool {
	t := strings.ToLower(strings.Trim(text, ":#"))
	for _, h := range hints {
		if t == strings.ToLower(h) {
			return true
		}
	}
	return false
}

// nearestValue returns the closest token right of or below the label within
// maxGap pixels.
func nearestValue(tokens []model.Token, labelIdx, maxGap int) (*model.Token, int) {
	label := tokens[labelIdx]
	lx, ly := label.Bounds.Center()

	var best *model.Token
	bestDist := maxGap + 1
	for i := range tokens {
		if i == labelIdx {
			continue
		}
		tok := &tokens[i]
		tx, ty := tok.Bounds.Center()

		sameRow := abs(ty-ly) <= label.Bounds.Height
		rightOf := sameRow && tx > lx
		below := !sameRow && ty > ly && abs(tx-lx) <= label.Bounds.Width*2

		if !rightOf && !below {
			continue
		}
		dist := int(math.Hypot(float64(tx-lx), float64(ty-ly)))
		if dist < bestDist {
			best = tok
			bestDist = dist
		}
	}
	return best, bestDist
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
