package resolve

import (
	"fmt"

	"github.com/billscan/billscan/internal/model"
)

// Explanations are deterministic: the same candidate set always produces the
// same string, so two resolution runs can be diffed byte for byte.

func explainChosen(g valueGroup, alternatives int) string {
	base := fmt.Sprintf("selected %q at confidence %.1f", g.normalized, g.boosted)
	if g.sources > 1 {
		base += fmt.Sprintf(" with agreement from %d independent sources (boost +%.1f)",
			g.sources, g.boosted-g.maxRaw)
	} else {
		base += " from a single source, no consensus boost"
	}
	switch alternatives {
	case 0:
		return base + "; no competing values"
	case 1:
		return base + "; 1 competing value retained as alternative"
	default:
		return base + fmt.Sprintf("; %d competing values retained as alternatives", alternatives)
	}
}

func explainMissing(spec *model.FieldSpec) string {
	return fmt.Sprintf("no candidates found for required field %s", spec.Key)
}
