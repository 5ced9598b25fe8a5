package resolve

import (
	"fmt"
	"time"

	"github.com/billscan/billscan/internal/candidate"
	"github.com/billscan/billscan/internal/model"
)

// Well-known field keys the arithmetic and date checks operate on.
const (
	FieldTotal    = "total"
	FieldSubtotal = "subtotal"
	FieldTax      = "tax"
	FieldDocDate  = "document_date"
)

// validate runs the cross-field checks over the resolved set. A failed check
// never raises an error: it records a Contradiction and penalizes the fields
// involved.
func (r *Resolver) validate(registry *model.FieldRegistry, res *model.Resolution, now time.Time) {
	r.checkArithmetic(res)
	r.checkDocDate(res, now)
	r.checkFormats(registry, res)
	r.checkRequired(registry, res)
}

// checkArithmetic verifies total = subtotal + tax. A nonzero mismatch within
// the cent tolerance is a Warning; beyond it, Critical.
func (r *Resolver) checkArithmetic(res *model.Resolution) {
	total, okT := fieldCents(res, FieldTotal)
	subtotal, okS := fieldCents(res, FieldSubtotal)
	tax, okX := fieldCents(res, FieldTax)
	if !okT || !okS || !okX {
		return
	}
	diff := total - (subtotal + tax)
	if diff < 0 {
		diff = -diff
	}
	if diff == 0 {
		return
	}

	fields := []string{FieldTotal, FieldSubtotal, FieldTax}
	sev := model.SeverityCritical
	if diff <= int64(r.cfg.TotalsToleranceCents) {
		sev = model.SeverityWarning
	}
	res.Contradictions = append(res.Contradictions, model.Contradiction{
		Rule:     "arithmetic_balance",
		Severity: sev,
		Fields:   fields,
		Message: fmt.Sprintf("total %s differs from subtotal + tax by %d cents",
			res.Fields[FieldTotal].Value, diff),
	})
	r.penalize(res, fields)
}

// checkDocDate flags a document date in the future beyond the timezone
// slack window.
func (r *Resolver) checkDocDate(res *model.Resolution, now time.Time) {
	f, ok := res.Fields[FieldDocDate]
	if !ok || f.Value == "" {
		return
	}
	t, err := time.Parse("2006-01-02", f.Value)
	if err != nil {
		return
	}
	limit := now.Add(time.Duration(r.cfg.FutureDateSlackHours) * time.Hour)
	if !t.After(limit) {
		return
	}
	res.Contradictions = append(res.Contradictions, model.Contradiction{
		Rule:     "date_not_future",
		Severity: model.SeverityWarning,
		Fields:   []string{FieldDocDate},
		Message:  fmt.Sprintf("document date %s is in the future", f.Value),
	})
	r.penalize(res, []string{FieldDocDate})
}

// checkFormats applies each identifier field's declared pattern as a soft
// check.
func (r *Resolver) checkFormats(registry *model.FieldRegistry, res *model.Resolution) {
	for i := range registry.Fields {
		spec := &registry.Fields[i]
		if spec.Type != model.FieldIdentifier || spec.Pattern == "" {
			continue
		}
		f, ok := res.Fields[spec.Key]
		if !ok || f.Value == "" {
			continue
		}
		if spec.MatchesPattern(f.Value) {
			continue
		}
		res.Contradictions = append(res.Contradictions, model.Contradiction{
			Rule:     "field_format",
			Severity: model.SeverityWarning,
			Fields:   []string{spec.Key},
			Message:  fmt.Sprintf("%s value %q does not match the expected format", spec.Key, f.Value),
		})
		r.penalize(res, []string{spec.Key})
	}
}

// checkRequired records a Critical contradiction for every required field
// that resolved empty. The field keeps its `missing` flag and zero
// confidence from resolution.
func (r *Resolver) checkRequired(registry *model.FieldRegistry, res *model.Resolution) {
	for i := range registry.Fields {
		spec := &registry.Fields[i]
		if !spec.Required {
			continue
		}
		f, ok := res.Fields[spec.Key]
		if ok && f.Value != "" {
			continue
		}
		res.Contradictions = append(res.Contradictions, model.Contradiction{
			Rule:     "required_present",
			Severity: model.SeverityCritical,
			Fields:   []string{spec.Key},
			Message:  fmt.Sprintf("required field %s is empty", spec.Key),
		})
	}
}

func fieldCents(res *model.Resolution, key string) (int64, bool) {
	f, ok := res.Fields[key]
	if !ok || f.Value == "" {
		return 0, false
	}
	return candidate.ParseCents(f.Value)
}
