package rules

import (
	"fmt"
	"regexp"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/billscan/billscan/internal/candidate"
	"github.com/billscan/billscan/internal/model"
)

// Kind is the closed set of rule variants the engine evaluates. Adding a
// kind means adding a case to (*Rule).eval.
type Kind string

const (
	KindArithmeticBalance Kind = "arithmetic_balance"
	KindDateNotFuture     Kind = "date_not_future"
	KindFieldFormat       Kind = "field_format"
	KindRequiredPresent   Kind = "required_present"
	KindExpr              Kind = "expr"
)

// Rule is one declarative validation rule. Hard rules block automatic
// approval when they fail; soft rules only surface warnings.
type Rule struct {
	Name           string `yaml:"name"`
	Kind           Kind   `yaml:"kind"`
	Hard           bool   `yaml:"hard"`
	Field          string `yaml:"field,omitempty"`
	Pattern        string `yaml:"pattern,omitempty"`
	Expr           string `yaml:"expr,omitempty"`
	ToleranceCents int    `yaml:"tolerance_cents,omitempty"`
	SlackHours     int    `yaml:"slack_hours,omitempty"`

	re      *regexp.Regexp
	program *vm.Program
}

// Result is the outcome of evaluating one rule against a resolution.
type Result struct {
	Rule    string
	Hard    bool
	Passed  bool
	Message string
}

// Set is an immutable compiled ruleset. The engine swaps whole sets
// atomically on reload.
type Set struct {
	Rules []Rule
}

// Evaluate runs every rule against the resolution. Rule failures are data,
// never errors: an expr rule that cannot evaluate counts as failed with the
// evaluation problem in its message.
func (s *Set) Evaluate(registry *model.FieldRegistry, res *model.Resolution, now time.Time) []Result {
	out := make([]Result, 0, len(s.Rules))
	for i := range s.Rules {
		out = append(out, s.Rules[i].eval(registry, res, now))
	}
	return out
}

func (r *Rule) eval(registry *model.FieldRegistry, res *model.Resolution, now time.Time) Result {
	result := Result{Rule: r.Name, Hard: r.Hard, Passed: true}
	switch r.Kind {
	case KindArithmeticBalance:
		r.evalArithmetic(res, &result)
	case KindDateNotFuture:
		r.evalDate(res, now, &result)
	case KindFieldFormat:
		r.evalFormat(res, &result)
	case KindRequiredPresent:
		r.evalRequired(registry, res, &result)
	case KindExpr:
		r.evalExpr(res, &result)
	default:
		result.Passed = false
		result.Message = fmt.Sprintf("unknown rule kind %q", r.Kind)
	}
	return result
}

func (r *Rule) evalArithmetic(res *model.Resolution, result *Result) {
	total, okT := fieldCents(res, "total")
	subtotal, okS := fieldCents(res, "subtotal")
	tax, okX := fieldCents(res, "tax")
	if !okT || !okS || !okX {
		return
	}
	diff := total - (subtotal + tax)
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(r.ToleranceCents) {
		result.Passed = false
		result.Message = fmt.Sprintf("total is off by %d cents", diff)
	}
}

func (r *Rule) evalDate(res *model.Resolution, now time.Time, result *Result) {
	f, ok := res.Fields["document_date"]
	if !ok || f.Value == "" {
		return
	}
	t, err := time.Parse("2006-01-02", f.Value)
	if err != nil {
		return
	}
	if t.After(now.Add(time.Duration(r.SlackHours) * time.Hour)) {
		result.Passed = false
		result.Message = fmt.Sprintf("document date %s is in the future", f.Value)
	}
}

func (r *Rule) evalFormat(res *model.Resolution, result *Result) {
	f, ok := res.Fields[r.Field]
	if !ok || f.Value == "" || r.re == nil {
		return
	}
	if !r.re.MatchString(f.Value) {
		result.Passed = false
		result.Message = fmt.Sprintf("%s value %q has an unexpected format", r.Field, f.Value)
	}
}

func (r *Rule) evalRequired(registry *model.FieldRegistry, res *model.Resolution, result *Result) {
	for i := range registry.Fields {
		spec := &registry.Fields[i]
		if !spec.Required {
			continue
		}
		if f, ok := res.Fields[spec.Key]; !ok || f.Value == "" {
			result.Passed = false
			result.Message = fmt.Sprintf("required field %s is empty", spec.Key)
			return
		}
	}
}

func (r *Rule) evalExpr(res *model.Resolution, result *Result) {
	if r.program == nil {
		result.Passed = false
		result.Message = "expression not compiled"
		return
	}
	out, err := vm.Run(r.program, exprEnv(res))
	if err != nil {
		result.Passed = false
		result.Message = fmt.Sprintf("expression error: %v", err)
		return
	}
	ok, isBool := out.(bool)
	if !isBool {
		result.Passed = false
		result.Message = fmt.Sprintf("expression returned %T, want bool", out)
		return
	}
	if !ok {
		result.Passed = false
		result.Message = fmt.Sprintf("expression %q not satisfied", r.Expr)
	}
}

// exprEnv exposes resolved fields to rule expressions through small helper
// functions rather than raw structs, keeping rule files decoupled from the
// model layer.
func exprEnv(res *model.Resolution) map[string]any {
	return map[string]any{
		"value": func(field string) string {
			return res.Fields[field].Value
		},
		"confidence": func(field string) float64 {
			return res.Fields[field].Confidence
		},
		"present": func(field string) bool {
			f, ok := res.Fields[field]
			return ok && f.Value != ""
		},
		"cents": func(field string) int64 {
			c, _ := fieldCents(res, field)
			return c
		},
	}
}

func fieldCents(res *model.Resolution, key string) (int64, bool) {
	f, ok := res.Fields[key]
	if !ok || f.Value == "" {
		return 0, false
	}
	return candidate.ParseCents(f.Value)
}
