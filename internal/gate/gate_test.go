package gate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/model"
	"github.com/billscan/billscan/internal/rules"
)

func gateConfig(mode string) config.GateConfig {
	return config.GateConfig{
		Mode:       mode,
		Thresholds: map[string]float64{"fast": 50, "balanced": 70, "strict": 85},
	}
}

func gateRegistry() *model.FieldRegistry {
	return model.NewFieldRegistry([]model.FieldSpec{
		{Key: "invoice_number", Type: model.FieldIdentifier, Required: true, Critical: true},
		{Key: "total", Type: model.FieldCurrency, Required: true, Critical: true},
		{Key: "notes", Type: model.FieldText},
	})
}

func cleanResolution(conf float64) *model.Resolution {
	return &model.Resolution{
		DocumentID: "doc-1",
		Fields: map[string]model.ResolvedField{
			"invoice_number": {Field: "invoice_number", Value: "INV-1001", Confidence: conf},
			"total":          {Field: "total", Value: "123.45", Confidence: conf},
		},
	}
}

var gateNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAutoApproveCleanDocument(t *testing.T) {
	g := New(gateConfig("balanced"))
	d := g.Decide(gateRegistry(), cleanResolution(90), nil, gateNow)
	assert.Equal(t, OutcomeAutoApprove, d.Outcome)
	assert.NotEmpty(t, d.Reasons, "approve decisions carry reasons too")
}

func TestHardRuleFailureBlocks(t *testing.T) {
	g := New(gateConfig("balanced"))
	results := []rules.Result{
		{Rule: "totals_balance", Hard: true, Passed: false, Message: "off by 200 cents"},
		{Rule: "invoice_format", Hard: false, Passed: false, Message: "bad format"},
	}
	d := g.Decide(gateRegistry(), cleanResolution(95), results, gateNow)
	require.Equal(t, OutcomeBlock, d.Outcome)
	assert.Contains(t, d.Reasons[0], "totals_balance")
}

func TestSoftRuleFailureDoesNotBlock(t *testing.T) {
	g := New(gateConfig("balanced"))
	results := []rules.Result{
		{Rule: "invoice_format", Hard: false, Passed: false, Message: "bad format"},
	}
	d := g.Decide(gateRegistry(), cleanResolution(95), results, gateNow)
	assert.Equal(t, OutcomeAutoApprove, d.Outcome)
}

func TestCriticalContradictionBlocks(t *testing.T) {
	g := New(gateConfig("balanced"))
	res := cleanResolution(95)
	res.Contradictions = []model.Contradiction{
		{Rule: "required_present", Severity: model.SeverityCritical, Message: "required field total is empty"},
	}
	d := g.Decide(gateRegistry(), res, nil, gateNow)
	assert.Equal(t, OutcomeBlock, d.Outcome)
}

func TestWarningContradictionDoesNotBlock(t *testing.T) {
	g := New(gateConfig("balanced"))
	res := cleanResolution(95)
	res.Contradictions = []model.Contradiction{
		{Rule: "arithmetic_balance", Severity: model.SeverityWarning, Message: "off by 2 cents"},
	}
	d := g.Decide(gateRegistry(), res, nil, gateNow)
	assert.Equal(t, OutcomeAutoApprove, d.Outcome)
}

func TestThresholdsPerMode(t *testing.T) {
	res := cleanResolution(75)
	assert.Equal(t, OutcomeAutoApprove, New(gateConfig("fast")).Decide(gateRegistry(), res, nil, gateNow).Outcome)
	assert.Equal(t, OutcomeAutoApprove, New(gateConfig("balanced")).Decide(gateRegistry(), res, nil, gateNow).Outcome)
	assert.Equal(t, OutcomeBlock, New(gateConfig("strict")).Decide(gateRegistry(), res, nil, gateNow).Outcome)
}

func TestMissingRequiredFieldBlocks(t *testing.T) {
	g := New(gateConfig("balanced"))
	res := cleanResolution(90)
	delete(res.Fields, "total")
	d := g.Decide(gateRegistry(), res, nil, gateNow)
	require.Equal(t, OutcomeBlock, d.Outcome)
	assert.Contains(t, d.Reasons[0], "total")
}

// Randomized contradiction sets: a critical contradiction anywhere in the
// set must always block, whatever else is present.
func TestCriticalAlwaysBlocksRandomized(t *testing.T) {
	g := New(gateConfig("fast"))
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		res := cleanResolution(99)
		n := rng.Intn(6)
		hasCritical := false
		for i := 0; i < n; i++ {
			sev := model.SeverityWarning
			if rng.Intn(2) == 0 {
				sev = model.SeverityCritical
				hasCritical = true
			}
			res.Contradictions = append(res.Contradictions, model.Contradiction{
				Rule:     "randomized",
				Severity: sev,
			})
		}
		d := g.Decide(gateRegistry(), res, nil, gateNow)
		if hasCritical {
			assert.Equal(t, OutcomeBlock, d.Outcome, "trial %d", trial)
		} else {
			assert.Equal(t, OutcomeAutoApprove, d.Outcome, "trial %d", trial)
		}
	}
}
