package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billscan/billscan/internal/artifact"
	"github.com/billscan/billscan/internal/calibrate"
	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/engine"
	"github.com/billscan/billscan/internal/gate"
	"github.com/billscan/billscan/internal/model"
	"github.com/billscan/billscan/internal/review"
	"github.com/billscan/billscan/internal/store"
	"github.com/billscan/billscan/internal/variant"
)

func reviewRequest(action model.CaseAction, version int64) review.Request {
	req := review.Request{Action: action, Actor: "reviewer-1", Version: version, At: time.Now().UTC()}
	if action == model.ActionReject {
		req.Reason = "totals do not add up"
	}
	return req
}

func testConfig() *config.Config {
	return &config.Config{
		Orchestrate: config.OrchestrateConfig{Concurrency: 2, BudgetSecs: 30, PassTimeoutSecs: 5},
		Candidates:  config.CandidateConfig{FuzzyMinScore: 0.82, SpatialMaxGapPx: 220},
		Resolver: config.ResolverConfig{
			BoostPerSource:       10,
			BoostCap:             20,
			RulePenalty:          15,
			MaxAlternatives:      5,
			TotalsToleranceCents: 5,
			FutureDateSlackHours: 26,
			LowConfidenceBelow:   40,
		},
		Calibration: config.CalibrationConfig{MinVendorSamples: 20, DriftThreshold: 5, FlushBatchSize: 64},
		Gate: config.GateConfig{
			Mode:       "balanced",
			Thresholds: map[string]float64{"fast": 50, "balanced": 70, "strict": 85},
		},
	}
}

func testProfiles() map[string]model.DocumentProfile {
	return map[string]model.DocumentProfile{
		"vendor_bill": {
			Type:     "vendor_bill",
			Variants: []string{"original"},
			Profiles: []model.RecognitionProfile{
				{Name: "standard", Mode: "accurate", DPI: 300, Language: "eng"},
				{Name: "retry", Mode: "fast", DPI: 150, Language: "eng"},
			},
			Fields: []model.FieldSpec{
				{Key: "invoice_number", Type: model.FieldIdentifier, Required: true, Critical: true,
					Zone: model.ZoneHeader, LabelHints: []string{"Invoice"}},
				{Key: "total", Type: model.FieldCurrency, Required: true, Critical: true,
					Zone: model.ZoneTotals, LabelHints: []string{"Total"}},
			},
		},
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 800, 1000))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fullResult(conf float64) *engine.Result {
	return &engine.Result{
		EngineConfidence: conf,
		Tokens: []model.Token{
			{Text: "Invoice", Bounds: model.BBox{X: 50, Y: 40, Width: 70, Height: 14}, Confidence: conf},
			{Text: "INV-1001", Bounds: model.BBox{X: 160, Y: 40, Width: 80, Height: 14}, Confidence: conf},
			{Text: "Total:", Bounds: model.BBox{X: 50, Y: 800, Width: 60, Height: 14}, Confidence: conf},
			{Text: "$123.45", Bounds: model.BBox{X: 150, Y: 800, Width: 70, Height: 14}, Confidence: conf},
		},
	}
}

func newTestPipeline(t *testing.T, eng engine.Engine) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "billscan.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })

	arts, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig()
	cal := calibrate.New(cfg.Calibration, st)
	require.NoError(t, cal.Load(ctx))

	p := New(cfg, Deps{
		Artifacts:  arts,
		Store:      st,
		Engine:     eng,
		Calibrator: cal,
		Profiles:   testProfiles(),
	})
	return p, st
}

func TestProcessAutoApprovesCleanDocument(t *testing.T) {
	eng := engine.NewStatic(fullResult(92))
	p, st := newTestPipeline(t, eng)
	ctx := context.Background()

	doc, err := p.Ingest(ctx, "bill.png", testPNG(t), "v-1", "vendor_bill")
	require.NoError(t, err)

	out, err := p.Process(ctx, doc)
	require.NoError(t, err)

	assert.Equal(t, gate.OutcomeAutoApprove, out.Decision.Outcome)
	require.NotNil(t, out.Snapshot)
	assert.Nil(t, out.Case)
	assert.Equal(t, "INV-1001", out.Resolution.Fields["invoice_number"].Value)
	assert.Equal(t, "123.45", out.Resolution.Fields["total"].Value)

	got, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)

	snaps, err := st.ListSnapshots(ctx, doc.CreatedAt.Add(-1))
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestProcessBlocksMissingRequiredField(t *testing.T) {
	res := fullResult(92)
	res.Tokens = res.Tokens[2:] // drop the invoice header tokens
	eng := engine.NewStatic(res)
	p, st := newTestPipeline(t, eng)
	ctx := context.Background()

	doc, err := p.Ingest(ctx, "bill.png", testPNG(t), "v-1", "vendor_bill")
	require.NoError(t, err)

	out, err := p.Process(ctx, doc)
	require.NoError(t, err)

	assert.Equal(t, gate.OutcomeBlock, out.Decision.Outcome)
	require.NotNil(t, out.Case)
	assert.Equal(t, model.StatePending, out.Case.State)
	assert.Equal(t, model.SeverityCritical, out.Case.Severity)
	assert.True(t, out.Resolution.Fields["invoice_number"].HasFlag(model.FlagMissing))

	queued, err := st.ListOpenCases(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestProcessSurvivesFailedPasses(t *testing.T) {
	eng := engine.NewStatic(fullResult(92))
	p, _ := newTestPipeline(t, eng)
	ctx := context.Background()

	// The retry profile always fails; the standard profile carries the doc.
	eng.FailProfile("retry", context.DeadlineExceeded)

	doc, err := p.Ingest(ctx, "bill.png", testPNG(t), "v-1", "vendor_bill")
	require.NoError(t, err)

	out, err := p.Process(ctx, doc)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Recognition.Failed)
	assert.Equal(t, gate.OutcomeAutoApprove, out.Decision.Outcome)
}

func TestProcessRejectsUnknownDocumentType(t *testing.T) {
	p, _ := newTestPipeline(t, engine.NewStatic(fullResult(90)))
	_, err := p.Ingest(context.Background(), "bill.png", testPNG(t), "v-1", "purchase_order")
	assert.Error(t, err)
}

func TestShippedProfilesGenerateAllVariants(t *testing.T) {
	profiles, err := LoadProfiles("../../profiles.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, profiles)

	arts, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)
	gen := variant.NewGenerator(arts)

	payload := testPNG(t)
	page := model.PageArtifact{ID: model.NewArtifactID(model.KindPage, payload), Number: 1}

	// Every variant name a shipped profile asks for must have a registered
	// transform, and each must yield a rendition.
	for docType, p := range profiles {
		variants, err := gen.Generate(page, payload, p.Variants)
		require.NoError(t, err, "profile %s", docType)
		assert.Len(t, variants, len(p.Variants), "profile %s", docType)
	}
}

func TestReocrRecomputesOnlyZoneFields(t *testing.T) {
	eng := engine.NewStatic(fullResult(92))
	p, st := newTestPipeline(t, eng)
	ctx := context.Background()

	// Force a low-confidence total so the gate blocks and a case exists.
	weak := fullResult(92)
	weak.Tokens[3].Confidence = 35
	eng.SetResult("standard", weak)
	eng.SetResult("retry", weak)

	doc, err := p.Ingest(ctx, "bill.png", testPNG(t), "v-1", "vendor_bill")
	require.NoError(t, err)
	out, err := p.Process(ctx, doc)
	require.NoError(t, err)
	require.NotNil(t, out.Case)

	before := out.Case.Resolution.Fields["invoice_number"]

	// The targeted pass reads the totals zone cleanly this time.
	eng.SetResult("retry", fullResult(95))

	updated, err := p.Reocr(ctx, out.Case.ID, model.ZoneTotals, "retry")
	require.NoError(t, err)

	after := updated.Resolution.Fields["invoice_number"]
	assert.Equal(t, before, after, "fields outside the zone must stay byte-identical")

	total := updated.Resolution.Fields["total"]
	assert.Equal(t, "123.45", total.Value)
	assert.Greater(t, total.Confidence, 40.0)

	stored, err := st.GetCase(ctx, updated.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, stored.Version)
}

func TestMergeResolutionSplicesContradictions(t *testing.T) {
	registry := model.NewFieldRegistry([]model.FieldSpec{
		{Key: "invoice_number", Zone: model.ZoneHeader},
		{Key: "document_date", Zone: model.ZoneHeader},
		{Key: "subtotal", Zone: model.ZoneTotals},
		{Key: "tax", Zone: model.ZoneTotals},
		{Key: "total", Zone: model.ZoneTotals},
	})
	affected := zoneFields(registry, model.ZoneTotals)
	require.Len(t, affected.Fields, 3)

	prev := &model.Resolution{
		DocumentID: "doc-1",
		VendorID:   "v-1",
		Fields: map[string]model.ResolvedField{
			"invoice_number": {Field: "invoice_number", Value: "INV-1001", Confidence: 90},
			"document_date":  {Field: "document_date", Value: "2031-01-01", Confidence: 88},
			"subtotal":       {Field: "subtotal", Value: "100.00", Confidence: 80},
			"tax":            {Field: "tax", Value: "8.25", Confidence: 78},
			"total":          {Field: "total", Value: "188.25", Confidence: 35},
		},
		Contradictions: []model.Contradiction{
			{Rule: "totals-balance", Severity: model.SeverityCritical,
				Fields: []string{"subtotal", "tax", "total"}, Message: "subtotal + tax != total"},
			{Rule: "document-date-not-future", Severity: model.SeverityWarning,
				Fields: []string{"document_date"}, Message: "date is in the future"},
		},
		ResolvedAt: time.Now().UTC().Add(-time.Hour),
	}
	partial := &model.Resolution{
		DocumentID: "doc-1",
		VendorID:   "v-1",
		Fields: map[string]model.ResolvedField{
			"subtotal": {Field: "subtotal", Value: "100.00", Confidence: 92},
			"tax":      {Field: "tax", Value: "8.25", Confidence: 91},
			"total":    {Field: "total", Value: "108.25", Confidence: 93},
		},
		ResolvedAt: time.Now().UTC(),
	}

	merged := mergeResolution(prev, partial, affected)

	assert.Equal(t, prev.Fields["invoice_number"], merged.Fields["invoice_number"])
	assert.Equal(t, prev.Fields["document_date"], merged.Fields["document_date"])
	assert.Equal(t, "108.25", merged.Fields["total"].Value)
	assert.Equal(t, partial.ResolvedAt, merged.ResolvedAt)

	// The arithmetic contradiction touches recomputed fields, so the stale
	// copy is dropped and only the partial run may reassert it. The header
	// date contradiction was not re-evaluated and must survive.
	require.Len(t, merged.Contradictions, 1)
	assert.Equal(t, "document-date-not-future", merged.Contradictions[0].Rule)

	// When the targeted pass still disagrees, its own arithmetic finding
	// takes the dropped one's place.
	partial.Contradictions = []model.Contradiction{
		{Rule: "totals-balance", Severity: model.SeverityCritical,
			Fields: []string{"subtotal", "tax", "total"}, Message: "subtotal + tax != total"},
	}
	merged = mergeResolution(prev, partial, affected)
	require.Len(t, merged.Contradictions, 2)
	assert.Equal(t, "document-date-not-future", merged.Contradictions[0].Rule)
	assert.Equal(t, "totals-balance", merged.Contradictions[1].Rule)
}

func TestDecideApprovalEmitsSnapshotAndGroundTruth(t *testing.T) {
	res := fullResult(92)
	res.Tokens = res.Tokens[2:]
	p, st := newTestPipeline(t, engine.NewStatic(res))
	ctx := context.Background()

	doc, err := p.Ingest(ctx, "bill.png", testPNG(t), "v-1", "vendor_bill")
	require.NoError(t, err)
	out, err := p.Process(ctx, doc)
	require.NoError(t, err)
	require.NotNil(t, out.Case)

	c := out.Case
	for _, action := range []model.CaseAction{model.ActionStartReview, model.ActionApprove} {
		c, err = p.Decide(ctx, c.ID, reviewRequest(action, c.Version))
		require.NoError(t, err)
	}
	assert.Equal(t, model.StateApproved, c.State)

	snaps, err := st.ListSnapshots(ctx, doc.CreatedAt.Add(-1))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, c.ID, snaps[0].CaseID)

	require.NoError(t, p.calibrator.Flush(ctx))
	points, err := st.LoadCalibrationPoints(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, points, "approval must feed the calibration ledger")
	for _, pt := range points {
		assert.True(t, pt.Correct)
	}
}
