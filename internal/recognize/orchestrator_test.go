package recognize

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billscan/billscan/internal/artifact"
	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/engine"
	"github.com/billscan/billscan/internal/model"
)

func testInput(t *testing.T, store artifact.Store, profiles []model.RecognitionProfile) Input {
	t.Helper()

	payload := []byte("variant image bytes")
	vid, err := store.Put(payload, model.KindVariant)
	require.NoError(t, err)
	v := model.VariantArtifact{ID: vid, Name: "original"}

	zones := []model.ZoneArtifact{
		{ID: "zone:totals", VariantID: vid, Kind: model.ZoneTotals, Bounds: model.BBox{Width: 100, Height: 40}},
		{ID: "zone:header", VariantID: vid, Kind: model.ZoneHeader, Bounds: model.BBox{Width: 100, Height: 20}},
		{ID: "zone:footer", VariantID: vid, Kind: model.ZoneFooter, Bounds: model.BBox{Width: 100, Height: 10}, Masked: true},
	}

	return Input{
		DocumentID: "doc-1",
		Variants:   []model.VariantArtifact{v},
		Zones:      map[model.ArtifactID][]model.ZoneArtifact{vid: zones},
		Profiles:   profiles,
	}
}

func testConfig() config.OrchestrateConfig {
	return config.OrchestrateConfig{Concurrency: 2, BudgetSecs: 10, PassTimeoutSecs: 5}
}

func TestRunExecutesFullMatrix(t *testing.T) {
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	eng := engine.NewStatic(&engine.Result{
		Tokens:           []model.Token{{Text: "INV-1001", Confidence: 88}},
		EngineConfidence: 88,
	})

	profiles := []model.RecognitionProfile{
		{Name: "standard", Mode: "accurate", DPI: 300},
		{Name: "fast", Mode: "fast", DPI: 150},
	}
	in := testInput(t, store, profiles)

	o := New(eng, store, testConfig())
	res, err := o.Run(context.Background(), in, nil)
	require.NoError(t, err)

	// 1 variant x 2 active zones x 2 profiles; the masked footer is skipped.
	assert.Len(t, res.Artifacts, 4)
	assert.Empty(t, res.Failed)
	assert.False(t, res.EarlyStopped)
	assert.False(t, res.BudgetExceeded)

	for _, a := range res.Artifacts {
		assert.NotEmpty(t, a.ID)
		assert.NotEqual(t, model.ZoneFooter, a.Pass.Zone)
		assert.NotEmpty(t, a.Tokens)
	}
}

func TestRunOrderIsDeterministic(t *testing.T) {
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	eng := engine.NewStatic(&engine.Result{Tokens: []model.Token{{Text: "x", Confidence: 50}}})
	profiles := []model.RecognitionProfile{{Name: "standard"}, {Name: "fast"}}
	in := testInput(t, store, profiles)

	o := New(eng, store, testConfig())
	first, err := o.Run(context.Background(), in, nil)
	require.NoError(t, err)
	second, err := o.Run(context.Background(), in, nil)
	require.NoError(t, err)

	require.Equal(t, len(first.Artifacts), len(second.Artifacts))
	for i := range first.Artifacts {
		assert.Equal(t, first.Artifacts[i].ZoneID, second.Artifacts[i].ZoneID)
		assert.Equal(t, first.Artifacts[i].Pass.Profile, second.Artifacts[i].Pass.Profile)
	}
}

func TestFailedPassIsNonFatalAndRetriesFallback(t *testing.T) {
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	eng := engine.NewStatic(&engine.Result{Tokens: []model.Token{{Text: "ok", Confidence: 70}}})
	eng.FailProfile("standard", eris.New("engine crashed"))

	// standard fails and falls back to "fast"; "broken" fails with no fallback.
	profiles := []model.RecognitionProfile{
		{Name: "standard", DPI: 300, Fallback: "fast"},
		{Name: "broken"},
	}
	eng.FailProfile("broken", eris.New("engine crashed"))

	in := testInput(t, store, profiles)

	o := New(eng, store, testConfig())
	res, err := o.Run(context.Background(), in, nil)
	require.NoError(t, err)

	// standard passes recover via the fallback profile; broken passes fail.
	assert.Len(t, res.Artifacts, 2)
	assert.Len(t, res.Failed, 2)
	for _, a := range res.Artifacts {
		assert.True(t, a.Pass.Downgraded)
		assert.Equal(t, 2, a.Pass.Attempt)
	}
	for _, f := range res.Failed {
		assert.Equal(t, "broken", f.Profile)
	}
}

func TestEarlyStopSkipsRemainingPasses(t *testing.T) {
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	eng := engine.NewStatic(&engine.Result{Tokens: []model.Token{{Text: "sum", Confidence: 95}}})
	profiles := []model.RecognitionProfile{{Name: "p1"}, {Name: "p2"}, {Name: "p3"}, {Name: "p4"}}
	in := testInput(t, store, profiles)

	cfg := testConfig()
	cfg.Concurrency = 1 // serialize so the stop takes effect before later passes

	var checks atomic.Int32
	stop := func(ctx context.Context, done []model.RecognitionArtifact) bool {
		checks.Add(1)
		return len(done) >= 2
	}

	o := New(eng, store, cfg)
	res, err := o.Run(context.Background(), in, stop)
	require.NoError(t, err)

	assert.True(t, res.EarlyStopped)
	assert.Len(t, res.Artifacts, 2)
	assert.GreaterOrEqual(t, checks.Load(), int32(2))
}

func TestRunSingleTargetedPass(t *testing.T) {
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	eng := engine.NewStatic(&engine.Result{
		Tokens:           []model.Token{{Text: "$123.45", Confidence: 91}},
		EngineConfidence: 91,
	})

	payload := []byte("image")
	vid, err := store.Put(payload, model.KindVariant)
	require.NoError(t, err)
	v := model.VariantArtifact{ID: vid, Name: "original"}
	z := model.ZoneArtifact{ID: "zone:totals", VariantID: vid, Kind: model.ZoneTotals, Bounds: model.BBox{Width: 80, Height: 30}}

	o := New(eng, store, testConfig())
	art, err := o.RunSingle(context.Background(), v, z, model.RecognitionProfile{Name: "precise", DPI: 600})
	require.NoError(t, err)
	assert.Equal(t, z.ID, art.ZoneID)
	assert.Equal(t, "precise", art.Pass.Profile)
	assert.Len(t, art.Tokens, 1)
}

func TestCancelledContextSkipsPasses(t *testing.T) {
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	eng := engine.NewStatic(&engine.Result{Tokens: []model.Token{{Text: "x", Confidence: 10}}})
	in := testInput(t, store, []model.RecognitionProfile{{Name: "standard"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(eng, store, testConfig())
	res, err := o.Run(ctx, in, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Artifacts)
}
