// Package recognize runs the recognition engine across variant, zone, and
// profile combinations under a bounded worker pool and a per-document
// wall-clock budget. A failed pass never aborts the document: the
// orchestrator always returns whatever passes completed.
package recognize

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/billscan/billscan/internal/artifact"
	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/engine"
	"github.com/billscan/billscan/internal/metrics"
	"github.com/billscan/billscan/internal/model"
)

// EarlyStop is consulted after each completed pass with all artifacts so
// far. Returning true skips the remaining scheduled passes. Implementations
// typically resolve the critical fields and compare calibrated confidence
// against the document profile's threshold.
type EarlyStop func(ctx context.Context, done []model.RecognitionArtifact) bool

// PassFailure records a pass that failed after its reduced-fidelity retry.
type PassFailure struct {
	Variant string         `json:"variant"`
	Zone    model.ZoneKind `json:"zone"`
	Profile string         `json:"profile"`
	Error   string         `json:"error"`
}

// Result is the outcome of orchestrating one document.
type Result struct {
	Artifacts      []model.RecognitionArtifact
	Failed         []PassFailure
	EarlyStopped   bool
	BudgetExceeded bool
}

// Input describes the pass matrix for one document.
type Input struct {
	DocumentID string
	Variants   []model.VariantArtifact
	Zones      map[model.ArtifactID][]model.ZoneArtifact
	Profiles   []model.RecognitionProfile
}

// Orchestrator schedules recognition passes.
type Orchestrator struct {
	engine engine.Engine
	store  artifact.Store
	cfg    config.OrchestrateConfig
}

// New creates an Orchestrator.
func New(eng engine.Engine, store artifact.Store, cfg config.OrchestrateConfig) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BudgetSecs <= 0 {
		cfg.BudgetSecs = 120
	}
	if cfg.PassTimeoutSecs <= 0 {
		cfg.PassTimeoutSecs = 20
	}
	return &Orchestrator{engine: eng, store: store, cfg: cfg}
}

type pass struct {
	order   int
	variant model.VariantArtifact
	zone    model.ZoneArtifact
	profile model.RecognitionProfile
}

// Run executes the pass matrix. Masked zones are skipped. The returned
// artifacts are ordered by scheduling order regardless of completion order,
// so reruns over an unchanged matrix yield an identical sequence.
func (o *Orchestrator) Run(ctx context.Context, in Input, stop EarlyStop) (*Result, error) {
	log := zap.L().With(zap.String("document", in.DocumentID))

	passes := buildMatrix(in)
	if len(passes) == 0 {
		return nil, eris.New("recognize: empty pass matrix")
	}

	budget := time.Duration(o.cfg.BudgetSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// Variant payloads are fetched once and shared across passes.
	images := make(map[model.ArtifactID][]byte, len(in.Variants))
	for _, v := range in.Variants {
		data, err := o.store.Get(v.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "recognize: load variant %s", v.Name)
		}
		images[v.ID] = data
	}

	type completed struct {
		order int
		art   model.RecognitionArtifact
	}

	var (
		mu      sync.Mutex
		done    []completed
		failed  []PassFailure
		stopped bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for _, p := range passes {
		p := p
		g.Go(func() error {
			// Cooperative cancellation and early-stop check between steps.
			mu.Lock()
			skip := stopped
			mu.Unlock()
			if skip || gctx.Err() != nil {
				metrics.RecognitionPasses.WithLabelValues("skipped").Inc()
				return nil
			}

			art, err := o.runPass(gctx, p, images[p.variant.ID])
			if err != nil {
				log.Warn("recognize: pass failed",
					zap.String("variant", p.variant.Name),
					zap.String("zone", string(p.zone.Kind)),
					zap.String("profile", p.profile.Name),
					zap.Error(err),
				)
				metrics.RecognitionPasses.WithLabelValues("failed").Inc()
				mu.Lock()
				failed = append(failed, PassFailure{
					Variant: p.variant.Name,
					Zone:    p.zone.Kind,
					Profile: p.profile.Name,
					Error:   err.Error(),
				})
				mu.Unlock()
				return nil
			}

			metrics.RecognitionPasses.WithLabelValues("ok").Inc()
			metrics.PassDuration.Observe(art.Pass.Duration.Seconds())

			mu.Lock()
			done = append(done, completed{order: p.order, art: *art})
			snapshot := make([]model.RecognitionArtifact, 0, len(done))
			for _, c := range done {
				snapshot = append(snapshot, c.art)
			}
			alreadyStopped := stopped
			mu.Unlock()

			if stop != nil && !alreadyStopped && stop(gctx, snapshot) {
				mu.Lock()
				stopped = true
				mu.Unlock()
				log.Info("recognize: early stop, critical fields confident",
					zap.Int("passes_done", len(snapshot)),
					zap.Int("passes_total", len(passes)),
				)
			}
			return nil
		})
	}

	_ = g.Wait()

	// Scheduling order, not completion order, so reruns are reproducible.
	sort.Slice(done, func(i, j int) bool { return done[i].order < done[j].order })

	res := &Result{
		Failed:         failed,
		EarlyStopped:   stopped,
		BudgetExceeded: ctx.Err() == context.DeadlineExceeded,
	}
	for _, c := range done {
		res.Artifacts = append(res.Artifacts, c.art)
	}

	if res.BudgetExceeded {
		log.Warn("recognize: wall-clock budget exceeded, returning partial results",
			zap.Duration("budget", budget),
			zap.Int("completed", len(res.Artifacts)),
		)
	}
	return res, nil
}

// RunSingle executes one targeted pass, used for reviewer-requested
// re-recognition of a specific zone.
func (o *Orchestrator) RunSingle(ctx context.Context, variant model.VariantArtifact, z model.ZoneArtifact, profile model.RecognitionProfile) (*model.RecognitionArtifact, error) {
	img, err := o.store.Get(variant.ID)
	if err != nil {
		return nil, eris.Wrap(err, "recognize: load variant")
	}
	art, err := o.runPass(ctx, pass{variant: variant, zone: z, profile: profile}, img)
	if err != nil {
		metrics.RecognitionPasses.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.RecognitionPasses.WithLabelValues("ok").Inc()
	return art, nil
}

// runPass runs the engine once with the per-pass timeout. A timeout or
// engine failure triggers exactly one retry at the profile's reduced-fidelity
// fallback.
func (o *Orchestrator) runPass(ctx context.Context, p pass, img []byte) (*model.RecognitionArtifact, error) {
	art, err := o.attempt(ctx, p, img, p.profile, 1)
	if err == nil {
		return art, nil
	}
	if ctx.Err() != nil || p.profile.Fallback == "" {
		return nil, err
	}

	fallback := p.profile
	fallback.Name = p.profile.Fallback
	fallback.DPI = p.profile.DPI / 2
	art, retryErr := o.attempt(ctx, p, img, fallback, 2)
	if retryErr != nil {
		return nil, eris.Wrapf(retryErr, "after fallback retry (first: %v)", err)
	}
	art.Pass.Downgraded = true
	return art, nil
}

func (o *Orchestrator) attempt(ctx context.Context, p pass, img []byte, profile model.RecognitionProfile, attempt int) (*model.RecognitionArtifact, error) {
	passCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.PassTimeoutSecs)*time.Second)
	defer cancel()

	start := time.Now()
	res, err := o.engine.Recognize(passCtx, engine.Request{
		Image:   img,
		Region:  p.zone.Bounds,
		Profile: profile,
	})
	elapsed := time.Since(start)
	if err != nil {
		return nil, eris.Wrapf(err, "recognize: %s/%s/%s", p.variant.Name, p.zone.Kind, profile.Name)
	}

	art := &model.RecognitionArtifact{
		ZoneID:    p.zone.ID,
		VariantID: p.variant.ID,
		Pass: model.PassMeta{
			Profile:  profile.Name,
			Variant:  p.variant.Name,
			Zone:     p.zone.Kind,
			Attempt:  attempt,
			Duration: elapsed,
		},
		Tokens:           res.Tokens,
		EngineConfidence: res.EngineConfidence,
	}

	payload, err := json.Marshal(struct {
		ZoneID  model.ArtifactID `json:"zone_id"`
		Profile string           `json:"profile"`
		Tokens  []model.Token    `json:"tokens"`
	}{art.ZoneID, profile.Name, art.Tokens})
	if err != nil {
		return nil, eris.Wrap(err, "recognize: marshal artifact")
	}
	id, err := o.store.Put(payload, model.KindRecognition)
	if err != nil {
		return nil, eris.Wrap(err, "recognize: store artifact")
	}
	art.ID = id
	return art, nil
}

func buildMatrix(in Input) []pass {
	var passes []pass
	order := 0
	for _, v := range in.Variants {
		for _, z := range in.Zones[v.ID] {
			if z.Masked {
				continue
			}
			for _, prof := range in.Profiles {
				passes = append(passes, pass{order: order, variant: v, zone: z, profile: prof})
				order++
			}
		}
	}
	return passes
}
