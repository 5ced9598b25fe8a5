// Package pipeline wires the full document flow: ingest, variant and zone
// generation, recognition orchestration, candidate generation, resolution,
// calibration, rule evaluation, and the approval gate.
package pipeline

import (
	"bytes"
	"context"
	"image"
	_ "image/png"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/artifact"
	"github.com/billscan/billscan/internal/calibrate"
	"github.com/billscan/billscan/internal/candidate"
	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/engine"
	"github.com/billscan/billscan/internal/gate"
	"github.com/billscan/billscan/internal/metrics"
	"github.com/billscan/billscan/internal/model"
	"github.com/billscan/billscan/internal/recognize"
	"github.com/billscan/billscan/internal/resolve"
	"github.com/billscan/billscan/internal/review"
	"github.com/billscan/billscan/internal/rules"
	"github.com/billscan/billscan/internal/store"
	"github.com/billscan/billscan/internal/variant"
	"github.com/billscan/billscan/internal/zone"
)

// Pipeline processes documents end to end.
type Pipeline struct {
	cfg        *config.Config
	artifacts  artifact.Store
	store      store.Store
	variants   *variant.Generator
	zones      *zone.Detector
	orch       *recognize.Orchestrator
	resolver   *resolve.Resolver
	calibrator *calibrate.Calibrator
	rules      *rules.Engine
	gate       *gate.Gate
	profiles   map[string]model.DocumentProfile
	dicts      *candidate.DictionarySet
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Artifacts  artifact.Store
	Store      store.Store
	Engine     engine.Engine
	Calibrator *calibrate.Calibrator
	Rules      *rules.Engine
	Profiles   map[string]model.DocumentProfile
	Dicts      *candidate.DictionarySet
}

// New assembles a Pipeline from configuration and dependencies.
func New(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		artifacts:  deps.Artifacts,
		store:      deps.Store,
		variants:   variant.NewGenerator(deps.Artifacts),
		zones:      zone.NewDetector(deps.Artifacts),
		orch:       recognize.New(deps.Engine, deps.Artifacts, cfg.Orchestrate),
		resolver:   resolve.New(cfg.Resolver),
		calibrator: deps.Calibrator,
		rules:      deps.Rules,
		gate:       gate.New(cfg.Gate),
		profiles:   deps.Profiles,
		dicts:      deps.Dicts,
	}
}

// Outcome is the result of processing one document.
type Outcome struct {
	Document    *model.Document
	Recognition *recognize.Result
	Resolution  *model.Resolution
	Decision    gate.Decision
	Case        *model.ReviewCase
	Snapshot    *model.Snapshot
}

// Ingest stores the source image as an immutable input artifact and creates
// the document record. Malformed input is fatal to that document only.
func (p *Pipeline) Ingest(ctx context.Context, sourceName string, payload []byte, vendorID, docType string) (*model.Document, error) {
	cfgImg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: ingest %s", sourceName)
	}
	if _, ok := p.profiles[docType]; !ok {
		return nil, eris.Errorf("pipeline: unknown document type %q", docType)
	}

	inputID, err := p.artifacts.Put(payload, model.KindInput)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: store input")
	}

	now := time.Now().UTC()
	doc := &model.Document{
		ID:        uuid.NewString(),
		VendorID:  vendorID,
		Type:      docType,
		InputID:   inputID,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	zap.L().Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.String("source", sourceName),
		zap.Int("width", cfgImg.Width),
		zap.Int("height", cfgImg.Height))
	return doc, nil
}

// IngestFile reads and ingests a file from disk.
func (p *Pipeline) IngestFile(ctx context.Context, path, vendorID, docType string) (*model.Document, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s", path)
	}
	return p.Ingest(ctx, path, payload, vendorID, docType)
}

// Process runs the full flow for an ingested document. Pass failures are
// non-fatal; the pipeline always produces a best-effort resolution with
// flags. On cancellation the completed artifacts are retained for audit.
func (p *Pipeline) Process(ctx context.Context, doc *model.Document) (*Outcome, error) {
	profile, ok := p.profiles[doc.Type]
	if !ok {
		return nil, eris.Errorf("pipeline: unknown document type %q", doc.Type)
	}
	registry := model.NewFieldRegistry(profile.Fields)
	log := zap.L().With(zap.String("document_id", doc.ID))

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.RunStatusRecognizing); err != nil {
		return nil, err
	}

	recRes, _, _, err := p.recognizeDocument(ctx, doc, profile, registry)
	if err != nil {
		if ctx.Err() != nil {
			p.markStatus(doc.ID, model.RunStatusCancelled)
			metrics.Documents.WithLabelValues("cancelled").Inc()
			return nil, eris.Wrap(ctx.Err(), "pipeline: cancelled")
		}
		p.markStatus(doc.ID, model.RunStatusFailed)
		metrics.Documents.WithLabelValues("failed").Inc()
		return nil, err
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.RunStatusResolving); err != nil {
		return nil, err
	}

	res, err := p.resolveArtifacts(registry, doc, recRes.Artifacts)
	if err != nil {
		p.markStatus(doc.ID, model.RunStatusFailed)
		metrics.Documents.WithLabelValues("failed").Inc()
		return nil, err
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.RunStatusGated); err != nil {
		return nil, err
	}

	var ruleResults []rules.Result
	if p.rules != nil {
		ruleResults = p.rules.Active().Evaluate(registry, res, time.Now().UTC())
	}
	decision := p.gate.Decide(registry, res, ruleResults, time.Now().UTC())
	if err := p.store.SaveDecision(ctx, &decision); err != nil {
		log.Warn("pipeline: persist gate decision failed", zap.Error(err))
	}

	out := &Outcome{
		Document:    doc,
		Recognition: recRes,
		Resolution:  res,
		Decision:    decision,
	}

	now := time.Now().UTC()
	if decision.Outcome == gate.OutcomeAutoApprove {
		snap := newSnapshot(uuid.NewString(), "", doc.ID, res, now)
		if err := p.store.SaveSnapshot(ctx, snap); err != nil {
			return nil, eris.Wrap(err, "pipeline: save snapshot")
		}
		out.Snapshot = snap
	} else {
		c := review.NewCase(doc.ID, doc.VendorID, res, now)
		if err := p.store.SaveCase(ctx, c, 0); err != nil {
			return nil, eris.Wrap(err, "pipeline: create case")
		}
		out.Case = c
		p.refreshQueueDepth(ctx)
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.RunStatusComplete); err != nil {
		return nil, err
	}
	metrics.Documents.WithLabelValues("complete").Inc()
	log.Info("document processed",
		zap.String("outcome", string(decision.Outcome)),
		zap.Int("passes", len(recRes.Artifacts)),
		zap.Int("failed_passes", len(recRes.Failed)),
		zap.Bool("early_stopped", recRes.EarlyStopped))
	return out, nil
}

// buildGeometry regenerates page, variants, and zones from the stored input
// payload. Everything is content-addressed, so rebuilding reproduces the
// original artifacts exactly.
func (p *Pipeline) buildGeometry(doc *model.Document, profile model.DocumentProfile) (model.PageArtifact, []model.VariantArtifact, map[model.ArtifactID][]model.ZoneArtifact, error) {
	payload, err := p.artifacts.Get(doc.InputID)
	if err != nil {
		return model.PageArtifact{}, nil, nil, eris.Wrap(err, "pipeline: load input")
	}
	cfgImg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return model.PageArtifact{}, nil, nil, eris.Wrap(err, "pipeline: decode input")
	}

	page := model.PageArtifact{
		ID:      model.NewArtifactID(model.KindPage, payload),
		InputID: doc.InputID,
		Number:  1,
		Width:   cfgImg.Width,
		Height:  cfgImg.Height,
	}

	variants, err := p.variants.Generate(page, payload, profile.Variants)
	if err != nil {
		return page, nil, nil, err
	}
	zonesByVariant := make(map[model.ArtifactID][]model.ZoneArtifact, len(variants))
	for _, v := range variants {
		zs, err := p.zones.Detect(page, v)
		if err != nil {
			return page, nil, nil, err
		}
		zonesByVariant[v.ID] = zs
	}
	return page, variants, zonesByVariant, nil
}

// recognizeDocument builds variants and zones for the input and runs the
// recognition matrix with an early-stop hook over the critical fields.
func (p *Pipeline) recognizeDocument(ctx context.Context, doc *model.Document, profile model.DocumentProfile, registry *model.FieldRegistry) (*recognize.Result, []model.VariantArtifact, map[model.ArtifactID][]model.ZoneArtifact, error) {
	_, variants, zonesByVariant, err := p.buildGeometry(doc, profile)
	if err != nil {
		return nil, nil, nil, err
	}

	recRes, err := p.orch.Run(ctx, recognize.Input{
		DocumentID: doc.ID,
		Variants:   variants,
		Zones:      zonesByVariant,
		Profiles:   profile.Profiles,
	}, p.earlyStop(registry, doc, profile))
	if err != nil {
		return nil, nil, nil, err
	}
	return recRes, variants, zonesByVariant, nil
}

// earlyStop resolves the critical fields over the passes completed so far
// and stops scheduling once every one of them clears the profile's
// calibrated-confidence threshold.
func (p *Pipeline) earlyStop(registry *model.FieldRegistry, doc *model.Document, profile model.DocumentProfile) recognize.EarlyStop {
	critical := registry.Critical()
	if profile.EarlyStopThreshold <= 0 || len(critical) == 0 {
		return nil
	}
	return func(ctx context.Context, done []model.RecognitionArtifact) bool {
		res, err := p.resolveArtifacts(registry, doc, done)
		if err != nil {
			return false
		}
		for _, spec := range critical {
			f, ok := res.Fields[spec.Key]
			if !ok || f.HasFlag(model.FlagMissing) || f.Confidence < profile.EarlyStopThreshold {
				return false
			}
		}
		return true
	}
}

// resolveArtifacts runs candidate generation, resolution, and calibration
// over a recognition artifact set.
func (p *Pipeline) resolveArtifacts(registry *model.FieldRegistry, doc *model.Document, arts []model.RecognitionArtifact) (*model.Resolution, error) {
	dicts := p.dicts
	if dicts != nil {
		scoped := *dicts
		scoped.VendorID = doc.VendorID
		dicts = &scoped
	}
	gen := candidate.NewGenerator(p.artifacts,
		candidate.DefaultStrategies(dicts, p.cfg.Candidates.FuzzyMinScore, p.cfg.Candidates.SpatialMaxGapPx))
	cands, err := gen.Generate(registry, arts)
	if err != nil {
		return nil, err
	}
	res := p.resolver.Resolve(registry, doc.ID, doc.VendorID, cands, time.Now().UTC())
	if p.calibrator != nil {
		p.calibrator.Apply(res, p.cfg.Resolver.LowConfidenceBelow)
	}
	return res, nil
}

func (p *Pipeline) markStatus(docID string, status model.RunStatus) {
	// Status bookkeeping on an already-failing path; a store error here is
	// only logged.
	if err := p.store.UpdateDocumentStatus(context.Background(), docID, status); err != nil {
		zap.L().Warn("pipeline: update status failed",
			zap.String("document_id", docID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func (p *Pipeline) refreshQueueDepth(ctx context.Context) {
	cases, err := p.store.ListOpenCases(ctx, 0)
	if err != nil {
		return
	}
	metrics.QueueDepth.Set(float64(len(cases)))
}

func newSnapshot(id, caseID, docID string, res *model.Resolution, at time.Time) *model.Snapshot {
	fields := make(map[string]model.ResolvedField, len(res.Fields))
	for k, v := range res.Fields {
		fields[k] = v
	}
	return &model.Snapshot{
		ID:             id,
		CaseID:         caseID,
		DocumentID:     docID,
		Fields:         fields,
		Contradictions: res.Contradictions,
		ExportedAt:     at,
	}
}
