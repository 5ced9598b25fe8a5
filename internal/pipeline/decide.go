package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/model"
	"github.com/billscan/billscan/internal/review"
)

// Decide applies a reviewer transition to a case and persists it. Approval
// emits an immutable snapshot; approval and rejection both feed the
// calibration ledger as ground truth. A snapshot or ledger write failure
// never rolls back the case transition.
func (p *Pipeline) Decide(ctx context.Context, caseID string, req review.Request) (*model.ReviewCase, error) {
	c, err := p.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	next, err := review.Apply(c, req)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveCase(ctx, next, c.Version); err != nil {
		return nil, err
	}

	switch next.State {
	case model.StateApproved:
		p.emitSnapshot(ctx, next)
		p.recordGroundTruth(ctx, next, true)
	case model.StateRejected:
		p.recordGroundTruth(ctx, next, false)
	}

	p.refreshQueueDepth(ctx)
	return next, nil
}

func (p *Pipeline) emitSnapshot(ctx context.Context, c *model.ReviewCase) {
	if c.Resolution == nil {
		return
	}
	snap := newSnapshot(uuid.NewString(), c.ID, c.DocumentID, c.Resolution, time.Now().UTC())
	if err := p.store.SaveSnapshot(ctx, snap); err != nil {
		// The approval stands; export is retried out of band.
		zap.L().Error("snapshot write failed after approval",
			zap.String("case_id", c.ID),
			zap.Error(err))
	}
}

// recordGroundTruth treats a reviewer's verdict as the observed outcome for
// every resolved field on the case.
func (p *Pipeline) recordGroundTruth(ctx context.Context, c *model.ReviewCase, correct bool) {
	if p.calibrator == nil || c.Resolution == nil {
		return
	}
	now := time.Now().UTC()
	for key, f := range c.Resolution.Fields {
		if f.HasFlag(model.FlagMissing) {
			continue
		}
		err := p.calibrator.Record(ctx, model.CalibrationPoint{
			Predicted: f.RawConfidence,
			Correct:   correct,
			Field:     key,
			VendorID:  c.VendorID,
			At:        now,
		})
		if err != nil {
			zap.L().Warn("calibration point dropped",
				zap.String("case_id", c.ID),
				zap.String("field", key),
				zap.Error(err))
			return
		}
	}
}
