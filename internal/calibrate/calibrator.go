package calibrate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/metrics"
	"github.com/billscan/billscan/internal/model"
)

// Ledger persists calibration points. The store implements it; tests use an
// in-memory fake.
type Ledger interface {
	AppendCalibrationPoints(ctx context.Context, points []model.CalibrationPoint) error
	LoadCalibrationPoints(ctx context.Context) ([]model.CalibrationPoint, error)
}

// Calibrator maps raw confidences to historically observed accuracy using
// decile buckets, tracked globally and per vendor. Reads go through an
// immutable snapshot swapped atomically, so Calibrate never takes a lock on
// the resolution path.
type Calibrator struct {
	cfg    config.CalibrationConfig
	ledger Ledger
	snap   atomic.Pointer[model.CalibrationSnapshot]

	mu      sync.Mutex
	points  []model.CalibrationPoint
	pending []model.CalibrationPoint

	recomputing atomic.Bool
}

// New creates a Calibrator backed by the given ledger.
func New(cfg config.CalibrationConfig, ledger Ledger) *Calibrator {
	c := &Calibrator{cfg: cfg, ledger: ledger}
	c.snap.Store(&model.CalibrationSnapshot{ByVendor: map[string][model.CalibrationBuckets]model.BucketStats{}})
	return c
}

// Load reads the full ledger and builds the initial snapshot.
func (c *Calibrator) Load(ctx context.Context) error {
	points, err := c.ledger.LoadCalibrationPoints(ctx)
	if err != nil {
		return eris.Wrap(err, "calibrate: load ledger")
	}
	c.mu.Lock()
	c.points = points
	c.mu.Unlock()
	c.rebuild()
	return nil
}

// Calibrate returns the historical accuracy for the bucket matching the raw
// confidence, preferring the vendor's own bucket when it has enough samples.
// The second return is false when no bucket has data, in which case the raw
// confidence comes back unchanged.
func (c *Calibrator) Calibrate(raw float64, field, vendorID string) (float64, bool) {
	snap := c.snap.Load()
	idx := model.BucketIndex(raw)

	if vendorID != "" {
		if buckets, ok := snap.ByVendor[vendorID]; ok {
			b := buckets[idx]
			if b.Count >= c.cfg.MinVendorSamples {
				return b.Accuracy(), true
			}
		}
	}
	if acc := snap.Global[idx].Accuracy(); acc >= 0 {
		return acc, true
	}
	return raw, false
}

// Apply calibrates every resolved field in place. The bucket lookup keys on
// RawConfidence, the same pre-penalty score ground truth is recorded at, so
// training and lookup always land in the same bucket; any rule penalty the
// resolver subtracted is re-applied to the calibrated value as a delta.
// Fields no bucket covers keep their confidence and are flagged uncalibrated.
// lowBelow re-derives the low-confidence flag against the calibrated value.
func (c *Calibrator) Apply(res *model.Resolution, lowBelow float64) {
	for key, f := range res.Fields {
		if f.HasFlag(model.FlagMissing) {
			continue
		}
		penalty := f.RawConfidence - f.Confidence
		calibrated, ok := c.Calibrate(f.RawConfidence, key, res.VendorID)
		if !ok {
			if !f.HasFlag(model.FlagUncalibrated) {
				f.Flags = append(f.Flags, model.FlagUncalibrated)
			}
			zap.L().Warn("calibration unavailable, using raw confidence",
				zap.String("document_id", res.DocumentID),
				zap.String("field", key))
		} else {
			f.Confidence = calibrated - penalty
			if f.Confidence < 0 {
				f.Confidence = 0
			}
		}
		if f.Confidence < lowBelow && !f.HasFlag(model.FlagLowConfidence) {
			f.Flags = append(f.Flags, model.FlagLowConfidence)
		}
		res.Fields[key] = f
	}
}

// Record queues a ground-truth point. The ledger is append-only; points are
// flushed in batches.
func (c *Calibrator) Record(ctx context.Context, p model.CalibrationPoint) error {
	if p.At.IsZero() {
		p.At = time.Now().UTC()
	}
	c.mu.Lock()
	c.pending = append(c.pending, p)
	full := c.cfg.FlushBatchSize > 0 && len(c.pending) >= c.cfg.FlushBatchSize
	c.mu.Unlock()
	if full {
		return c.Flush(ctx)
	}
	return nil
}

// Flush persists pending points, then checks drift against the active
// snapshot. Excessive drift schedules an asynchronous rebuild; the
// resolution path never waits on it.
func (c *Calibrator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if err := c.ledger.AppendCalibrationPoints(ctx, batch); err != nil {
		c.mu.Lock()
		c.pending = append(batch, c.pending...)
		c.mu.Unlock()
		return eris.Wrap(err, "calibrate: append points")
	}

	c.mu.Lock()
	c.points = append(c.points, batch...)
	errNow := calibrationError(c.points)
	c.mu.Unlock()

	snap := c.snap.Load()
	drift := errNow - snap.Error
	if drift < 0 {
		drift = -drift
	}
	if drift > c.cfg.DriftThreshold && c.recomputing.CompareAndSwap(false, true) {
		zap.L().Info("calibration drift above threshold, scheduling rebuild",
			zap.Float64("drift", drift),
			zap.Float64("threshold", c.cfg.DriftThreshold))
		go func() {
			defer c.recomputing.Store(false)
			c.rebuild()
		}()
	}
	return nil
}

// rebuild recomputes the snapshot from all known points and swaps it in.
func (c *Calibrator) rebuild() {
	c.mu.Lock()
	points := make([]model.CalibrationPoint, len(c.points))
	copy(points, c.points)
	c.mu.Unlock()

	snap := &model.CalibrationSnapshot{
		ByVendor:   make(map[string][model.CalibrationBuckets]model.BucketStats),
		Error:      calibrationError(points),
		Points:     len(points),
		ComputedAt: time.Now().UTC(),
	}
	for _, p := range points {
		idx := model.BucketIndex(p.Predicted)
		snap.Global[idx] = bump(snap.Global[idx], p.Correct)
		if p.VendorID != "" {
			buckets := snap.ByVendor[p.VendorID]
			buckets[idx] = bump(buckets[idx], p.Correct)
			snap.ByVendor[p.VendorID] = buckets
		}
	}

	c.snap.Store(snap)
	metrics.CalibrationError.Set(snap.Error)
	zap.L().Info("calibration snapshot rebuilt",
		zap.Int("points", snap.Points),
		zap.Float64("error", snap.Error))
}

// Rebuild forces a synchronous snapshot rebuild. Used by the calibrate
// command and tests; the pipeline path relies on drift-triggered rebuilds.
func (c *Calibrator) Rebuild() { c.rebuild() }

// Snapshot returns the active snapshot.
func (c *Calibrator) Snapshot() *model.CalibrationSnapshot { return c.snap.Load() }

func bump(b model.BucketStats, correct bool) model.BucketStats {
	b.Count++
	if correct {
		b.Correct++
	}
	return b
}

// calibrationError is the mean absolute deviation between the mean predicted
// confidence and the observed accuracy across non-empty global buckets.
func calibrationError(points []model.CalibrationPoint) float64 {
	var predSum [model.CalibrationBuckets]float64
	var stats [model.CalibrationBuckets]model.BucketStats
	for _, p := range points {
		idx := model.BucketIndex(p.Predicted)
		predSum[idx] += p.Predicted
		stats[idx] = bump(stats[idx], p.Correct)
	}

	var sum float64
	var n int
	for i := range stats {
		if stats[i].Count == 0 {
			continue
		}
		meanPred := predSum[i] / float64(stats[i].Count)
		dev := meanPred - stats[i].Accuracy()
		if dev < 0 {
			dev = -dev
		}
		sum += dev
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
