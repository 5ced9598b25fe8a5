package model

import "time"

// CalibrationPoint pairs a predicted confidence with the observed ground
// truth for one resolved field. Points are append-only: once written they are
// never edited or deleted.
type CalibrationPoint struct {
	Predicted float64   `json:"predicted"`
	Correct   bool      `json:"correct"`
	Field     string    `json:"field"`
	VendorID  string    `json:"vendor_id,omitempty"`
	At        time.Time `json:"at"`
}

// CalibrationBuckets is the number of confidence deciles tracked.
const CalibrationBuckets = 10

// BucketIndex maps a confidence in [0,100) to its decile bucket.
func BucketIndex(confidence float64) int {
	if confidence < 0 {
		return 0
	}
	i := int(confidence / 10)
	if i >= CalibrationBuckets {
		return CalibrationBuckets - 1
	}
	return i
}

// BucketStats accumulates outcomes for one confidence decile.
type BucketStats struct {
	Count   int `json:"count"`
	Correct int `json:"correct"`
}

// Accuracy returns the observed fraction correct scaled to [0,100), or -1
// when the bucket is empty.
func (b BucketStats) Accuracy() float64 {
	if b.Count == 0 {
		return -1
	}
	acc := float64(b.Correct) / float64(b.Count) * 100
	if acc >= 100 {
		acc = 99.99
	}
	return acc
}

// CalibrationSnapshot is an immutable view of the calibration ledger,
// recomputed out-of-band and swapped in atomically.
type CalibrationSnapshot struct {
	Global     [CalibrationBuckets]BucketStats            `json:"global"`
	ByVendor   map[string][CalibrationBuckets]BucketStats `json:"by_vendor"`
	Error      float64                                    `json:"error"`
	Points     int                                        `json:"points"`
	ComputedAt time.Time                                  `json:"computed_at"`
}
