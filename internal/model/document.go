package model

import "time"

// RunStatus tracks a document's progress through the pipeline.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusRecognizing RunStatus = "recognizing"
	RunStatusResolving   RunStatus = "resolving"
	RunStatusGated       RunStatus = "gated"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
	RunStatusCancelled   RunStatus = "cancelled"
)

// Document is one vendor bill moving through the pipeline.
type Document struct {
	ID        string     `json:"id"`
	VendorID  string     `json:"vendor_id,omitempty"`
	Type      string     `json:"type"`
	InputID   ArtifactID `json:"input_id"`
	Status    RunStatus  `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RecognitionProfile names an engine configuration for one pass.
type RecognitionProfile struct {
	Name     string `json:"name" yaml:"name"`
	Mode     string `json:"mode" yaml:"mode"`
	DPI      int    `json:"dpi" yaml:"dpi"`
	Language string `json:"language" yaml:"language"`
	// Fallback is the reduced-fidelity profile used for the single retry
	// after a pass timeout. Empty means no retry.
	Fallback string `json:"fallback,omitempty" yaml:"fallback"`
}

// DocumentProfile is the per-document-type configuration driving the
// orchestrator: which variants and profiles to run, which fields are critical,
// and the calibrated-confidence threshold that permits early stopping.
type DocumentProfile struct {
	Type               string               `json:"type" yaml:"type"`
	Variants           []string             `json:"variants" yaml:"variants"`
	Profiles           []RecognitionProfile `json:"profiles" yaml:"profiles"`
	Fields             []FieldSpec          `json:"fields" yaml:"fields"`
	EarlyStopThreshold float64              `json:"early_stop_threshold" yaml:"early_stop_threshold"`
}
