package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ArtifactKind identifies the type of an immutable artifact.
type ArtifactKind string

const (
	KindInput       ArtifactKind = "input"
	KindPage        ArtifactKind = "page"
	KindVariant     ArtifactKind = "variant"
	KindZone        ArtifactKind = "zone"
	KindRecognition ArtifactKind = "recognition"
	KindCandidate   ArtifactKind = "candidate"
)

// ArtifactID is a content-addressed identifier: "<kind>:<sha256 hex>".
type ArtifactID string

// NewArtifactID derives a content-addressed ID from an artifact's payload.
// The same payload always yields the same ID, which makes store puts idempotent.
func NewArtifactID(kind ArtifactKind, payload []byte) ArtifactID {
	sum := sha256.Sum256(payload)
	return ArtifactID(string(kind) + ":" + hex.EncodeToString(sum[:]))
}

// BBox is a pixel-space bounding box.
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether the point (x, y) lies inside the box.
func (b BBox) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// Center returns the box midpoint.
func (b BBox) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// InputArtifact is the ingested source document.
type InputArtifact struct {
	ID         ArtifactID `json:"id"`
	SourceName string     `json:"source_name"`
	MediaType  string     `json:"media_type"`
	Bytes      int        `json:"bytes"`
	ReceivedAt time.Time  `json:"received_at"`
}

// PageArtifact is a single rasterized page of an input.
type PageArtifact struct {
	ID      ArtifactID `json:"id"`
	InputID ArtifactID `json:"input_id"`
	Number  int        `json:"number"`
	Width   int        `json:"width"`
	Height  int        `json:"height"`
}

// VariantArtifact is a preprocessing variant of a page image.
type VariantArtifact struct {
	ID     ArtifactID `json:"id"`
	PageID ArtifactID `json:"page_id"`
	Name   string     `json:"name"`
}

// ZoneKind classifies a semantic page region.
type ZoneKind string

const (
	ZoneHeader    ZoneKind = "header"
	ZoneVendor    ZoneKind = "vendor"
	ZoneLineItems ZoneKind = "line_items"
	ZoneTotals    ZoneKind = "totals"
	ZoneFooter    ZoneKind = "footer"
	ZoneNoise     ZoneKind = "noise"
)

// ZoneArtifact is a semantic region of a page variant. Masked zones are
// excluded from recognition.
type ZoneArtifact struct {
	ID        ArtifactID `json:"id"`
	VariantID ArtifactID `json:"variant_id"`
	Kind      ZoneKind   `json:"kind"`
	Bounds    BBox       `json:"bounds"`
	Masked    bool       `json:"masked"`
}

// Token is one recognized word with its position and raw engine confidence.
type Token struct {
	Text       string  `json:"text"`
	Bounds     BBox    `json:"bounds"`
	Confidence float64 `json:"confidence"`
}

// PassMeta records how a recognition pass was run.
type PassMeta struct {
	Profile    string        `json:"profile"`
	Variant    string        `json:"variant"`
	Zone       ZoneKind      `json:"zone"`
	Attempt    int           `json:"attempt"`
	Duration   time.Duration `json:"duration"`
	Downgraded bool          `json:"downgraded,omitempty"`
}

// RecognitionArtifact is the output of one orchestrator pass over one zone.
type RecognitionArtifact struct {
	ID               ArtifactID `json:"id"`
	ZoneID           ArtifactID `json:"zone_id"`
	VariantID        ArtifactID `json:"variant_id"`
	Pass             PassMeta   `json:"pass"`
	Tokens           []Token    `json:"tokens"`
	EngineConfidence float64    `json:"engine_confidence"`
}

// Evidence records one independent source that surfaced a candidate value.
// Independence is counted by distinct (strategy, pass) pairs.
type Evidence struct {
	Strategy      string     `json:"strategy"`
	RecognitionID ArtifactID `json:"recognition_id"`
	PassProfile   string     `json:"pass_profile"`
	Confidence    float64    `json:"confidence"`
}

// CandidateArtifact is a proposed value for a field. A candidate references
// exactly one recognition artifact (the one it was first drawn from); merged
// duplicates accumulate additional sources in Evidence without discarding any.
type CandidateArtifact struct {
	ID            ArtifactID `json:"id"`
	Field         string     `json:"field"`
	Raw           string     `json:"raw"`
	Normalized    string     `json:"normalized"`
	Strategy      string     `json:"strategy"`
	RecognitionID ArtifactID `json:"recognition_id"`
	Confidence    float64    `json:"confidence"`
	Evidence      []Evidence `json:"evidence"`
}

// IndependentSources counts distinct (strategy, pass profile) pairs in the
// candidate's evidence. A single source repeating itself counts once. The
// variant is deliberately left out of the key: the same strategy reading the
// same value off two renditions of one page is correlated evidence, and
// counting it twice would inflate the consensus boost.
func (c CandidateArtifact) IndependentSources() int {
	seen := make(map[string]struct{}, len(c.Evidence))
	for _, ev := range c.Evidence {
		seen[ev.Strategy+"|"+ev.PassProfile] = struct{}{}
	}
	return len(seen)
}
