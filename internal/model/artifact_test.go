package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndependentSourcesCountsStrategyPassPairs(t *testing.T) {
	recA := NewArtifactID(KindRecognition, []byte("pass-over-original"))
	recB := NewArtifactID(KindRecognition, []byte("pass-over-binarized"))

	c := CandidateArtifact{
		Field: "total",
		Evidence: []Evidence{
			{Strategy: "label", PassProfile: "standard", RecognitionID: recA, Confidence: 90},
			// Same strategy and pass over another rendition of the page is
			// correlated, not independent.
			{Strategy: "label", PassProfile: "standard", RecognitionID: recB, Confidence: 88},
		},
	}
	assert.Equal(t, 1, c.IndependentSources())

	c.Evidence = append(c.Evidence,
		Evidence{Strategy: "pattern", PassProfile: "standard", RecognitionID: recA, Confidence: 85})
	assert.Equal(t, 2, c.IndependentSources())

	c.Evidence = append(c.Evidence,
		Evidence{Strategy: "label", PassProfile: "retry", RecognitionID: recA, Confidence: 80})
	assert.Equal(t, 3, c.IndependentSources())
}

func TestIndependentSourcesEmpty(t *testing.T) {
	assert.Zero(t, CandidateArtifact{}.IndependentSources())
}
