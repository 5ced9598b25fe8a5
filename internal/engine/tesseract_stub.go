//go:build !tesseract

package engine

import (
	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/config"
)

// The gosseract adapter needs cgo plus the tesseract and leptonica headers,
// so it stays behind the tesseract build tag. Without the tag, selecting the
// provider is a configuration error.
func newTesseract(config.EngineConfig) (Engine, error) {
	return nil, eris.New("engine: tesseract provider requires a binary built with the tesseract build tag")
}
