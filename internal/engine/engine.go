// Package engine wraps third-party text-recognition backends behind a
// provider-agnostic adapter. An engine failure is always distinguishable from
// a legitimately empty result: failures return an error, empty pages return a
// Result with no tokens.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/model"
)

// Request is one recognition call: an image, the region of interest inside
// it, and the named profile controlling mode, resolution, and language.
type Request struct {
	Image   []byte
	Region  model.BBox
	Profile model.RecognitionProfile
}

// Result is the raw engine output for one request.
type Result struct {
	Tokens           []model.Token
	EngineConfidence float64
}

// Engine is the adapter over a text-recognition backend.
type Engine interface {
	Recognize(ctx context.Context, req Request) (*Result, error)
}

// New creates an Engine from config.
func New(cfg config.EngineConfig) (Engine, error) {
	var eng Engine
	switch cfg.Provider {
	case "tesseract", "":
		t, err := newTesseract(cfg)
		if err != nil {
			return nil, err
		}
		eng = t
	case "http":
		if cfg.Endpoint == "" {
			return nil, eris.New("engine: http provider requires endpoint")
		}
		eng = NewHTTP(cfg.Endpoint, cfg.APIKey, time.Duration(cfg.TimeoutSecs)*time.Second)
	default:
		return nil, eris.Errorf("engine: unknown provider %q", cfg.Provider)
	}
	if cfg.RatePerSec > 0 {
		eng = Limited(eng, rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(cfg.RateBurst, 1)))
	}
	return eng, nil
}

type limited struct {
	inner   Engine
	limiter *rate.Limiter
}

// Limited throttles engine calls with the given limiter. Waiting respects
// context cancellation.
func Limited(inner Engine, limiter *rate.Limiter) Engine {
	return &limited{inner: inner, limiter: limiter}
}

func (l *limited) Recognize(ctx context.Context, req Request) (*Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "engine: rate wait")
	}
	return l.inner.Recognize(ctx, req)
}
