//go:build tesseract

package engine

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/model"
)

// TesseractEngine runs recognition through a local tesseract install via
// gosseract. Each call uses a fresh client; gosseract clients are not safe
// for concurrent reuse.
type TesseractEngine struct {
	tessdata      string
	clientFactory func() *gosseract.Client
}

func newTesseract(cfg config.EngineConfig) (Engine, error) {
	return &TesseractEngine{
		tessdata:      cfg.TessData,
		clientFactory: gosseract.NewClient,
	}, nil
}

// Recognize performs OCR on the request image and maps word boxes to tokens.
func (e *TesseractEngine) Recognize(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := e.clientFactory()
	defer c.Close()

	if e.tessdata != "" {
		if err := c.SetTessdataPrefix(e.tessdata); err != nil {
			return nil, eris.Wrap(err, "engine: set tessdata prefix")
		}
	}
	if err := c.SetImageFromBytes(req.Image); err != nil {
		return nil, eris.Wrap(err, "engine: set image")
	}
	if req.Profile.Language != "" {
		if err := c.SetLanguage(req.Profile.Language); err != nil {
			return nil, eris.Wrap(err, "engine: set language")
		}
	}
	if req.Profile.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(req.Profile.DPI)); err != nil {
			return nil, eris.Wrap(err, "engine: set dpi")
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, eris.Wrap(err, "engine: bounding boxes")
	}

	var (
		tokens  []model.Token
		confSum float64
	)
	for _, b := range boxes {
		bounds := model.BBox{
			X:      b.Box.Min.X,
			Y:      b.Box.Min.Y,
			Width:  b.Box.Dx(),
			Height: b.Box.Dy(),
		}
		// Keep only tokens inside the requested region, if one was given.
		if req.Region.Width > 0 && req.Region.Height > 0 {
			cx, cy := bounds.Center()
			if !req.Region.Contains(cx, cy) {
				continue
			}
		}
		tokens = append(tokens, model.Token{
			Text:       b.Word,
			Bounds:     bounds,
			Confidence: b.Confidence,
		})
		confSum += b.Confidence
	}

	res := &Result{Tokens: tokens}
	if len(tokens) > 0 {
		res.EngineConfidence = confSum / float64(len(tokens))
	}
	return res, nil
}
