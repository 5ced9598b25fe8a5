// Package variant produces preprocessing variants of a page image. Each
// variant is stored as its own content-addressed artifact so recognition
// passes can reference exactly which rendition they ran over.
package variant

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/artifact"
	"github.com/billscan/billscan/internal/model"
)

// Transform converts a page image payload into a variant payload.
type Transform func(payload []byte) ([]byte, error)

// Generator applies named transforms to page images.
type Generator struct {
	store      artifact.Store
	transforms map[string]Transform
}

// NewGenerator creates a Generator with the built-in transform set
// (original, grayscale, binarized).
func NewGenerator(store artifact.Store) *Generator {
	g := &Generator{
		store:      store,
		transforms: make(map[string]Transform),
	}
	g.Register("original", func(p []byte) ([]byte, error) { return p, nil })
	g.Register("grayscale", Grayscale)
	g.Register("binarized", Binarize)
	return g
}

// Register adds or replaces a named transform.
func (g *Generator) Register(name string, t Transform) {
	g.transforms[name] = t
}

// Generate produces the requested variants of a page. A name with no
// registered transform is a configuration error and fails the whole call;
// individual transform failures are skipped so one bad rendition does not
// sink the page. At least one variant (original) is always attempted.
func (g *Generator) Generate(page model.PageArtifact, payload []byte, names []string) ([]model.VariantArtifact, error) {
	if len(names) == 0 {
		names = []string{"original"}
	}
	var out []model.VariantArtifact
	var firstErr error
	for _, name := range names {
		t, ok := g.transforms[name]
		if !ok {
			return nil, eris.Errorf("variant: unknown variant %q", name)
		}
		data, err := t(payload)
		if err != nil {
			if firstErr == nil {
				firstErr = eris.Wrapf(err, "variant: transform %s", name)
			}
			continue
		}
		id, err := g.store.Put(data, model.KindVariant)
		if err != nil {
			return out, eris.Wrapf(err, "variant: store %s", name)
		}
		out = append(out, model.VariantArtifact{
			ID:     id,
			PageID: page.ID,
			Name:   name,
		})
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Grayscale re-encodes the image with luma-only pixels.
func Grayscale(payload []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "variant: decode")
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return encodePNG(gray)
}

// Binarize thresholds the image to pure black and white. The fixed threshold
// favors dark print on light paper, which covers scanned bills well.
func Binarize(payload []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "variant: decode")
	}
	bounds := img.Bounds()
	bw := image.NewGray(bounds)
	const threshold = 0x7fff
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if uint32(c.Y)*0x101 > threshold {
				bw.SetGray(x, y, color.Gray{Y: 255})
			} else {
				bw.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return encodePNG(bw)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, eris.Wrap(err, "variant: encode png")
	}
	return buf.Bytes(), nil
}
