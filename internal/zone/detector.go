// Package zone segments a page into semantic regions and masks noise so
// recognition passes can target the parts of a bill that carry field values.
package zone

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/artifact"
	"github.com/billscan/billscan/internal/model"
)

// band is a fractional horizontal slice of the page.
type band struct {
	kind   model.ZoneKind
	top    float64
	bottom float64
	masked bool
}

// defaultBands reflects the layout of a typical vendor bill: identifying
// header, vendor block, the line-items table, the totals block, and a footer
// that mostly carries page numbers and boilerplate.
var defaultBands = []band{
	{kind: model.ZoneHeader, top: 0.00, bottom: 0.15},
	{kind: model.ZoneVendor, top: 0.15, bottom: 0.30},
	{kind: model.ZoneLineItems, top: 0.30, bottom: 0.72},
	{kind: model.ZoneTotals, top: 0.72, bottom: 0.90},
	{kind: model.ZoneFooter, top: 0.90, bottom: 1.00, masked: true},
}

// Detector segments page variants into zones.
type Detector struct {
	store artifact.Store
	bands []band
}

// NewDetector creates a Detector with the default band layout.
func NewDetector(store artifact.Store) *Detector {
	return &Detector{store: store, bands: defaultBands}
}

// Detect produces the zone artifacts for one variant of a page. Zone
// payloads are the serialized zone geometry, so identical layouts on
// identical variants dedupe in the content-addressed store.
func (d *Detector) Detect(page model.PageArtifact, variant model.VariantArtifact) ([]model.ZoneArtifact, error) {
	if page.Width <= 0 || page.Height <= 0 {
		return nil, eris.Errorf("zone: page %s has no dimensions", page.ID)
	}

	zones := make([]model.ZoneArtifact, 0, len(d.bands))
	for _, b := range d.bands {
		top := int(float64(page.Height) * b.top)
		bottom := int(float64(page.Height) * b.bottom)
		z := model.ZoneArtifact{
			VariantID: variant.ID,
			Kind:      b.kind,
			Bounds: model.BBox{
				X:      0,
				Y:      top,
				Width:  page.Width,
				Height: bottom - top,
			},
			Masked: b.masked,
		}
		payload, err := zonePayload(variant.ID, z)
		if err != nil {
			return nil, err
		}
		id, err := d.store.Put(payload, model.KindZone)
		if err != nil {
			return nil, eris.Wrapf(err, "zone: store %s", b.kind)
		}
		z.ID = id
		zones = append(zones, z)
	}
	return zones, nil
}

// Active filters out masked zones.
func Active(zones []model.ZoneArtifact) []model.ZoneArtifact {
	out := make([]model.ZoneArtifact, 0, len(zones))
	for _, z := range zones {
		if !z.Masked {
			out = append(out, z)
		}
	}
	return out
}

func zonePayload(variantID model.ArtifactID, z model.ZoneArtifact) ([]byte, error) {
	payload, err := json.Marshal(struct {
		VariantID model.ArtifactID `json:"variant_id"`
		Kind      model.ZoneKind   `json:"kind"`
		Bounds    model.BBox       `json:"bounds"`
	}{variantID, z.Kind, z.Bounds})
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("zone: marshal %s", z.Kind))
	}
	return payload, nil
}
