package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/model"
	"github.com/billscan/billscan/internal/store"
)

// Reocr re-runs one targeted recognition pass over a single zone and
// re-resolves only the fields whose evidence originates in that zone. Every
// other resolved field is carried over from the case byte for byte.
func (p *Pipeline) Reocr(ctx context.Context, caseID string, zoneKind model.ZoneKind, profileName string) (*model.ReviewCase, error) {
	c, err := p.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	doc, err := p.store.GetDocument(ctx, c.DocumentID)
	if err != nil {
		return nil, err
	}
	docProfile, ok := p.profiles[doc.Type]
	if !ok {
		return nil, eris.Errorf("pipeline: unknown document type %q", doc.Type)
	}

	var recProfile *model.RecognitionProfile
	for i := range docProfile.Profiles {
		if docProfile.Profiles[i].Name == profileName {
			recProfile = &docProfile.Profiles[i]
			break
		}
	}
	if recProfile == nil {
		return nil, eris.Errorf("pipeline: unknown recognition profile %q", profileName)
	}

	registry := model.NewFieldRegistry(docProfile.Fields)
	affected := zoneFields(registry, zoneKind)
	if len(affected.Fields) == 0 {
		return nil, eris.Errorf("pipeline: no fields resolve from zone %s", zoneKind)
	}

	_, variants, zonesByVariant, err := p.buildGeometry(doc, docProfile)
	if err != nil {
		return nil, err
	}

	target, variantArt, err := findZone(variants, zonesByVariant, zoneKind)
	if err != nil {
		return nil, err
	}

	art, err := p.orch.RunSingle(ctx, variantArt, target, *recProfile)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: targeted pass")
	}

	partial, err := p.resolveArtifacts(affected, doc, []model.RecognitionArtifact{*art})
	if err != nil {
		return nil, err
	}

	merged := mergeResolution(c.Resolution, partial, affected)
	updated := *c
	updated.Resolution = merged
	updated.Severity = merged.MaxSeverity()
	updated.Version = c.Version + 1
	updated.UpdatedAt = time.Now().UTC()

	if err := p.store.SaveCase(ctx, &updated, c.Version); err != nil {
		if eris.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		return nil, eris.Wrap(err, "pipeline: save reocr result")
	}

	zap.L().Info("targeted re-recognition applied",
		zap.String("case_id", caseID),
		zap.String("zone", string(zoneKind)),
		zap.String("profile", profileName),
		zap.Int("fields_recomputed", len(affected.Fields)))
	return &updated, nil
}

// zoneFields returns a registry limited to the fields expected in the zone.
func zoneFields(registry *model.FieldRegistry, kind model.ZoneKind) *model.FieldRegistry {
	var fields []model.FieldSpec
	for _, f := range registry.Fields {
		if f.Zone == kind {
			fields = append(fields, f)
		}
	}
	return model.NewFieldRegistry(fields)
}

func findZone(variants []model.VariantArtifact, zones map[model.ArtifactID][]model.ZoneArtifact, kind model.ZoneKind) (model.ZoneArtifact, model.VariantArtifact, error) {
	for _, v := range variants {
		for _, z := range zones[v.ID] {
			if z.Kind == kind && !z.Masked {
				return z, v, nil
			}
		}
	}
	return model.ZoneArtifact{}, model.VariantArtifact{}, eris.Errorf("pipeline: zone %s not found", kind)
}

// mergeResolution overlays the partial re-resolution onto the previous one.
// Fields outside the affected registry are copied from the previous
// resolution untouched; contradictions involving only unaffected fields are
// kept, and the partial run contributes the rest.
func mergeResolution(prev, partial *model.Resolution, affected *model.FieldRegistry) *model.Resolution {
	out := &model.Resolution{
		DocumentID: prev.DocumentID,
		VendorID:   prev.VendorID,
		Fields:     make(map[string]model.ResolvedField, len(prev.Fields)),
		ResolvedAt: partial.ResolvedAt,
	}
	for k, v := range prev.Fields {
		if affected.ByKey(k) == nil {
			out.Fields[k] = v
		}
	}
	for k, v := range partial.Fields {
		out.Fields[k] = v
	}

	for _, c := range prev.Contradictions {
		if !touchesAny(c.Fields, affected) {
			out.Contradictions = append(out.Contradictions, c)
		}
	}
	out.Contradictions = append(out.Contradictions, partial.Contradictions...)
	return out
}

func touchesAny(fields []string, affected *model.FieldRegistry) bool {
	for _, f := range fields {
		if affected.ByKey(f) != nil {
			return true
		}
	}
	return false
}
