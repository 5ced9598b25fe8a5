package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billscan/billscan/internal/artifact"
	"github.com/billscan/billscan/internal/model"
)

func tok(text string, x, y int, conf float64) model.Token {
	return model.Token{
		Text:       text,
		Bounds:     model.BBox{X: x, Y: y, Width: 10 * len(text), Height: 12},
		Confidence: conf,
	}
}

func recArt(id string, profile string, zone model.ZoneKind, tokens ...model.Token) model.RecognitionArtifact {
	return model.RecognitionArtifact{
		ID:     model.ArtifactID("recognition:" + id),
		ZoneID: model.ArtifactID("zone:" + string(zone)),
		Pass:   model.PassMeta{Profile: profile, Zone: zone},
		Tokens: tokens,
	}
}

func billRegistry() *model.FieldRegistry {
	return model.NewFieldRegistry([]model.FieldSpec{
		{Key: "invoice_number", Type: model.FieldIdentifier, Required: true, Critical: true, Zone: model.ZoneHeader, LabelHints: []string{"Invoice", "Invoice No"}},
		{Key: "total", Type: model.FieldCurrency, Required: true, Critical: true, Zone: model.ZoneTotals, LabelHints: []string{"Total"}},
		{Key: "vendor_name", Type: model.FieldText, Required: true, Zone: model.ZoneVendor},
	})
}

func newTestGenerator(t *testing.T, dicts *DictionarySet) *Generator {
	t.Helper()
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return NewGenerator(store, DefaultStrategies(dicts, 0.82, 220))
}

func TestGenerateMergesAcrossStrategiesAndPasses(t *testing.T) {
	arts := []model.RecognitionArtifact{
		recArt("a", "standard", model.ZoneHeader,
			tok("Invoice", 10, 10, 90), tok("INV-1001", 120, 10, 85)),
		recArt("b", "fast", model.ZoneHeader,
			tok("INV-1001", 118, 11, 80)),
	}

	g := newTestGenerator(t, nil)
	cands, err := g.Generate(billRegistry(), arts)
	require.NoError(t, err)

	var inv *model.CandidateArtifact
	for i := range cands {
		if cands[i].Field == "invoice_number" && cands[i].Normalized == "INV-1001" {
			inv = &cands[i]
			break
		}
	}
	require.NotNil(t, inv, "expected a merged INV-1001 candidate")

	// Pattern hits in both passes plus the spatial hit merge into one
	// candidate with accumulated evidence.
	assert.GreaterOrEqual(t, len(inv.Evidence), 3)
	assert.GreaterOrEqual(t, inv.IndependentSources(), 3)
	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, model.ArtifactID("recognition:a"), inv.RecognitionID)
}

func TestGenerateNormalizesCurrency(t *testing.T) {
	arts := []model.RecognitionArtifact{
		recArt("a", "standard", model.ZoneTotals,
			tok("Total", 10, 10, 92), tok("$1,234.50", 90, 10, 88)),
	}

	g := newTestGenerator(t, nil)
	cands, err := g.Generate(billRegistry(), arts)
	require.NoError(t, err)

	found := false
	for _, c := range cands {
		if c.Field == "total" && c.Normalized == "1234.50" {
			found = true
			assert.Equal(t, "$1,234.50", c.Raw)
		}
	}
	assert.True(t, found, "expected normalized total 1234.50")
}

func TestDictionaryVendorOverridePrecedence(t *testing.T) {
	dicts := &DictionarySet{
		Global:   Dictionary{"vendor_name": {"Global Supplies Inc"}},
		ByVendor: map[string]Dictionary{"v-1": {"vendor_name": {"Acme Supply Co"}}},
		VendorID: "v-1",
	}
	assert.Equal(t, []string{"Acme Supply Co"}, dicts.Values("vendor_name"))

	dicts.VendorID = "v-unknown"
	assert.Equal(t, []string{"Global Supplies Inc"}, dicts.Values("vendor_name"))
}

func TestDictionaryFuzzyMatch(t *testing.T) {
	dicts := &DictionarySet{Global: Dictionary{"vendor_name": {"Acme Supply Co"}}}
	arts := []model.RecognitionArtifact{
		recArt("a", "standard", model.ZoneVendor,
			tok("Acme", 10, 40, 80), tok("Suply", 60, 40, 75), tok("Co", 130, 40, 82)),
	}

	s := &DictionaryStrategy{Dicts: dicts, FuzzyMin: 0.82}
	spec := &model.FieldSpec{Key: "vendor_name", Type: model.FieldText}
	raws := s.Propose(spec, arts)

	require.NotEmpty(t, raws, "misspelled vendor should fuzzy-match")
	assert.Equal(t, "Acme Supply Co", raws[0].Value)
	assert.Less(t, raws[0].Confidence, 80.0, "fuzzy match must discount confidence")
}

func TestSpatialStrategyFindsValueRightOfLabel(t *testing.T) {
	arts := []model.RecognitionArtifact{
		recArt("a", "standard", model.ZoneTotals,
			tok("Total:", 10, 100, 95), tok("$99.00", 120, 100, 90), tok("$11.00", 10, 400, 90)),
	}

	s := &SpatialStrategy{MaxGapPx: 220}
	spec := &model.FieldSpec{Key: "total", Type: model.FieldCurrency, LabelHints: []string{"Total"}}
	raws := s.Propose(spec, arts)

	require.Len(t, raws, 1)
	assert.Equal(t, "$99.00", raws[0].Value)
}

func TestZonePriorSkipsOtherZones(t *testing.T) {
	arts := []model.RecognitionArtifact{
		recArt("a", "standard", model.ZoneHeader, tok("$5.00", 10, 10, 70)),
		recArt("b", "standard", model.ZoneTotals, tok("$7.00", 10, 900, 70)),
	}

	s := &ZonePriorStrategy{}
	spec := &model.FieldSpec{Key: "total", Type: model.FieldCurrency, Zone: model.ZoneTotals}
	raws := s.Propose(spec, arts)

	require.Len(t, raws, 1)
	assert.Equal(t, "$7.00", raws[0].Value)
}

func TestGenerateIsDeterministic(t *testing.T) {
	arts := []model.RecognitionArtifact{
		recArt("a", "standard", model.ZoneHeader,
			tok("Invoice", 10, 10, 90), tok("INV-1001", 120, 10, 85), tok("INV-1081", 240, 10, 60)),
	}

	g := newTestGenerator(t, nil)
	first, err := g.Generate(billRegistry(), arts)
	require.NoError(t, err)
	second, err := g.Generate(billRegistry(), arts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		typ  model.FieldType
		want string
	}{
		{"$1,234.56", model.FieldCurrency, "1234.56"},
		{"(45.00)", model.FieldCurrency, "-45.00"},
		{"not-money", model.FieldCurrency, ""},
		{"01/15/2026", model.FieldDate, "2026-01-15"},
		{"Jan 15, 2026", model.FieldDate, "2026-01-15"},
		{"someday", model.FieldDate, ""},
		{"inv-1001", model.FieldIdentifier, "INV-1001"},
		{"  Acme   Supply  ", model.FieldText, "Acme Supply"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.raw, tt.typ), "raw=%q", tt.raw)
	}
}

func TestParseCents(t *testing.T) {
	cents, ok := ParseCents("123.45")
	require.True(t, ok)
	assert.Equal(t, int64(12345), cents)

	cents, ok = ParseCents("-45.00")
	require.True(t, ok)
	assert.Equal(t, int64(-4500), cents)

	_, ok = ParseCents("abc")
	assert.False(t, ok)
}
