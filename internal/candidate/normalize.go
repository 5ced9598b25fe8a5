package candidate

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/billscan/billscan/internal/model"
)

// dateLayouts covers the formats vendors actually print on bills.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// Normalize canonicalizes raw candidate text for the given field type.
// Currency values become "1234.56", dates become "2006-01-02", identifiers
// are uppercased, and free text is NFC-normalized with collapsed whitespace.
// Returns "" when the raw text cannot be interpreted as the field type.
func Normalize(raw string, fieldType model.FieldType) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	switch fieldType {
	case model.FieldCurrency:
		return normalizeCurrency(raw)
	case model.FieldDate:
		return normalizeDate(raw)
	case model.FieldIdentifier:
		return strings.ToUpper(collapseSpace(norm.NFC.String(raw)))
	default:
		return collapseSpace(norm.NFC.String(raw))
	}
}

// normalizeCurrency parses an amount like "$1,234.56" into "1234.56".
func normalizeCurrency(raw string) string {
	s := strings.TrimSpace(raw)
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	if negative {
		s = s[1 : len(s)-1]
	}
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ""
	}
	if negative {
		v = -v
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ParseCents converts a normalized currency string into integer cents.
// Comparing totals in cents sidesteps float drift.
func ParseCents(normalized string) (int64, bool) {
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	cents := int64(v*100 + 0.5)
	if v < 0 {
		cents = int64(v*100 - 0.5)
	}
	return cents, true
}

func normalizeDate(raw string) string {
	s := collapseSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
