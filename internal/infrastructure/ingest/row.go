package ingest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// Canonical column names of tabular inputs
const (
	ColIdentityKey    = "identity_key"
	ColTitle          = "title"
	ColPrice          = "price"
	ColCompareAtPrice = "compare_at_price"
	ColSourceURL      = "source_url"
	ColFeatures       = "features"
	ColMedia          = "media"
)

// columnAliases maps normalized header spellings to canonical columns
var columnAliases = map[string]string{
	"key":         ColIdentityKey,
	"id":          ColIdentityKey,
	"ad_id":       ColIdentityKey,
	"identitykey": ColIdentityKey,
	"name":        ColTitle,
	"old_price":   ColCompareAtPrice,
	"list_price":  ColCompareAtPrice,
	"url":         ColSourceURL,
	"link":        ColSourceURL,
	"images":      ColMedia,
	"photos":      ColMedia,
	"fuel":        integration.AttrFuelType,
	"gearbox":     integration.AttrTransmission,
	"colour":      integration.AttrColor,
	"body":        integration.AttrBodyType,
	"engine":      integration.AttrEngineCapacity,
	"km":          integration.AttrMileage,
}

// canonicalColumn normalizes a header cell: "Compare-At Price" -> "compare_at_price"
func canonicalColumn(header string) string {
	h := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))
	h = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(h)
	if alias, ok := columnAliases[h]; ok {
		return alias
	}
	return h
}

// splitList splits a multi-valued cell on '|' or ';' and drops empty items
func splitList(cell string) []string {
	parts := strings.FieldsFunc(cell, func(r rune) bool { return r == '|' || r == ';' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = cleanText(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cleanText trims and NFC-normalizes a text value
func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// recordFromColumns builds a record from a row keyed by canonical column.
// Unknown columns are ignored.
func recordFromColumns(position int, cols map[string]string) (integration.NormalizedRecord, *RowError) {
	rec := integration.NormalizedRecord{
		IdentityKey: cleanText(cols[ColIdentityKey]),
		Title:       cleanText(cols[ColTitle]),
		SourceURL:   strings.TrimSpace(cols[ColSourceURL]),
		Features:    splitList(cols[ColFeatures]),
	}
	for _, u := range splitList(cols[ColMedia]) {
		rec.Media = append(rec.Media, integration.MediaReference{URL: u})
	}
	for col, value := range cols {
		if v := cleanText(value); v != "" {
			rec.Attributes.Set(col, v)
		}
	}

	var err error
	if rec.Price, err = parseAmount(cols[ColPrice]); err != nil {
		return rec, &RowError{Position: position, Column: ColPrice, Code: CodeInvalidPrice, Message: err.Error()}
	}
	if rec.CompareAtPrice, err = parseAmount(cols[ColCompareAtPrice]); err != nil {
		return rec, &RowError{Position: position, Column: ColCompareAtPrice, Code: CodeInvalidPrice, Message: err.Error()}
	}
	return rec, validateRecord(position, rec)
}

var errNegativeAmount = errors.New("amount must not be negative")

// parseAmount parses a crawler price cell such as "12 345,60 EUR", "€12,345.60"
// or "12345.6". Empty cells yield nil.
func parseAmount(raw string) (*float64, error) {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, raw)
	if s == "" {
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("not a number: %q", raw)
	}

	lastDot, lastComma := strings.LastIndexByte(s, '.'), strings.LastIndexByte(s, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The later separator is the decimal one.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// A single comma followed by other than three digits is a decimal comma.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		// Same rule for a lone dot: "19.999" is a thousands separator.
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", raw)
	}
	if d.IsNegative() {
		return nil, errNegativeAmount
	}
	f, _ := d.Float64()
	return &f, nil
}

// recordView is the validated projection of a record
type recordView struct {
	IdentityKey string   `validate:"required,max=255"`
	Title       string   `validate:"max=512"`
	SourceURL   string   `validate:"omitempty,url"`
	Media       []string `validate:"dive,url"`
}

var viewColumns = map[string]string{
	"IdentityKey": ColIdentityKey,
	"Title":       ColTitle,
	"SourceURL":   ColSourceURL,
	"Media":       ColMedia,
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateRecord applies row rules; a missing key is reported as CodeMissingKey
func validateRecord(position int, rec integration.NormalizedRecord) *RowError {
	view := recordView{
		IdentityKey: rec.Key(),
		Title:       rec.Title,
		SourceURL:   rec.SourceURL,
	}
	for _, m := range rec.Media {
		view.Media = append(view.Media, m.URL)
	}

	err := recordValidator().Struct(view)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &RowError{Position: position, Code: CodeInvalidRow, Message: err.Error()}
	}
	fe := verrs[0]
	field := fe.StructField()
	if i := strings.IndexByte(field, '['); i > 0 {
		field = field[:i]
	}
	column := viewColumns[field]
	if column == "" {
		column = field
	}
	if field == "IdentityKey" && fe.Tag() == "required" {
		return &RowError{Position: position, Column: column, Code: CodeMissingKey, Message: "identity key is required"}
	}
	return &RowError{
		Position: position,
		Column:   column,
		Code:     CodeInvalidRow,
		Message:  fmt.Sprintf("failed '%s' validation", fe.Tag()),
	}
}
