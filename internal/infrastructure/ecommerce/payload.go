package ecommerce

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

const metafieldTypeText = "single_line_text_field"

// FormatMoney renders an amount rounded to the nearest hundredth with exactly
// two decimals. Rounding is half away from zero on the shortest decimal
// representation of the float, so 19999.995 becomes "20000.00".
// It returns nil for absent, NaN or infinite amounts.
func FormatMoney(amount *float64) *string {
	if amount == nil || math.IsNaN(*amount) || math.IsInf(*amount, 0) {
		return nil
	}
	s := decimal.NewFromFloat(*amount).Round(2).StringFixed(2)
	return &s
}

// BuildTags unions features with attribute values. Values are trimmed and
// NFC-normalized; duplicates are removed case-insensitively, keeping the
// first spelling.
func BuildTags(record integration.NormalizedRecord) []string {
	seen := make(map[string]struct{})
	tags := make([]string, 0, len(record.Features)+10)

	add := func(v string) {
		v = norm.NFC.String(strings.TrimSpace(v))
		if v == "" {
			return
		}
		k := strings.ToLower(v)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		tags = append(tags, v)
	}

	for _, f := range record.Features {
		add(f)
	}
	for _, e := range record.Attributes.NonEmpty() {
		add(e.Value)
	}
	return tags
}

// BuildMetafields returns one metafield per non-empty known attribute.
func BuildMetafields(namespace string, attrs integration.VehicleAttributes) []MetafieldInput {
	entries := attrs.NonEmpty()
	out := make([]MetafieldInput, 0, len(entries))
	for _, e := range entries {
		out = append(out, MetafieldInput{
			Namespace: namespace,
			Key:       e.Key,
			Type:      metafieldTypeText,
			Value:     e.Value,
		})
	}
	return out
}

// BuildDescription renders the attribute list and the feature list as HTML.
func BuildDescription(record integration.NormalizedRecord) string {
	var b strings.Builder
	entries := record.Attributes.NonEmpty()
	if len(entries) > 0 {
		b.WriteString("<ul>")
		for _, e := range entries {
			b.WriteString("<li><strong>")
			b.WriteString(html.EscapeString(e.Label))
			b.WriteString(":</strong> ")
			b.WriteString(html.EscapeString(e.Value))
			b.WriteString("</li>")
		}
		b.WriteString("</ul>")
	}

	features := make([]string, 0, len(record.Features))
	for _, f := range record.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	if len(features) > 0 {
		b.WriteString("<h3>Features</h3><ul>")
		for _, f := range features {
			b.WriteString("<li>")
			b.WriteString(html.EscapeString(f))
			b.WriteString("</li>")
		}
		b.WriteString("</ul>")
	}
	return b.String()
}

// BuildMedia carries media references through unchanged.
func BuildMedia(media []integration.MediaReference) []MediaInput {
	out := make([]MediaInput, 0, len(media))
	for _, m := range media {
		if strings.TrimSpace(m.URL) == "" {
			continue
		}
		out = append(out, MediaInput{
			OriginalSource:   m.URL,
			Alt:              m.Caption,
			MediaContentType: "IMAGE",
		})
	}
	return out
}

// DeriveSKU builds the variant SKU from the identity key and the formatted
// price fields: PREFIX-SLUG-DIGEST[-PRICE][-COMPAREAT], digits only for
// amounts. The slug folds case and punctuation, so the digest of the raw key
// keeps keys such as "listing-42" and "LISTING_42" apart.
func DeriveSKU(prefix string, record integration.NormalizedRecord) string {
	key := record.Key()
	parts := []string{strings.ToUpper(prefix)}
	if slug := normalizeSKUPart(key); slug != "" {
		parts = append(parts, slug)
	}
	parts = append(parts, keyDigest(key))
	if p := FormatMoney(record.Price); p != nil {
		parts = append(parts, amountDigits(*p))
	}
	if p := FormatMoney(record.CompareAtPrice); p != nil {
		parts = append(parts, amountDigits(*p))
	}
	return strings.Join(parts, "-")
}

func normalizeSKUPart(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash && b.Len() > 0 {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// keyDigest is the first four bytes of the key's sha256 in upper-case hex
func keyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return strings.ToUpper(hex.EncodeToString(sum[:4]))
}

func amountDigits(formatted string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		if r == '-' {
			return 'N'
		}
		return -1
	}, formatted)
}

// productType returns the body type, or the fallback when empty.
func productType(record integration.NormalizedRecord, fallback string) string {
	if v := strings.TrimSpace(record.Attributes.BodyType); v != "" {
		return v
	}
	return fallback
}

// buildProductInput derives the product payload shared by create and update.
func buildProductInput(cfg *StorefrontConfig, record integration.NormalizedRecord) ProductInput {
	return ProductInput{
		Title:           strings.TrimSpace(record.Title),
		DescriptionHTML: BuildDescription(record),
		Vendor:          strings.TrimSpace(record.Attributes.Make),
		ProductType:     productType(record, cfg.DefaultProductType),
		Tags:            BuildTags(record),
		Metafields:      BuildMetafields(cfg.MetafieldNamespace, record.Attributes),
	}
}

// buildVariantInput derives the single variant payload.
func buildVariantInput(cfg *StorefrontConfig, record integration.NormalizedRecord) VariantInput {
	return VariantInput{
		SKU:            DeriveSKU(cfg.SKUPrefix, record),
		Price:          FormatMoney(record.Price),
		CompareAtPrice: FormatMoney(record.CompareAtPrice),
	}
}
