package ecommerce

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		name  string
		input *float64
		want  *string
	}{
		{"one decimal", integration.Amount(12345.6), strPtr("12345.60")},
		{"rounds up at half cent", integration.Amount(19999.995), strPtr("20000.00")},
		{"rounds down", integration.Amount(10.004), strPtr("10.00")},
		{"integer", integration.Amount(42), strPtr("42.00")},
		{"zero", integration.Amount(0), strPtr("0.00")},
		{"small half", integration.Amount(0.125), strPtr("0.13")},
		{"negative half", integration.Amount(-1.005), strPtr("-1.01")},
		{"absent", nil, nil},
		{"NaN", integration.Amount(math.NaN()), nil},
		{"infinite", integration.Amount(math.Inf(-1)), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatMoney(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestBuildTags(t *testing.T) {
	t.Run("feature and attribute overlap", func(t *testing.T) {
		rec := integration.NormalizedRecord{
			IdentityKey: "VIN-1",
			Features:    []string{"Diesel", "Navigation", " Heated seats "},
			Attributes: integration.VehicleAttributes{
				Make:     "Skoda",
				FuelType: "Diesel",
			},
		}
		assert.Equal(t, []string{"Diesel", "Navigation", "Heated seats", "Skoda"}, BuildTags(rec))
	})

	t.Run("case insensitive, first spelling kept", func(t *testing.T) {
		rec := integration.NormalizedRecord{
			Features:   []string{"diesel", "", "   "},
			Attributes: integration.VehicleAttributes{FuelType: "DIESEL"},
		}
		assert.Equal(t, []string{"diesel"}, BuildTags(rec))
	})

	t.Run("unicode forms collapse", func(t *testing.T) {
		composed := "Electricé"
		decomposed := "Electricé"
		rec := integration.NormalizedRecord{Features: []string{composed, decomposed}}
		assert.Equal(t, []string{composed}, BuildTags(rec))
	})

	t.Run("empty record gives empty set", func(t *testing.T) {
		tags := BuildTags(integration.NormalizedRecord{})
		assert.NotNil(t, tags)
		assert.Empty(t, tags)
	})
}

func TestBuildMetafields(t *testing.T) {
	attrs := integration.VehicleAttributes{
		Make:     "BMW",
		Year:     "2019",
		FuelType: "  ",
		Mileage:  "85000 km",
	}
	fields := BuildMetafields("vehicle", attrs)
	require.Len(t, fields, 3)
	assert.Equal(t, MetafieldInput{Namespace: "vehicle", Key: integration.AttrMake, Type: metafieldTypeText, Value: "BMW"}, fields[0])
	assert.Equal(t, integration.AttrYear, fields[1].Key)
	assert.Equal(t, integration.AttrMileage, fields[2].Key)
	for _, f := range fields {
		assert.NotEmpty(t, f.Value)
	}
}

func TestBuildDescription(t *testing.T) {
	rec := integration.NormalizedRecord{
		Attributes: integration.VehicleAttributes{Make: "Mercedes-Benz", Model: "C <220>"},
		Features:   []string{"LED & Xenon"},
	}
	desc := BuildDescription(rec)
	assert.Contains(t, desc, "<li><strong>Make:</strong> Mercedes-Benz</li>")
	assert.Contains(t, desc, "C &lt;220&gt;")
	assert.Contains(t, desc, "<li>LED &amp; Xenon</li>")

	assert.Empty(t, BuildDescription(integration.NormalizedRecord{}))
}

func TestBuildMedia(t *testing.T) {
	media := BuildMedia([]integration.MediaReference{
		{URL: "https://cdn.example.com/a.jpg", Caption: "Front"},
		{URL: ""},
		{URL: "https://cdn.example.com/b.jpg"},
	})
	require.Len(t, media, 2)
	assert.Equal(t, "https://cdn.example.com/a.jpg", media[0].OriginalSource)
	assert.Equal(t, "Front", media[0].Alt)
	assert.Equal(t, "IMAGE", media[1].MediaContentType)
}

func TestDeriveSKU(t *testing.T) {
	tests := []struct {
		name string
		rec  integration.NormalizedRecord
		want string
	}{
		{
			name: "key and both prices",
			rec:  integration.NormalizedRecord{IdentityKey: "wdd/2050-42", Price: integration.Amount(12345.6), CompareAtPrice: integration.Amount(13000)},
			want: "AW-WDD-2050-42-F2D0AD77-1234560-1300000",
		},
		{
			name: "no prices",
			rec:  integration.NormalizedRecord{IdentityKey: "  abc  123 "},
			want: "AW-ABC-123-D86D4338",
		},
		{
			name: "NaN compare-at omitted",
			rec:  integration.NormalizedRecord{IdentityKey: "x", Price: integration.Amount(19999.995), CompareAtPrice: integration.Amount(math.NaN())},
			want: "AW-X-2D711642-2000000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveSKU("aw", tt.rec))
			assert.Equal(t, DeriveSKU("aw", tt.rec), DeriveSKU("aw", tt.rec))
		})
	}
}

func TestDeriveSKU_DistinctKeysNeverCollide(t *testing.T) {
	keys := []string{"listing-42", "LISTING_42", "listing.42", "Listing 42", "listing--42"}
	seen := make(map[string]string, len(keys))
	for _, key := range keys {
		sku := DeriveSKU("aw", integration.NormalizedRecord{IdentityKey: key, Price: integration.Amount(12345.6)})
		assert.True(t, strings.HasPrefix(sku, "AW-LISTING-42-"), sku)
		if other, ok := seen[sku]; ok {
			t.Fatalf("keys %q and %q share SKU %s", other, key, sku)
		}
		seen[sku] = key
	}

	t.Run("non-ASCII key still gets a digest", func(t *testing.T) {
		a := DeriveSKU("aw", integration.NormalizedRecord{IdentityKey: "ключ"})
		b := DeriveSKU("aw", integration.NormalizedRecord{IdentityKey: "键"})
		assert.NotEqual(t, a, b)
		assert.Len(t, strings.TrimPrefix(a, "AW-"), 8)
	})
}

func TestBuildProductInput(t *testing.T) {
	cfg := &StorefrontConfig{Endpoint: "https://shop.example.com", AccessToken: "t"}
	require.NoError(t, cfg.Validate())

	t.Run("body type used as product type", func(t *testing.T) {
		in := buildProductInput(cfg, integration.NormalizedRecord{
			Title:      " Golf ",
			Attributes: integration.VehicleAttributes{Make: "VW", BodyType: "Hatchback"},
		})
		assert.Equal(t, "Golf", in.Title)
		assert.Equal(t, "VW", in.Vendor)
		assert.Equal(t, "Hatchback", in.ProductType)
	})

	t.Run("fallback product type", func(t *testing.T) {
		in := buildProductInput(cfg, integration.NormalizedRecord{Title: "Golf"})
		assert.Equal(t, DefaultProductType, in.ProductType)
	})

	t.Run("variant omits absent amounts", func(t *testing.T) {
		v := buildVariantInput(cfg, integration.NormalizedRecord{IdentityKey: "k", Price: integration.Amount(1)})
		require.NotNil(t, v.Price)
		assert.Equal(t, "1.00", *v.Price)
		assert.Nil(t, v.CompareAtPrice)
		assert.Equal(t, "AW-K-8254C329-100", v.SKU)
	})
}

func strPtr(s string) *string {
	return &s
}
