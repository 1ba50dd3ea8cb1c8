package ecommerce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestStorefrontConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *StorefrontConfig
		wantErr error
	}{
		{
			name:    "valid config",
			config:  &StorefrontConfig{Endpoint: "https://shop.example.com", AccessToken: "token"},
			wantErr: nil,
		},
		{
			name:    "missing endpoint",
			config:  &StorefrontConfig{AccessToken: "token"},
			wantErr: ErrStorefrontConfigMissingEndpoint,
		},
		{
			name:    "relative endpoint",
			config:  &StorefrontConfig{Endpoint: "shop.example.com", AccessToken: "token"},
			wantErr: ErrStorefrontConfigInvalidEndpoint,
		},
		{
			name:    "missing token",
			config:  &StorefrontConfig{Endpoint: "https://shop.example.com"},
			wantErr: ErrStorefrontConfigMissingToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, DefaultStorefrontAPIVersion, tt.config.APIVersion)
			assert.Equal(t, DefaultMetafieldNamespace, tt.config.MetafieldNamespace)
			assert.Equal(t, 30, tt.config.TimeoutSeconds)
			assert.Equal(t, "https://shop.example.com/admin/api/2024-10/graphql.json", tt.config.GraphQLURL())
		})
	}
}

func TestNewStorefrontClient_NotConfigured(t *testing.T) {
	_, err := NewStorefrontClient(nil)
	assert.ErrorIs(t, err, integration.ErrPlatformNotConfigured)

	_, err = NewStorefrontClient(&StorefrontConfig{Endpoint: "https://shop.example.com"})
	assert.ErrorIs(t, err, integration.ErrPlatformNotConfigured)
	assert.Contains(t, err.Error(), "access token")
}

// ---------------------------------------------------------------------------
// Fake admin API
// ---------------------------------------------------------------------------

type capturedRequest struct {
	Auth      string
	Query     string
	Variables map[string]json.RawMessage
}

type fakeAdminAPI struct {
	mu       sync.Mutex
	requests []capturedRequest
	respond  func(w http.ResponseWriter, req capturedRequest)
}

func (f *fakeAdminAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/admin/api/2024-10/graphql.json", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload struct {
			Query     string                     `json:"query"`
			Variables map[string]json.RawMessage `json:"variables"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))

		req := capturedRequest{Auth: r.Header.Get("Authorization"), Query: payload.Query, Variables: payload.Variables}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		f.respond(w, req)
	}
}

func newTestClient(t *testing.T, respond func(w http.ResponseWriter, req capturedRequest)) (*StorefrontClient, *fakeAdminAPI) {
	t.Helper()
	api := &fakeAdminAPI{respond: respond}
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	client, err := NewStorefrontClient(&StorefrontConfig{
		Endpoint:    server.URL,
		AccessToken: "shpat_test",
	}, WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return client, api
}

func sampleRecord() integration.NormalizedRecord {
	return integration.NormalizedRecord{
		IdentityKey:    "vin-123",
		Title:          "Skoda Octavia 2.0 TDI",
		Price:          integration.Amount(12345.6),
		CompareAtPrice: nil,
		Attributes: integration.VehicleAttributes{
			Make:     "Skoda",
			Model:    "Octavia",
			FuelType: "Diesel",
			BodyType: "Estate",
		},
		Features: []string{"Diesel", "Cruise control"},
		Media:    []integration.MediaReference{{URL: "https://cdn.example.com/1.jpg", Caption: "Front"}},
	}
}

// ---------------------------------------------------------------------------
// CreateEntity Tests
// ---------------------------------------------------------------------------

func TestStorefrontClient_CreateEntity(t *testing.T) {
	client, api := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
		_, _ = io.WriteString(w, `{"data":{"productCreate":{"product":{"id":"gid://shop/Product/1","variants":{"nodes":[{"id":"gid://shop/ProductVariant/11"}]}},"userErrors":[]}}}`)
	})

	ids, err := client.CreateEntity(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, "gid://shop/Product/1", ids.ProductID)
	assert.Equal(t, "gid://shop/ProductVariant/11", ids.VariantID)

	require.Len(t, api.requests, 1)
	req := api.requests[0]
	assert.Equal(t, "Bearer shpat_test", req.Auth)
	assert.Contains(t, req.Query, "productCreate")

	var input ProductInput
	require.NoError(t, json.Unmarshal(req.Variables["input"], &input))
	assert.Equal(t, "Skoda Octavia 2.0 TDI", input.Title)
	assert.Equal(t, "Estate", input.ProductType)
	assert.Equal(t, []string{"Diesel", "Cruise control", "Skoda", "Octavia", "Estate"}, input.Tags)
	require.Len(t, input.Variants, 1)
	require.NotNil(t, input.Variants[0].Price)
	assert.Equal(t, "12345.60", *input.Variants[0].Price)
	assert.Equal(t, "AW-VIN-123-13A9E7C6-1234560", input.Variants[0].SKU)
	assert.Len(t, input.Metafields, 4)

	// absent amounts must not appear at all
	raw := string(req.Variables["input"])
	assert.NotContains(t, raw, "compareAtPrice")

	var media []MediaInput
	require.NoError(t, json.Unmarshal(req.Variables["media"], &media))
	require.Len(t, media, 1)
	assert.Equal(t, "https://cdn.example.com/1.jpg", media[0].OriginalSource)
}

func TestStorefrontClient_CreateEntity_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, integration.ErrPlatformRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{}`, integration.ErrPlatformAuthFailed},
		{"forbidden", http.StatusForbidden, `{}`, integration.ErrPlatformAuthFailed},
		{"server error", http.StatusBadGateway, `{}`, integration.ErrPlatformUnavailable},
		{"bad request", http.StatusBadRequest, `{"errors":"bad"}`, integration.ErrPlatformRequestFailed},
		{"malformed body", http.StatusOK, `not json`, integration.ErrPlatformInvalidResponse},
		{"no data", http.StatusOK, `{"data":null}`, integration.ErrPlatformInvalidResponse},
		{"throttled graphql", http.StatusOK, `{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`, integration.ErrPlatformRateLimited},
		{"graphql error", http.StatusOK, `{"errors":[{"message":"Field 'x' doesn't exist"}]}`, integration.ErrPlatformRequestFailed},
		{"user errors", http.StatusOK, `{"data":{"productCreate":{"product":null,"userErrors":[{"field":["title"],"message":"can't be blank"}]}}}`, integration.ErrPlatformRequestFailed},
		{"missing variant", http.StatusOK, `{"data":{"productCreate":{"product":{"id":"p","variants":{"nodes":[]}},"userErrors":[]}}}`, integration.ErrPlatformInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			ids, err := client.CreateEntity(context.Background(), sampleRecord())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, ids.IsZero())
		})
	}
}

func TestStorefrontClient_UserErrorMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
		_, _ = io.WriteString(w, `{"data":{"productCreate":{"product":null,"userErrors":[{"field":["variants","0","price"],"message":"must be positive"}]}}}`)
	})
	_, err := client.CreateEntity(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "variants.0.price: must be positive")
}

func TestStorefrontClient_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewStorefrontClient(&StorefrontConfig{Endpoint: url, AccessToken: "t", TimeoutSeconds: 1})
	require.NoError(t, err)

	_, err = client.CreateEntity(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, integration.ErrPlatformUnavailable)
}

func TestStorefrontClient_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
		time.Sleep(200 * time.Millisecond)
		_, _ = io.WriteString(w, `{}`)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.CreateEntity(ctx, sampleRecord())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// UpdateEntity Tests
// ---------------------------------------------------------------------------

func TestStorefrontClient_UpdateEntity(t *testing.T) {
	client, api := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
		switch {
		case strings.Contains(req.Query, "productVariantUpdate"):
			_, _ = io.WriteString(w, `{"data":{"productVariantUpdate":{"productVariant":{"id":"v1"},"userErrors":[]}}}`)
		case strings.Contains(req.Query, "productUpdate"):
			_, _ = io.WriteString(w, `{"data":{"productUpdate":{"product":{"id":"p1"},"userErrors":[]}}}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	rec := sampleRecord()
	rec.CompareAtPrice = integration.Amount(13999.999)
	err := client.UpdateEntity(context.Background(), integration.RemoteIdentity{ProductID: "p1", VariantID: "v1"}, rec)
	require.NoError(t, err)

	require.Len(t, api.requests, 2)

	var product ProductInput
	require.NoError(t, json.Unmarshal(api.requests[0].Variables["input"], &product))
	assert.Equal(t, "p1", product.ID)
	assert.Empty(t, product.Variants)
	assert.Contains(t, product.Tags, "Diesel")

	var variant VariantInput
	require.NoError(t, json.Unmarshal(api.requests[1].Variables["input"], &variant))
	assert.Equal(t, "v1", variant.ID)
	require.NotNil(t, variant.CompareAtPrice)
	assert.Equal(t, "14000.00", *variant.CompareAtPrice)
	assert.Equal(t, "AW-VIN-123-13A9E7C6-1234560-1400000", variant.SKU)
}

func TestStorefrontClient_UpdateEntity_StopsOnProductFailure(t *testing.T) {
	client, api := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.UpdateEntity(context.Background(), integration.RemoteIdentity{ProductID: "p1", VariantID: "v1"}, sampleRecord())
	assert.ErrorIs(t, err, integration.ErrPlatformUnavailable)
	assert.Len(t, api.requests, 1)
}

func TestStorefrontClient_UpdateEntity_MissingIDs(t *testing.T) {
	client, api := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {})
	err := client.UpdateEntity(context.Background(), integration.RemoteIdentity{ProductID: "p1"}, sampleRecord())
	assert.ErrorIs(t, err, integration.ErrPlatformRequestFailed)
	assert.Empty(t, api.requests)
}

// ---------------------------------------------------------------------------
// FindBySKU Tests
// ---------------------------------------------------------------------------

func TestStorefrontClient_FindBySKU(t *testing.T) {
	client, api := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {
		var query string
		_ = json.Unmarshal(req.Variables["query"], &query)
		if query == `sku:"AW-VIN-123-13A9E7C6-1234560"` {
			_, _ = io.WriteString(w, `{"data":{"productVariants":{"nodes":[{"id":"v9","sku":"AW-VIN-123-13A9E7C6-1234560","product":{"id":"p9"}}]}}}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"productVariants":{"nodes":[{"id":"v8","sku":"AW-OTHER","product":{"id":"p8"}}]}}}`)
	})

	ids, found, err := client.FindBySKU(context.Background(), "AW-VIN-123-13A9E7C6-1234560")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, integration.RemoteIdentity{ProductID: "p9", VariantID: "v9"}, ids)

	_, found, err = client.FindBySKU(context.Background(), "AW-MISSING")
	require.NoError(t, err)
	assert.False(t, found, "partial matches are ignored")

	_, found, err = client.FindBySKU(context.Background(), " ")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Len(t, api.requests, 2)
}

func TestStorefrontClient_SKU(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, req capturedRequest) {})
	assert.Equal(t, "AW-VIN-123-13A9E7C6-1234560", client.SKU(sampleRecord()))
}
