package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// maxResponseSize is the maximum allowed response size from the admin API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// throttledCode is the GraphQL error extension code for throttling
const throttledCode = "THROTTLED"

// StorefrontClient implements integration.CatalogClient against the storefront
// admin GraphQL API. It keeps no per-record state.
type StorefrontClient struct {
	config     *StorefrontConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ integration.CatalogClient = (*StorefrontClient)(nil)

// StorefrontClientOption configures a StorefrontClient
type StorefrontClientOption func(*StorefrontClient)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) StorefrontClientOption {
	return func(s *StorefrontClient) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) StorefrontClientOption {
	return func(s *StorefrontClient) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStorefrontClient creates a new client with the given configuration.
// A missing endpoint or token is reported as integration.ErrPlatformNotConfigured.
func NewStorefrontClient(config *StorefrontConfig, opts ...StorefrontClientOption) (*StorefrontClient, error) {
	if config == nil {
		return nil, integration.ErrPlatformNotConfigured
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrPlatformNotConfigured, err)
	}

	c := &StorefrontClient{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SKU returns the deterministic SKU for the record
func (c *StorefrontClient) SKU(record integration.NormalizedRecord) string {
	return DeriveSKU(c.config.SKUPrefix, record)
}

// CreateEntity creates a product with exactly one variant
func (c *StorefrontClient) CreateEntity(ctx context.Context, record integration.NormalizedRecord) (integration.RemoteIdentity, error) {
	input := buildProductInput(c.config, record)
	input.Variants = []VariantInput{buildVariantInput(c.config, record)}

	var data productCreateData
	if err := c.execute(ctx, productCreateMutation, map[string]any{
		"input": input,
		"media": BuildMedia(record.Media),
	}, &data); err != nil {
		return integration.RemoteIdentity{}, err
	}

	result := data.ProductCreate
	if err := userErrorsToError("productCreate", result.UserErrors); err != nil {
		return integration.RemoteIdentity{}, err
	}
	if result.Product == nil || result.Product.ID == "" {
		return integration.RemoteIdentity{}, fmt.Errorf("%w: productCreate returned no product id", integration.ErrPlatformInvalidResponse)
	}
	if len(result.Product.Variants.Nodes) == 0 || result.Product.Variants.Nodes[0].ID == "" {
		return integration.RemoteIdentity{}, fmt.Errorf("%w: productCreate returned no variant id", integration.ErrPlatformInvalidResponse)
	}

	ids := integration.RemoteIdentity{
		ProductID: result.Product.ID,
		VariantID: result.Product.Variants.Nodes[0].ID,
	}
	c.logger.Debug("Catalog product created",
		zap.String("identity_key", record.Key()),
		zap.String("product_id", ids.ProductID),
		zap.String("variant_id", ids.VariantID))
	return ids, nil
}

// UpdateEntity applies a partial update to the product, then to its variant
func (c *StorefrontClient) UpdateEntity(ctx context.Context, ids integration.RemoteIdentity, record integration.NormalizedRecord) error {
	if ids.ProductID == "" || ids.VariantID == "" {
		return fmt.Errorf("%w: product and variant ids are required", integration.ErrPlatformRequestFailed)
	}

	input := buildProductInput(c.config, record)
	input.ID = ids.ProductID

	var pd productUpdateData
	if err := c.execute(ctx, productUpdateMutation, map[string]any{
		"input": input,
		"media": BuildMedia(record.Media),
	}, &pd); err != nil {
		return err
	}
	if err := userErrorsToError("productUpdate", pd.ProductUpdate.UserErrors); err != nil {
		return err
	}
	if pd.ProductUpdate.Product == nil {
		return fmt.Errorf("%w: productUpdate returned no product", integration.ErrPlatformInvalidResponse)
	}

	variant := buildVariantInput(c.config, record)
	variant.ID = ids.VariantID

	var vd variantUpdateData
	if err := c.execute(ctx, variantUpdateMutation, map[string]any{"input": variant}, &vd); err != nil {
		return err
	}
	if err := userErrorsToError("productVariantUpdate", vd.ProductVariantUpdate.UserErrors); err != nil {
		return err
	}
	if vd.ProductVariantUpdate.ProductVariant == nil {
		return fmt.Errorf("%w: productVariantUpdate returned no variant", integration.ErrPlatformInvalidResponse)
	}
	return nil
}

// FindBySKU looks up a variant by exact SKU
func (c *StorefrontClient) FindBySKU(ctx context.Context, sku string) (integration.RemoteIdentity, bool, error) {
	if strings.TrimSpace(sku) == "" {
		return integration.RemoteIdentity{}, false, nil
	}

	var data variantLookupData
	query := fmt.Sprintf("sku:%q", sku)
	if err := c.execute(ctx, variantLookupQuery, map[string]any{"query": query}, &data); err != nil {
		return integration.RemoteIdentity{}, false, err
	}

	for _, n := range data.ProductVariants.Nodes {
		// the search is tokenized remotely; only an exact SKU counts
		if n.SKU != sku {
			continue
		}
		if n.ID == "" || n.Product.ID == "" {
			return integration.RemoteIdentity{}, false, fmt.Errorf("%w: variant lookup returned incomplete ids", integration.ErrPlatformInvalidResponse)
		}
		return integration.RemoteIdentity{ProductID: n.Product.ID, VariantID: n.ID}, true, nil
	}
	return integration.RemoteIdentity{}, false, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// execute sends one GraphQL operation and decodes data into out
func (c *StorefrontClient) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("storefront: failed to encode request: %w", err)
	}

	body, err := c.doRequest(ctx, payload)
	if err != nil {
		return err
	}

	var envelope graphQLResponse[json.RawMessage]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: failed to parse response: %v", integration.ErrPlatformInvalidResponse, err)
	}
	if len(envelope.Errors) > 0 {
		return graphQLErrorsToError(envelope.Errors)
	}
	if envelope.Data == nil {
		return fmt.Errorf("%w: response has no data", integration.ErrPlatformInvalidResponse)
	}
	if err := json.Unmarshal(*envelope.Data, out); err != nil {
		return fmt.Errorf("%w: failed to parse data: %v", integration.ErrPlatformInvalidResponse, err)
	}
	return nil
}

// doRequest performs an HTTP request to the admin API
func (c *StorefrontClient) doRequest(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.GraphQLURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("storefront: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", integration.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", integration.ErrPlatformUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d retry-after=%q", integration.ErrPlatformRateLimited, resp.StatusCode, resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", integration.ErrPlatformAuthFailed, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", integration.ErrPlatformUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: HTTP %d: %s", integration.ErrPlatformRequestFailed, resp.StatusCode, truncate(string(body), 256))
	}
	return body, nil
}

func graphQLErrorsToError(errs []graphQLError) error {
	msgs := make([]string, 0, len(errs))
	throttled := false
	for _, e := range errs {
		if e.Extensions.Code == throttledCode {
			throttled = true
		}
		msgs = append(msgs, e.Message)
	}
	if throttled {
		return fmt.Errorf("%w: %s", integration.ErrPlatformRateLimited, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %s", integration.ErrPlatformRequestFailed, strings.Join(msgs, "; "))
}

func userErrorsToError(op string, errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if len(e.Field) > 0 {
			msgs = append(msgs, strings.Join(e.Field, ".")+": "+e.Message)
		} else {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("%w: %s: %s", integration.ErrPlatformRequestFailed, op, strings.Join(msgs, "; "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
