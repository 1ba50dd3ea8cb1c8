package ecommerce

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// StorefrontConfig holds configuration for the storefront admin API
type StorefrontConfig struct {
	// Endpoint is the shop base address, e.g. https://shop.example.com
	Endpoint string
	// APIVersion is the admin API version path segment
	APIVersion string
	// AccessToken is the static bearer credential
	AccessToken string
	// MetafieldNamespace is the namespace for attribute metafields
	MetafieldNamespace string
	// SKUPrefix is prepended to every derived SKU
	SKUPrefix string
	// DefaultProductType is used when a record has no body type
	DefaultProductType string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

const (
	// DefaultStorefrontAPIVersion is the admin API version used when none is configured
	DefaultStorefrontAPIVersion = "2024-10"
	// DefaultMetafieldNamespace is the namespace used for vehicle attributes
	DefaultMetafieldNamespace = "vehicle"
	// DefaultSKUPrefix is the SKU prefix used when none is configured
	DefaultSKUPrefix = "AW"
	// DefaultProductType is the product type for records without a body type
	DefaultProductType = "Vehicle"
)

// Errors for storefront configuration
var (
	ErrStorefrontConfigMissingEndpoint = errors.New("storefront: endpoint is required")
	ErrStorefrontConfigInvalidEndpoint = errors.New("storefront: endpoint must be an absolute http(s) URL")
	ErrStorefrontConfigMissingToken    = errors.New("storefront: access token is required")
)

// Validate validates the configuration and fills defaults
func (c *StorefrontConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return ErrStorefrontConfigMissingEndpoint
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrStorefrontConfigInvalidEndpoint
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return ErrStorefrontConfigMissingToken
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultStorefrontAPIVersion
	}
	if c.MetafieldNamespace == "" {
		c.MetafieldNamespace = DefaultMetafieldNamespace
	}
	if c.SKUPrefix == "" {
		c.SKUPrefix = DefaultSKUPrefix
	}
	if c.DefaultProductType == "" {
		c.DefaultProductType = DefaultProductType
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	return nil
}

// GraphQLURL returns the admin GraphQL endpoint
func (c *StorefrontConfig) GraphQLURL() string {
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", strings.TrimRight(c.Endpoint, "/"), c.APIVersion)
}
