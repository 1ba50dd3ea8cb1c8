package ecommerce

// ---------------------------------------------------------------------------
// Storefront admin API request types
// ---------------------------------------------------------------------------

// graphQLRequest is the envelope for every admin API call
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// ProductInput carries product level fields for create and update
type ProductInput struct {
	ID              string           `json:"id,omitempty"`
	Title           string           `json:"title,omitempty"`
	DescriptionHTML string           `json:"descriptionHtml,omitempty"`
	Vendor          string           `json:"vendor,omitempty"`
	ProductType     string           `json:"productType,omitempty"`
	Tags            []string         `json:"tags"`
	Metafields      []MetafieldInput `json:"metafields,omitempty"`
	Variants        []VariantInput   `json:"variants,omitempty"`
}

// VariantInput carries the single variant; absent amounts are omitted
type VariantInput struct {
	ID             string  `json:"id,omitempty"`
	SKU            string  `json:"sku"`
	Price          *string `json:"price,omitempty"`
	CompareAtPrice *string `json:"compareAtPrice,omitempty"`
}

// MetafieldInput is one namespaced attribute entry
type MetafieldInput struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// MediaInput is an external media reference
type MediaInput struct {
	OriginalSource   string `json:"originalSource"`
	Alt              string `json:"alt,omitempty"`
	MediaContentType string `json:"mediaContentType"`
}

// ---------------------------------------------------------------------------
// Storefront admin API response types
// ---------------------------------------------------------------------------

// graphQLResponse is the common response envelope
type graphQLResponse[T any] struct {
	Data   *T             `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// UserError is a validation error returned by a mutation
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

type productNode struct {
	ID       string `json:"id"`
	Variants struct {
		Nodes []struct {
			ID string `json:"id"`
		} `json:"nodes"`
	} `json:"variants"`
}

type productCreateData struct {
	ProductCreate struct {
		Product    *productNode `json:"product"`
		UserErrors []UserError  `json:"userErrors"`
	} `json:"productCreate"`
}

type productUpdateData struct {
	ProductUpdate struct {
		Product *struct {
			ID string `json:"id"`
		} `json:"product"`
		UserErrors []UserError `json:"userErrors"`
	} `json:"productUpdate"`
}

type variantUpdateData struct {
	ProductVariantUpdate struct {
		ProductVariant *struct {
			ID string `json:"id"`
		} `json:"productVariant"`
		UserErrors []UserError `json:"userErrors"`
	} `json:"productVariantUpdate"`
}

type variantLookupData struct {
	ProductVariants struct {
		Nodes []struct {
			ID      string `json:"id"`
			SKU     string `json:"sku"`
			Product struct {
				ID string `json:"id"`
			} `json:"product"`
		} `json:"nodes"`
	} `json:"productVariants"`
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

const productCreateMutation = `mutation productCreate($input: ProductInput!, $media: [CreateMediaInput!]) {
  productCreate(input: $input, media: $media) {
    product { id variants(first: 1) { nodes { id } } }
    userErrors { field message }
  }
}`

const productUpdateMutation = `mutation productUpdate($input: ProductInput!, $media: [CreateMediaInput!]) {
  productUpdate(input: $input, media: $media) {
    product { id }
    userErrors { field message }
  }
}`

const variantUpdateMutation = `mutation productVariantUpdate($input: ProductVariantInput!) {
  productVariantUpdate(input: $input) {
    productVariant { id }
    userErrors { field message }
  }
}`

const variantLookupQuery = `query productVariantBySku($query: String!) {
  productVariants(first: 1, query: $query) {
    nodes { id sku product { id } }
  }
}`
