// MCP transport handler for the storefront using the official MCP Go SDK.
// Exposes read-only catalog lookups as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront/internal/catalog"
	"storefront/internal/model"
)

// === MCP Tool Input/Output Types ===

// SearchProductsInput is the input schema for the search_products tool.
type SearchProductsInput struct {
	Category string `json:"category,omitempty" jsonschema:"category slug or name, coffee matches every coffee category"`
	Format   string `json:"format,omitempty" jsonschema:"format such as whole bean, ground or pods"`
	Search   string `json:"search,omitempty" jsonschema:"case-insensitive text matched against name and description"`
	Featured bool   `json:"featured,omitempty" jsonschema:"only featured products"`
}

// SearchProductsOutput lists matching grouped products.
type SearchProductsOutput struct {
	Products []model.GroupedProduct `json:"products"`
	Count    int                    `json:"count"`
}

// GetProductInput is the input schema for the get_product tool.
type GetProductInput struct {
	SKU string `json:"sku" jsonschema:"variant SKU"`
}

// GetProductOutput is one variant and the product it belongs to.
type GetProductOutput struct {
	Product model.RawProduct      `json:"product"`
	Group   *model.GroupedProduct `json:"group"`
}

// ListCategoriesInput takes no arguments.
type ListCategoriesInput struct{}

// ListCategoriesOutput is the canonical taxonomy.
type ListCategoriesOutput struct {
	Categories []catalog.Category `json:"categories"`
}

// NewMCPServer creates an MCP server with catalog tools registered.
// The tools mirror the public catalog endpoints; nothing mutates state.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Coffee storefront catalog. " +
				"Use these tools to search products, look up a variant by SKU and list categories.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_products",
		Description: "Search the product catalog. All filters are optional and combine.",
	}, h.mcpSearchProducts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_product",
		Description: "Get one product variant by SKU, with its sibling formats.",
	}, h.mcpGetProduct)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_categories",
		Description: "List the canonical product categories.",
	}, h.mcpListCategories)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpSearchProducts(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SearchProductsInput,
) (*mcp.CallToolResult, *SearchProductsOutput, error) {
	q := catalog.Query{
		Category: input.Category,
		Format:   input.Format,
		Search:   input.Search,
		Featured: input.Featured,
	}
	products := q.Apply(h.cache.GroupedProducts(), h.cache.Taxonomy())
	if products == nil {
		products = []model.GroupedProduct{}
	}
	return nil, &SearchProductsOutput{Products: products, Count: len(products)}, nil
}

func (h *Handler) mcpGetProduct(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetProductInput,
) (*mcp.CallToolResult, *GetProductOutput, error) {
	if input.SKU == "" {
		return nil, nil, h.mcpError(model.NewValidationError("sku", "required"))
	}
	group, variant, ok := h.cache.FindBySKU(input.SKU)
	if !ok {
		return nil, nil, h.mcpError(model.NewNotFoundError("product"))
	}
	return nil, &GetProductOutput{Product: *variant, Group: group}, nil
}

func (h *Handler) mcpListCategories(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListCategoriesInput,
) (*mcp.CallToolResult, *ListCategoriesOutput, error) {
	return nil, &ListCategoriesOutput{Categories: h.cache.Taxonomy().Categories()}, nil
}

// mcpError converts service errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Exposable() {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
