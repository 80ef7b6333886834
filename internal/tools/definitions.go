package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/obedparla/storechat/internal/api/openai"
)

// Definitions assembles the tool catalog for the current configuration:
// commerce tools only when a catalog is wired, the handoff tool only when
// handoff is enabled, and query_custom_data only when at least one data
// source exists, with its source_name enum and description built from the
// stored sources.
func (d *Dispatcher) Definitions(ctx context.Context) []openai.Tool {
	var defs []openai.Tool

	if d.catalog != nil {
		defs = append(defs,
			fn("search_products",
				"Search the store's product catalog. Use the search term the customer gave, plus optional category and price filters.",
				obj(map[string]any{
					"search":    prop("string", "Free-text search term, e.g. 'red shirt'"),
					"category":  prop("string", "Category slug to filter by"),
					"min_price": prop("number", "Minimum price, inclusive"),
					"max_price": prop("number", "Maximum price, inclusive"),
					"limit":     prop("integer", "Maximum number of results (default 10)"),
				}, nil)),
			fn("get_product_details",
				"Get the full details of a single product by its id, including description, SKU, stock and categories.",
				obj(map[string]any{
					"product_id": prop("integer", "The product id"),
				}, []string{"product_id"})),
			fn("get_categories",
				"List all product categories in the store with their product counts.",
				obj(map[string]any{}, nil)),
			fn("compare_products",
				"Compare up to 4 products side by side on price, stock, rating and categories.",
				obj(map[string]any{
					"product_ids": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "integer"},
						"description": "Ids of the products to compare (at most 4 are used)",
					},
				}, []string{"product_ids"})),
			fn("get_order_status",
				"Look up the status of an order. Requires the order number and the billing email used at checkout.",
				obj(map[string]any{
					"order_number": prop("string", "The order number"),
					"email":        prop("string", "The billing email on the order"),
				}, []string{"order_number", "email"})),
		)
	}

	if d.handoff != nil {
		defs = append(defs, fn("create_handoff_request",
			"Pass the conversation to a human. Collect the customer's name, email and a short summary of what they need first.",
			obj(map[string]any{
				"name":    prop("string", "The customer's name"),
				"email":   prop("string", "The customer's email address"),
				"summary": prop("string", "Short summary of the request"),
			}, []string{"name", "email"})))
	}

	if d.sources != nil {
		if def, ok := d.customDataDefinition(ctx); ok {
			defs = append(defs, def)
		}
	}

	return defs
}

func (d *Dispatcher) customDataDefinition(ctx context.Context) (openai.Tool, bool) {
	sources, err := d.sources.List(ctx)
	if err != nil || len(sources) == 0 {
		return openai.Tool{}, false
	}

	names := make([]string, 0, len(sources))
	var desc strings.Builder
	desc.WriteString("Query the store's uploaded data sets. Available sources:\n")
	for _, src := range sources {
		names = append(names, src.Name)
		fmt.Fprintf(&desc, "- %s (%s): %s Columns: %s\n",
			src.Name, src.Label, src.Description, strings.Join(src.Columns, ", "))
	}

	return fn("query_custom_data", desc.String(),
		obj(map[string]any{
			"source_name": map[string]any{
				"type":        "string",
				"enum":        names,
				"description": "Which data source to query",
			},
			"query": prop("string", "Free-text term matched against every column"),
		}, []string{"source_name"})), true
}

func fn(name, description string, parameters map[string]any) openai.Tool {
	return openai.Tool{
		Type: "function",
		Function: openai.FunctionTool{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

func obj(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
