package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/obedparla/storechat/internal/datasource"
)

func toolNames(d *Dispatcher) []string {
	var names []string
	for _, tool := range d.Definitions(context.Background()) {
		names = append(names, tool.Function.Name)
	}
	return names
}

func TestDefinitionsConditionalAssembly(t *testing.T) {
	tests := []struct {
		name string
		d    *Dispatcher
		want []string
	}{
		{
			"nothing wired",
			New(nil, nil, nil, nil, nil, testLogger()),
			nil,
		},
		{
			"catalog only",
			New(&stubCatalog{}, nil, nil, nil, nil, testLogger()),
			[]string{"search_products", "get_product_details", "get_categories", "compare_products", "get_order_status"},
		},
		{
			"handoff only",
			New(nil, nil, &stubHandoffStore{}, nil, nil, testLogger()),
			[]string{"create_handoff_request"},
		},
		{
			"sources without data stay hidden",
			New(nil, nil, nil, nil, &stubSources{}, testLogger()),
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toolNames(tt.d)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCustomDataDefinitionEnumeratesSources(t *testing.T) {
	sources := &stubSources{sources: map[string]*datasource.Source{
		"inventory": {Name: "inventory", Label: "Inventory", Description: "warehouse stock",
			Columns: []string{"sku", "name"}},
	}}
	d := New(nil, nil, nil, nil, sources, testLogger())

	defs := d.Definitions(context.Background())
	if len(defs) != 1 || defs[0].Function.Name != "query_custom_data" {
		t.Fatalf("expected only query_custom_data, got %v", toolNames(d))
	}

	if !strings.Contains(defs[0].Function.Description, "inventory (Inventory): warehouse stock") {
		t.Errorf("description must list the sources, got %q", defs[0].Function.Description)
	}

	params := defs[0].Function.Parameters.(map[string]any)
	props := params["properties"].(map[string]any)
	enum := props["source_name"].(map[string]any)["enum"].([]string)
	if len(enum) != 1 || enum[0] != "inventory" {
		t.Errorf("expected source enum [inventory], got %v", enum)
	}
}
