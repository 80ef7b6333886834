package catalog

import (
	"context"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, products ...*Product) {
	t.Helper()
	for _, p := range products {
		if err := s.UpsertProduct(context.Background(), p); err != nil {
			t.Fatalf("upsert %d failed: %v", p.ID, err)
		}
	}
}

func coffee(id int64, name string, price float64) *Product {
	return &Product{
		ID: id, Name: name, Status: StatusPublish, Type: TypeSimple,
		Price: price, RegularPrice: price,
		Categories: []Category{{Name: "Coffee", Slug: "coffee"}},
	}
}

func TestQueryFilterSemantics(t *testing.T) {
	s := testStore(t)
	seed(t, s,
		coffee(1, "Espresso Machine", 199),
		coffee(2, "Espresso Cups", 25),
		&Product{ID: 3, Name: "Garden Hose", Status: StatusPublish, Type: TypeSimple,
			Price: 25, RegularPrice: 25,
			Categories: []Category{{Name: "Garden", Slug: "garden"}}},
		&Product{ID: 4, Name: "Espresso Poster", Status: StatusTrash, Type: TypeSimple, Price: 10},
	)

	min, max := 20.0, 25.0
	tests := []struct {
		name   string
		params QueryParams
		want   []int64
	}{
		{"substring search", QueryParams{Search: "espresso"}, []int64{1, 2}},
		{"search is case-insensitive", QueryParams{Search: "ESPRESSO"}, []int64{1, 2}},
		{"category slug exact", QueryParams{Category: "coffee"}, []int64{1, 2}},
		{"price bounds inclusive", QueryParams{MinPrice: &min, MaxPrice: &max}, []int64{2, 3}},
		{"filters combine with AND", QueryParams{Search: "espresso", Category: "coffee", MaxPrice: &max}, []int64{2}},
		{"limit truncates", QueryParams{Search: "espresso", Limit: 1}, []int64{1}},
		{"trashed excluded", QueryParams{Search: "poster"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products, err := s.Query(context.Background(), tt.params)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			got := make([]int64, 0, len(products))
			for _, p := range products {
				got = append(got, p.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestQueryPreservesIDOrder(t *testing.T) {
	s := testStore(t)
	seed(t, s, coffee(1, "A", 10), coffee(2, "B", 20), coffee(3, "C", 30))

	products, err := s.Query(context.Background(), QueryParams{IDs: []int64{3, 1, 2}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	want := []int64{3, 1, 2}
	for i, p := range products {
		if p.ID != want[i] {
			t.Fatalf("order not preserved: got %d at %d, want %d", p.ID, i, want[i])
		}
	}
}

func TestGetProductOnlyPublished(t *testing.T) {
	s := testStore(t)
	trashed := coffee(1, "Gone", 10)
	trashed.Status = StatusTrash
	seed(t, s, trashed)

	p, err := s.GetProduct(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if p != nil {
		t.Errorf("trashed products must not resolve, got %+v", p)
	}
	p, err = s.GetProduct(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if p != nil {
		t.Errorf("missing products must return nil, got %+v", p)
	}
}

func TestUpsertRoundTripsVariations(t *testing.T) {
	s := testStore(t)
	sale := 12.0
	seed(t, s, &Product{
		ID: 1, Name: "T-Shirt", Status: StatusPublish, Type: TypeVariable,
		Price: 15, RegularPrice: 15,
		Attributes: []Attribute{{Name: "Size", Options: []string{"S", "M"}}},
		Variations: []Variation{{
			ID: 11, Attributes: map[string]string{"Size": "S"},
			Price: 15, RegularPrice: 15, SalePrice: &sale, StockStatus: "instock",
		}},
	})

	p, err := s.GetProduct(context.Background(), 1)
	if err != nil || p == nil {
		t.Fatalf("GetProduct failed: %v, %v", p, err)
	}
	if len(p.Attributes) != 1 || p.Attributes[0].Name != "Size" {
		t.Errorf("attributes lost in round trip: %+v", p.Attributes)
	}
	if len(p.Variations) != 1 || p.Variations[0].SalePrice == nil || *p.Variations[0].SalePrice != 12.0 {
		t.Errorf("variations lost in round trip: %+v", p.Variations)
	}
}

func TestCategoriesCountsPublishedOnly(t *testing.T) {
	s := testStore(t)
	trashed := coffee(2, "Old Grinder", 10)
	trashed.Status = StatusTrash
	seed(t, s, coffee(1, "Espresso Machine", 199), trashed)

	cats, err := s.Categories(context.Background())
	if err != nil {
		t.Fatalf("Categories failed: %v", err)
	}
	if len(cats) != 1 || cats[0].Slug != "coffee" || cats[0].Count != 1 {
		t.Errorf("unexpected categories %+v", cats)
	}
}

func TestDeleteProduct(t *testing.T) {
	s := testStore(t)
	seed(t, s, coffee(1, "Espresso Machine", 199))

	if err := s.DeleteProduct(context.Background(), 1); err != nil {
		t.Fatalf("DeleteProduct failed: %v", err)
	}
	p, err := s.GetProduct(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if p != nil {
		t.Errorf("expected product gone, got %+v", p)
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := testStore(t)
	order := &Order{
		Number: "1001", BillingEmail: "jo@example.com", Status: "processing",
		Total: 42.5, Currency: "USD",
		Items:          []OrderItem{{Name: "Espresso Cups", Quantity: 2, Total: "42.50"}},
		ShippingMethod: "Flat rate",
	}
	if err := s.UpsertOrder(context.Background(), order); err != nil {
		t.Fatalf("UpsertOrder failed: %v", err)
	}

	got, err := s.OrderByNumber(context.Background(), "1001")
	if err != nil || got == nil {
		t.Fatalf("OrderByNumber failed: %v, %v", got, err)
	}
	if got.BillingEmail != "jo@example.com" || len(got.Items) != 1 {
		t.Errorf("order lost in round trip: %+v", got)
	}

	missing, err := s.OrderByNumber(context.Background(), "9999")
	if err != nil {
		t.Fatalf("OrderByNumber failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for an unknown order, got %+v", missing)
	}
}

func TestIsComplex(t *testing.T) {
	manyVariations := make([]Variation, 30)
	tests := []struct {
		name string
		p    Product
		want bool
	}{
		{"simple never complex", Product{Type: TypeSimple}, false},
		{"two axes fine", Product{Type: TypeVariable, Attributes: []Attribute{
			{Name: "a", Options: []string{"1", "2"}},
			{Name: "b", Options: []string{"1", "2"}},
		}}, false},
		{"three axes complex", Product{Type: TypeVariable, Attributes: []Attribute{
			{Name: "a", Options: []string{"1", "2"}},
			{Name: "b", Options: []string{"1", "2"}},
			{Name: "c", Options: []string{"1", "2"}},
		}}, true},
		{"single-option axes don't count", Product{Type: TypeVariable, Attributes: []Attribute{
			{Name: "a", Options: []string{"1", "2"}},
			{Name: "b", Options: []string{"only"}},
			{Name: "c", Options: []string{"only"}},
		}}, false},
		{"thirty variations complex", Product{Type: TypeVariable, Variations: manyVariations}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.IsComplex(); got != tt.want {
				t.Errorf("IsComplex() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p>Hello <b>world</b></p>", "Hello world"},
		{"plain", "plain"},
		{"", ""},
		{"a<br/>b", "a b"},
	}
	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
