package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed catalog.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the catalog database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'simple',
			status TEXT NOT NULL DEFAULT 'publish',
			price REAL NOT NULL DEFAULT 0,
			regular_price REAL NOT NULL DEFAULT 0,
			sale_price REAL,
			short_description TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			sku TEXT NOT NULL DEFAULT '',
			stock_status TEXT NOT NULL DEFAULT 'instock',
			stock_quantity INTEGER NOT NULL DEFAULT 0,
			image TEXT NOT NULL DEFAULT '',
			attributes TEXT,
			variations TEXT,
			rating REAL NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS product_categories (
			product_id INTEGER NOT NULL,
			category_id INTEGER NOT NULL,
			PRIMARY KEY (product_id, category_id),
			FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE,
			FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			number TEXT PRIMARY KEY,
			billing_email TEXT NOT NULL,
			status TEXT NOT NULL,
			total REAL NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'USD',
			shipping_method TEXT NOT NULL DEFAULT '',
			tracking_number TEXT NOT NULL DEFAULT '',
			tracking_url TEXT NOT NULL DEFAULT '',
			items TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_status ON products(status)`,
		`CREATE INDEX IF NOT EXISTS idx_products_sku ON products(sku)`,
		`CREATE INDEX IF NOT EXISTS idx_product_categories_category ON product_categories(category_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertProduct inserts or replaces a product and its category links.
func (s *Store) UpsertProduct(ctx context.Context, p *Product) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	variations, err := json.Marshal(p.Variations)
	if err != nil {
		return fmt.Errorf("failed to marshal variations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var salePrice any
	if p.SalePrice != nil {
		salePrice = *p.SalePrice
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO products
		(id, name, slug, url, type, status, price, regular_price, sale_price,
		 short_description, description, sku, stock_status, stock_quantity,
		 image, attributes, variations, rating, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Slug, p.URL, p.Type, p.Status, p.Price, p.RegularPrice, salePrice,
		p.ShortDescription, p.Description, p.SKU, p.StockStatus, p.StockQuantity,
		p.Image, string(attrs), string(variations), p.Rating, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_categories WHERE product_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear category links: %w", err)
	}
	for _, c := range p.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO categories (name, slug) VALUES (?, ?)`, c.Name, c.Slug); err != nil {
			return fmt.Errorf("failed to upsert category: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO product_categories (product_id, category_id)
			SELECT ?, id FROM categories WHERE slug = ?`, p.ID, c.Slug); err != nil {
			return fmt.Errorf("failed to link category: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteProduct removes a product and its category links.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

// GetProduct returns a published product by id, or nil when it does not
// exist or is not published.
func (s *Store) GetProduct(ctx context.Context, id int64) (*Product, error) {
	products, err := s.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ? AND status = ?`, id, StatusPublish)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return products[0], nil
}

// PublishedProducts returns every published product, for index builds.
func (s *Store) PublishedProducts(ctx context.Context) ([]*Product, error) {
	return s.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE status = ? ORDER BY id`, StatusPublish)
}

// Query applies the shared filter semantics: substring search across name,
// descriptions and SKU; exact category slug; inclusive numeric price bounds;
// all combined with AND. When params.IDs is set the result preserves the
// given id order.
func (s *Store) Query(ctx context.Context, params QueryParams) ([]*Product, error) {
	var (
		where = []string{"status = ?"}
		args  = []any{StatusPublish}
	)

	if params.Search != "" {
		like := "%" + params.Search + "%"
		where = append(where, "(name LIKE ? OR short_description LIKE ? OR description LIKE ? OR sku LIKE ?)")
		args = append(args, like, like, like, like)
	}
	if params.Category != "" {
		where = append(where, `id IN (
			SELECT pc.product_id FROM product_categories pc
			JOIN categories c ON c.id = pc.category_id
			WHERE c.slug = ?)`)
		args = append(args, params.Category)
	}
	if params.MinPrice != nil {
		where = append(where, "price >= ?")
		args = append(args, *params.MinPrice)
	}
	if params.MaxPrice != nil {
		where = append(where, "price <= ?")
		args = append(args, *params.MaxPrice)
	}
	if len(params.IDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(params.IDs)), ",")
		where = append(where, "id IN ("+placeholders+")")
		for _, id := range params.IDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	products, err := s.queryProducts(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	if len(params.IDs) > 0 {
		products = reorderByIDs(products, params.IDs)
	}
	if params.Limit > 0 && len(products) > params.Limit {
		products = products[:params.Limit]
	}
	return products, nil
}

// Categories returns all categories with at least one published product.
func (s *Store) Categories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.slug, COUNT(p.id)
		FROM categories c
		JOIN product_categories pc ON pc.category_id = c.id
		JOIN products p ON p.id = pc.product_id AND p.status = ?
		GROUP BY c.id, c.name, c.slug
		HAVING COUNT(p.id) > 0
		ORDER BY c.name`, StatusPublish)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// UpsertOrder inserts or replaces an order.
func (s *Store) UpsertOrder(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders
		(number, billing_email, status, total, currency, shipping_method,
		 tracking_number, tracking_url, items, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Number, o.BillingEmail, o.Status, o.Total, o.Currency, o.ShippingMethod,
		o.TrackingNumber, o.TrackingURL, string(items), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

// OrderByNumber returns an order, or nil when it does not exist.
func (s *Store) OrderByNumber(ctx context.Context, number string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT number, billing_email, status, total, currency, shipping_method,
		       tracking_number, tracking_url, items
		FROM orders WHERE number = ?`, number)

	var (
		o     Order
		items sql.NullString
	)
	err := row.Scan(&o.Number, &o.BillingEmail, &o.Status, &o.Total, &o.Currency,
		&o.ShippingMethod, &o.TrackingNumber, &o.TrackingURL, &items)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &o.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
		}
	}
	return &o, nil
}

const productColumns = `id, name, slug, url, type, status, price, regular_price, sale_price,
	short_description, description, sku, stock_status, stock_quantity, image,
	attributes, variations, rating`

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]*Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		var (
			p          Product
			salePrice  sql.NullFloat64
			attrs      sql.NullString
			variations sql.NullString
		)
		err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.URL, &p.Type, &p.Status,
			&p.Price, &p.RegularPrice, &salePrice, &p.ShortDescription, &p.Description,
			&p.SKU, &p.StockStatus, &p.StockQuantity, &p.Image, &attrs, &variations, &p.Rating)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if salePrice.Valid {
			v := salePrice.Float64
			p.SalePrice = &v
		}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &p.Attributes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
			}
		}
		if variations.Valid && variations.String != "" {
			if err := json.Unmarshal([]byte(variations.String), &p.Variations); err != nil {
				return nil, fmt.Errorf("failed to unmarshal variations: %w", err)
			}
		}
		products = append(products, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range products {
		if err := s.loadCategories(ctx, p); err != nil {
			return nil, err
		}
	}
	return products, nil
}

func (s *Store) loadCategories(ctx context.Context, p *Product) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.slug
		FROM categories c
		JOIN product_categories pc ON pc.category_id = c.id
		WHERE pc.product_id = ?
		ORDER BY c.name`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to query product categories: %w", err)
	}
	defer rows.Close()

	p.Categories = nil
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug); err != nil {
			return fmt.Errorf("failed to scan product category: %w", err)
		}
		p.Categories = append(p.Categories, c)
	}
	return rows.Err()
}

func reorderByIDs(products []*Product, ids []int64) []*Product {
	byID := make(map[int64]*Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	ordered := make([]*Product, 0, len(products))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered
}
