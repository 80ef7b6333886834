// Package tools maps a tool name and JSON arguments to a JSON-serializable
// result. It knows nothing about streaming; the synchronous and streaming
// chat paths call it identically. Tool preconditions that fail produce an
// {"error": ...} payload rather than a Go error, so the model can explain
// the failure conversationally.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/obedparla/storechat/internal/catalog"
	"github.com/obedparla/storechat/internal/datasource"
	"github.com/obedparla/storechat/internal/handoff"
	"github.com/obedparla/storechat/internal/search"
)

const (
	defaultSearchLimit = 10
	maxCompareProducts = 4

	// orderNotFoundMessage is deliberately identical for a missing order and
	// an email mismatch so the tool cannot be used to enumerate orders.
	orderNotFoundMessage = "Order not found. Please check the order number and try again."
)

// Catalog is the product/order surface the tools need.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*catalog.Product, error)
	Query(ctx context.Context, params catalog.QueryParams) ([]*catalog.Product, error)
	Categories(ctx context.Context) ([]catalog.Category, error)
	OrderByNumber(ctx context.Context, number string) (*catalog.Order, error)
}

// Searcher is the fuzzy index surface.
type Searcher interface {
	Search(ctx context.Context, query string, filters search.Filters, limit int) ([]int64, error)
}

// HandoffStore persists support requests.
type HandoffStore interface {
	Create(ctx context.Context, name, email, summary string) (*handoff.Request, error)
}

// Sources is the uploaded data source surface.
type Sources interface {
	Get(ctx context.Context, name string) (*datasource.Source, error)
	List(ctx context.Context) ([]*datasource.Source, error)
}

// Dispatcher executes tools against the store's backends. Nil backends
// disable the corresponding tools.
type Dispatcher struct {
	catalog  Catalog
	index    Searcher
	handoff  HandoffStore
	notifier handoff.Notifier
	sources  Sources
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates a dispatcher. catalog, index, handoffStore, notifier and
// sources may each be nil when the corresponding capability is disabled.
func New(cat Catalog, index Searcher, handoffStore HandoffStore, notifier handoff.Notifier, sources Sources, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		catalog:  cat,
		index:    index,
		handoff:  handoffStore,
		notifier: notifier,
		sources:  sources,
		validate: validator.New(),
		logger:   logger,
	}
}

// CommerceEnabled reports whether product tools are available.
func (d *Dispatcher) CommerceEnabled() bool { return d.catalog != nil }

// HandoffEnabled reports whether the handoff tool is available.
func (d *Dispatcher) HandoffEnabled() bool { return d.handoff != nil }

// Execute runs the named tool. The result is always JSON-serializable;
// failures surface as {"error": ...} payloads.
func (d *Dispatcher) Execute(ctx context.Context, name string, args json.RawMessage) any {
	switch name {
	case "search_products":
		return d.searchProducts(ctx, args)
	case "get_product_details":
		return d.productDetails(ctx, args)
	case "get_categories":
		return d.categories(ctx)
	case "compare_products":
		return d.compareProducts(ctx, args)
	case "get_order_status":
		return d.orderStatus(ctx, args)
	case "create_handoff_request":
		return d.createHandoff(ctx, args)
	case "query_custom_data":
		return d.queryCustomData(ctx, args)
	default:
		return errResult(fmt.Sprintf("unknown tool: %s", name))
	}
}

func errResult(msg string) map[string]any {
	return map[string]any{"error": msg}
}

type searchArgs struct {
	Search   string   `json:"search"`
	Category string   `json:"category"`
	MinPrice *float64 `json:"min_price"`
	MaxPrice *float64 `json:"max_price"`
	Limit    int      `json:"limit"`
}

func (d *Dispatcher) searchProducts(ctx context.Context, raw json.RawMessage) any {
	if d.catalog == nil {
		return errResult("the product catalog is not available")
	}
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResult("invalid search arguments")
	}
	if args.Limit <= 0 {
		args.Limit = defaultSearchLimit
	}

	var products []*catalog.Product
	if args.Search != "" && d.index != nil {
		ids, err := d.index.Search(ctx, args.Search, search.Filters{
			Category: args.Category,
			MinPrice: args.MinPrice,
			MaxPrice: args.MaxPrice,
		}, args.Limit)
		if err != nil {
			d.logger.Error("product search failed", slog.String("error", err.Error()))
			return errResult("product search failed")
		}
		products = d.fetchByID(ctx, ids)
	} else {
		// No free-text term (or no index): a structured catalog query is
		// enough, no fuzzy pass needed.
		var err error
		products, err = d.catalog.Query(ctx, catalog.QueryParams{
			Search:   args.Search,
			Category: args.Category,
			MinPrice: args.MinPrice,
			MaxPrice: args.MaxPrice,
			Limit:    args.Limit,
		})
		if err != nil {
			d.logger.Error("product query failed", slog.String("error", err.Error()))
			return errResult("product search failed")
		}
	}

	summaries := make([]map[string]any, 0, len(products))
	for _, p := range products {
		summaries = append(summaries, p.Summary())
	}
	return summaries
}

func (d *Dispatcher) fetchByID(ctx context.Context, ids []int64) []*catalog.Product {
	products := make([]*catalog.Product, 0, len(ids))
	for _, id := range ids {
		p, err := d.catalog.GetProduct(ctx, id)
		if err != nil || p == nil {
			continue
		}
		products = append(products, p)
	}
	return products
}

type detailsArgs struct {
	ProductID int64 `json:"product_id"`
}

func (d *Dispatcher) productDetails(ctx context.Context, raw json.RawMessage) any {
	if d.catalog == nil {
		return errResult("the product catalog is not available")
	}
	var args detailsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResult("invalid product id")
	}
	p, err := d.catalog.GetProduct(ctx, args.ProductID)
	if err != nil {
		d.logger.Error("product lookup failed", slog.String("error", err.Error()))
		return errResult("product lookup failed")
	}
	if p == nil {
		return nil
	}
	return p.Detail()
}

func (d *Dispatcher) categories(ctx context.Context) any {
	if d.catalog == nil {
		return errResult("the product catalog is not available")
	}
	cats, err := d.catalog.Categories(ctx)
	if err != nil {
		d.logger.Error("category lookup failed", slog.String("error", err.Error()))
		return errResult("category lookup failed")
	}
	if cats == nil {
		cats = []catalog.Category{}
	}
	return cats
}

type compareArgs struct {
	ProductIDs []int64 `json:"product_ids"`
}

func (d *Dispatcher) compareProducts(ctx context.Context, raw json.RawMessage) any {
	if d.catalog == nil {
		return errResult("the product catalog is not available")
	}
	var args compareArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResult("invalid product ids")
	}

	ids := args.ProductIDs
	// Silently clamp to the comparison table's width; extra ids are dropped,
	// not an error.
	if len(ids) > maxCompareProducts {
		ids = ids[:maxCompareProducts]
	}

	products := make([]map[string]any, 0, len(ids))
	for _, p := range d.fetchByID(ctx, ids) {
		names := make([]string, 0, len(p.Categories))
		for _, c := range p.Categories {
			names = append(names, c.Name)
		}
		entry := map[string]any{
			"id":            p.ID,
			"name":          p.Name,
			"url":           p.URL,
			"price":         catalog.FormatPrice(p.Price),
			"regular_price": catalog.FormatPrice(p.RegularPrice),
			"stock_status":  p.StockStatus,
			"rating":        p.Rating,
			"categories":    names,
		}
		if p.Image != "" {
			entry["image"] = p.Image
		}
		products = append(products, entry)
	}

	attributes := []string{}
	if len(products) > 0 {
		attributes = []string{"price", "regular_price", "stock_status", "rating", "categories"}
	}
	return map[string]any{"products": products, "attributes": attributes}
}

type orderArgs struct {
	OrderNumber string `json:"order_number"`
	Email       string `json:"email"`
}

func (d *Dispatcher) orderStatus(ctx context.Context, raw json.RawMessage) any {
	if d.catalog == nil {
		return errResult("the product catalog is not available")
	}
	var args orderArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResult("invalid order lookup arguments")
	}
	if args.OrderNumber == "" || args.Email == "" {
		return errResult("both order_number and email are required")
	}

	o, err := d.catalog.OrderByNumber(ctx, args.OrderNumber)
	if err != nil {
		d.logger.Error("order lookup failed", slog.String("error", err.Error()))
		return errResult("order lookup failed")
	}
	if o == nil || !strings.EqualFold(o.BillingEmail, args.Email) {
		return errResult(orderNotFoundMessage)
	}

	result := map[string]any{
		"order_number":    o.Number,
		"status":          o.Status,
		"total":           catalog.FormatPrice(o.Total),
		"currency":        o.Currency,
		"items":           o.Items,
		"shipping_method": o.ShippingMethod,
	}
	if o.TrackingNumber != "" {
		result["tracking_number"] = o.TrackingNumber
	}
	if o.TrackingURL != "" {
		result["tracking_url"] = o.TrackingURL
	}
	return result
}

type handoffArgs struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Summary string `json:"summary"`
}

func (d *Dispatcher) createHandoff(ctx context.Context, raw json.RawMessage) any {
	if d.handoff == nil {
		return errResult("human handoff is not enabled on this store")
	}
	var args handoffArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResult("invalid handoff arguments")
	}
	if err := d.validate.Struct(args); err != nil {
		return errResult("a name and a valid email address are required")
	}

	req, err := d.handoff.Create(ctx, args.Name, args.Email, args.Summary)
	if err != nil {
		d.logger.Error("failed to create handoff request", slog.String("error", err.Error()))
		return errResult("could not create the support request, please try again")
	}
	if d.notifier != nil {
		// The request is already persisted; a notification failure must
		// not fail the customer's request.
		if err := d.notifier.NotifyNewRequest(req); err != nil {
			d.logger.Error("failed to notify admin of handoff request",
				slog.String("request_id", req.ID), slog.String("error", err.Error()))
		}
	}
	return map[string]any{
		"success":    true,
		"request_id": req.ID,
		"message":    fmt.Sprintf("Your request has been passed to our support team. We'll reply to %s.", req.Email),
	}
}

type customDataArgs struct {
	SourceName string `json:"source_name"`
	Query      string `json:"query"`
}

func (d *Dispatcher) queryCustomData(ctx context.Context, raw json.RawMessage) any {
	if d.sources == nil {
		return errResult("no data sources are configured")
	}
	var args customDataArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errResult("invalid data source arguments")
	}

	src, err := d.sources.Get(ctx, args.SourceName)
	if err != nil {
		d.logger.Error("data source lookup failed", slog.String("error", err.Error()))
		return errResult("data source lookup failed")
	}
	if src == nil {
		return errResult(fmt.Sprintf("unknown data source: %s", args.SourceName))
	}

	results := src.Query(args.Query)
	if results == nil {
		results = []map[string]string{}
	}
	return map[string]any{
		"source":      src.Name,
		"label":       src.Label,
		"description": src.Description,
		"columns":     src.Columns,
		"results":     results,
		"count":       len(results),
	}
}

