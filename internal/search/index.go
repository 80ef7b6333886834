// Package search maintains a filesystem-backed fuzzy index over catalog
// products. Queries fall back to native catalog search whenever the index is
// absent or produces no hits, with identical filter semantics either way.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/obedparla/storechat/internal/catalog"
)

const (
	indexFileName = "index.json"
	metaFileName  = "meta.json"

	scoreExact  = 3
	scorePrefix = 2
	scoreFuzzy  = 1
)

// Catalog is the slice of the product store the index needs.
type Catalog interface {
	PublishedProducts(ctx context.Context) ([]*catalog.Product, error)
	GetProduct(ctx context.Context, id int64) (*catalog.Product, error)
	Query(ctx context.Context, params catalog.QueryParams) ([]*catalog.Product, error)
}

// Filters are the structured constraints applied after the fuzzy pass.
type Filters struct {
	Category string
	MinPrice *float64
	MaxPrice *float64
}

// Status reports persisted index metadata. It never triggers a rebuild.
type Status struct {
	Exists       bool      `json:"exists"`
	ProductCount int       `json:"product_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

type indexFile struct {
	Docs map[int64][]string `json:"docs"`
}

type metaFile struct {
	ProductCount int       `json:"product_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Index is the fuzzy product index. Writes go through an atomic
// temp-file-and-rename so readers never observe a partial index; a reader
// that loses the race falls back to the native query path.
type Index struct {
	dir     string
	catalog Catalog
	logger  *slog.Logger

	mu sync.Mutex // serializes writers within this process
}

// New creates an index rooted at dir.
func New(dir string, cat Catalog, logger *slog.Logger) *Index {
	return &Index{dir: dir, catalog: cat, logger: logger}
}

// Build enumerates all published products and writes a fresh index. An empty
// catalog produces a valid empty index. The only fatal condition is the
// storage directory being unavailable; per-product failures are skipped.
func (ix *Index) Build(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.buildLocked(ctx)
}

func (ix *Index) buildLocked(ctx context.Context) error {
	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	products, err := ix.catalog.PublishedProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate products: %w", err)
	}

	idx := indexFile{Docs: make(map[int64][]string, len(products))}
	for _, p := range products {
		tokens := Tokenize(p.IndexText())
		if len(tokens) == 0 {
			continue
		}
		idx.Docs[p.ID] = tokens
	}

	if err := ix.save(&idx); err != nil {
		return err
	}
	ix.logger.Info("search index built", slog.Int("products", len(idx.Docs)))
	return nil
}

// IndexProduct upserts one product into the live index. When no index file
// exists yet it performs a full build instead, so a half-configured install
// heals itself on the first catalog save.
func (ix *Index) IndexProduct(ctx context.Context, id int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx, err := ix.load()
	if errors.Is(err, os.ErrNotExist) {
		return ix.buildLocked(ctx)
	}
	if err != nil {
		return err
	}

	p, err := ix.catalog.GetProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load product %d: %w", id, err)
	}
	if p == nil {
		delete(idx.Docs, id)
	} else {
		idx.Docs[id] = Tokenize(p.IndexText())
	}
	return ix.save(idx)
}

// RemoveProduct deletes one product from the index. Missing index or
// missing entry are both no-ops.
func (ix *Index) RemoveProduct(ctx context.Context, id int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx, err := ix.load()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := idx.Docs[id]; !ok {
		return nil
	}
	delete(idx.Docs, id)
	return ix.save(idx)
}

// Search fuzzy-matches query against the index, over-fetches to leave room
// for post-filtering, re-applies the structured filters through the catalog
// and truncates to limit. When the index is absent or the fuzzy pass comes
// up empty it falls back to a native substring query with the same filter
// semantics, so callers see consistent behavior regardless of index health.
func (ix *Index) Search(ctx context.Context, query string, filters Filters, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 10
	}

	idx, err := ix.load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			ix.logger.Warn("search index unreadable, using native search", slog.String("error", err.Error()))
		}
		return ix.nativeSearch(ctx, query, filters, limit)
	}

	ranked := rank(idx, Tokenize(query))
	if len(ranked) == 0 {
		return ix.nativeSearch(ctx, query, filters, limit)
	}

	overfetch := limit * 2
	if len(ranked) > overfetch {
		ranked = ranked[:overfetch]
	}

	products, err := ix.catalog.Query(ctx, catalog.QueryParams{
		IDs:      ranked,
		Category: filters.Category,
		MinPrice: filters.MinPrice,
		MaxPrice: filters.MaxPrice,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post-filter results: %w", err)
	}

	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (ix *Index) nativeSearch(ctx context.Context, query string, filters Filters, limit int) ([]int64, error) {
	products, err := ix.catalog.Query(ctx, catalog.QueryParams{
		Search:   query,
		Category: filters.Category,
		MinPrice: filters.MinPrice,
		MaxPrice: filters.MaxPrice,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("native search failed: %w", err)
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// Status reads persisted metadata and checks file existence.
func (ix *Index) Status() Status {
	var st Status
	if _, err := os.Stat(filepath.Join(ix.dir, indexFileName)); err == nil {
		st.Exists = true
	}
	data, err := os.ReadFile(filepath.Join(ix.dir, metaFileName))
	if err != nil {
		return st
	}
	var meta metaFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return st
	}
	st.ProductCount = meta.ProductCount
	st.LastUpdated = meta.LastUpdated
	return st
}

func (ix *Index) load() (*indexFile, error) {
	data, err := os.ReadFile(filepath.Join(ix.dir, indexFileName))
	if err != nil {
		return nil, err
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index file: %w", err)
	}
	if idx.Docs == nil {
		idx.Docs = make(map[int64][]string)
	}
	return &idx, nil
}

func (ix *Index) save(idx *indexFile) error {
	if err := writeAtomic(filepath.Join(ix.dir, indexFileName), idx); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	meta := metaFile{ProductCount: len(idx.Docs), LastUpdated: time.Now().UTC()}
	if err := writeAtomic(filepath.Join(ix.dir, metaFileName), meta); err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}
	return nil
}

func writeAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// rank scores every document against the query terms and returns matching
// ids ordered best-first, ties broken by id for determinism.
func rank(idx *indexFile, terms []string) []int64 {
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		id    int64
		score int
	}
	var results []scored
	for id, tokens := range idx.Docs {
		score := 0
		for _, term := range terms {
			score += bestMatch(term, tokens)
		}
		if score > 0 {
			results = append(results, scored{id: id, score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id < results[j].id
	})

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.id
	}
	return ids
}

// bestMatch returns the strongest match quality of term against any token:
// exact beats prefix beats fuzzy. Fuzzy tolerates one edit, two for longer
// terms, and is skipped for very short terms where an edit changes meaning.
func bestMatch(term string, tokens []string) int {
	best := 0
	for _, tok := range tokens {
		switch {
		case tok == term:
			return scoreExact
		case best < scorePrefix && (strings.HasPrefix(tok, term) || strings.HasPrefix(term, tok)):
			best = scorePrefix
		case best < scoreFuzzy && len(term) >= 3:
			if levenshtein.ComputeDistance(term, tok) <= fuzzyThreshold(term) {
				best = scoreFuzzy
			}
		}
	}
	return best
}

func fuzzyThreshold(term string) int {
	if len(term) >= 5 {
		return 2
	}
	return 1
}

// Tokenize lowercases and splits text on non-alphanumeric runes, dropping
// single-rune fragments and duplicates.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}
