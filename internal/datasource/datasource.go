// Package datasource stores named CSV-derived row collections that the
// assistant can query through the query_custom_data tool. Sources are
// read-only from the chat path; uploads replace the whole source.
package datasource

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MaxResults caps how many matching rows a query returns.
const MaxResults = 20

// Source is one uploaded data set.
type Source struct {
	Name        string     `json:"name"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
	Columns     []string   `json:"columns"`
	Rows        [][]string `json:"-"`
}

// Store persists data sources in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the data source tables at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS data_sources (
		name TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		columns TEXT NOT NULL,
		rows TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadCSV parses a CSV document (first row is the header) and stores it
// under name, replacing any existing source of that name.
func (s *Store) LoadCSV(ctx context.Context, name, label, description string, r io.Reader) (*Source, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV has no header row")
	}

	src := &Source{
		Name:        name,
		Label:       label,
		Description: description,
		Columns:     records[0],
		Rows:        records[1:],
	}

	cols, err := json.Marshal(src.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal columns: %w", err)
	}
	rows, err := json.Marshal(src.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rows: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO data_sources (name, label, description, columns, rows, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		name, label, description, string(cols), string(rows), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to store data source: %w", err)
	}
	return src, nil
}

// Get returns a source by name, or nil when unknown.
func (s *Store) Get(ctx context.Context, name string) (*Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, label, description, columns, rows FROM data_sources WHERE name = ?`, name)
	src, err := scanSource(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return src, err
}

// List returns every stored source, rows included.
func (s *Store) List(ctx context.Context) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, label, description, columns, rows FROM data_sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query data sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		src, err := scanSource(rows.Scan)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func scanSource(scan func(...any) error) (*Source, error) {
	var (
		src  Source
		cols string
		rows string
	)
	if err := scan(&src.Name, &src.Label, &src.Description, &cols, &rows); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cols), &src.Columns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
	}
	if err := json.Unmarshal([]byte(rows), &src.Rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rows: %w", err)
	}
	return &src, nil
}

// Query linear-scans rows applying a case-insensitive substring match across
// every column value. An empty query returns the leading rows. Results are
// keyed by column name and capped at MaxResults.
func (src *Source) Query(query string) []map[string]string {
	needle := strings.ToLower(strings.TrimSpace(query))
	var results []map[string]string
	for _, row := range src.Rows {
		if needle != "" && !rowMatches(row, needle) {
			continue
		}
		entry := make(map[string]string, len(src.Columns))
		for i, col := range src.Columns {
			if i < len(row) {
				entry[col] = row[i]
			} else {
				entry[col] = ""
			}
		}
		results = append(results, entry)
		if len(results) >= MaxResults {
			break
		}
	}
	return results
}

func rowMatches(row []string, needle string) bool {
	for _, v := range row {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}
