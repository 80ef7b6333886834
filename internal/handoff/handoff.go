// Package handoff persists human-support requests raised from chat and
// notifies the store admin.
package handoff

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
	gomail "gopkg.in/gomail.v2"
)

// Request statuses.
const (
	StatusNew = "new"
)

// Request is a persisted support request.
type Request struct {
	ID        string
	Name      string
	Email     string
	Summary   string
	Status    string
	CreatedAt time.Time
}

// Notifier delivers the admin-side notification for a new request.
type Notifier interface {
	NotifyNewRequest(req *Request) error
}

// Store persists handoff requests in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the handoff tables at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS handoff_requests (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		summary TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
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

// Create persists a new request with status "new" and returns it.
func (s *Store) Create(ctx context.Context, name, email, summary string) (*Request, error) {
	req := &Request{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Summary:   summary,
		Status:    StatusNew,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handoff_requests (id, name, email, summary, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.Name, req.Email, req.Summary, req.Status, req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert handoff request: %w", err)
	}
	return req, nil
}

// Get returns a request by id, or nil when unknown.
func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, summary, status, created_at
		FROM handoff_requests WHERE id = ?`, id)
	var req Request
	err := row.Scan(&req.ID, &req.Name, &req.Email, &req.Summary, &req.Status, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan handoff request: %w", err)
	}
	return &req, nil
}

// MailNotifier sends admin notifications over SMTP.
type MailNotifier struct {
	dialer *gomail.Dialer
	from   string
	admin  string
	logger *slog.Logger
}

// NewMailNotifier builds a notifier, or nil when mail is not configured.
// A nil *MailNotifier is safe to use and does nothing.
func NewMailNotifier(host string, port int, username, password, from, admin string, logger *slog.Logger) *MailNotifier {
	if host == "" || admin == "" {
		return nil
	}
	return &MailNotifier{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		admin:  admin,
		logger: logger,
	}
}

// NotifyNewRequest emails the admin about a fresh request. Failures are
// logged, not returned: the request is already persisted and the chat reply
// should not depend on SMTP health.
func (n *MailNotifier) NotifyNewRequest(req *Request) error {
	if n == nil {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.admin)
	m.SetHeader("Subject", "New support request from "+req.Name)
	m.SetBody("text/plain", fmt.Sprintf(
		"Name: %s\nEmail: %s\nRequest ID: %s\n\n%s\n", req.Name, req.Email, req.ID, req.Summary))
	if err := n.dialer.DialAndSend(m); err != nil {
		n.logger.Error("failed to send handoff notification",
			slog.String("request_id", req.ID), slog.String("error", err.Error()))
	}
	return nil
}
