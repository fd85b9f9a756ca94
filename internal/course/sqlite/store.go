// Package sqlite persists course policy records in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/coursegate/coursegate/internal/course"
	"github.com/coursegate/coursegate/internal/domain"
)

// Store is a SQLite implementation of course.Store.
type Store struct {
	db *sqlx.DB
}

var _ course.Store = (*Store)(nil)

// New opens (or creates) the database at path and initializes the
// schema.
func New(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing connection, sharing it with other
// stores backed by the same file.
func NewWithDB(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS courses (
		name TEXT PRIMARY KEY,
		owner_email TEXT NOT NULL,
		admin_emails TEXT NOT NULL DEFAULT '[]',
		approved_emails TEXT NOT NULL DEFAULT '[]',
		is_private INTEGER NOT NULL DEFAULT 0,
		allow_any_logged_in INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type courseRow struct {
	Name             string `db:"name"`
	OwnerEmail       string `db:"owner_email"`
	AdminEmails      string `db:"admin_emails"`
	ApprovedEmails   string `db:"approved_emails"`
	IsPrivate        bool   `db:"is_private"`
	AllowAnyLoggedIn bool   `db:"allow_any_logged_in"`
}

func (s *Store) Get(ctx context.Context, name string) (*domain.Policy, error) {
	var row courseRow
	err := s.db.GetContext(ctx, &row,
		`SELECT name, owner_email, admin_emails, approved_emails, is_private, allow_any_logged_in
		 FROM courses WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, course.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load course %q: %w", name, err)
	}
	return rowToPolicy(&row)
}

func (s *Store) Put(ctx context.Context, name string, policy *domain.Policy) error {
	admins, err := json.Marshal(policy.AdminEmails)
	if err != nil {
		return fmt.Errorf("failed to encode admin emails: %w", err)
	}
	approved, err := json.Marshal(policy.ApprovedEmails)
	if err != nil {
		return fmt.Errorf("failed to encode approved emails: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO courses (name, owner_email, admin_emails, approved_emails, is_private, allow_any_logged_in)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			owner_email = excluded.owner_email,
			admin_emails = excluded.admin_emails,
			approved_emails = excluded.approved_emails,
			is_private = excluded.is_private,
			allow_any_logged_in = excluded.allow_any_logged_in,
			updated_at = datetime('now')`,
		name, policy.OwnerEmail, string(admins), string(approved),
		policy.IsPrivate, policy.AllowAnyLoggedInUser)
	if err != nil {
		return fmt.Errorf("failed to store course %q: %w", name, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM courses WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete course %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, `SELECT name FROM courses ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return names, nil
}

func rowToPolicy(row *courseRow) (*domain.Policy, error) {
	p := &domain.Policy{
		OwnerEmail:           row.OwnerEmail,
		IsPrivate:            row.IsPrivate,
		AllowAnyLoggedInUser: row.AllowAnyLoggedIn,
	}
	if err := json.Unmarshal([]byte(row.AdminEmails), &p.AdminEmails); err != nil {
		return nil, fmt.Errorf("failed to decode admin emails: %w", err)
	}
	if err := json.Unmarshal([]byte(row.ApprovedEmails), &p.ApprovedEmails); err != nil {
		return nil, fmt.Errorf("failed to decode approved emails: %w", err)
	}
	return p, nil
}
