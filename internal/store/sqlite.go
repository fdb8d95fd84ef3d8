// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides account, protocol row, contact, and ticket persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer connection; concurrent writers would hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id INTEGER NOT NULL,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'OPENING',
			qrcode     TEXT NOT NULL DEFAULT '',
			retries    INTEGER NOT NULL DEFAULT 0,
			number     TEXT NOT NULL DEFAULT '',
			session    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_company ON accounts(company_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_company_name ON accounts(company_id, name);

		CREATE TABLE IF NOT EXISTS protocol_sessions (
			id         TEXT PRIMARY KEY,
			account_id INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_protocol_sessions_account_kind
			ON protocol_sessions(account_id, kind);

		CREATE TABLE IF NOT EXISTS contacts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id INTEGER NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			number     TEXT NOT NULL,
			lid        TEXT NOT NULL DEFAULT '',
			is_group   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_company_number ON contacts(company_id, number);

		CREATE TABLE IF NOT EXISTS tickets (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id INTEGER NOT NULL,
			contact_id INTEGER NOT NULL,
			account_id INTEGER NOT NULL,
			queue_id   INTEGER,
			status     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (contact_id) REFERENCES contacts(id),

			CHECK (status IN ('open', 'pending', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_contact_account ON tickets(contact_id, account_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies additive column changes to databases created by
// earlier versions.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "accounts",
			column: "provider",
			apply:  `ALTER TABLE accounts ADD COLUMN provider TEXT NOT NULL DEFAULT 'beta'`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// CreateAccount inserts a new account and sets its ID.
// Returns ErrDuplicate if the company already has an account with that name.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	now := time.Now().UTC().Truncate(time.Second)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	if account.Status == "" {
		account.Status = StatusOpening
	}
	if account.Provider == "" {
		account.Provider = "beta"
	}

	query := `
		INSERT INTO accounts (company_id, name, status, qrcode, retries, number, session, provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		account.CompanyID,
		account.Name,
		account.Status,
		account.QRCode,
		account.Retries,
		account.Number,
		account.Session,
		account.Provider,
		formatTime(account.CreatedAt),
		formatTime(account.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading account id: %w", err)
	}
	account.ID = id

	s.logger.Debug("created account", "account_id", id, "company_id", account.CompanyID)
	return nil
}

const accountColumns = `id, company_id, name, status, qrcode, retries, number, session, provider, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&a.ID,
		&a.CompanyID,
		&a.Name,
		&a.Status,
		&a.QRCode,
		&a.Retries,
		&a.Number,
		&a.Session,
		&a.Provider,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if a.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount retrieves an account by ID.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}

// UpdateAccount applies a partial update and returns the updated row.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) UpdateAccount(ctx context.Context, id int64, update AccountUpdate) (*Account, error) {
	var sets []string
	var args []any

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.QRCode != nil {
		add("qrcode", *update.QRCode)
	}
	if update.Retries != nil {
		add("retries", *update.Retries)
	}
	if update.Number != nil {
		add("number", *update.Number)
	}
	if update.Session != nil {
		add("session", *update.Session)
	}
	add("updated_at", formatTime(time.Now()))
	args = append(args, id)

	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating account: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	return s.GetAccount(ctx, id)
}

// ListAccounts returns every account ordered by ID.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

// ListAccountsByCompany returns a company's accounts ordered by ID.
func (s *SQLiteStore) ListAccountsByCompany(ctx context.Context, companyID int64) ([]*Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id = ? ORDER BY id`, companyID)
}

func (s *SQLiteStore) queryAccounts(ctx context.Context, query string, args ...any) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return accounts, nil
}

// SaveProtocolSession upserts the account's row of the given kind.
func (s *SQLiteStore) SaveProtocolSession(ctx context.Context, row *ProtocolSession) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	row.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	query := `
		INSERT INTO protocol_sessions (id, account_id, kind, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, kind) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, row.ID, row.AccountID, row.Kind, row.Payload, formatTime(row.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving protocol session: %w", err)
	}
	return nil
}

// ListProtocolSessions returns the account's protocol rows ordered by kind.
func (s *SQLiteStore) ListProtocolSessions(ctx context.Context, accountID int64) ([]*ProtocolSession, error) {
	query := `
		SELECT id, account_id, kind, payload, updated_at
		FROM protocol_sessions
		WHERE account_id = ?
		ORDER BY kind
	`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying protocol sessions: %w", err)
	}
	defer rows.Close()

	var out []*ProtocolSession
	for rows.Next() {
		var p ProtocolSession
		var updatedAtStr string
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Kind, &p.Payload, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning protocol session: %w", err)
		}
		if p.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteProtocolSessions removes every protocol row of the account.
// Deleting nothing is not an error.
func (s *SQLiteStore) DeleteProtocolSessions(ctx context.Context, accountID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM protocol_sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("deleting protocol sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("deleted protocol sessions", "account_id", accountID, "rows", n)
	return nil
}

// CreateContact inserts a contact and sets its ID.
// Returns ErrDuplicate if the company already has a contact with that number.
func (s *SQLiteStore) CreateContact(ctx context.Context, contact *Contact) error {
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	query := `
		INSERT INTO contacts (company_id, name, number, lid, is_group, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		contact.CompanyID,
		contact.Name,
		contact.Number,
		contact.LID,
		contact.IsGroup,
		formatTime(contact.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting contact: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading contact id: %w", err)
	}
	contact.ID = id
	return nil
}

// FindContactByNumber looks up a company's contact by its digits-only number.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) FindContactByNumber(ctx context.Context, companyID int64, number string) (*Contact, error) {
	query := `
		SELECT id, company_id, name, number, lid, is_group, created_at
		FROM contacts
		WHERE company_id = ? AND number = ?
	`

	var c Contact
	var createdAtStr string
	err := s.db.QueryRowContext(ctx, query, companyID, number).Scan(
		&c.ID,
		&c.CompanyID,
		&c.Name,
		&c.Number,
		&c.LID,
		&c.IsGroup,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact: %w", err)
	}
	if c.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateTicket inserts a ticket and sets its ID.
func (s *SQLiteStore) CreateTicket(ctx context.Context, ticket *Ticket) error {
	now := time.Now().UTC().Truncate(time.Second)
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now
	if ticket.Status == "" {
		ticket.Status = TicketPending
	}

	query := `
		INSERT INTO tickets (company_id, contact_id, account_id, queue_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		ticket.CompanyID,
		ticket.ContactID,
		ticket.AccountID,
		ticket.QueueID,
		ticket.Status,
		formatTime(ticket.CreatedAt),
		formatTime(ticket.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting ticket: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading ticket id: %w", err)
	}
	ticket.ID = id
	return nil
}

// FindOpenTicket returns the most recent open or pending ticket between a
// contact and an account. Returns ErrNotFound if there is none.
func (s *SQLiteStore) FindOpenTicket(ctx context.Context, contactID, accountID int64) (*Ticket, error) {
	query := `
		SELECT id, company_id, contact_id, account_id, queue_id, status, created_at, updated_at
		FROM tickets
		WHERE contact_id = ? AND account_id = ? AND status IN ('open', 'pending')
		ORDER BY id DESC
		LIMIT 1
	`

	var t Ticket
	var queueID sql.NullInt64
	var createdAtStr, updatedAtStr string
	err := s.db.QueryRowContext(ctx, query, contactID, accountID).Scan(
		&t.ID,
		&t.CompanyID,
		&t.ContactID,
		&t.AccountID,
		&queueID,
		&t.Status,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying ticket: %w", err)
	}

	if queueID.Valid {
		q := queueID.Int64
		t.QueueID = &q
	}
	if t.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return nil, err
	}
	return &t, nil
}
