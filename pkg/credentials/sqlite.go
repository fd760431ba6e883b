package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Registers the "sqlite" driver

	"github.com/joe/netmedia/pkg/filesystem"
)

// SQLiteStore is a Store persisted in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping credential database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("credential store opened", zap.String("path", dbPath))

	return store, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close credential database: %w", err)
	}

	return nil
}

const selectColumns = `
	SELECT id, protocol, host, port, share, username, password, private_key, passphrase, domain
	FROM credentials`

// Save inserts or replaces creds, assigning an ID when it has none.
func (s *SQLiteStore) Save(ctx context.Context, creds *Credentials) error {
	if creds.ID == "" {
		creds.ID = uuid.NewString()
	}

	normalize(creds)

	const query = `
		INSERT INTO credentials (
			id, protocol, host, port, share, username, password, private_key, passphrase, domain
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			protocol = excluded.protocol, host = excluded.host, port = excluded.port,
			share = excluded.share, username = excluded.username, password = excluded.password,
			private_key = excluded.private_key, passphrase = excluded.passphrase,
			domain = excluded.domain, updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query,
		creds.ID, string(creds.Protocol), creds.Host, creds.Port, creds.Share,
		creds.Username, creds.Password, creds.PrivateKey, creds.Passphrase, creds.Domain,
	)
	if err != nil {
		return fmt.Errorf("failed to save credentials %s: %w", creds.ID, err)
	}

	return nil
}

// Delete removes the credentials with id, if present.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete credentials %s: %w", id, err)
	}

	return nil
}

// List returns all credentials in insertion order.
func (s *SQLiteStore) List(ctx context.Context) ([]Credentials, error) {
	return s.query(ctx, selectColumns+` ORDER BY created_at, rowid`)
}

// ByID implements Lookup.
func (s *SQLiteStore) ByID(ctx context.Context, id string) (*Credentials, error) {
	return s.queryOne(ctx, selectColumns+` WHERE id = ?`, id)
}

// ByTypeServerAndPort implements Lookup.
func (s *SQLiteStore) ByTypeServerAndPort(
	ctx context.Context,
	protocol filesystem.Protocol,
	host string,
	port int,
) (*Credentials, error) {
	return s.queryOne(ctx, selectColumns+` WHERE protocol = ? AND host = ? AND port = ? ORDER BY rowid LIMIT 1`,
		string(protocol), strings.ToLower(host), port)
}

// ByServerAndShare implements Lookup.
func (s *SQLiteStore) ByServerAndShare(ctx context.Context, host, share string) (*Credentials, error) {
	return s.queryOne(ctx,
		selectColumns+` WHERE protocol = ? AND host = ? AND share = ? COLLATE NOCASE ORDER BY rowid LIMIT 1`,
		string(filesystem.ProtocolSMB), strings.ToLower(host), strings.Trim(share, "/"))
}

// ByServer implements Lookup.
func (s *SQLiteStore) ByServer(ctx context.Context, host string) ([]Credentials, error) {
	return s.query(ctx, selectColumns+` WHERE host = ? ORDER BY protocol, rowid`, strings.ToLower(host))
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*Credentials, error) {
	creds, err := scanCredentials(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Not found is nil, nil by contract
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}

	return creds, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Credentials, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var out []Credentials

	for rows.Next() {
		creds, err := scanCredentials(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credentials: %w", err)
		}

		out = append(out, *creds)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredentials(row rowScanner) (*Credentials, error) {
	var (
		creds    Credentials
		protocol string
	)

	err := row.Scan(&creds.ID, &protocol, &creds.Host, &creds.Port, &creds.Share,
		&creds.Username, &creds.Password, &creds.PrivateKey, &creds.Passphrase, &creds.Domain)
	if err != nil {
		return nil, err //nolint:wrapcheck // Callers wrap with context
	}

	creds.Protocol = filesystem.Protocol(protocol)

	return &creds, nil
}

var _ Store = (*SQLiteStore)(nil)
