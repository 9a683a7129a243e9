// Package sqlitestore persists the credential pair in a SQLite file so that a session
// survives process restarts.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jrsteele09/autopost-client/credentials"
	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS credentials (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Store is a SQLite-backed credentials.Store.
type Store struct {
	sqlDB *sql.DB
	mu    sync.Mutex // serialises read-modify-write transactions
}

var _ credentials.Store = (*Store)(nil)

// Open opens (creating if needed) the credential database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Get(ctx context.Context) (credentials.Credential, bool, error) {
	if s == nil || s.sqlDB == nil {
		return credentials.Credential{}, false, fmt.Errorf("storage is not configured")
	}
	cred, err := readPair(ctx, s.sqlDB)
	if err != nil {
		return credentials.Credential{}, false, err
	}
	if !cred.Complete() {
		return credentials.Credential{}, false, nil
	}
	return cred, true, nil
}

func (s *Store) Set(ctx context.Context, cred credentials.Credential) error {
	if !cred.Complete() {
		return apperrors.ErrIncompleteCredential
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return writePair(ctx, tx, cred)
	})
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM credentials WHERE key IN (?, ?)`,
		credentials.AccessTokenKey, credentials.RefreshTokenKey,
	); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, old, next credentials.Credential) (bool, error) {
	if !next.Complete() {
		return false, apperrors.ErrIncompleteCredential
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	swapped := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := readPair(ctx, tx)
		if err != nil {
			return err
		}
		if !current.Complete() || current != old {
			return nil
		}
		if err := writePair(ctx, tx, next); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

func (s *Store) CompareAndClear(ctx context.Context, old credentials.Credential) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := readPair(ctx, tx)
		if err != nil {
			return err
		}
		if !current.Complete() || current != old {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM credentials WHERE key IN (?, ?)`,
			credentials.AccessTokenKey, credentials.RefreshTokenKey,
		); err != nil {
			return fmt.Errorf("clear credentials: %w", err)
		}
		cleared = true
		return nil
	})
	return cleared, err
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readPair(ctx context.Context, q queryer) (credentials.Credential, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT key, value FROM credentials WHERE key IN (?, ?)`,
		credentials.AccessTokenKey, credentials.RefreshTokenKey,
	)
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("read credentials: %w", err)
	}
	defer rows.Close()

	var cred credentials.Credential
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return credentials.Credential{}, fmt.Errorf("scan credentials: %w", err)
		}
		switch key {
		case credentials.AccessTokenKey:
			cred.AccessToken = value
		case credentials.RefreshTokenKey:
			cred.RefreshToken = value
		}
	}
	if err := rows.Err(); err != nil {
		return credentials.Credential{}, fmt.Errorf("read credentials: %w", err)
	}
	return cred, nil
}

func writePair(ctx context.Context, tx *sql.Tx, cred credentials.Credential) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (key, value) VALUES (?, ?), (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		credentials.AccessTokenKey, cred.AccessToken,
		credentials.RefreshTokenKey, cred.RefreshToken,
	); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}
