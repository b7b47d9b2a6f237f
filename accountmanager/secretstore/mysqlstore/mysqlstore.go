// Package mysqlstore is a secretstore.Store backend over MySQL, mirroring
// the single-adapter-per-database-family shape of the teacher's
// server/store/adapter package (which backs the same Adapter interface
// with mysql/mongodb/rethinkdb implementations).
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Store keeps a single opaque blob per account id in a two-column table:
//
//	CREATE TABLE account_secrets (
//	  account_id VARCHAR(64) PRIMARY KEY,
//	  blob       MEDIUMTEXT NOT NULL
//	)
type Store struct {
	db        *sqlx.DB
	accountID string
}

// Open connects to dsn (a go-sql-driver/mysql DSN) and returns a Store
// scoped to accountID.
func Open(dsn, accountID string) (*Store, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: open: %w", err)
	}
	return &Store{db: db, accountID: accountID}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Read(ctx context.Context) (string, bool, error) {
	var blob string
	err := s.db.GetContext(ctx, &blob,
		"SELECT blob FROM account_secrets WHERE account_id = ?", s.accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mysqlstore: read: %w", err)
	}
	return blob, true, nil
}

func (s *Store) Write(ctx context.Context, blob string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_secrets (account_id, blob) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE blob = VALUES(blob)`, s.accountID, blob)
	if err != nil {
		return fmt.Errorf("mysqlstore: write: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM account_secrets WHERE account_id = ?", s.accountID)
	if err != nil {
		return fmt.Errorf("mysqlstore: clear: %w", err)
	}
	return nil
}
