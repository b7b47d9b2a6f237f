// Package rethinkstore is a secretstore.Store backend over RethinkDB,
// completing the mysql/mongo/rethink storage-adapter triad the teacher's
// server/store/adapter package offers for its own Adapter interface.
package rethinkstore

import (
	"context"
	"fmt"

	r "gopkg.in/rethinkdb/rethinkdb-go.v5"
)

type document struct {
	ID   string `rethinkdb:"id"`
	Blob string `rethinkdb:"blob"`
}

// Store keeps a single opaque blob per account id as a row keyed by
// account id in table "account_secrets".
type Store struct {
	session   *r.Session
	db        string
	accountID string
}

// Open connects using addr and returns a Store scoped to accountID.
func Open(addr, db, accountID string) (*Store, error) {
	session, err := r.Connect(r.ConnectOpts{Address: addr, Database: db})
	if err != nil {
		return nil, fmt.Errorf("rethinkstore: connect: %w", err)
	}
	return &Store{session: session, db: db, accountID: accountID}, nil
}

func (s *Store) table() r.Term { return r.DB(s.db).Table("account_secrets") }

func (s *Store) Read(ctx context.Context) (string, bool, error) {
	cursor, err := s.table().Get(s.accountID).Run(s.session, r.RunOpts{Context: ctx})
	if err != nil {
		return "", false, fmt.Errorf("rethinkstore: read: %w", err)
	}
	defer cursor.Close()

	var doc document
	if cursor.IsNil() {
		return "", false, nil
	}
	if err := cursor.One(&doc); err != nil {
		return "", false, fmt.Errorf("rethinkstore: decode: %w", err)
	}
	return doc.Blob, true, nil
}

func (s *Store) Write(ctx context.Context, blob string) error {
	doc := document{ID: s.accountID, Blob: blob}
	_, err := s.table().Insert(doc, r.InsertOpts{Conflict: "replace"}).RunWrite(s.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("rethinkstore: write: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.table().Get(s.accountID).Delete().RunWrite(s.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("rethinkstore: clear: %w", err)
	}
	return nil
}
