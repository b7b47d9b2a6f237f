// Package mongostore is a secretstore.Store backend over MongoDB.
package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type document struct {
	AccountID string `bson:"account_id"`
	Blob      string `bson:"blob"`
}

// Store keeps a single opaque blob per account id in one collection.
type Store struct {
	coll      *mongo.Collection
	accountID string
}

// Open connects to uri and returns a Store scoped to accountID, reading
// and writing documents in database db, collection "account_secrets".
func Open(ctx context.Context, uri, db, accountID string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	return &Store{coll: client.Database(db).Collection("account_secrets"), accountID: accountID}, nil
}

func (s *Store) Read(ctx context.Context) (string, bool, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"account_id": s.accountID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mongostore: read: %w", err)
	}
	return doc.Blob, true, nil
}

func (s *Store) Write(ctx context.Context, blob string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"account_id": s.accountID},
		bson.M{"$set": bson.M{"blob": blob}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: write: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"account_id": s.accountID})
	if err != nil {
		return fmt.Errorf("mongostore: clear: %w", err)
	}
	return nil
}
