// Package store persists document records and the conversation ledger.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docsage/internal/model"
)

// ErrNotFound is returned when a requested document or record does not exist.
var ErrNotFound = eris.New("store: not found")

// DocumentStore keeps one record per (user, fingerprint).
type DocumentStore interface {
	// CreateDocument inserts doc unless (UserID, Fingerprint) exists. created
	// reports whether a new row was written.
	CreateDocument(ctx context.Context, doc *model.Document) (created bool, err error)
	GetDocument(ctx context.Context, userID, fingerprint string) (*model.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]model.Document, error)
	SetCanonicalKey(ctx context.Context, userID, fingerprint, key string) error
	SetMetadata(ctx context.Context, userID, fingerprint string, meta model.DocumentMetadata) error
	// DeleteDocument removes the document row and its conversation records
	// in one transaction.
	DeleteDocument(ctx context.Context, userID, fingerprint string) error
}

// Ledger is the append-only conversation log. There is no update operation.
type Ledger interface {
	Append(ctx context.Context, userID, fingerprint string, answer model.Answer) (*model.Conversation, error)
	// QueryByDocument yields records whose sort key has the fingerprint
	// prefix, ordered by stored timestamp.
	QueryByDocument(ctx context.Context, userID, fingerprint string) (RecordIterator, error)
	QueryByUser(ctx context.Context, userID string) (RecordIterator, error)
	FindByQuestion(ctx context.Context, userID, fingerprint, question string) (*model.Conversation, error)
	DeleteOne(ctx context.Context, userID, sortKey string) error
	DeleteAllForDocument(ctx context.Context, userID, fingerprint string) (int, error)
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}

// Store combines both persistence concerns with lifecycle hooks.
type Store interface {
	DocumentStore
	Ledger

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// RecordIterator streams conversation records lazily. Callers must Close it.
type RecordIterator interface {
	Next() bool
	Record() model.Conversation
	Err() error
	Close() error
}

// Collect drains and closes it.
func Collect(it RecordIterator) ([]model.Conversation, error) {
	defer it.Close() //nolint:errcheck

	var out []model.Conversation
	for it.Next() {
		out = append(out, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// appendAttempts bounds retries when a sort key collides with a row written
// by another process.
const appendAttempts = 3
