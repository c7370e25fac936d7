// Package docstore is a minimal document store: keyed documents grouped in
// collections, with filtered reads and writes and grouped counts. Typed
// repositories sit on top of it; nothing above this package knows which
// engine is in use.
package docstore

import (
	"context"
	"errors"
)

// IDField names the document id in filters.
const IDField = "_id"

var (
	// ErrNotFound is returned by FindOne when nothing matches.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrDuplicate is returned by Insert when the id already exists.
	ErrDuplicate = errors.New("docstore: duplicate document id")
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "eq"
	OpLt Op = "lt"
	OpIn Op = "in"
)

// Cond is one condition on a top-level field.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Cond

// Eq matches field == value.
func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }

// Lt matches field < value. time.Time values compare chronologically.
func Lt(field string, value any) Cond { return Cond{Field: field, Op: OpLt, Value: value} }

// In matches field against any of values.
func In(field string, values ...any) Cond { return Cond{Field: field, Op: OpIn, Value: values} }

// ByID is a filter on the document id.
func ByID(id string) Filter { return Filter{Eq(IDField, id)} }

// FindOptions orders and bounds a Find.
type FindOptions struct {
	Sort       string
	Descending bool
	Limit      int
}

// Doc pairs a document with its id for bulk writes.
type Doc struct {
	ID    string
	Value any
}

// Store is implemented by MongoStore and SQLiteStore. Documents are Go
// structs carrying `json:"id" bson:"_id"` for the id and identical json and
// bson names for every other field.
type Store interface {
	// FindOne decodes the first match into out or returns ErrNotFound.
	FindOne(ctx context.Context, coll string, filter Filter, out any) error
	// Find decodes all matches into out, which must point to a slice.
	Find(ctx context.Context, coll string, filter Filter, opts FindOptions, out any) error
	// Count returns the number of matching documents.
	Count(ctx context.Context, coll string, filter Filter) (int64, error)
	// CountBy groups matching documents by field and counts each group.
	CountBy(ctx context.Context, coll string, filter Filter, field string) (map[string]int64, error)

	// Insert stores a new document or returns ErrDuplicate.
	Insert(ctx context.Context, coll, id string, doc any) error
	// Upsert replaces the document with id, keeping the stored values of
	// keepOnUpdate fields when it already exists. It reports whether the
	// document was newly inserted.
	Upsert(ctx context.Context, coll, id string, doc any, keepOnUpdate ...string) (bool, error)
	// UpsertMany replaces or inserts every document.
	UpsertMany(ctx context.Context, coll string, docs []Doc) error
	// Update sets fields on every matching document and returns the match count.
	Update(ctx context.Context, coll string, filter Filter, set map[string]any) (int64, error)
	// Delete removes matching documents and returns how many were removed.
	Delete(ctx context.Context, coll string, filter Filter) (int64, error)

	// Stats reports engine-level figures for the admin endpoint.
	Stats(ctx context.Context) (map[string]any, error)
	Ping(ctx context.Context) error
	Close() error
}
