package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Operator string

const (
	OpEq Operator = "=="
	OpIn Operator = "in"
	OpGt Operator = ">"
)

// Condition is a single field predicate of a Query.
type Condition struct {
	Field string
	Op    Operator
	Value interface{}
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Where      []Condition
	OrderBy    string
	Limit      int
}

// TransactionManager is the unit of work handed to a Store.Run callback.
// Reads and writes through it are atomic and isolated from other units of work.
type TransactionManager interface {
	// Get returns nil when the document does not exist.
	Get(ctx context.Context, collection, id string) (bson.Raw, error)
	Query(ctx context.Context, q Query) ([]bson.Raw, error)
	// Create fails when a document with the same id exists.
	Create(ctx context.Context, collection, id string, doc interface{}) error
	// Set creates or replaces the document.
	Set(ctx context.Context, collection, id string, doc interface{}) error
	Delete(ctx context.Context, collection, id string) error
}

// Store runs units of work. fn may be retried on write conflicts, so it
// must not perform external I/O.
type Store interface {
	Run(ctx context.Context, fn func(ctx context.Context, manager TransactionManager) error) error
	Close(ctx context.Context) error
}

// Collection names of the document store.
const (
	CollectionPosts         = "posts"
	CollectionPlatformPosts = "platform_posts"
	CollectionProfiles      = "profiles"
	CollectionUsers         = "users"
	CollectionTriples       = "triples"
	CollectionTaskMeta      = "task_meta"
	CollectionCredentials   = "credentials"
)
