package snapshot

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// ConflictPolicy decides what happens when a restored document's _id is
// already present in the target collection.
type ConflictPolicy string

const (
	// ConflictAbort inserts in order and fails the stage on the first duplicate.
	ConflictAbort ConflictPolicy = "abort"
	// ConflictSkip keeps the existing document and carries on.
	ConflictSkip ConflictPolicy = "skip"
	// ConflictOverwrite replaces the existing document.
	ConflictOverwrite ConflictPolicy = "overwrite"
)

// ParseConflictPolicy validates a policy name. An empty name means abort.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ConflictAbort, nil
	case ConflictAbort, ConflictSkip, ConflictOverwrite:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q (want abort, skip or overwrite)", s)
	}
}

// Store is the slice of a document database the snapshotter needs.
type Store interface {
	ListCollectionNames(ctx context.Context) ([]string, error)
	FindAll(ctx context.Context, collection string) ([]bson.Raw, error)
	Insert(ctx context.Context, collection string, docs []bson.D, policy ConflictPolicy) error
	Close(ctx context.Context) error
}

// Dialer opens a Store for a connection string. database may be empty, in
// which case the dialer picks the database named by the URI.
type Dialer func(ctx context.Context, uri, database string) (Store, error)
