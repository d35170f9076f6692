package storage

import (
	"context"
	"fmt"

	"github.com/poiesic/keepsake/core"
)

// PrimaryKey is the predicate identifying a single stored record: the name of
// the primary key field and the value it must hold.
type PrimaryKey struct {
	Field string
	Value any
}

func (pk PrimaryKey) String() string {
	return fmt.Sprintf("%s=%v", pk.Field, pk.Value)
}

// Delegate performs the actual reads and writes for repositories. The typ
// argument is a broad type hint telling the backend where the data lives,
// such as a table, bucket or key prefix.
//
// Delegates signal failure by returning an error. The boolean results of
// Update and Delete are advisory; repositories may ignore them.
// Implementations must be safe for concurrent use.
type Delegate interface {
	// Insert stores a new record and returns its newly assigned primary key.
	Insert(ctx context.Context, typ string, fields core.Fields) (any, error)

	// Update merges fields into the record matching pk. Fields not named are
	// left as they are. Returns false if no record matched.
	Update(ctx context.Context, typ string, pk PrimaryKey, fields core.Fields) (bool, error)

	// Delete removes the record matching pk. Returns false if no record matched.
	Delete(ctx context.Context, typ string, pk PrimaryKey) (bool, error)

	// FindByPrimaryKey returns the raw fields of the record matching pk,
	// including pk.Field set to the stored key. Returns nil, nil if no
	// record matches.
	FindByPrimaryKey(ctx context.Context, typ string, pk PrimaryKey) (core.Fields, error)

	// Close releases the backend's resources.
	Close() error
}
