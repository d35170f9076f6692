package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/poiesic/keepsake/storage"
	"github.com/poiesic/keepsake/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegate_Conformance(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set, skipping PostgreSQL tests")
	}

	storagetest.Run(t, func(t *testing.T) storage.Delegate {
		d, err := Open(context.Background(), dsn)
		require.NoError(t, err)
		return d
	})
}

func TestTableName(t *testing.T) {
	assert.Equal(t, `"users"`, tableName("users"))
	assert.Equal(t, `"User_Profiles"`, tableName("User_Profiles"))
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"serialization failure", &pgconn.PgError{Code: codeSerializationFailure}, storage.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, storage.ErrConflict},
		{"unique violation", &pgconn.PgError{Code: "23505"}, nil},
		{"other", errors.New("boom"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapError(tt.in)
			assert.ErrorIs(t, got, tt.in)
			if tt.want != nil {
				assert.ErrorIs(t, got, tt.want)
			} else {
				assert.NotErrorIs(t, got, storage.ErrConflict)
			}
		})
	}
	assert.NoError(t, wrapError(nil))
}

func TestOpen_BadDSN(t *testing.T) {
	_, err := Open(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}
