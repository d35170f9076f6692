package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateType(t *testing.T) {
	tests := []struct {
		typ     string
		wantErr bool
	}{
		{"users", false},
		{"user_profiles", false},
		{"_private", false},
		{"T1", false},
		{"", true},
		{"1users", true},
		{"users; DROP TABLE x", true},
		{"a-b", true},
		{"user.name", true},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			err := ValidateType(tt.typ)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidType)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKeyString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"int", 7, "7"},
		{"int64", int64(7), "7"},
		{"uint32", uint32(7), "7"},
		{"negative", int16(-2), "-2"},
		{"string", "7", "7"},
		{"bytes", []byte("abc"), "abc"},
		{"pk", PrimaryKey{Field: "id", Value: 1}, "id=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyString(tt.in))
		})
	}
}

func TestIntKey(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   int64
		wantOK bool
	}{
		{"int", 3, 3, true},
		{"string", "12", 12, true},
		{"uint64", uint64(9), 9, true},
		{"text", "abc", 0, false},
		{"float", 1.5, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IntKey(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
