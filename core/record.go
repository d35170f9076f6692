// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"maps"
	"reflect"
)

// Record tracks the state of an entity's fields. It keeps the values last
// persisted to (or loaded from) a backend apart from the values changed since,
// so a repository knows what to write. It never talks to storage itself.
//
// A Record is not safe for concurrent mutation.
type Record struct {
	original   Fields
	pending    Fields
	primaryKey string
}

// RecordOption configures a Record.
type RecordOption func(*Record)

// WithPrimaryKey sets the name of the primary key field used by IsLoaded.
// An empty name leaves the default in place.
func WithPrimaryKey(field string) RecordOption {
	return func(r *Record) {
		if field != "" {
			r.primaryKey = field
		}
	}
}

// NewRecord creates an empty, unloaded record.
func NewRecord(opts ...RecordOption) *Record {
	r := &Record{
		original:   Fields{},
		pending:    Fields{},
		primaryKey: DefaultPrimaryKey,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AsRecord returns r. Types embedding *Record satisfy Item through it.
func (r *Record) AsRecord() *Record {
	return r
}

// PrimaryKeyField returns the name of the primary key field.
func (r *Record) PrimaryKeyField() string {
	return r.primaryKey
}

// Load merges data into the persisted state. Pending changes are left alone,
// so a freshly loaded record reports no changes. Use this when hydrating
// from a backend read.
func (r *Record) Load(data Fields) *Record {
	maps.Copy(r.original, data)
	return r
}

// Set records a pending change. The value is not compared with the persisted
// one; that happens in Diff.
func (r *Record) Set(field string, value any) *Record {
	r.pending[field] = value
	return r
}

// SetValues records several pending changes at once.
func (r *Record) SetValues(data Fields) *Record {
	maps.Copy(r.pending, data)
	return r
}

// Get returns the newest value of field: the pending one if set, otherwise the
// persisted one. The boolean is false when the field is unknown, which keeps
// a stored nil distinct from an absent field.
func (r *Record) Get(field string) (any, bool) {
	if v, ok := r.pending[field]; ok {
		return v, true
	}
	v, ok := r.original[field]
	return v, ok
}

// Value is Get without the presence flag.
func (r *Record) Value(field string) any {
	v, _ := r.Get(field)
	return v
}

// Original returns the persisted value of field, ignoring pending changes.
// Commit overwrites it; this is not a changelog.
func (r *Record) Original(field string) (any, bool) {
	v, ok := r.original[field]
	return v, ok
}

// IsSet reports whether field has a pending or persisted value.
func (r *Record) IsSet(field string) bool {
	if _, ok := r.pending[field]; ok {
		return true
	}
	_, ok := r.original[field]
	return ok
}

// Changes returns a copy of every pending change, including ones whose value
// equals the persisted value.
func (r *Record) Changes() Fields {
	return r.pending.Clone()
}

// HasChanges reports whether any change is pending. A field set back to its
// persisted value still counts.
func (r *Record) HasChanges() bool {
	return len(r.pending) > 0
}

// Diff returns the pending changes that would actually alter the persisted
// state: fields absent from it, or whose pending value differs from it.
// Values are compared with reflect.DeepEqual, so dynamic types must match:
// a pending int(30) differs from a loaded int64(30) even though both are
// stored the same way. Set values in the type the backend returns
// (storage.NormalizeValue) to avoid such entries.
func (r *Record) Diff() map[string]Change {
	diff := make(map[string]Change)
	for field, changed := range r.pending {
		orig, had := r.original[field]
		if had && reflect.DeepEqual(orig, changed) {
			continue
		}
		diff[field] = Change{
			Original:    orig,
			HadOriginal: had,
			Changed:     changed,
		}
	}
	return diff
}

// Commit folds pending changes into the persisted state and clears them.
// Repositories call this after a successful write. Calling it with nothing
// pending is a no-op.
func (r *Record) Commit() *Record {
	maps.Copy(r.original, r.pending)
	clear(r.pending)
	return r
}

// IsLoaded reports whether the primary key is part of the persisted state,
// i.e. the record was loaded from or saved to a backend.
func (r *Record) IsLoaded() bool {
	_, ok := r.original[r.primaryKey]
	return ok
}

// Snapshot returns the effective value of every known field.
func (r *Record) Snapshot() Fields {
	out := r.original.Clone()
	maps.Copy(out, r.pending)
	return out
}
