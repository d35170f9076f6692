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


package storagetest

import (
	"context"
	"sync"

	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
)

// Call records one operation received by a Stub.
type Call struct {
	Op     string
	Type   string
	PK     storage.PrimaryKey
	Fields core.Fields
}

// Stub is a scriptable storage.Delegate that records every call. Unset
// funcs fall back to defaults: inserts return sequential int64 keys starting
// at 1, updates and deletes report true, finds report not found.
type Stub struct {
	InsertFunc func(ctx context.Context, typ string, fields core.Fields) (any, error)
	UpdateFunc func(ctx context.Context, typ string, pk storage.PrimaryKey, fields core.Fields) (bool, error)
	DeleteFunc func(ctx context.Context, typ string, pk storage.PrimaryKey) (bool, error)
	FindFunc   func(ctx context.Context, typ string, pk storage.PrimaryKey) (core.Fields, error)
	CloseFunc  func() error

	mu      sync.Mutex
	calls   []Call
	nextKey int64
}

var _ storage.Delegate = (*Stub)(nil)

func (s *Stub) record(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Fields != nil {
		c.Fields = c.Fields.Clone()
	}
	s.calls = append(s.calls, c)
}

// Calls returns the calls received so far.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Count returns how many calls of op were received.
func (s *Stub) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (s *Stub) Insert(ctx context.Context, typ string, fields core.Fields) (any, error) {
	s.record(Call{Op: "insert", Type: typ, Fields: fields})
	if s.InsertFunc != nil {
		return s.InsertFunc(ctx, typ, fields)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextKey++
	return s.nextKey, nil
}

func (s *Stub) Update(ctx context.Context, typ string, pk storage.PrimaryKey, fields core.Fields) (bool, error) {
	s.record(Call{Op: "update", Type: typ, PK: pk, Fields: fields})
	if s.UpdateFunc != nil {
		return s.UpdateFunc(ctx, typ, pk, fields)
	}
	return true, nil
}

func (s *Stub) Delete(ctx context.Context, typ string, pk storage.PrimaryKey) (bool, error) {
	s.record(Call{Op: "delete", Type: typ, PK: pk})
	if s.DeleteFunc != nil {
		return s.DeleteFunc(ctx, typ, pk)
	}
	return true, nil
}

func (s *Stub) FindByPrimaryKey(ctx context.Context, typ string, pk storage.PrimaryKey) (core.Fields, error) {
	s.record(Call{Op: "find", Type: typ, PK: pk})
	if s.FindFunc != nil {
		return s.FindFunc(ctx, typ, pk)
	}
	return nil, nil
}

func (s *Stub) Close() error {
	s.record(Call{Op: "close"})
	if s.CloseFunc != nil {
		return s.CloseFunc()
	}
	return nil
}
