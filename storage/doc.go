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


// Package storage provides the storage abstraction layer for keepsake.
//
// The central type is Delegate, the contract every backend implements. A
// delegate stores flat records of named fields grouped by a type hint and
// addressed by a primary key it assigns on insert. Repositories hold a
// delegate and never talk to a database directly.
//
// # Backends
//
//   - memory: process-local maps, for tests and throwaway stores
//   - badger: embedded key/value store on disk or in memory
//   - sqlite: one table per type with an encoded data column
//   - redis: one hash per type plus an INCR sequence
//   - postgres: one table per type with a bytea data column
//
// Decorators in storage/retry and storage/metrics wrap any delegate.
//
// # Type hints
//
// Type hints name tables and key prefixes, so they must be plain identifiers.
// See ValidateType.
//
// # Keys
//
// Every backend in this module assigns int64 keys. Lookups accept any value
// whose KeyString matches, so 7, int64(7) and "7" address the same record.
//
// # Row encoding
//
// Backends that store opaque bytes encode rows with MarshalRow. The encoding
// is a tagged binary format built on mus-go. Values are normalized on the way
// in: integers widen to int64 or uint64, floats to float64, and times are kept
// to the microsecond in UTC. Values of other types are rejected with
// ErrSerializationFailed.
//
// # Thread Safety
//
// All delegate implementations must be safe for concurrent use.
package storage
