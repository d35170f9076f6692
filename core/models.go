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

import "maps"

// DefaultPrimaryKey is the primary key field name used when none is configured.
const DefaultPrimaryKey = "id"

// Fields is a set of named field values. It is the shape of both a record's
// state and the raw data exchanged with storage backends.
type Fields map[string]any

// Clone returns a shallow copy of f. A nil Fields clones to an empty, non-nil map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	maps.Copy(out, f)
	return out
}

// Change describes a single field in a record diff.
type Change struct {
	Original    any  // Value last persisted; nil when HadOriginal is false
	HadOriginal bool // Whether the field existed in the persisted state at all
	Changed     any  // Pending value
}

// Item is anything a repository can persist. Structs that embed *Record
// satisfy it through the promoted AsRecord method.
type Item interface {
	AsRecord() *Record
}
