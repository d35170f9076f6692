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


package badger

import (
	"encoding/binary"

	"github.com/go-crypt/x/blake2b"
)

// Key prefixes for different data types
const (
	recordPrefix   = "rec:"
	sequencePrefix = "seq:"
	typeTagSize    = 8
)

// typeTag hashes a type hint to a fixed-width tag so that one type's key
// range can never be a prefix of another's.
func typeTag(typ string) []byte {
	h, _ := blake2b.New(typeTagSize, nil) // 8 bytes = 64 bits
	h.Write([]byte(typ))
	return h.Sum(nil)
}

// makeTypePrefix generates the prefix shared by every record of a type.
// Format: prefix:tag
func makeTypePrefix(typ string) []byte {
	buf := make([]byte, 0, len(recordPrefix)+typeTagSize)
	buf = append(buf, recordPrefix...)
	return append(buf, typeTag(typ)...)
}

// makeRecordKey generates a key for a record by type and ID.
// Format: prefix:tag:id
func makeRecordKey(typ string, id uint64) []byte {
	buf := makeTypePrefix(typ)
	// Write in BigEndian order so lexicographic sort works correctly
	return binary.BigEndian.AppendUint64(buf, id)
}

// makeSequenceKey generates the key of a type's ID sequence.
func makeSequenceKey(typ string) []byte {
	buf := make([]byte, 0, len(sequencePrefix)+typeTagSize)
	buf = append(buf, sequencePrefix...)
	return append(buf, typeTag(typ)...)
}
