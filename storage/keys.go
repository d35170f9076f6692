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


package storage

import (
	"fmt"
	"regexp"
	"strconv"
)

// Type hints double as table names in SQL backends, so they are restricted
// to plain identifiers everywhere.
var typePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateType checks that typ can name a storage location.
func ValidateType(typ string) error {
	if !typePattern.MatchString(typ) {
		return fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	return nil
}

// KeyString renders a primary key value in the canonical string form used to
// address records. Integer keys of any width render identically, so 7,
// int64(7) and "7" all address the same record.
func KeyString(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case []byte:
		return string(k)
	case int:
		return strconv.FormatInt(int64(k), 10)
	case int8:
		return strconv.FormatInt(int64(k), 10)
	case int16:
		return strconv.FormatInt(int64(k), 10)
	case int32:
		return strconv.FormatInt(int64(k), 10)
	case int64:
		return strconv.FormatInt(k, 10)
	case uint:
		return strconv.FormatUint(uint64(k), 10)
	case uint8:
		return strconv.FormatUint(uint64(k), 10)
	case uint16:
		return strconv.FormatUint(uint64(k), 10)
	case uint32:
		return strconv.FormatUint(uint64(k), 10)
	case uint64:
		return strconv.FormatUint(k, 10)
	case fmt.Stringer:
		return k.String()
	default:
		return fmt.Sprint(v)
	}
}

// IntKey converts a primary key value to the int64 used by backends with
// integer keys. The second result is false if v is not an integer or a
// string holding one.
func IntKey(v any) (int64, bool) {
	n, err := strconv.ParseInt(KeyString(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
