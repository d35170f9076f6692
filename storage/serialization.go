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
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/keepsake/core"
)

// Value tags. The numbering is part of the on-disk format; append only.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagUint
	tagFloat
	tagString
	tagBytes
	tagTime
)

// Row is a stored record: its key plus its fields.
type Row struct {
	Key    any
	Fields core.Fields
}

type encodedField struct {
	name  string
	tag   byte
	value any
}

// normalize maps a Go value onto one of the encodable kinds. Integers widen to
// int64/uint64, floats to float64, and times to UTC with microsecond precision.
func normalize(v any) (byte, any, error) {
	switch x := v.(type) {
	case nil:
		return tagNil, nil, nil
	case bool:
		return tagBool, x, nil
	case int:
		return tagInt, int64(x), nil
	case int8:
		return tagInt, int64(x), nil
	case int16:
		return tagInt, int64(x), nil
	case int32:
		return tagInt, int64(x), nil
	case int64:
		return tagInt, x, nil
	case uint:
		return tagUint, uint64(x), nil
	case uint8:
		return tagUint, uint64(x), nil
	case uint16:
		return tagUint, uint64(x), nil
	case uint32:
		return tagUint, uint64(x), nil
	case uint64:
		return tagUint, x, nil
	case float32:
		return tagFloat, float64(x), nil
	case float64:
		return tagFloat, x, nil
	case string:
		return tagString, x, nil
	case []byte:
		return tagBytes, x, nil
	case time.Time:
		return tagTime, x.UnixMicro(), nil
	default:
		return 0, nil, fmt.Errorf("%w: unsupported value type %T", ErrSerializationFailed, v)
	}
}

// NormalizeValue returns v as it reads back after a trip through storage.
func NormalizeValue(v any) (any, error) {
	tag, n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	if tag == tagTime {
		return time.UnixMicro(n.(int64)).UTC(), nil
	}
	return n, nil
}

func sizeValue(tag byte, v any) int {
	size := 1
	switch tag {
	case tagBool:
		size += ord.Bool.Size(v.(bool))
	case tagInt, tagTime:
		size += varint.Int64.Size(v.(int64))
	case tagUint:
		size += varint.Uint64.Size(v.(uint64))
	case tagFloat:
		size += raw.Float64.Size(v.(float64))
	case tagString:
		size += ord.String.Size(v.(string))
	case tagBytes:
		size += ord.ByteSlice.Size(v.([]byte))
	}
	return size
}

func marshalValue(tag byte, v any, bs []byte) int {
	bs[0] = tag
	n := 1
	switch tag {
	case tagBool:
		n += ord.Bool.Marshal(v.(bool), bs[n:])
	case tagInt, tagTime:
		n += varint.Int64.Marshal(v.(int64), bs[n:])
	case tagUint:
		n += varint.Uint64.Marshal(v.(uint64), bs[n:])
	case tagFloat:
		n += raw.Float64.Marshal(v.(float64), bs[n:])
	case tagString:
		n += ord.String.Marshal(v.(string), bs[n:])
	case tagBytes:
		n += ord.ByteSlice.Marshal(v.([]byte), bs[n:])
	}
	return n
}

func unmarshalValue(bs []byte) (any, int, error) {
	if len(bs) == 0 {
		return nil, 0, ErrTruncatedData
	}
	tag := bs[0]
	var (
		v   any
		n   int
		err error
	)
	switch tag {
	case tagNil:
		return nil, 1, nil
	case tagBool:
		v, n, err = ord.Bool.Unmarshal(bs[1:])
	case tagInt:
		v, n, err = varint.Int64.Unmarshal(bs[1:])
	case tagUint:
		v, n, err = varint.Uint64.Unmarshal(bs[1:])
	case tagFloat:
		v, n, err = raw.Float64.Unmarshal(bs[1:])
	case tagString:
		v, n, err = ord.String.Unmarshal(bs[1:])
	case tagBytes:
		v, n, err = ord.ByteSlice.Unmarshal(bs[1:])
	case tagTime:
		var micros int64
		micros, n, err = varint.Int64.Unmarshal(bs[1:])
		v = time.UnixMicro(micros).UTC()
	default:
		return nil, 0, fmt.Errorf("%w: unknown value tag %d", ErrSerializationFailed, tag)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v, n + 1, nil
}

// MarshalRow serializes a row to bytes.
// Fields are written in name order so equal rows encode identically.
func MarshalRow(row Row) ([]byte, error) {
	keyTag, key, err := normalize(row.Key)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}

	names := make([]string, 0, len(row.Fields))
	for name := range row.Fields {
		names = append(names, name)
	}
	slices.Sort(names)

	fields := make([]encodedField, 0, len(names))
	size := sizeValue(keyTag, key) + varint.Int64.Size(int64(len(names)))
	for _, name := range names {
		tag, v, err := normalize(row.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, encodedField{name: name, tag: tag, value: v})
		size += ord.String.Size(name) + sizeValue(tag, v)
	}

	buf := make([]byte, size)
	n := marshalValue(keyTag, key, buf)
	n += varint.Int64.Marshal(int64(len(fields)), buf[n:])
	for _, f := range fields {
		n += ord.String.Marshal(f.name, buf[n:])
		n += marshalValue(f.tag, f.value, buf[n:])
	}
	return buf[:n], nil
}

// UnmarshalRow deserializes a row from bytes.
func UnmarshalRow(data []byte) (Row, error) {
	key, n, err := unmarshalValue(data)
	if err != nil {
		return Row{}, err
	}

	count, m, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return Row{}, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	n += m
	// Every field takes at least two bytes.
	if count < 0 || count > int64(len(data)-n) {
		return Row{}, ErrTruncatedData
	}

	fields := make(core.Fields, count)
	for i := int64(0); i < count; i++ {
		name, m, err := ord.String.Unmarshal(data[n:])
		if err != nil {
			return Row{}, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
		}
		n += m
		v, m, err := unmarshalValue(data[n:])
		if err != nil {
			return Row{}, fmt.Errorf("field %q: %w", name, err)
		}
		n += m
		fields[name] = v
	}

	return Row{Key: key, Fields: fields}, nil
}

// MarshalFields serializes fields without a key.
func MarshalFields(fields core.Fields) ([]byte, error) {
	return MarshalRow(Row{Fields: fields})
}

// UnmarshalFields deserializes fields written by MarshalFields.
func UnmarshalFields(data []byte) (core.Fields, error) {
	row, err := UnmarshalRow(data)
	if err != nil {
		return nil, err
	}
	return row.Fields, nil
}
