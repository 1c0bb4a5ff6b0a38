// Package codec converts values to and from the JSON wire format shared with
// clients. Arrays and node references are wrapped in a two-element array
// whose first item is a type tag, so a decoder holding the live tree can
// rebuild them; objects and scalars are written as plain JSON.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/pkg/statetree"
)

// Type tags.
const (
	// NodeType tags a node reference: [0, nodeId].
	NodeType = 0
	// ArrayType tags an array: [1, [items...]].
	ArrayType = 1
)

// NodeResolver looks up live nodes by id. *statetree.Tree implements it.
type NodeResolver interface {
	NodeByID(id int) (*statetree.StateNode, bool)
}

// EncodeWithTypeInfo converts v to a JSON-ready value with type tags.
// An unattached node encodes as null.
func EncodeWithTypeInfo(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return t, nil
	case *statetree.StateNode:
		if t == nil || !t.IsAttached() {
			return nil, nil
		}
		return []any{NodeType, t.ID()}, nil
	case json.RawMessage:
		decoded, err := DecodeWithoutTypeInfo(t)
		if err != nil {
			return nil, err
		}
		return decoded, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return EncodeWithTypeInfo(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		items := make([]any, rv.Len())
		for i := range items {
			item, err := EncodeWithTypeInfo(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return []any{ArrayType, items}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errors.UnsupportedType(rv.Type().String()).
				WithDetail("reason", "map keys must be strings")
		}
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := EncodeWithTypeInfo(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = item
		}
		return out, nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, errors.UnsupportedType(fmt.Sprintf("%T", v))
}

// Marshal encodes v with type information as JSON bytes.
func Marshal(v any) ([]byte, error) {
	encoded, err := EncodeWithTypeInfo(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(encoded)
}

// DecodeWithTypeInfo reverses EncodeWithTypeInfo. Node references resolve
// through resolver; a reference to an unknown node is an error, never nil.
func DecodeWithTypeInfo(resolver NodeResolver, data []byte) (any, error) {
	raw, err := parse(data)
	if err != nil {
		return nil, err
	}
	return decodeTyped(resolver, raw)
}

func decodeTyped(resolver NodeResolver, v any) (any, error) {
	switch t := v.(type) {
	case []any:
		if len(t) != 2 {
			return nil, errors.New(errors.ErrCodeMalformedJSON, "array without type tag").
				WithDetail("length", len(t))
		}
		tag, ok := t[0].(float64)
		if !ok {
			return nil, errors.New(errors.ErrCodeMalformedJSON, "type tag is not a number")
		}
		switch tag {
		case NodeType:
			id, ok := t[1].(float64)
			if !ok {
				return nil, errors.New(errors.ErrCodeMalformedJSON, "node reference without numeric id")
			}
			if id != math.Trunc(id) || id < 0 || id > math.MaxInt32 {
				return nil, errors.New(errors.ErrCodeMalformedJSON, "node id is not a whole number").
					WithDetail("id", id)
			}
			if resolver == nil {
				return nil, errors.UnknownNode(int(id))
			}
			node, found := resolver.NodeByID(int(id))
			if !found {
				return nil, errors.UnknownNode(int(id))
			}
			return node, nil
		case ArrayType:
			items, ok := t[1].([]any)
			if !ok {
				return nil, errors.New(errors.ErrCodeMalformedJSON, "array tag without array payload")
			}
			out := make([]any, len(items))
			for i, item := range items {
				decoded, err := decodeTyped(resolver, item)
				if err != nil {
					return nil, err
				}
				out[i] = decoded
			}
			return out, nil
		default:
			return nil, errors.New(errors.ErrCodeMalformedJSON, "unknown type tag").
				WithDetail("tag", tag)
		}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			decoded, err := decodeTyped(resolver, item)
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		}
		return out, nil
	default:
		return t, nil
	}
}

// DecodeWithoutTypeInfo decodes a scalar or null. Arrays and objects carry
// no reconstruction information in this form and are rejected.
func DecodeWithoutTypeInfo(data []byte) (any, error) {
	raw, err := parse(data)
	if err != nil {
		return nil, err
	}
	switch raw.(type) {
	case []any:
		return nil, errors.UnsupportedType("array").
			WithDetail("reason", "compound values need type information")
	case map[string]any:
		return nil, errors.UnsupportedType("object").
			WithDetail("reason", "compound values need type information")
	}
	return raw, nil
}

// DecodeAs decodes data with type information and converts the result to T.
func DecodeAs[T any](resolver NodeResolver, data []byte) (T, error) {
	var zero T
	v, err := DecodeWithTypeInfo(resolver, data)
	if err != nil {
		return zero, err
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	if v == nil {
		return zero, nil
	}

	// Plain JSON values convert through a re-encode, e.g. float64 to int.
	b, err := json.Marshal(v)
	if err != nil {
		return zero, errors.UnsupportedType(fmt.Sprintf("%T", v))
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, errors.Wrap(err, errors.ErrCodeUnsupportedType, "value does not convert").
			WithDetail("target", fmt.Sprintf("%T", zero))
	}
	return out, nil
}

func parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedJSON, "invalid JSON")
	}
	if dec.More() {
		return nil, errors.New(errors.ErrCodeMalformedJSON, "trailing data after JSON value")
	}
	return v, nil
}
