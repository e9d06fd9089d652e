// Package codec converts the values exchanged with the dispatcher into opaque
// wire tokens and back.
//
// A token is the base64 form of a small versioned JSON envelope. The base64
// alphabet contains no spaces or newlines, so a token can be embedded in a
// length-prefixed frame or a quoted console line without further escaping.
//
// The value model is deliberately small: nil, string, bool, integers
// (decoded as int64), lists ([]any) and string-keyed maps (map[string]any).
//
// Strings are byte strings. One that is not valid UTF-8 travels as the tagged
// object {"$b": <base64>}; a map whose only key is a tag is wrapped as
// {"$m": <map>} so it cannot be mistaken for one.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"unicode/utf8"
)

// WireVersion is the envelope version written by Encode. Decode rejects any
// other version so that mismatched peers fail loudly.
const WireVersion = 1

const (
	bytesTag = "$b"
	mapTag   = "$m"
)

type envelope struct {
	Version int             `json:"v"`
	Value   json.RawMessage `json:"d"`
}

// EncodingError reports a value that cannot be represented on the wire.
type EncodingError struct {
	Path string
	Type string
	Err  error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: cannot encode value at %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("codec: cannot encode value of type %s at %s", e.Type, e.Path)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodingError reports a malformed token or an unexpected value shape.
type DecodingError struct {
	Reason string
	Err    error
}

func (e *DecodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: cannot decode token: %s: %v", e.Reason, e.Err)
	}
	return "codec: cannot decode token: " + e.Reason
}

func (e *DecodingError) Unwrap() error { return e.Err }

// Encode serializes v into a wire token.
func Encode(v any) (string, error) {
	norm, err := normalize("$", v)
	if err != nil {
		return "", err
	}
	wire, err := toWire("$", norm)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", &EncodingError{Path: "$", Err: err}
	}
	env, err := json.Marshal(envelope{Version: WireVersion, Value: raw})
	if err != nil {
		return "", &EncodingError{Path: "$", Err: err}
	}
	return base64.StdEncoding.EncodeToString(env), nil
}

// Decode parses a token produced by Encode.
func Decode(token string) (any, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, &DecodingError{Reason: "invalid base64", Err: err}
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, &DecodingError{Reason: "invalid envelope", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &DecodingError{Reason: "trailing data after envelope"}
	}
	if env.Version != WireVersion {
		return nil, &DecodingError{Reason: fmt.Sprintf("unsupported wire version %d (expected %d)", env.Version, WireVersion)}
	}
	if len(env.Value) == 0 {
		return nil, &DecodingError{Reason: "missing value"}
	}

	vdec := json.NewDecoder(bytes.NewReader(env.Value))
	vdec.UseNumber()
	var raw any
	if err := vdec.Decode(&raw); err != nil {
		return nil, &DecodingError{Reason: "invalid value", Err: err}
	}
	return fromJSON("$", raw)
}

// DecodeMap decodes a token whose value must be a map or nil.
func DecodeMap(token string) (map[string]any, error) {
	v, err := Decode(token)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return m, nil
	default:
		return nil, &DecodingError{Reason: fmt.Sprintf("expected map, got %T", v)}
	}
}

// DecodeString decodes a token whose value must be a string. A nil value
// decodes to the empty string.
func DecodeString(token string) (string, error) {
	v, err := Decode(token)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	default:
		return "", &DecodingError{Reason: fmt.Sprintf("expected string, got %T", v)}
	}
}

func normalize(path string, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return nil, &EncodingError{Path: path, Err: fmt.Errorf("integer %d overflows int64", t)}
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, &EncodingError{Path: path, Err: fmt.Errorf("integer %d overflows int64", t)}
		}
		return int64(t), nil
	case Args:
		if len(t) == 0 {
			return nil, nil
		}
		return normalize(path, t.Map())
	case []string:
		if t == nil {
			return nil, nil
		}
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case map[string]string:
		if t == nil {
			return nil, nil
		}
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, nil
	case []any:
		if t == nil {
			return nil, nil
		}
		out := make([]any, len(t))
		for i, item := range t {
			n, err := normalize(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		if t == nil {
			return nil, nil
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			n, err := normalize(path+"."+k, item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	}

	// Typed slices and maps (e.g. []int64, map[string][]string) go through
	// reflection so callers need not convert them by hand.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := normalize(fmt.Sprintf("%s[%d]", path, i), rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &EncodingError{Path: path, Type: rv.Type().String()}
		}
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			n, err := normalize(path+"."+k, iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	}
	return nil, &EncodingError{Path: path, Type: fmt.Sprintf("%T", v)}
}

// toWire tags the strings of a normalized value that JSON cannot carry.
func toWire(path string, v any) (any, error) {
	switch t := v.(type) {
	case string:
		if utf8.ValidString(t) {
			return t, nil
		}
		return map[string]any{bytesTag: base64.StdEncoding.EncodeToString([]byte(t))}, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			w, err := toWire(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if !utf8.ValidString(k) {
				return nil, &EncodingError{Path: path, Err: fmt.Errorf("map key %q is not valid UTF-8", k)}
			}
			w, err := toWire(path+"."+k, item)
			if err != nil {
				return nil, err
			}
			out[k] = w
		}
		if isTagged(t) {
			return map[string]any{mapTag: out}, nil
		}
		return out, nil
	default:
		return v, nil
	}
}

func isTagged(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	_, b := m[bytesTag]
	_, w := m[mapTag]
	return b || w
}

func fromJSON(path string, v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool:
		return t, nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, &DecodingError{Reason: fmt.Sprintf("non-integer number %s at %s", t, path)}
		}
		return n, nil
	case []any:
		for i, item := range t {
			n, err := fromJSON(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case map[string]any:
		if isTagged(t) {
			return fromTagged(path, t)
		}
		return fromJSONMap(path, t)
	default:
		return nil, &DecodingError{Reason: fmt.Sprintf("unrecognized value %T at %s", v, path)}
	}
}

func fromJSONMap(path string, m map[string]any) (map[string]any, error) {
	for k, item := range m {
		n, err := fromJSON(path+"."+k, item)
		if err != nil {
			return nil, err
		}
		m[k] = n
	}
	return m, nil
}

func fromTagged(path string, m map[string]any) (any, error) {
	if enc, ok := m[bytesTag]; ok {
		s, ok := enc.(string)
		if !ok {
			return nil, &DecodingError{Reason: fmt.Sprintf("byte string at %s is %T", path, enc)}
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &DecodingError{Reason: "invalid byte string at " + path, Err: err}
		}
		return string(data), nil
	}
	inner, ok := m[mapTag].(map[string]any)
	if !ok {
		return nil, &DecodingError{Reason: fmt.Sprintf("wrapped map at %s is %T", path, m[mapTag])}
	}
	return fromJSONMap(path, inner)
}
