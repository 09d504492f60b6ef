package db

import (
	"fmt"
	"strconv"
)

// Kind is the dynamic type of a Value
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindBool
	KindText
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindJSON:
		return "json"
	}
	return "unknown"
}

// Value is a typed cell value. The zero Value is SQL NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Values maps column names (element keys or admin columns) to values
type Values map[string]Value

func Null() Value          { return Value{} }
func Int(v int64) Value    { return Value{kind: KindInteger, i: v} }
func Real(v float64) Value { return Value{kind: KindReal, f: v} }
func Text(v string) Value  { return Value{kind: KindText, s: v} }
func JSON(v string) Value  { return Value{kind: KindJSON, s: v} }

func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// TextOrNull returns Null for the empty string
func TextOrNull(v string) Value {
	if v == "" {
		return Null()
	}
	return Text(v)
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInteger
}

func (v Value) AsReal() (float64, bool) {
	switch v.kind {
	case KindReal:
		return v.f, true
	case KindInteger:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsBool() (bool, bool) {
	return v.i != 0, v.kind == KindBool
}

// AsText returns the string form of text and JSON values
func (v Value) AsText() (string, bool) {
	return v.s, v.kind == KindText || v.kind == KindJSON
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	default:
		return v.s
	}
}

// Equal compares kind and payload
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindReal:
		return v.f == o.f
	case KindText, KindJSON:
		return v.s == o.s
	default:
		return v.i == o.i
	}
}

// storage returns the driver value written to SQLite
func (v Value) storage() interface{} {
	switch v.kind {
	case KindInteger, KindBool:
		return v.i
	case KindReal:
		return v.f
	case KindText, KindJSON:
		return v.s
	}
	return nil
}

func (vs Values) clone() Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

func (vs Values) has(key string) bool {
	_, ok := vs[key]
	return ok
}

// missingOrNull reports whether key is absent or explicitly NULL
func (vs Values) missingOrNull(key string) bool {
	v, ok := vs[key]
	return !ok || v.IsNull()
}

func (vs Values) text(key string) string {
	s, _ := vs[key].AsText()
	return s
}

// valueFromStorage converts a scanned driver value into a Value typed by the
// column's data type.
func valueFromStorage(raw interface{}, dt ElementDataType) (Value, error) {
	if raw == nil {
		return Null(), nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	switch dt {
	case DataTypeInteger:
		switch x := raw.(type) {
		case int64:
			return Int(x), nil
		case float64:
			return Int(int64(x)), nil
		case string:
			n, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("integer column holds %q: %w", x, err)
			}
			return Int(n), nil
		}
	case DataTypeNumber:
		switch x := raw.(type) {
		case float64:
			return Real(x), nil
		case int64:
			return Real(float64(x)), nil
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return Value{}, fmt.Errorf("number column holds %q: %w", x, err)
			}
			return Real(f), nil
		}
	case DataTypeBool:
		switch x := raw.(type) {
		case int64:
			return Bool(x != 0), nil
		case float64:
			return Bool(x != 0), nil
		case bool:
			return Bool(x), nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return Value{}, fmt.Errorf("bool column holds %q: %w", x, err)
			}
			return Bool(b), nil
		}
	case DataTypeArray, DataTypeObject:
		if s, ok := raw.(string); ok {
			return JSON(s), nil
		}
	default:
		switch x := raw.(type) {
		case string:
			return Text(x), nil
		case int64:
			return Text(strconv.FormatInt(x, 10)), nil
		case float64:
			return Text(strconv.FormatFloat(x, 'g', -1, 64)), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected stored value %T for %s column", raw, dt)
}

// adminValueFromStorage converts a scanned admin column value
func adminValueFromStorage(col string, raw interface{}) Value {
	if raw == nil {
		return Null()
	}
	if col == ColConflictType {
		switch x := raw.(type) {
		case int64:
			return Int(x)
		case float64:
			return Int(int64(x))
		}
	}
	switch x := raw.(type) {
	case []byte:
		return Text(string(x))
	case string:
		return Text(x)
	case int64:
		return Text(strconv.FormatInt(x, 10))
	}
	return Text(fmt.Sprint(raw))
}

// coerce checks that v may be written to a column of type dt and returns the
// value as it will be stored.
func coerce(v Value, dt ElementDataType) (Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch dt {
	case DataTypeInteger:
		if v.kind == KindInteger {
			return v, nil
		}
	case DataTypeNumber:
		if f, ok := v.AsReal(); ok {
			return Real(f), nil
		}
	case DataTypeBool:
		if v.kind == KindBool {
			return v, nil
		}
	case DataTypeArray, DataTypeObject:
		if s, ok := v.AsText(); ok {
			return JSON(s), nil
		}
	default:
		if v.kind == KindText {
			return v, nil
		}
	}
	return Value{}, fmt.Errorf("%s value cannot be stored in a %s column", v.kind, dt)
}
