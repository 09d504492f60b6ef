package db

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// flattenValues replaces every structured non-retained column value with
// values for its stored descendants. Each structured value is a JSON object
// whose members are keyed by child element name. Absent members store NULL.
func flattenValues(oc *OrderedColumns, values Values) error {
	pending := make(map[string]Value)
	for key, v := range values {
		if IsAdminColumn(key) {
			continue
		}
		def, ok := oc.Find(key)
		if !ok {
			return InvalidArgumentError{Op: "flatten", Reason: fmt.Sprintf("unknown column %q", key)}
		}
		if !def.IsUnitOfRetention() {
			pending[key] = v
		}
	}
	for key := range pending {
		delete(values, key)
	}

	for len(pending) > 0 {
		next := make(map[string]Value)
		for key, v := range pending {
			if v.IsNull() {
				continue
			}
			raw, ok := v.AsText()
			if !ok || !gjson.Valid(raw) {
				return InvalidArgumentError{Op: "flatten", Reason: fmt.Sprintf("column %s requires a JSON object", key)}
			}
			doc := gjson.Parse(raw)
			if !doc.IsObject() {
				return InvalidArgumentError{Op: "flatten", Reason: fmt.Sprintf("column %s requires a JSON object", key)}
			}
			members := make(map[string]gjson.Result)
			doc.ForEach(func(k, val gjson.Result) bool {
				members[k.String()] = val
				return true
			})

			def, _ := oc.Find(key)
			for _, child := range def.Children() {
				member, present := members[child.ElementName]
				if !child.IsUnitOfRetention() {
					if present && member.Type != gjson.Null {
						next[child.ElementKey] = JSON(member.Raw)
					}
					continue
				}
				if !present {
					values[child.ElementKey] = Null()
					continue
				}
				cv, err := valueFromJSON(member, child.Type.DataType)
				if err != nil {
					return InvalidArgumentError{Op: "flatten", Reason: fmt.Sprintf("column %s: %v", child.ElementKey, err)}
				}
				values[child.ElementKey] = cv
			}
		}
		pending = next
	}
	return nil
}

func valueFromJSON(r gjson.Result, dt ElementDataType) (Value, error) {
	if r.Type == gjson.Null {
		return Null(), nil
	}
	switch dt {
	case DataTypeInteger:
		if r.Type == gjson.Number {
			return Int(r.Int()), nil
		}
	case DataTypeNumber:
		if r.Type == gjson.Number {
			return Real(r.Float()), nil
		}
	case DataTypeBool:
		if r.Type == gjson.True || r.Type == gjson.False {
			return Bool(r.Bool()), nil
		}
	case DataTypeArray, DataTypeObject:
		if r.IsArray() || r.IsObject() {
			return JSON(r.Raw), nil
		}
	default:
		switch r.Type {
		case gjson.String:
			return Text(r.Str), nil
		case gjson.Number:
			return Text(r.Raw), nil
		}
	}
	return Value{}, fmt.Errorf("JSON %s does not fit a %s column", r.Type, dt)
}
