package hclscript

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ToValue converts a Go value to cty. Generic containers ([]any and
// map[string]any) become tuples and objects; other types go through gocty.
func ToValue(value any) (cty.Value, error) {
	switch typed := value.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return typed, nil
	case string:
		return cty.StringVal(typed), nil
	case bool:
		return cty.BoolVal(typed), nil
	case int:
		return cty.NumberIntVal(int64(typed)), nil
	case int32:
		return cty.NumberIntVal(int64(typed)), nil
	case int64:
		return cty.NumberIntVal(typed), nil
	case uint64:
		return cty.NumberUIntVal(typed), nil
	case float32:
		return cty.NumberFloatVal(float64(typed)), nil
	case float64:
		return cty.NumberFloatVal(typed), nil
	case []any:
		values := make([]cty.Value, len(typed))
		for index, element := range typed {
			converted, err := ToValue(element)
			if err != nil {
				return cty.NilVal, fmt.Errorf("index %d: %w", index, err)
			}
			values[index] = converted
		}
		return cty.TupleVal(values), nil
	case map[string]any:
		values := make(map[string]cty.Value, len(typed))
		for key, element := range typed {
			converted, err := ToValue(element)
			if err != nil {
				return cty.NilVal, fmt.Errorf("key %q: %w", key, err)
			}
			values[key] = converted
		}
		return cty.ObjectVal(values), nil
	}

	ty, err := gocty.ImpliedType(value)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty type: %w", err)
	}
	return gocty.ToCtyValue(value, ty)
}

// ToGo converts a cty value to its natural Go counterpart. Whole numbers
// become int64, other numbers float64.
func ToGo(value cty.Value) (any, error) {
	if value.IsNull() || !value.IsKnown() {
		return nil, nil
	}

	ty := value.Type()
	switch {
	case ty == cty.String:
		return value.AsString(), nil
	case ty == cty.Bool:
		return value.True(), nil
	case ty == cty.Number:
		number := value.AsBigFloat()
		if number.IsInt() {
			if integer, accuracy := number.Int64(); accuracy == big.Exact {
				return integer, nil
			}
		}
		float, _ := number.Float64()
		return float, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, value.LengthInt())
		it := value.ElementIterator()
		for it.Next() {
			_, element := it.Element()
			converted, err := ToGo(element)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, value.LengthInt())
		it := value.ElementIterator()
		for it.Next() {
			key, element := it.Element()
			converted, err := ToGo(element)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported cty type %s", ty.FriendlyName())
	}
}

// ToJSON encodes a wholly known cty value as plain JSON.
func ToJSON(value cty.Value) ([]byte, error) {
	if !value.IsWhollyKnown() {
		return nil, errors.New("value is not known")
	}
	if value.IsNull() {
		return []byte("null"), nil
	}
	return ctyjson.Marshal(value, value.Type())
}

// FromJSON decodes JSON into a cty value of the implied type.
func FromJSON(data []byte) (cty.Value, error) {
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(data, ty)
}
