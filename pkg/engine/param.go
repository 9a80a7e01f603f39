package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// ParamType is the wire type tag of a bound parameter
type ParamType byte

const (
	ParamString  ParamType = 's'
	ParamInteger ParamType = 'i'
	ParamDouble  ParamType = 'd'
)

func (t ParamType) String() string {
	return string(rune(t))
}

// Param is a value ready to be bound, already converted to the Go type
// that matches its tag: string (or nil), int64, float64.
type Param struct {
	Type  ParamType
	Value interface{}
}

// InferParamType picks the tag for a value from its runtime category.
// Only integers and floats get their own tag; booleans, nil, times,
// structs, maps and slices are all bound as strings. Unsigned values
// beyond the int64 range are bound as decimal strings too.
func InferParamType(v interface{}) ParamType {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ParamInteger
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if rv.Uint() > math.MaxInt64 {
			return ParamString
		}
		return ParamInteger
	case reflect.Float32, reflect.Float64:
		return ParamDouble
	default:
		return ParamString
	}
}

// BindParams tags and converts every value
func BindParams(values []interface{}) []Param {
	params := make([]Param, len(values))
	for i, v := range values {
		v = indirect(v)
		t := InferParamType(v)
		params[i] = Param{Type: t, Value: convertParam(t, v)}
	}
	return params
}

// Values returns the converted values in order
func Values(params []Param) []interface{} {
	values := make([]interface{}, len(params))
	for i, p := range params {
		values[i] = p.Value
	}
	return values
}

// TypeString returns the concatenated tags, e.g. "sid"
func TypeString(params []Param) string {
	b := make([]byte, len(params))
	for i, p := range params {
		b[i] = byte(p.Type)
	}
	return string(b)
}

func convertParam(t ParamType, v interface{}) interface{} {
	rv := reflect.ValueOf(v)

	switch t {
	case ParamInteger:
		switch rv.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return int64(rv.Uint())
		default:
			return rv.Int()
		}
	case ParamDouble:
		return rv.Float()
	}

	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	}

	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case time.Time:
		return val.Format("2006-01-02 15:04:05.999999")
	case fmt.Stringer:
		return val.String()
	}

	if encoded, err := json.Marshal(v); err == nil {
		return string(encoded)
	}
	return fmt.Sprintf("%v", v)
}

// indirect follows pointers down to the value they reference; nil
// pointers become nil.
func indirect(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}
