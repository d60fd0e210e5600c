package interp

import (
	"fmt"
	"strconv"

	"github.com/chazu/loom/ir"
)

// Value is anything the evaluation stack can hold: nil, int64 for every
// integer and boolean, float64, string, *Object or *Array. Boxing is the
// identity, so a boxed value is the value itself.
type Value = any

// Object is an instance of a type defined in some module.
type Object struct {
	Type   *ir.TypeDef
	Fields map[string]Value
}

// NewObject allocates an instance of t with every field unset.
func NewObject(t *ir.TypeDef) *Object {
	return &Object{Type: t, Fields: make(map[string]Value)}
}

// Array is a single-dimension object array.
type Array struct {
	Elems []Value
}

// Exception is a thrown object that nothing caught.
type Exception struct {
	Type    string
	Message string
}

func (x *Exception) Error() string {
	if x.Type == "" {
		return "unhandled exception: " + x.Message
	}
	return fmt.Sprintf("unhandled %s: %s", x.Type, x.Message)
}

func exceptionOf(v Value) *Exception {
	if obj, ok := v.(*Object); ok {
		msg, _ := obj.Fields["message"].(string)
		return &Exception{Type: obj.Type.FullName(), Message: msg}
	}
	return &Exception{Message: Format(v)}
}

// Format renders a value the way Console.WriteLine prints it.
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case *Object:
		return x.Type.FullName()
	case *Array:
		return "System.Object[]"
	default:
		return fmt.Sprint(x)
	}
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}

func boolValue(b bool) Value {
	if b {
		return int64(1)
	}
	return int64(0)
}

func equal(a, b Value) bool {
	switch x := a.(type) {
	case int64, float64, string, nil:
		return a == b
	case *Object:
		y, ok := b.(*Object)
		return ok && x == y
	case *Array:
		y, ok := b.(*Array)
		return ok && x == y
	}
	return false
}
