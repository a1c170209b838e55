package scripts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// expectation is a small chai-style assertion chain. Failures throw an
// AssertionError which test() records against the enclosing case.
type expectation struct {
	s      *sandbox
	actual goja.Value
	negate bool
	root   *goja.Object
}

func (s *sandbox) expect(call goja.FunctionCall) goja.Value {
	return s.newExpectation(call.Argument(0), false)
}

func (s *sandbox) newExpectation(actual goja.Value, negate bool) *goja.Object {
	e := &expectation{s: s, actual: actual, negate: negate}
	vm := s.vm

	be := vm.NewObject()
	_ = be.Set("a", e.fn(e.typeOf))
	_ = be.Set("an", e.fn(e.typeOf))
	_ = be.Set("above", e.fn(e.above))
	_ = be.Set("below", e.fn(e.below))
	e.flag(be, "ok", func() (bool, string) {
		return actual.ToBoolean(), "to be truthy"
	})
	e.flag(be, "true", func() (bool, string) {
		return actual.StrictEquals(vm.ToValue(true)), "to be true"
	})
	e.flag(be, "false", func() (bool, string) {
		return actual.StrictEquals(vm.ToValue(false)), "to be false"
	})
	e.flag(be, "null", func() (bool, string) {
		return goja.IsNull(actual), "to be null"
	})
	e.flag(be, "undefined", func() (bool, string) {
		return goja.IsUndefined(actual), "to be undefined"
	})

	have := vm.NewObject()
	_ = have.Set("property", e.fn(e.property))
	_ = have.Set("length", e.fn(e.length))
	_ = have.Set("lengthOf", e.fn(e.length))

	to := vm.NewObject()
	_ = to.Set("be", be)
	_ = to.Set("have", have)
	_ = to.Set("equal", e.fn(e.equal))
	_ = to.Set("eql", e.fn(e.eql))
	_ = to.Set("include", e.fn(e.include))
	_ = to.Set("contain", e.fn(e.include))

	root := vm.NewObject()
	_ = root.Set("to", to)
	_ = root.Set("equal", e.fn(e.equal))
	_ = root.Set("eql", e.fn(e.eql))
	e.root = root

	if !negate {
		negated := s.newExpectation(actual, true)
		_ = to.Set("not", negated.Get("to"))
		_ = root.Set("not", negated)
	}
	return root
}

type check func(expected goja.Value) (bool, string)

func (e *expectation) fn(c check) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		pass, what := c(call.Argument(0))
		e.assert(pass, what)
		return e.root
	}
}

// flag defines a property assertion such as `.to.be.ok`.
func (e *expectation) flag(obj *goja.Object, name string, c func() (bool, string)) {
	getter := e.s.vm.ToValue(func(goja.FunctionCall) goja.Value {
		pass, what := c()
		e.assert(pass, what)
		return e.root
	})
	_ = obj.DefineAccessorProperty(name, getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

func (e *expectation) assert(pass bool, what string) {
	if pass != e.negate {
		return
	}
	prefix := "expected"
	if e.negate {
		prefix = "expected not"
	}
	panic(e.s.assertionError(fmt.Sprintf("%s %s %s", prefix, formatValue(e.actual), what)))
}

func (s *sandbox) assertionError(msg string) goja.Value {
	obj, err := s.vm.New(s.vm.Get("Error"), s.vm.ToValue(msg))
	if err != nil {
		return s.vm.NewTypeError("%s", msg)
	}
	_ = obj.Set("name", "AssertionError")
	return obj
}

func (e *expectation) typeOf(expected goja.Value) (bool, string) {
	want := strings.ToLower(expected.String())
	return typeName(e.actual) == want, "to be a " + want
}

func (e *expectation) equal(expected goja.Value) (bool, string) {
	return e.actual.StrictEquals(expected), "to equal " + formatValue(expected)
}

func (e *expectation) eql(expected goja.Value) (bool, string) {
	return deepEqual(e.actual.Export(), expected.Export()), "to deeply equal " + formatValue(expected)
}

func (e *expectation) above(expected goja.Value) (bool, string) {
	return e.actual.ToFloat() > expected.ToFloat(), "to be above " + expected.String()
}

func (e *expectation) below(expected goja.Value) (bool, string) {
	return e.actual.ToFloat() < expected.ToFloat(), "to be below " + expected.String()
}

func (e *expectation) include(expected goja.Value) (bool, string) {
	what := "to include " + formatValue(expected)
	switch actual := e.actual.Export().(type) {
	case string:
		return strings.Contains(actual, expected.String()), what
	case []any:
		for _, item := range actual {
			if deepEqual(item, expected.Export()) {
				return true, what
			}
		}
		return false, what
	case map[string]any:
		if sub, ok := expected.Export().(map[string]any); ok {
			for k, v := range sub {
				if got, ok := actual[k]; !ok || !deepEqual(got, v) {
					return false, what
				}
			}
			return true, what
		}
		_, ok := actual[expected.String()]
		return ok, what
	default:
		return false, what
	}
}

func (e *expectation) property(expected goja.Value) (bool, string) {
	what := "to have property " + expected.String()
	obj, ok := e.actual.(*goja.Object)
	if !ok {
		return false, what
	}
	v := obj.Get(expected.String())
	return v != nil && !goja.IsUndefined(v), what
}

func (e *expectation) length(expected goja.Value) (bool, string) {
	what := "to have length " + expected.String()
	n := -1
	switch actual := e.actual.Export().(type) {
	case string:
		n = len([]rune(actual))
	case []any:
		n = len(actual)
	}
	return n >= 0 && int64(n) == expected.ToInteger(), what
}

func typeName(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "function"
	}
	switch v.Export().(type) {
	case string:
		return "string"
	case int64, float64, int:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	default:
		return "object"
	}
}

// deepEqual compares structurally through JSON so int64 and float64 leaves of
// the same value match.
func deepEqual(a, b any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(left) == string(right)
}
