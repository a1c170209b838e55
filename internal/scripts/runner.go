package scripts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/restflow/internal/errdef"
)

const DefaultTimeout = 5 * time.Second

const (
	tagLog   = "[LOG]"
	tagInfo  = "[INFO]"
	tagWarn  = "[WARN]"
	tagError = "[ERROR]"
	tagPass  = "[PASS]"
	tagFail  = "[FAIL]"
)

type Runner struct {
	timeout time.Duration
	logger  *zap.Logger
}

type Option func(*Runner)

// WithTimeout caps wall-clock time per script. Zero or negative disables the cap.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) RunPreRequest(script string, ctx *Context) Result {
	return r.run(PhasePreRequest, script, ctx)
}

func (r *Runner) RunTest(script string, ctx *Context) Result {
	return r.run(PhaseTest, script, ctx)
}

func (r *Runner) run(phase Phase, script string, ctx *Context) Result {
	caps := newCapabilities(phase, ctx)
	sb := &sandbox{vm: goja.New(), caps: caps}

	err := sb.exec(normalizeScript(script), r.timeout)
	res := Result{
		Success:   err == nil,
		Logs:      caps.logs,
		Tests:     sb.tests,
		Mutations: caps.mutations,
		Context:   caps.ctx,
	}
	if err != nil {
		res.Err = errdef.Wrap(errdef.CodeScript, err, "%s script", phase)
		res.Logs = append(res.Logs, tagError+" "+errdef.Message(err))
		r.logger.Debug("script failed", zap.String("phase", string(phase)), zap.Error(err))
	}
	return res
}

func normalizeScript(body string) string {
	script := strings.TrimSpace(body)
	if strings.HasPrefix(script, "{%") && strings.HasSuffix(script, "%}") {
		script = strings.TrimSpace(script[2 : len(script)-2])
	}
	return script
}

type sandbox struct {
	vm    *goja.Runtime
	caps  Capabilities
	tests []TestResult
}

type timeoutError struct {
	limit time.Duration
}

func (e timeoutError) Error() string {
	return fmt.Sprintf("script exceeded %s time limit", e.limit)
}

func (s *sandbox) exec(script string, limit time.Duration) (err error) {
	if script == "" {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("script panic: %v", rec)
		}
	}()

	if err := s.bind(); err != nil {
		return err
	}
	if limit > 0 {
		timer := time.AfterFunc(limit, func() {
			s.vm.Interrupt(timeoutError{limit: limit})
		})
		defer timer.Stop()
	}

	if _, err := s.vm.RunString(script); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if te, ok := interrupted.Value().(timeoutError); ok {
				return te
			}
			return errors.New("script interrupted")
		}
		return errors.New(exceptionText(err))
	}
	return nil
}

func (s *sandbox) bind() error {
	env := s.variablesAPI(ScopeEnvironment)
	globals := s.variablesAPI(ScopeGlobals)
	req := s.requestAPI()
	var resp goja.Value = goja.Undefined()
	if s.caps.Phase() == PhaseTest && s.caps.Response() != nil {
		resp = s.responseAPI()
	}

	pm := s.vm.NewObject()
	bindings := []struct {
		name  string
		value any
	}{
		{"console", s.consoleAPI()},
		{"environment", env},
		{"globals", globals},
		{"request", req},
		{"response", resp},
		{"test", s.test},
		{"expect", s.expect},
		{"pm", pm},
	}
	for _, b := range bindings {
		if err := s.vm.Set(b.name, b.value); err != nil {
			return errdef.Wrap(errdef.CodeScript, err, "bind %s api", b.name)
		}
		if b.name == "console" || b.name == "pm" {
			continue
		}
		if err := pm.Set(b.name, b.value); err != nil {
			return errdef.Wrap(errdef.CodeScript, err, "bind pm.%s", b.name)
		}
	}
	return pm.Set("variables", s.mergedVariablesAPI())
}

func (s *sandbox) consoleAPI() map[string]any {
	return map[string]any{
		"log":   s.logFn(tagLog),
		"info":  s.logFn(tagInfo),
		"warn":  s.logFn(tagWarn),
		"error": s.logFn(tagError),
		"debug": s.logFn(tagLog),
	}
}

func (s *sandbox) logFn(tag string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments)+1)
		parts = append(parts, tag)
		for _, arg := range call.Arguments {
			parts = append(parts, formatValue(arg))
		}
		s.caps.Log(strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (s *sandbox) variablesAPI(scope Scope) map[string]any {
	return map[string]any{
		"get": func(call goja.FunctionCall) goja.Value {
			v, ok := s.caps.Variable(scope, call.Argument(0).String())
			if !ok {
				return goja.Undefined()
			}
			return s.vm.ToValue(v)
		},
		"set": func(call goja.FunctionCall) goja.Value {
			s.caps.SetVariable(scope, call.Argument(0).String(), stringValue(call.Argument(1)))
			return goja.Undefined()
		},
		"unset": func(key string) {
			s.caps.UnsetVariable(scope, key)
		},
		"has": func(key string) bool {
			_, ok := s.caps.Variable(scope, key)
			return ok
		},
		"toObject": func() map[string]string {
			return s.caps.Variables(scope)
		},
	}
}

// mergedVariablesAPI is a read view where environment bindings shadow globals.
func (s *sandbox) mergedVariablesAPI() map[string]any {
	return map[string]any{
		"get": func(call goja.FunctionCall) goja.Value {
			key := call.Argument(0).String()
			if v, ok := s.caps.Variable(ScopeEnvironment, key); ok {
				return s.vm.ToValue(v)
			}
			if v, ok := s.caps.Variable(ScopeGlobals, key); ok {
				return s.vm.ToValue(v)
			}
			return goja.Undefined()
		},
	}
}

func (s *sandbox) requestAPI() *goja.Object {
	obj := s.vm.NewObject()
	s.accessor(obj, "url",
		func() goja.Value { return s.vm.ToValue(s.caps.Request().URL) },
		func(v goja.Value) { s.must(s.caps.SetURL(v.String())) },
	)
	s.accessor(obj, "method",
		func() goja.Value { return s.vm.ToValue(s.caps.Request().EffectiveMethod()) },
		nil,
	)

	headers := map[string]any{
		"get": func(call goja.FunctionCall) goja.Value {
			v, ok := s.caps.Request().Header(call.Argument(0).String())
			if !ok {
				return goja.Undefined()
			}
			return s.vm.ToValue(v)
		},
		"has": func(name string) bool {
			_, ok := s.caps.Request().Header(name)
			return ok
		},
		"set": func(call goja.FunctionCall) goja.Value {
			s.must(s.caps.SetHeader(call.Argument(0).String(), stringValue(call.Argument(1))))
			return goja.Undefined()
		},
		"remove": func(name string) {
			s.must(s.caps.RemoveHeader(name))
		},
		"toObject": func() map[string]string {
			return s.caps.Request().HeaderMap()
		},
	}
	_ = obj.Set("headers", headers)

	body := s.vm.NewObject()
	s.accessor(body, "raw",
		func() goja.Value { return s.vm.ToValue(s.caps.Request().Body.Raw) },
		nil,
	)
	s.accessor(body, "mode",
		func() goja.Value { return s.vm.ToValue(string(s.caps.Request().Body.Type.Normalize())) },
		nil,
	)
	_ = body.Set("json", func() goja.Value {
		return s.parseJSON([]byte(s.caps.Request().Body.Raw))
	})
	_ = body.Set("update", func(call goja.FunctionCall) goja.Value {
		s.must(s.caps.SetBody(stringValue(call.Argument(0))))
		return goja.Undefined()
	})
	_ = obj.Set("body", body)
	return obj
}

func (s *sandbox) responseAPI() *goja.Object {
	resp := s.caps.Response()
	obj := s.vm.NewObject()
	_ = obj.Set("code", resp.Code)
	_ = obj.Set("status", resp.Status)
	_ = obj.Set("responseTime", resp.Elapsed.Milliseconds())
	_ = obj.Set("json", func() goja.Value { return s.parseJSON(resp.Body) })
	_ = obj.Set("text", func() string { return string(resp.Body) })
	_ = obj.Set("headers", map[string]any{
		"get": func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			if resp.Header == nil || len(resp.Header.Values(name)) == 0 {
				return goja.Undefined()
			}
			return s.vm.ToValue(strings.Join(resp.Header.Values(name), ", "))
		},
		"has": func(name string) bool {
			return resp.Header != nil && len(resp.Header.Values(name)) > 0
		},
		"toObject": func() map[string]string {
			out := make(map[string]string, len(resp.Header))
			for name, values := range resp.Header {
				out[strings.ToLower(name)] = strings.Join(values, ", ")
			}
			return out
		},
	})
	return obj
}

func (s *sandbox) test(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	start := time.Now()
	result := TestResult{Name: name, Passed: true}

	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		result.Passed = false
		result.Message = "test requires a function argument"
	} else if _, err := fn(goja.Undefined()); err != nil {
		result.Passed = false
		result.Message = exceptionMessage(err)
	}
	result.Elapsed = time.Since(start)
	s.tests = append(s.tests, result)

	if result.Passed {
		s.caps.Log(tagPass + " " + name)
	} else {
		s.caps.Log(tagFail + " " + name + ": " + result.Message)
	}
	return goja.Undefined()
}

func (s *sandbox) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := s.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	setter := s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if set == nil {
			panic(s.vm.NewTypeError("%s is read-only", name))
		}
		set(call.Argument(0))
		return goja.Undefined()
	})
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

// must turns a capability error into a JS TypeError thrown at the call site.
func (s *sandbox) must(err error) {
	if err != nil {
		panic(s.vm.NewTypeError("%s", err.Error()))
	}
}

func (s *sandbox) parseJSON(data []byte) goja.Value {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return goja.Null()
	}
	return s.vm.ToValue(v)
}

func formatValue(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "[Function]"
	}
	if obj, ok := v.(*goja.Object); ok {
		if obj.ClassName() == "Error" {
			return obj.String()
		}
		data, err := json.Marshal(obj.Export())
		if err != nil {
			return obj.String()
		}
		return string(data)
	}
	return v.String()
}

// stringValue converts a value written into a string-typed store.
func stringValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if _, ok := v.(*goja.Object); ok {
		return formatValue(v)
	}
	return v.String()
}

func exceptionText(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		return ex.Value().String()
	}
	return err.Error()
}

// exceptionMessage prefers the message property of thrown Error objects.
func exceptionMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return msg.String()
			}
		}
		if ex.Value() != nil {
			return ex.Value().String()
		}
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return "interrupted"
	}
	return err.Error()
}
