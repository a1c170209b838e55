package scripts

import (
	"net/http"
	"time"

	"github.com/unkn0wn-root/restflow/internal/request"
)

type Phase string

const (
	PhasePreRequest Phase = "pre-request"
	PhaseTest       Phase = "test"
)

// Response is the read-only view of a dispatched response handed to test
// scripts.
type Response struct {
	Code    int
	Status  string
	Header  http.Header
	Body    []byte
	Elapsed time.Duration
}

func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = r.Header.Clone()
	out.Body = append([]byte(nil), r.Body...)
	return &out
}

// Context is the state a single script invocation sees. Runners work on a
// copy; the caller's Context is never mutated.
type Context struct {
	Request     request.Definition
	Response    *Response
	Environment map[string]string
	Globals     map[string]string
}

func (c *Context) Clone() *Context {
	if c == nil {
		return &Context{Environment: map[string]string{}, Globals: map[string]string{}}
	}
	return &Context{
		Request:     c.Request.Clone(),
		Response:    c.Response.Clone(),
		Environment: copyMap(c.Environment),
		Globals:     copyMap(c.Globals),
	}
}

type TestResult struct {
	Name    string
	Message string
	Passed  bool
	Elapsed time.Duration
}

// Result is what a script run leaves behind. Err is set when the script threw
// or was interrupted; Logs and Mutations still hold everything recorded up to
// that point.
type Result struct {
	Success   bool
	Err       error
	Logs      []string
	Tests     []TestResult
	Mutations MutationLog
	Context   *Context
}

// Failed reports whether the script threw or any test case failed.
func (r Result) Failed() bool {
	if !r.Success {
		return true
	}
	for _, tc := range r.Tests {
		if !tc.Passed {
			return true
		}
	}
	return false
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
