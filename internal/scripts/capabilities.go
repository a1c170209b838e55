package scripts

import (
	"errors"
	"strings"

	"github.com/unkn0wn-root/restflow/internal/request"
)

type Scope string

const (
	ScopeEnvironment Scope = "environment"
	ScopeGlobals     Scope = "globals"
)

var errReadOnlyRequest = errors.New("request is read-only in test scripts")

// Capabilities is the only channel between script text and the host. The JS
// bindings call nothing else.
type Capabilities interface {
	Phase() Phase

	Variable(scope Scope, key string) (string, bool)
	SetVariable(scope Scope, key, value string)
	UnsetVariable(scope Scope, key string)
	Variables(scope Scope) map[string]string

	Request() request.Definition
	SetURL(url string) error
	SetHeader(name, value string) error
	RemoveHeader(name string) error
	SetBody(text string) error

	Response() *Response
	Log(line string)
}

// capabilities applies writes to a private Context and records each one in the
// mutation log.
type capabilities struct {
	phase     Phase
	ctx       *Context
	mutations MutationLog
	logs      []string
}

func newCapabilities(phase Phase, ctx *Context) *capabilities {
	return &capabilities{phase: phase, ctx: ctx.Clone()}
}

func (c *capabilities) Phase() Phase {
	return c.phase
}

func (c *capabilities) tier(scope Scope) map[string]string {
	if scope == ScopeGlobals {
		return c.ctx.Globals
	}
	return c.ctx.Environment
}

func (c *capabilities) Variable(scope Scope, key string) (string, bool) {
	v, ok := c.tier(scope)[key]
	return v, ok
}

func (c *capabilities) SetVariable(scope Scope, key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	kind := SetEnvironment
	if scope == ScopeGlobals {
		kind = SetGlobal
	}
	c.record(Mutation{Kind: kind, Key: key, Value: value})
}

func (c *capabilities) UnsetVariable(scope Scope, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	kind := UnsetEnvironment
	if scope == ScopeGlobals {
		kind = UnsetGlobal
	}
	c.record(Mutation{Kind: kind, Key: key})
}

func (c *capabilities) Variables(scope Scope) map[string]string {
	return copyMap(c.tier(scope))
}

func (c *capabilities) Request() request.Definition {
	return c.ctx.Request.Clone()
}

func (c *capabilities) SetURL(url string) error {
	return c.writeRequest(Mutation{Kind: SetURL, Value: url})
}

func (c *capabilities) SetHeader(name, value string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("header name is required")
	}
	return c.writeRequest(Mutation{Kind: SetHeader, Key: name, Value: value})
}

func (c *capabilities) RemoveHeader(name string) error {
	return c.writeRequest(Mutation{Kind: RemoveHeader, Key: name})
}

func (c *capabilities) SetBody(text string) error {
	return c.writeRequest(Mutation{Kind: SetBody, Value: text})
}

func (c *capabilities) Response() *Response {
	return c.ctx.Response
}

func (c *capabilities) Log(line string) {
	c.logs = append(c.logs, line)
}

func (c *capabilities) writeRequest(m Mutation) error {
	if c.phase != PhasePreRequest {
		return errReadOnlyRequest
	}
	c.record(m)
	return nil
}

func (c *capabilities) record(m Mutation) {
	c.mutations = append(c.mutations, m)
	MutationLog{m}.Apply(&c.ctx.Request, c.ctx.Environment, c.ctx.Globals)
}
