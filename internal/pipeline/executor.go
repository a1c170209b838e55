package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/history"
	"github.com/unkn0wn-root/restflow/internal/httpclient"
	"github.com/unkn0wn-root/restflow/internal/oauth"
	"github.com/unkn0wn-root/restflow/internal/records"
	"github.com/unkn0wn-root/restflow/internal/request"
	"github.com/unkn0wn-root/restflow/internal/scripts"
	"github.com/unkn0wn-root/restflow/internal/vars"
)

// Sender dispatches a built request. *httpclient.Client satisfies it.
type Sender interface {
	SendNamed(ctx context.Context, wire *request.Wire, timeout time.Duration, info httpclient.SendInfo) (*httpclient.Response, error)
}

// Authorizer fills in credentials that must be fetched before the request is
// built. *oauth.Manager satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, def *request.Definition, clientAuth string) error
}

var _ Authorizer = (*oauth.Manager)(nil)

type Option func(*Executor)

func WithVars(store *vars.Store) Option {
	return func(e *Executor) { e.vars = store }
}

func WithScripts(runner *scripts.Runner) Option {
	return func(e *Executor) { e.scripts = runner }
}

func WithAuthorizer(a Authorizer, clientAuth string) Option {
	return func(e *Executor) {
		e.auth = a
		e.clientAuth = clientAuth
	}
}

func WithHistory(store *history.Store) Option {
	return func(e *Executor) { e.history = store }
}

func WithRecords(store *records.Store) Option {
	return func(e *Executor) { e.records = store }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithVariablePersistence controls whether script writes to the environment
// and globals are merged back into the variable store after a run.
func WithVariablePersistence(on bool) Option {
	return func(e *Executor) { e.persistVars = on }
}

// Executor runs one request definition end to end. It holds no per-run state,
// so concurrent Execute calls only meet in the shared stores.
type Executor struct {
	sender      Sender
	vars        *vars.Store
	scripts     *scripts.Runner
	auth        Authorizer
	clientAuth  string
	history     *history.Store
	records     *records.Store
	logger      *zap.Logger
	persistVars bool
}

func New(sender Sender, opts ...Option) *Executor {
	e := &Executor{
		sender:      sender,
		logger:      zap.NewNop(),
		persistVars: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scripts == nil {
		e.scripts = scripts.NewRunner(scripts.WithLogger(e.logger))
	}
	return e
}

type Input struct {
	Definition request.Definition
	// EnvID selects the environment tier. Empty runs with globals and folder
	// variables only, and script environment writes last for the run.
	EnvID string
	// SelectedRecordID names the record to overwrite instead of matching by
	// signature.
	SelectedRecordID string
	// Timeout overrides the definition and client timeouts when positive.
	Timeout time.Duration
	// FailOnStatus turns non-2xx responses into an error after everything
	// has been recorded.
	FailOnStatus bool
	// SkipRecord leaves the record store untouched.
	SkipRecord bool
}

type Result struct {
	ExecutionID string
	// Resolved is the definition that was built and sent.
	Resolved    request.Definition
	Wire        *request.Wire
	Response    *httpclient.Response
	Missing     []string
	PreRequest  *scripts.Result
	Test        *scripts.Result
	History     history.Entry
	Record      *records.Record
	Environment map[string]string
	Globals     map[string]string
}

// ScriptFailed reports whether either script threw or a test case failed.
func (r *Result) ScriptFailed() bool {
	if r == nil {
		return false
	}
	return (r.PreRequest != nil && r.PreRequest.Failed()) || (r.Test != nil && r.Test.Failed())
}

// Execute resolves, scripts, sends and records in. Script errors and
// unresolved placeholders never fail the run; the only error returned is a
// dispatch failure, and the Result is populated even then.
func (e *Executor) Execute(ctx context.Context, in Input) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tmpl := in.Definition.Clone()
	res := &Result{ExecutionID: uuid.NewString()}
	log := e.logger.With(
		zap.String("execution", res.ExecutionID),
		zap.String("request", displayName(tmpl)),
	)

	layers := e.layers(tmpl.FolderID, in.EnvID)
	env := copyMap(layers.Environment)
	globals := copyMap(layers.Global)

	before := layers.Resolver()
	resolved := before.ResolveRequest(tmpl)

	var mutations scripts.MutationLog
	if tmpl.Scripts.PreRequest != "" {
		pre := e.scripts.RunPreRequest(tmpl.Scripts.PreRequest, &scripts.Context{
			Request:     resolved,
			Environment: env,
			Globals:     globals,
		})
		res.PreRequest = &pre
		if pre.Err != nil {
			log.Warn("pre-request script failed", zap.Error(pre.Err))
		}
		// Request writes are replayed on the unresolved template so values the
		// script just stored reach placeholders already in the definition.
		// Header names are matched as the script saw them.
		if pre.Mutations.TouchesRequest() {
			expandHeaderNames(&tmpl, before)
		}
		pre.Mutations.Apply(&tmpl, env, globals)
		mutations = append(mutations, pre.Mutations...)

		layers.Environment = env
		layers.Global = globals
		resolved = layers.Resolver().ResolveRequest(tmpl)
	}

	res.Environment = env
	res.Globals = globals
	res.Missing = layers.Resolver().Unresolved(tmpl)
	if len(res.Missing) > 0 {
		log.Debug("unresolved variables", zap.Strings("names", res.Missing))
	}

	if e.auth != nil {
		if err := e.auth.Authorize(ctx, &resolved, e.clientAuth); err != nil {
			res.Resolved = resolved
			return e.fail(log, in, res, tmpl, mutations, err)
		}
	}
	res.Resolved = resolved

	wire, err := httpclient.Build(resolved)
	if err != nil {
		return e.fail(log, in, res, tmpl, mutations, err)
	}
	res.Wire = wire

	resp, err := e.sender.SendNamed(ctx, wire, in.Timeout, httpclient.SendInfo{
		Name:      displayName(tmpl),
		RequestID: tmpl.ID,
	})
	if err != nil {
		return e.fail(log, in, res, tmpl, mutations, err)
	}
	res.Response = resp

	if tmpl.Scripts.Test != "" {
		tr := e.scripts.RunTest(tmpl.Scripts.Test, &scripts.Context{
			Request:     resolved,
			Response:    scriptResponse(resp),
			Environment: env,
			Globals:     globals,
		})
		res.Test = &tr
		if tr.Err != nil {
			log.Warn("test script failed", zap.Error(tr.Err))
		}
		tr.Mutations.Apply(nil, env, globals)
		mutations = append(mutations, tr.Mutations...)
	}

	pctx := context.WithoutCancel(ctx)
	res.History = e.appendHistory(newEntry(res, tmpl, wire, resp, nil))
	if !in.SkipRecord && e.records != nil {
		rec := e.records.Upsert(pctx, records.Record{
			Name:            tmpl.Name,
			FolderID:        tmpl.FolderID,
			Request:         in.Definition.Clone(),
			ResolvedHeaders: resolved.HeaderMap(),
			Response:        recordResponse(resp),
		}, in.SelectedRecordID)
		res.Record = &rec
	}
	e.persistVariables(in.EnvID, mutations)

	log.Debug("execution complete",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", resp.Duration),
	)
	if in.FailOnStatus {
		if err := httpclient.CheckStatus(resp); err != nil {
			return res, err
		}
	}
	return res, nil
}

// fail records a run that never produced a response. Script writes made by
// the pre-request phase are still persisted.
func (e *Executor) fail(log *zap.Logger, in Input, res *Result, tmpl request.Definition, mutations scripts.MutationLog, err error) (*Result, error) {
	if errdef.CodeOf(err) == errdef.CodeUnknown {
		err = errdef.Wrap(errdef.CodeHTTP, err, "dispatch")
	}
	log.Info("dispatch failed", zap.String("reason", errdef.Message(err)))

	res.History = e.appendHistory(newEntry(res, tmpl, res.Wire, nil, err))
	e.persistVariables(in.EnvID, mutations)
	return res, err
}

func (e *Executor) layers(folderID, envID string) vars.Layers {
	if e.vars == nil {
		return vars.Layers{}
	}
	return e.vars.Scopes(folderID, envID).Active(folderID, envID)
}

func (e *Executor) appendHistory(entry history.Entry) history.Entry {
	if e.history == nil {
		return entry
	}
	return e.history.Append(entry)
}

func (e *Executor) persistVariables(envID string, log scripts.MutationLog) {
	if !e.persistVars || e.vars == nil || len(log) == 0 {
		return
	}
	if set, removed := log.EnvironmentChanges(); len(set) > 0 || len(removed) > 0 {
		e.vars.MergeEnvironment(envID, set, removed)
	}
	if set, removed := log.GlobalChanges(); len(set) > 0 || len(removed) > 0 {
		e.vars.MergeGlobal(set, removed)
	}
}

func newEntry(res *Result, tmpl request.Definition, wire *request.Wire, resp *httpclient.Response, err error) history.Entry {
	entry := history.Entry{
		Name:      displayName(tmpl),
		RequestID: tmpl.ID,
		Method:    res.Resolved.EffectiveMethod(),
		URL:       res.Resolved.URL,
	}
	if wire != nil {
		entry.Method = wire.Method
		entry.URL = wire.URL
	}
	if err != nil {
		entry.Error = errdef.Message(err)
		return entry
	}
	entry.Status = resp.Status
	entry.StatusCode = resp.StatusCode
	entry.ElapsedMS = resp.Duration.Milliseconds()
	entry.Trace = history.NewTraceSummary(resp.Timeline)
	return entry
}

func scriptResponse(resp *httpclient.Response) *scripts.Response {
	return &scripts.Response{
		Code:    resp.StatusCode,
		Status:  resp.Status,
		Header:  resp.Headers.Clone(),
		Body:    append([]byte(nil), resp.Body...),
		Elapsed: resp.Duration,
	}
}

func recordResponse(resp *httpclient.Response) *records.Response {
	return &records.Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    records.ResponseHeaders(resp.Headers),
		Body:       string(resp.Body),
		ElapsedMS:  resp.Duration.Milliseconds(),
	}
}

func displayName(def request.Definition) string {
	if def.Name != "" {
		return def.Name
	}
	return def.EffectiveMethod() + " " + def.URL
}

func expandHeaderNames(def *request.Definition, r *vars.Resolver) {
	for i := range def.Headers {
		def.Headers[i].Key = r.Expand(def.Headers[i].Key)
	}
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
