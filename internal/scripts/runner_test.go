package scripts

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/request"
)

func baseContext() *Context {
	return &Context{
		Request: request.Definition{
			Method:  "POST",
			URL:     "https://api.example.com/items",
			Headers: []request.KeyValue{{Key: "Accept", Value: "application/json", Enabled: true}},
			Body:    request.Body{Type: request.BodyJSON, Raw: `{"name":"widget","count":2}`},
		},
		Environment: map[string]string{"host": "api.example.com"},
		Globals:     map[string]string{"seed": "1"},
	}
}

func testContext() *Context {
	ctx := baseContext()
	ctx.Response = &Response{
		Code:    201,
		Status:  "201 Created",
		Header:  http.Header{"Content-Type": {"application/json"}, "X-Request-Id": {"abc"}},
		Body:    []byte(`{"id":7,"tags":["a","b"],"user":{"name":"ann"}}`),
		Elapsed: 42 * time.Millisecond,
	}
	return ctx
}

func TestPreRequestMutationsAreRecorded(t *testing.T) {
	runner := NewRunner()
	ctx := baseContext()
	res := runner.RunPreRequest(`
		environment.set('token', 'XYZ');
		request.headers.set('Authorization', 'Bearer {{token}}');
		request.url = request.url + '?page=2';
		request.body.update(JSON.stringify({name: 'changed'}));
		globals.unset('seed');
	`, ctx)
	if !res.Success {
		t.Fatalf("script failed: %v logs=%v", res.Err, res.Logs)
	}

	def := ctx.Request.Clone()
	env := map[string]string{}
	globals := map[string]string{"seed": "1"}
	res.Mutations.Apply(&def, env, globals)

	if got, _ := def.Header("authorization"); got != "Bearer {{token}}" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if def.URL != "https://api.example.com/items?page=2" {
		t.Fatalf("unexpected url %q", def.URL)
	}
	if def.Body.Raw != `{"name":"changed"}` {
		t.Fatalf("unexpected body %q", def.Body.Raw)
	}
	if env["token"] != "XYZ" {
		t.Fatalf("expected env token, got %#v", env)
	}
	if _, ok := globals["seed"]; ok {
		t.Fatalf("expected seed to be unset")
	}
	if ctx.Environment["token"] != "" || ctx.Request.URL != "https://api.example.com/items" {
		t.Fatalf("caller context must not be mutated")
	}
	if res.Context.Environment["token"] != "XYZ" {
		t.Fatalf("result context should carry the mutated environment")
	}
}

func TestScriptFailureIsolation(t *testing.T) {
	runner := NewRunner()
	res := runner.RunTest(`
		console.log('a');
		throw new Error('boom');
		console.log('b');
	`, testContext())

	if res.Success || res.Err == nil {
		t.Fatalf("expected failure result")
	}
	if errdef.CodeOf(res.Err) != errdef.CodeScript {
		t.Fatalf("expected script error code, got %v", errdef.CodeOf(res.Err))
	}
	joined := strings.Join(res.Logs, "\n")
	if !strings.Contains(joined, "[LOG] a") {
		t.Fatalf("expected first log line, got %v", res.Logs)
	}
	if strings.Contains(joined, "[LOG] b") {
		t.Fatalf("script should stop at the throw, got %v", res.Logs)
	}
	if !strings.Contains(joined, "[ERROR]") || !strings.Contains(joined, "boom") {
		t.Fatalf("expected error line, got %v", res.Logs)
	}
}

func TestPreRequestFailureKeepsEarlierMutations(t *testing.T) {
	res := NewRunner().RunPreRequest(`
		environment.set('a', '1');
		undefinedFunction();
		environment.set('b', '2');
	`, baseContext())
	if res.Success {
		t.Fatalf("expected failure")
	}
	set, _ := res.Mutations.EnvironmentChanges()
	if set["a"] != "1" {
		t.Fatalf("expected mutation before the throw to survive, got %#v", set)
	}
	if _, ok := set["b"]; ok {
		t.Fatalf("mutation after the throw must not be recorded")
	}
}

func TestConsoleTags(t *testing.T) {
	res := NewRunner().RunPreRequest(`
		console.log('plain', 1, true);
		console.info({a: 1});
		console.warn([1, 2]);
		console.error('bad');
	`, baseContext())
	if !res.Success {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	want := []string{"[LOG] plain 1 true", `[INFO] {"a":1}`, "[WARN] [1,2]", "[ERROR] bad"}
	if len(res.Logs) != len(want) {
		t.Fatalf("unexpected logs %v", res.Logs)
	}
	for i := range want {
		if res.Logs[i] != want[i] {
			t.Fatalf("log %d = %q, want %q", i, res.Logs[i], want[i])
		}
	}
}

func TestTestScriptAssertions(t *testing.T) {
	res := NewRunner().RunTest(`
		test('status', function () {
			expect(response.code).to.equal(201);
			expect(response.status).to.include('Created');
		});
		test('body', function () {
			var body = response.json();
			expect(body).to.be.an('object');
			expect(body.tags).to.eql(['a', 'b']);
			expect(body.user).to.have.property('name');
			expect(body.id).to.not.equal(8);
			expect(response.headers.get('x-request-id')).to.equal('abc');
			expect(response.responseTime).to.be.below(1000);
		});
		test('fails', function () {
			expect(response.code).to.equal(200);
		});
		pm.test('alias', function () {
			pm.expect(pm.response.text()).to.include('ann');
		});
		console.log('after');
	`, testContext())

	if !res.Success {
		t.Fatalf("failing assertions must not fail the script: %v", res.Err)
	}
	if len(res.Tests) != 4 {
		t.Fatalf("expected 4 test results, got %#v", res.Tests)
	}
	if !res.Tests[0].Passed || !res.Tests[1].Passed || !res.Tests[3].Passed {
		t.Fatalf("unexpected failures: %#v", res.Tests)
	}
	if res.Tests[2].Passed || !strings.Contains(res.Tests[2].Message, "to equal 200") {
		t.Fatalf("expected descriptive failure, got %#v", res.Tests[2])
	}
	if !res.Failed() {
		t.Fatalf("result with a failed case should report Failed")
	}
	if res.Logs[len(res.Logs)-1] != "[LOG] after" {
		t.Fatalf("logging should continue after a failing test, got %v", res.Logs)
	}
}

func TestRequestIsReadOnlyInTests(t *testing.T) {
	res := NewRunner().RunTest(`request.headers.set('X', '1');`, testContext())
	if res.Success {
		t.Fatalf("expected write to fail in test phase")
	}
	if len(res.Mutations) != 0 {
		t.Fatalf("no mutation should be recorded, got %#v", res.Mutations)
	}

	res = NewRunner().RunTest(`environment.set('lastId', String(response.json().id));`, testContext())
	if !res.Success {
		t.Fatalf("environment stays writable in tests: %v", res.Err)
	}
	if set, _ := res.Mutations.EnvironmentChanges(); set["lastId"] != "7" {
		t.Fatalf("unexpected env changes %#v", set)
	}
}

func TestResponseAbsentInPreRequest(t *testing.T) {
	res := NewRunner().RunPreRequest(`console.log(typeof response);`, baseContext())
	if !res.Success || res.Logs[0] != "[LOG] undefined" {
		t.Fatalf("expected response to be undefined, got %v %v", res.Err, res.Logs)
	}
}

func TestRequestBodyJSON(t *testing.T) {
	ctx := baseContext()
	res := NewRunner().RunPreRequest(`
		console.log(request.body.json().count);
		request.body.update('not json');
		console.log(request.body.json());
	`, ctx)
	if !res.Success {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if res.Logs[0] != "[LOG] 2" || res.Logs[1] != "[LOG] null" {
		t.Fatalf("unexpected logs %v", res.Logs)
	}
}

func TestScriptTimeout(t *testing.T) {
	runner := NewRunner(WithTimeout(50 * time.Millisecond))
	start := time.Now()
	res := runner.RunPreRequest(`environment.set('before', '1'); while (true) {}`, baseContext())
	if res.Success {
		t.Fatalf("expected timeout failure")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("script was not interrupted promptly")
	}
	if !strings.Contains(res.Err.Error(), "time limit") {
		t.Fatalf("unexpected error %v", res.Err)
	}
	if set, _ := res.Mutations.EnvironmentChanges(); set["before"] != "1" {
		t.Fatalf("mutations before the timeout should survive")
	}
}

func TestNoAmbientHostAccess(t *testing.T) {
	res := NewRunner().RunPreRequest(`console.log(typeof require, typeof process);`, baseContext())
	if !res.Success || res.Logs[0] != "[LOG] undefined undefined" {
		t.Fatalf("unexpected host bindings: %v %v", res.Err, res.Logs)
	}
}

func TestEmptyScriptSucceeds(t *testing.T) {
	res := NewRunner().RunTest("   ", testContext())
	if !res.Success || len(res.Logs) != 0 || res.Context == nil {
		t.Fatalf("unexpected result for empty script: %#v", res)
	}
}

func TestMutationLogChangesCollapse(t *testing.T) {
	log := MutationLog{
		{Kind: SetEnvironment, Key: "a", Value: "1"},
		{Kind: SetEnvironment, Key: "b", Value: "2"},
		{Kind: UnsetEnvironment, Key: "a"},
		{Kind: SetGlobal, Key: "g", Value: "x"},
		{Kind: SetEnvironment, Key: "b", Value: "3"},
	}
	set, removed := log.EnvironmentChanges()
	if len(set) != 1 || set["b"] != "3" {
		t.Fatalf("unexpected set %#v", set)
	}
	if len(removed) != 1 || removed[0] != "a" {
		t.Fatalf("unexpected removed %#v", removed)
	}
	if log.TouchesRequest() {
		t.Fatalf("log has no request writes")
	}
}
