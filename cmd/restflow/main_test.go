package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"denied"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type workspace struct {
	dir     string
	envFile string
}

func newWorkspace(t *testing.T, base string) workspace {
	t.Helper()
	dir := t.TempDir()
	env := filepath.Join(dir, "envs.yaml")
	writeFile(t, env, "dev:\n  base: "+base+"\n  token: s3cret\nprod:\n  base: http://127.0.0.1:1\n")
	return workspace{dir: dir, envFile: env}
}

func (w workspace) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{
		"--config-dir", w.dir,
		"--env-file", w.envFile,
		"--log-level", "error",
		"--no-color",
	}, args...)
	code := run(context.Background(), full, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const itemsDefinition = `name: list items
method: GET
url: "{{base}}/items"
auth:
  type: bearer
  params:
    token: "{{token}}"
scripts:
  test: |
    test('ok', function () { expect(response.code).to.equal(200); });
`

func TestSendRecordsHistoryAndStore(t *testing.T) {
	srv := newAPIServer(t)
	ws := newWorkspace(t, srv.URL)
	def := filepath.Join(ws.dir, "items.yaml")
	writeFile(t, def, itemsDefinition)

	code, out, errOut := ws.run(t, "send", def)
	if code != exitOK {
		t.Fatalf("send exit %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "200 OK") || !strings.Contains(out, `"id": 1`) {
		t.Fatalf("unexpected send output:\n%s", out)
	}
	if !strings.Contains(out, "✓ ok") {
		t.Fatalf("test results missing from output:\n%s", out)
	}

	code, out, _ = ws.run(t, "history", "list")
	if code != exitOK || !strings.Contains(out, srv.URL+"/items") {
		t.Fatalf("history list exit %d:\n%s", code, out)
	}

	code, out, _ = ws.run(t, "records", "list")
	if code != exitOK || !strings.Contains(out, "list items") {
		t.Fatalf("records list exit %d:\n%s", code, out)
	}

	// A second send updates the stored request instead of adding one.
	if code, _, errOut := ws.run(t, "send", def); code != exitOK {
		t.Fatalf("second send exit %d: %s", code, errOut)
	}
	_, out, _ = ws.run(t, "records", "list")
	if n := strings.Count(out, "list items"); n != 1 {
		t.Fatalf("expected one stored request, got %d:\n%s", n, out)
	}
}

func TestSendFailingTestsExitCode(t *testing.T) {
	srv := newAPIServer(t)
	ws := newWorkspace(t, srv.URL)
	def := filepath.Join(ws.dir, "denied.yaml")
	writeFile(t, def, strings.Replace(itemsDefinition, `token: "{{token}}"`, `token: wrong`, 1))

	code, out, _ := ws.run(t, "send", def)
	if code != exitScriptFailed {
		t.Fatalf("exit %d, want %d\n%s", code, exitScriptFailed, out)
	}
	if !strings.Contains(out, "401") || !strings.Contains(out, "✗ ok") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestSendFailFlag(t *testing.T) {
	srv := newAPIServer(t)
	ws := newWorkspace(t, srv.URL)

	code, _, errOut := ws.run(t, "send", "{{base}}/items", "--fail")
	if code != exitError || !strings.Contains(errOut, "401") {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}

	code, _, errOut = ws.run(t, "send", "{{base}}/items", "-H", "Authorization: Bearer {{token}}", "--fail")
	if code != exitOK {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
}

func TestSendNetworkFailureIsRecorded(t *testing.T) {
	srv := newAPIServer(t)
	ws := newWorkspace(t, srv.URL)

	code, _, errOut := ws.run(t, "--env", "prod", "send", "{{base}}/items")
	if code != exitError || !strings.Contains(errOut, "error:") {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
	_, out, _ := ws.run(t, "history", "list", "--failed")
	if !strings.Contains(out, "ERR") {
		t.Fatalf("failed execution missing from history:\n%s", out)
	}
}

func TestImportCurlWritesDefinitions(t *testing.T) {
	ws := newWorkspace(t, "http://unused.local")
	src := filepath.Join(ws.dir, "cmd.sh")
	writeFile(t, src, `curl -X POST https://api.local/users -H 'Content-Type: application/json' -d '{"name":"ann"}'`)
	outDir := filepath.Join(ws.dir, "out")

	code, out, errOut := ws.run(t, "import", src, "--out", outDir)
	if code != exitOK {
		t.Fatalf("import exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "1 request(s) from curl") {
		t.Fatalf("unexpected import output:\n%s", out)
	}
	entries, err := os.ReadDir(outDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one written definition, got %v %v", entries, err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read definition: %v", err)
	}
	if !strings.Contains(string(data), "https://api.local/users") {
		t.Fatalf("definition missing url:\n%s", data)
	}
}

func TestEnvCommands(t *testing.T) {
	ws := newWorkspace(t, "http://api.local")

	code, out, _ := ws.run(t, "env", "list")
	if code != exitOK || !strings.Contains(out, "* dev") || !strings.Contains(out, "  prod") {
		t.Fatalf("env list exit %d:\n%s", code, out)
	}

	code, out, errOut := ws.run(t, "env", "resolve", "{{base}}/{{missing}}")
	if code != exitOK || strings.TrimSpace(out) != "http://api.local/{{missing}}" {
		t.Fatalf("env resolve exit %d: %q", code, out)
	}
	if !strings.Contains(errOut, "missing") {
		t.Fatalf("expected unresolved warning, got %q", errOut)
	}

	if code, _, _ := ws.run(t, "env", "show", "staging"); code != exitError {
		t.Fatalf("unknown environment should fail, got %d", code)
	}
}

func TestSelectEnvironment(t *testing.T) {
	cases := []struct {
		names      []string
		explicit   string
		configured string
		want       string
	}{
		{nil, "", "", ""},
		{[]string{"prod", "staging"}, "", "", "prod"},
		{[]string{"prod", "local"}, "", "", "local"},
		{[]string{"prod", "dev"}, "", "prod", "prod"},
		{[]string{"prod", "dev"}, "qa", "prod", "qa"},
	}
	for _, tc := range cases {
		if got := selectEnvironment(tc.names, tc.explicit, tc.configured); got != tc.want {
			t.Fatalf("selectEnvironment(%v, %q, %q) = %q, want %q", tc.names, tc.explicit, tc.configured, got, tc.want)
		}
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"GET https://api.local/users": "get-https-api-local-users",
		"  ":                          "request",
		"Create Item!":                "create-item",
	}
	for in, want := range cases {
		if got := slug(in); got != want {
			t.Fatalf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
