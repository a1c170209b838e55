package importer

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/restflow/internal/request"
)

func parseOne(t *testing.T, cmd string) request.Definition {
	t.Helper()
	defs, err := CurlParser{}.Parse(cmd)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected one definition, got %d", len(defs))
	}
	return defs[0]
}

func TestCurlJSONPost(t *testing.T) {
	def := parseOne(t, `curl -X POST 'https://api.local/items?x=1' \
  -H 'Content-Type: application/json' \
  -H "Authorization: Bearer {{token}}" \
  --data-raw '{"name":"a"}'`)

	if def.Method != "POST" || def.URL != "https://api.local/items?x=1" {
		t.Fatalf("unexpected method/url %s %s", def.Method, def.URL)
	}
	if def.Body.Type != request.BodyJSON || def.Body.Raw != `{"name":"a"}` {
		t.Fatalf("unexpected body %+v", def.Body)
	}
	if v, _ := def.Header("authorization"); v != "Bearer {{token}}" {
		t.Fatalf("placeholder should be preserved, got %q", v)
	}
}

func TestCurlDataDefaultsToPostForm(t *testing.T) {
	def := parseOne(t, `curl https://api.local/login -d 'user=a%20b&pass=x' --data-urlencode 'note=hi there'`)
	if def.Method != "POST" {
		t.Fatalf("expected implicit POST, got %s", def.Method)
	}
	want := []request.FormField{
		{Key: "user", Value: "a b", Type: request.FieldText, Enabled: true},
		{Key: "pass", Value: "x", Type: request.FieldText, Enabled: true},
		{Key: "note", Value: "hi there", Type: request.FieldText, Enabled: true},
	}
	if def.Body.Type != request.BodyURLEncoded {
		t.Fatalf("expected urlencoded body, got %s", def.Body.Type)
	}
	if diff := cmp.Diff(want, def.Body.Form); diff != "" {
		t.Fatalf("form mismatch (-want +got):\n%s", diff)
	}
}

func TestCurlJSONFlag(t *testing.T) {
	def := parseOne(t, `curl --json '{"a":1}' https://api.local`)
	if def.Body.Type != request.BodyJSON || def.Method != "POST" {
		t.Fatalf("unexpected %s %+v", def.Method, def.Body)
	}
	if v, _ := def.Header("Accept"); v != request.MimeJSON {
		t.Fatalf("expected json accept header, got %q", v)
	}
}

func TestCurlGetMovesDataToQuery(t *testing.T) {
	def := parseOne(t, `curl -G https://api.local/search -d q=go --data-urlencode 'tag=a b'`)
	if def.Method != "GET" {
		t.Fatalf("expected GET, got %s", def.Method)
	}
	if def.URL != "https://api.local/search?q=go&tag=a+b" {
		t.Fatalf("unexpected url %s", def.URL)
	}
	if def.Body.Type.Normalize() != request.BodyNone {
		t.Fatalf("expected no body, got %s", def.Body.Type)
	}
}

func TestCurlMultipartAndAuth(t *testing.T) {
	def := parseOne(t, `curl -u alice:secret -F 'meta=hello' -F 'file=@/tmp/report.pdf;type=application/pdf' https://api.local/upload`)
	if def.Body.Type != request.BodyFormData || len(def.Body.Form) != 2 {
		t.Fatalf("unexpected body %+v", def.Body)
	}
	file := def.Body.Form[1]
	if !file.IsFile() || file.FileName != "report.pdf" || file.ContentType != "application/pdf" {
		t.Fatalf("unexpected file field %+v", file)
	}
	basic, ok := def.Auth.Variant().(request.BasicAuth)
	if !ok || basic.Username != "alice" || basic.Password != "secret" {
		t.Fatalf("unexpected auth %#v", def.Auth.Variant())
	}
}

func TestCurlShortClustersAndLongEquals(t *testing.T) {
	def := parseOne(t, `curl -sSL -XDELETE --url=https://api.local/items/1 -m 2.5 -HX-Trace:1`)
	if def.Method != "DELETE" || def.URL != "https://api.local/items/1" {
		t.Fatalf("unexpected %s %s", def.Method, def.URL)
	}
	if def.TimeoutMS != 2500 {
		t.Fatalf("unexpected timeout %d", def.TimeoutMS)
	}
	if v, _ := def.Header("X-Trace"); v != "1" {
		t.Fatalf("unexpected header %q", v)
	}
}

func TestCurlMultipleCommands(t *testing.T) {
	defs, err := CurlParser{}.Parse("$ curl https://a.local && curl -I https://b.local")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(defs) != 2 || defs[1].Method != "HEAD" || defs[1].URL != "https://b.local" {
		t.Fatalf("unexpected defs %+v", defs)
	}
}

func TestCurlNotMyFormat(t *testing.T) {
	defs, err := CurlParser{}.Parse(`{"info":{}}`)
	if err != nil || defs != nil {
		t.Fatalf("expected nil, nil for non-curl input, got %v %v", defs, err)
	}
	if _, err := (CurlParser{}).Parse("curl -H 'X: 1'"); err == nil {
		t.Fatalf("expected missing url error")
	}
}
