package request

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSetHeaderReplacesCaseInsensitively(t *testing.T) {
	def := Definition{Headers: []KeyValue{
		{Key: "Accept", Value: "*/*", Enabled: true},
		{Key: "authorization", Value: "old", Enabled: true},
		{Key: "Authorization", Value: "older", Enabled: false},
	}}
	def.SetHeader("Authorization", "Bearer new")

	if len(def.Headers) != 2 {
		t.Fatalf("expected duplicates to collapse, got %#v", def.Headers)
	}
	if def.Headers[1].Key != "authorization" || def.Headers[1].Value != "Bearer new" {
		t.Fatalf("expected first slot to be updated in place, got %#v", def.Headers[1])
	}

	def.RemoveHeader("AUTHORIZATION")
	if _, ok := def.Header("authorization"); ok {
		t.Fatalf("expected header to be removed")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	def := Definition{
		Headers: []KeyValue{{Key: "A", Value: "1", Enabled: true}},
		Auth:    AuthSpec{Type: AuthBearer, Params: map[string]string{"token": "t"}},
	}
	clone := def.Clone()
	clone.Headers[0].Value = "2"
	clone.Auth.Params["token"] = "changed"
	if def.Headers[0].Value != "1" || def.Auth.Params["token"] != "t" {
		t.Fatalf("clone mutated the original: %#v", def)
	}
}

func TestKeyValueDefaultsToEnabled(t *testing.T) {
	var fromJSON []KeyValue
	if err := json.Unmarshal([]byte(`[{"key":"a","value":"1"},{"key":"b","value":"2","enabled":false}]`), &fromJSON); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !fromJSON[0].Enabled || fromJSON[1].Enabled {
		t.Fatalf("unexpected enabled flags: %#v", fromJSON)
	}

	var fromYAML Body
	src := "type: form-data\nform:\n  - key: name\n    value: x\n  - key: skip\n    enabled: false\n"
	if err := yaml.Unmarshal([]byte(src), &fromYAML); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if !fromYAML.Form[0].Enabled || fromYAML.Form[1].Enabled {
		t.Fatalf("unexpected form flags: %#v", fromYAML.Form)
	}
}

func TestAuthVariant(t *testing.T) {
	cases := []struct {
		in   AuthSpec
		want Auth
	}{
		{AuthSpec{}, NoAuth{}},
		{AuthSpec{Type: "Bearer", Params: map[string]string{"token": "abc"}}, BearerAuth{Token: "abc"}},
		{
			AuthSpec{Type: AuthBasic, Params: map[string]string{"username": "u", "password": "p"}},
			BasicAuth{Username: "u", Password: "p"},
		},
		{
			AuthSpec{Type: "api-key", Params: map[string]string{"key": "X-Key", "value": "v", "in": "QUERY"}},
			APIKeyAuth{Name: "X-Key", Value: "v", In: APIKeyInQuery},
		},
		{AuthSpec{Type: AuthBearer, Params: map[string]string{"Token": "upper", "token": "exact"}}, BearerAuth{Token: "exact"}},
		{AuthSpec{Type: AuthBearer, Params: map[string]string{"TOKEN": "b", "Token": "a"}}, BearerAuth{Token: "b"}},
	}
	for _, tc := range cases {
		got := tc.in.Variant()
		if got != tc.want {
			t.Fatalf("Variant(%#v) = %#v, want %#v", tc.in, got, tc.want)
		}
	}

	oauth, ok := AuthSpec{Type: AuthOAuth2, Params: map[string]string{"scopes": "read write"}}.Variant().(OAuth2Auth)
	if !ok || len(oauth.Scopes) != 2 {
		t.Fatalf("expected oauth2 variant with scopes, got %#v", oauth)
	}
	if TypeOf(oauth) != AuthOAuth2 || TypeOf(nil) != AuthNone {
		t.Fatalf("unexpected TypeOf result")
	}
}

func TestBodyTypeNormalize(t *testing.T) {
	if BodyType("FormData").Normalize() != BodyFormData {
		t.Fatalf("expected formdata alias")
	}
	if BodyType("").Normalize() != BodyNone {
		t.Fatalf("expected empty to be none")
	}
}
