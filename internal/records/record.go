package records

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/unkn0wn-root/restflow/internal/request"
)

// Response is the captured result stored alongside a record.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Status     string            `json:"status,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	ElapsedMS  int64             `json:"elapsedMs"`
}

type Record struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	FolderID string `json:"folderId,omitempty"`
	// Request is the definition before placeholder resolution.
	Request         request.Definition `json:"request"`
	ResolvedHeaders map[string]string  `json:"resolvedHeaders,omitempty"`
	Response        *Response          `json:"response,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func (r Record) Clone() Record {
	out := r
	out.Request = r.Request.Clone()
	out.ResolvedHeaders = copyHeaders(r.ResolvedHeaders)
	if r.Response != nil {
		resp := *r.Response
		resp.Headers = copyHeaders(r.Response.Headers)
		out.Response = &resp
	}
	return out
}

type FormPair struct {
	Key   string `json:"k"`
	Value string `json:"v"`
	File  bool   `json:"f,omitempty"`
}

type signatureInput struct {
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers"`
	BodyType request.BodyType  `json:"bodyType"`
	Body     string            `json:"body,omitempty"`
	Form     []FormPair        `json:"form,omitempty"`
	Binary   string            `json:"binary,omitempty"`
}

// Signature hashes the content identity of a record: method, unresolved
// URL, resolved headers, body type, normalized body or form, and binary
// payload. Reordered, disabled or unnamed form fields do not change it.
func Signature(rec Record) string {
	def := rec.Request
	headers := rec.ResolvedHeaders
	if headers == nil {
		headers = def.HeaderMap()
	}

	in := signatureInput{
		Method:   def.EffectiveMethod(),
		URL:      strings.TrimSpace(def.URL),
		Headers:  canonicalHeaders(headers),
		BodyType: def.Body.Type.Normalize(),
	}
	switch in.BodyType {
	case request.BodyJSON, request.BodyRaw:
		in.Body = def.Body.Raw
	case request.BodyURLEncoded, request.BodyFormData:
		in.Form = NormalizeForm(def.Body.Form)
	case request.BodyBinary:
		in.Binary = def.Body.Binary
	}

	// map keys marshal sorted, so the encoding is canonical
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeForm drops disabled and empty-key fields and sorts the rest by
// key, then value.
func NormalizeForm(fields []request.FormField) []FormPair {
	out := make([]FormPair, 0, len(fields))
	for _, f := range fields {
		if !f.Enabled || strings.TrimSpace(f.Key) == "" {
			continue
		}
		out = append(out, FormPair{Key: f.Key, Value: f.Value, File: f.IsFile()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func canonicalHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[http.CanonicalHeaderKey(key)] = v
	}
	return out
}

func copyHeaders(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ResponseHeaders flattens a multi-valued header set, joining repeats with ", ".
func ResponseHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vals := range h {
		out[k] = strings.Join(vals, ", ")
	}
	return out
}
