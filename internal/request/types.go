package request

import (
	"net/http"
	"strings"
)

const (
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"

	MimeJSON           = "application/json"
	MimeFormURLEncoded = "application/x-www-form-urlencoded"
	MimeOctetStream    = "application/octet-stream"
	MimeTextPlain      = "text/plain"
)

type BodyType string

const (
	BodyNone       BodyType = "none"
	BodyJSON       BodyType = "json"
	BodyRaw        BodyType = "raw"
	BodyURLEncoded BodyType = "x-www-form-urlencoded"
	BodyFormData   BodyType = "form-data"
	BodyBinary     BodyType = "binary"
)

// Normalize maps empty and unknown values to BodyNone.
func (t BodyType) Normalize() BodyType {
	switch BodyType(strings.ToLower(strings.TrimSpace(string(t)))) {
	case BodyJSON:
		return BodyJSON
	case BodyRaw, "text":
		return BodyRaw
	case BodyURLEncoded, "urlencoded":
		return BodyURLEncoded
	case BodyFormData, "formdata", "multipart":
		return BodyFormData
	case BodyBinary, "file":
		return BodyBinary
	default:
		return BodyNone
	}
}

type KeyValue struct {
	Key     string `json:"key"     yaml:"key"`
	Value   string `json:"value"   yaml:"value"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type FieldType string

const (
	FieldText FieldType = "text"
	FieldFile FieldType = "file"
)

// FormField is one entry of a url-encoded or multipart body. File fields carry
// their payload base64 encoded in Value.
type FormField struct {
	Key         string    `json:"key"                   yaml:"key"`
	Value       string    `json:"value"                 yaml:"value"`
	Type        FieldType `json:"type,omitempty"        yaml:"type,omitempty"`
	FileName    string    `json:"fileName,omitempty"    yaml:"fileName,omitempty"`
	ContentType string    `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Enabled     bool      `json:"enabled"               yaml:"enabled"`
}

func (f FormField) IsFile() bool {
	return strings.EqualFold(string(f.Type), string(FieldFile))
}

type Body struct {
	Type BodyType    `json:"type"             yaml:"type"`
	Raw  string      `json:"raw,omitempty"    yaml:"raw,omitempty"`
	Form []FormField `json:"form,omitempty"   yaml:"form,omitempty"`
	// Binary is the base64 payload of a binary body.
	Binary            string `json:"binary,omitempty"            yaml:"binary,omitempty"`
	BinaryContentType string `json:"binaryContentType,omitempty" yaml:"binaryContentType,omitempty"`
}

type Scripts struct {
	PreRequest string `json:"preRequest,omitempty" yaml:"preRequest,omitempty"`
	Test       string `json:"test,omitempty"       yaml:"test,omitempty"`
}

type Definition struct {
	ID        string     `json:"id"                  yaml:"id,omitempty"`
	Name      string     `json:"name,omitempty"      yaml:"name,omitempty"`
	FolderID  string     `json:"folderId,omitempty"  yaml:"folderId,omitempty"`
	Method    string     `json:"method"              yaml:"method"`
	URL       string     `json:"url"                 yaml:"url"`
	Headers   []KeyValue `json:"headers,omitempty"   yaml:"headers,omitempty"`
	Query     []KeyValue `json:"query,omitempty"     yaml:"query,omitempty"`
	Body      Body       `json:"body"                yaml:"body,omitempty"`
	Auth      AuthSpec   `json:"auth"                yaml:"auth,omitempty"`
	TimeoutMS int        `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	Scripts   Scripts    `json:"scripts"             yaml:"scripts,omitempty"`
}

// Clone deep-copies every slice and map so pipeline stages never alias the
// caller's definition.
func (d Definition) Clone() Definition {
	out := d
	out.Headers = cloneKV(d.Headers)
	out.Query = cloneKV(d.Query)
	if d.Body.Form != nil {
		out.Body.Form = append([]FormField(nil), d.Body.Form...)
	}
	out.Auth = d.Auth.Clone()
	return out
}

func (d Definition) EffectiveMethod() string {
	m := strings.ToUpper(strings.TrimSpace(d.Method))
	if m == "" {
		return http.MethodGet
	}
	return m
}

// EnabledHeaders returns enabled headers with a non-empty key, in order.
func (d Definition) EnabledHeaders() []KeyValue {
	return enabled(d.Headers)
}

func (d Definition) EnabledQuery() []KeyValue {
	return enabled(d.Query)
}

// HeaderMap flattens enabled headers; later duplicates win.
func (d Definition) HeaderMap() map[string]string {
	out := make(map[string]string)
	for _, h := range d.EnabledHeaders() {
		out[h.Key] = h.Value
	}
	return out
}

// Header returns the last enabled value for name, case-insensitively.
func (d Definition) Header(name string) (string, bool) {
	val, ok := "", false
	for _, h := range d.EnabledHeaders() {
		if strings.EqualFold(h.Key, name) {
			val, ok = h.Value, true
		}
	}
	return val, ok
}

// SetHeader replaces every entry for name with one enabled entry, keeping the
// position of the first existing one.
func (d *Definition) SetHeader(name, value string) {
	idx := -1
	out := d.Headers[:0:0]
	for _, h := range d.Headers {
		if strings.EqualFold(h.Key, name) {
			if idx == -1 {
				idx = len(out)
				out = append(out, KeyValue{Key: h.Key, Value: value, Enabled: true})
			}
			continue
		}
		out = append(out, h)
	}
	if idx == -1 {
		out = append(out, KeyValue{Key: name, Value: value, Enabled: true})
	}
	d.Headers = out
}

func (d *Definition) RemoveHeader(name string) {
	out := d.Headers[:0:0]
	for _, h := range d.Headers {
		if strings.EqualFold(h.Key, name) {
			continue
		}
		out = append(out, h)
	}
	d.Headers = out
}

func (d *Definition) SetQuery(key, value string) {
	for i := range d.Query {
		if d.Query[i].Key == key {
			d.Query[i].Value = value
			d.Query[i].Enabled = true
			return
		}
	}
	d.Query = append(d.Query, KeyValue{Key: key, Value: value, Enabled: true})
}

func enabled(list []KeyValue) []KeyValue {
	var out []KeyValue
	for _, kv := range list {
		if !kv.Enabled || strings.TrimSpace(kv.Key) == "" {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func cloneKV(list []KeyValue) []KeyValue {
	if list == nil {
		return nil
	}
	return append([]KeyValue(nil), list...)
}

// Wire is the transport-ready form of a request produced by the builder.
type Wire struct {
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	TimeoutMS int
}

func (w *Wire) Clone() *Wire {
	if w == nil {
		return nil
	}
	out := *w
	out.Header = w.Header.Clone()
	if w.Body != nil {
		out.Body = append([]byte(nil), w.Body...)
	}
	return &out
}
