package httpclient

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/request"
)

// Build turns a resolved definition into a wire request. It never fails on
// unresolved placeholders; only undecodable base64 payloads are errors.
func Build(def request.Definition) (*request.Wire, error) {
	wire := &request.Wire{
		Method:    def.EffectiveMethod(),
		Header:    make(http.Header),
		TimeoutMS: def.TimeoutMS,
	}
	for _, h := range def.EnabledHeaders() {
		wire.Header.Add(h.Key, h.Value)
	}

	query := def.EnabledQuery()
	applyAuth(def.Auth.Variant(), wire.Header, &query, def.URL)
	wire.URL = appendQuery(normalizeURL(def.URL), query)

	body, contentType, err := encodeBody(def.Body, wire.Header)
	if err != nil {
		return nil, err
	}
	wire.Body = body
	switch {
	case contentType == "":
	case contentType == contentTypeNone:
		wire.Header.Del(request.HeaderContentType)
	default:
		wire.Header.Set(request.HeaderContentType, contentType)
	}
	return wire, nil
}

func applyAuth(auth request.Auth, header http.Header, query *[]request.KeyValue, rawURL string) {
	switch a := auth.(type) {
	case request.NoAuth:
	case request.BearerAuth:
		if a.Token != "" {
			header.Set(request.HeaderAuthorization, "Bearer "+a.Token)
		}
	case request.OAuth2Auth:
		if a.AccessToken != "" {
			header.Set(request.HeaderAuthorization, "Bearer "+a.AccessToken)
		}
	case request.BasicAuth:
		if a.Username == "" && a.Password == "" {
			return
		}
		creds := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		header.Set(request.HeaderAuthorization, "Basic "+creds)
	case request.APIKeyAuth:
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return
		}
		if a.In == request.APIKeyInQuery {
			if hasQueryKey(rawURL, *query, name) {
				return
			}
			*query = append(*query, request.KeyValue{Key: name, Value: a.Value, Enabled: true})
			return
		}
		header.Set(name, a.Value)
	}
}

func hasQueryKey(rawURL string, query []request.KeyValue, key string) bool {
	for _, q := range query {
		if q.Key == key {
			return true
		}
	}
	if idx := strings.Index(rawURL, "?"); idx >= 0 {
		existing, err := url.ParseQuery(stripFragment(rawURL[idx+1:]))
		if err == nil {
			_, ok := existing[key]
			return ok
		}
	}
	return false
}

// normalizeURL adds a scheme when the user typed a bare host.
func normalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.Contains(trimmed, "://") || strings.HasPrefix(trimmed, "{{") {
		return trimmed
	}
	return "http://" + trimmed
}

// appendQuery keeps the existing query string byte for byte and appends the
// enabled params in order.
func appendQuery(rawURL string, query []request.KeyValue) string {
	if len(query) == 0 {
		return rawURL
	}
	base, fragment := rawURL, ""
	if idx := strings.Index(rawURL, "#"); idx >= 0 {
		base, fragment = rawURL[:idx], rawURL[idx:]
	}

	var b strings.Builder
	b.WriteString(base)
	switch {
	case !strings.Contains(base, "?"):
		b.WriteByte('?')
	case !strings.HasSuffix(base, "?") && !strings.HasSuffix(base, "&"):
		b.WriteByte('&')
	}
	b.WriteString(encodePairs(query))
	b.WriteString(fragment)
	return b.String()
}

func stripFragment(s string) string {
	if idx := strings.Index(s, "#"); idx >= 0 {
		return s[:idx]
	}
	return s
}

func encodePairs(pairs []request.KeyValue) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return strings.Join(parts, "&")
}

// contentTypeNone asks Build to drop any Content-Type header.
const contentTypeNone = "\x00none"

// encodeBody returns the payload and the Content-Type to force. An empty
// content type leaves headers untouched.
func encodeBody(body request.Body, header http.Header) ([]byte, string, error) {
	hasCT := header.Get(request.HeaderContentType) != ""
	switch body.Type.Normalize() {
	case request.BodyJSON:
		if hasCT {
			return []byte(body.Raw), "", nil
		}
		return []byte(body.Raw), request.MimeJSON, nil
	case request.BodyRaw:
		return []byte(body.Raw), "", nil
	case request.BodyURLEncoded:
		var pairs []request.KeyValue
		for _, f := range body.Form {
			if !f.Enabled || strings.TrimSpace(f.Key) == "" || f.IsFile() {
				continue
			}
			pairs = append(pairs, request.KeyValue{Key: f.Key, Value: f.Value})
		}
		if hasCT {
			return []byte(encodePairs(pairs)), "", nil
		}
		return []byte(encodePairs(pairs)), request.MimeFormURLEncoded, nil
	case request.BodyFormData:
		return encodeMultipart(body.Form)
	case request.BodyBinary:
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body.Binary))
		if err != nil {
			return nil, "", errdef.Wrap(errdef.CodeParse, err, "decode binary body")
		}
		switch {
		case hasCT:
			return data, "", nil
		case body.BinaryContentType != "":
			return data, body.BinaryContentType, nil
		default:
			return data, request.MimeOctetStream, nil
		}
	default:
		return nil, contentTypeNone, nil
	}
}

func encodeMultipart(fields []request.FormField) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range fields {
		if !f.Enabled || strings.TrimSpace(f.Key) == "" {
			continue
		}
		if !f.IsFile() {
			if err := writer.WriteField(f.Key, f.Value); err != nil {
				return nil, "", errdef.Wrap(errdef.CodeHTTP, err, "write form field %s", f.Key)
			}
			continue
		}

		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(f.Value))
		if err != nil {
			return nil, "", errdef.Wrap(errdef.CodeParse, err, "decode file field %s", f.Key)
		}
		name := f.FileName
		if name == "" {
			name = f.Key
		}
		ct := f.ContentType
		if ct == "" {
			ct = request.MimeOctetStream
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(f.Key), escapeQuotes(name)))
		h.Set(request.HeaderContentType, ct)
		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", errdef.Wrap(errdef.CodeHTTP, err, "create form part %s", f.Key)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", errdef.Wrap(errdef.CodeHTTP, err, "write form part %s", f.Key)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", errdef.Wrap(errdef.CodeHTTP, err, "close multipart body")
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// managedContentType is the Content-Type an editing surface maintains for a
// body type. Empty means the type does not own the header.
func managedContentType(t request.BodyType) string {
	switch t.Normalize() {
	case request.BodyJSON:
		return request.MimeJSON
	case request.BodyURLEncoded:
		return request.MimeFormURLEncoded
	case request.BodyBinary:
		return request.MimeOctetStream
	default:
		return ""
	}
}

// SyncContentType rewrites the Content-Type entries of headers after the body
// type changes from one type to another. Other headers are untouched.
// Leaving json, urlencoded or binary drops the old Content-Type; entering one of
// them installs its type; form-data never carries a manual Content-Type.
func SyncContentType(headers []request.KeyValue, from, to request.BodyType) []request.KeyValue {
	from, to = from.Normalize(), to.Normalize()
	out := append([]request.KeyValue(nil), headers...)
	if from == to {
		return out
	}

	def := request.Definition{Headers: out}
	switch {
	case to == request.BodyFormData:
		def.RemoveHeader(request.HeaderContentType)
	case managedContentType(to) != "":
		def.SetHeader(request.HeaderContentType, managedContentType(to))
	case managedContentType(from) != "":
		def.RemoveHeader(request.HeaderContentType)
	}
	return def.Headers
}
