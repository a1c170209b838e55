package importer

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/request"
)

// PostmanParser reads Postman v2.0 and v2.1 collection exports. Folders are
// flattened; each request's FolderID is the slash-joined folder path.
type PostmanParser struct{}

func (PostmanParser) Name() string { return "postman" }

type Collection struct {
	Name        string
	Definitions []request.Definition
	Variables   map[string]string
}

type pmCollection struct {
	Info     pmInfo       `json:"info"`
	Item     []pmItem     `json:"item"`
	Auth     *pmAuth      `json:"auth"`
	Event    []pmEvent    `json:"event"`
	Variable []pmKeyValue `json:"variable"`
}

type pmInfo struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

type pmItem struct {
	Name    string     `json:"name"`
	ID      string     `json:"id"`
	Item    []pmItem   `json:"item"`
	Request *pmRequest `json:"request"`
	Auth    *pmAuth    `json:"auth"`
	Event   []pmEvent  `json:"event"`
}

type pmRequest struct {
	Method string       `json:"method"`
	Header []pmKeyValue `json:"header"`
	URL    pmURL        `json:"url"`
	Body   *pmBody      `json:"body"`
	Auth   *pmAuth      `json:"auth"`
}

type pmKeyValue struct {
	Key      string `json:"key"`
	Value    any    `json:"value"`
	Disabled bool   `json:"disabled"`
	Type     string `json:"type"`
	Src      any    `json:"src"`
}

func (kv pmKeyValue) text() string {
	switch v := kv.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// pmURL accepts both the string and the object form.
type pmURL struct {
	Raw   string       `json:"raw"`
	Query []pmKeyValue `json:"query"`
}

func (u *pmURL) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		u.Raw = raw
		return nil
	}
	type alias pmURL
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*u = pmURL(obj)
	return nil
}

type pmBody struct {
	Mode       string       `json:"mode"`
	Raw        string       `json:"raw"`
	URLEncoded []pmKeyValue `json:"urlencoded"`
	FormData   []pmKeyValue `json:"formdata"`
	File       *struct {
		Src string `json:"src"`
	} `json:"file"`
	Options struct {
		Raw struct {
			Language string `json:"language"`
		} `json:"raw"`
	} `json:"options"`
	Disabled bool `json:"disabled"`
}

type pmAuth struct {
	Type   string       `json:"type"`
	Bearer []pmKeyValue `json:"bearer"`
	Basic  []pmKeyValue `json:"basic"`
	APIKey []pmKeyValue `json:"apikey"`
	OAuth2 []pmKeyValue `json:"oauth2"`
}

type pmEvent struct {
	Listen string `json:"listen"`
	Script struct {
		Exec any `json:"exec"`
	} `json:"script"`
	Disabled bool `json:"disabled"`
}

func (p PostmanParser) Parse(source string) ([]request.Definition, error) {
	col, err := p.ParseCollection(source)
	if err != nil || col == nil {
		return nil, err
	}
	if col.Definitions == nil {
		return []request.Definition{}, nil
	}
	return col.Definitions, nil
}

// ParseCollection returns nil without error when source is not a Postman
// collection.
func (PostmanParser) ParseCollection(source string) (*Collection, error) {
	trimmed := strings.TrimSpace(source)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, nil
	}
	var probe struct {
		Info *pmInfo         `json:"info"`
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil || probe.Info == nil || probe.Item == nil {
		return nil, nil
	}
	if probe.Info.Schema != "" && !strings.Contains(probe.Info.Schema, "getpostman.com") {
		return nil, nil
	}

	var pc pmCollection
	if err := json.Unmarshal([]byte(trimmed), &pc); err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "decode postman collection")
	}

	col := &Collection{Name: pc.Info.Name}
	if len(pc.Variable) > 0 {
		col.Variables = make(map[string]string, len(pc.Variable))
		for _, v := range pc.Variable {
			if v.Key != "" && !v.Disabled {
				col.Variables[v.Key] = v.text()
			}
		}
	}

	root := scope{auth: pc.Auth}
	root.addEvents(pc.Event)
	walkItems(pc.Item, root, &col.Definitions)
	return col, nil
}

// scope carries what folders pass down to their requests.
type scope struct {
	path []string
	auth *pmAuth
	pre  []string
	test []string
}

func (s *scope) addEvents(events []pmEvent) {
	for _, ev := range events {
		if ev.Disabled {
			continue
		}
		code := scriptText(ev.Script.Exec)
		if strings.TrimSpace(code) == "" {
			continue
		}
		switch strings.ToLower(ev.Listen) {
		case "prerequest":
			s.pre = append(s.pre, code)
		case "test":
			s.test = append(s.test, code)
		}
	}
}

func walkItems(items []pmItem, parent scope, out *[]request.Definition) {
	for _, it := range items {
		sc := scope{
			path: parent.path,
			auth: parent.auth,
			pre:  append([]string(nil), parent.pre...),
			test: append([]string(nil), parent.test...),
		}
		if it.Auth != nil {
			sc.auth = it.Auth
		}
		sc.addEvents(it.Event)

		if it.Request == nil {
			sc.path = append(append([]string(nil), parent.path...), it.Name)
			walkItems(it.Item, sc, out)
			continue
		}
		*out = append(*out, convertRequest(it, sc))
	}
}

func convertRequest(it pmItem, sc scope) request.Definition {
	req := it.Request
	def := request.Definition{
		ID:       it.ID,
		Name:     it.Name,
		FolderID: strings.Join(sc.path, "/"),
		Method:   strings.ToUpper(strings.TrimSpace(req.Method)),
	}
	if def.Method == "" {
		def.Method = "GET"
	}

	def.URL = req.URL.Raw
	if len(req.URL.Query) > 0 {
		// the query array is authoritative and also keeps disabled params
		if base, _, ok := strings.Cut(def.URL, "?"); ok {
			def.URL = base
		}
		for _, q := range req.URL.Query {
			def.Query = append(def.Query, request.KeyValue{Key: q.Key, Value: q.text(), Enabled: !q.Disabled})
		}
	}

	for _, h := range req.Header {
		if h.Key == "" {
			continue
		}
		def.Headers = append(def.Headers, request.KeyValue{Key: h.Key, Value: h.text(), Enabled: !h.Disabled})
	}

	if req.Body != nil && !req.Body.Disabled {
		def.Body = convertBody(*req.Body)
	}

	auth := sc.auth
	if req.Auth != nil {
		auth = req.Auth
	}
	def.Auth = convertAuth(auth)

	def.Scripts = request.Scripts{
		PreRequest: strings.Join(sc.pre, "\n"),
		Test:       strings.Join(sc.test, "\n"),
	}
	return def
}

func convertBody(b pmBody) request.Body {
	switch strings.ToLower(b.Mode) {
	case "raw":
		if strings.EqualFold(b.Options.Raw.Language, "json") {
			return request.Body{Type: request.BodyJSON, Raw: b.Raw}
		}
		return request.Body{Type: request.BodyRaw, Raw: b.Raw}
	case "urlencoded":
		return request.Body{Type: request.BodyURLEncoded, Form: convertFields(b.URLEncoded)}
	case "formdata":
		return request.Body{Type: request.BodyFormData, Form: convertFields(b.FormData)}
	case "file":
		// the export only names the file; the payload is not embedded
		return request.Body{Type: request.BodyBinary}
	default:
		return request.Body{Type: request.BodyNone}
	}
}

func convertFields(list []pmKeyValue) []request.FormField {
	out := make([]request.FormField, 0, len(list))
	for _, kv := range list {
		f := request.FormField{Key: kv.Key, Value: kv.text(), Type: request.FieldText, Enabled: !kv.Disabled}
		if strings.EqualFold(kv.Type, "file") {
			f.Type = request.FieldFile
			f.Value = ""
			if src, ok := kv.Src.(string); ok && src != "" {
				f.FileName = filepath.Base(src)
			}
		}
		out = append(out, f)
	}
	return out
}

func convertAuth(a *pmAuth) request.AuthSpec {
	if a == nil {
		return request.AuthSpec{}
	}
	switch strings.ToLower(a.Type) {
	case "bearer":
		return request.AuthSpec{Type: request.AuthBearer, Params: authParams(a.Bearer)}
	case "basic":
		return request.AuthSpec{Type: request.AuthBasic, Params: authParams(a.Basic)}
	case "apikey":
		params := authParams(a.APIKey)
		if params["in"] == "" {
			params["in"] = "header"
		}
		return request.AuthSpec{Type: request.AuthAPIKey, Params: params}
	case "oauth2":
		return request.AuthSpec{Type: request.AuthOAuth2, Params: authParams(a.OAuth2)}
	default:
		return request.AuthSpec{Type: request.AuthNone}
	}
}

func authParams(list []pmKeyValue) map[string]string {
	out := make(map[string]string, len(list))
	for _, kv := range list {
		if kv.Key != "" {
			out[kv.Key] = kv.text()
		}
	}
	return out
}

func scriptText(exec any) string {
	switch v := exec.(type) {
	case string:
		return v
	case []any:
		lines := make([]string, 0, len(v))
		for _, line := range v {
			if s, ok := line.(string); ok {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "\n")
	default:
		return ""
	}
}
