package importer

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/request"
)

// CurlParser reads one or more curl command lines. Each "curl" word starts
// a new request; shell separators between commands are ignored.
type CurlParser struct{}

func (CurlParser) Name() string { return "curl" }

var promptPrefixes = []string{"$", "%", ">"}

var separators = map[string]bool{"&&": true, "||": true, ";": true, "|": true}

func (p CurlParser) Parse(source string) ([]request.Definition, error) {
	if !looksLikeCurl(source) {
		return nil, nil
	}
	tokens, err := splitShell(source)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "tokenize curl command")
	}

	var (
		defs    []request.Definition
		current []string
		inCmd   bool
	)
	finish := func() error {
		if !inCmd {
			return nil
		}
		def, err := parseCurlArgs(current)
		if err != nil {
			return err
		}
		defs = append(defs, def)
		current, inCmd = nil, false
		return nil
	}

	for _, tok := range tokens {
		switch {
		case strings.EqualFold(tok, "curl"):
			if err := finish(); err != nil {
				return nil, err
			}
			inCmd = true
		case separators[tok]:
			if err := finish(); err != nil {
				return nil, err
			}
		case inCmd:
			current = append(current, tok)
		}
	}
	if err := finish(); err != nil {
		return nil, err
	}
	return defs, nil
}

func looksLikeCurl(source string) bool {
	trimmed := strings.TrimSpace(source)
	for _, prefix := range promptPrefixes {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
	}
	fields := strings.Fields(trimmed)
	for _, f := range fields {
		switch strings.ToLower(f) {
		case "curl":
			return true
		case "sudo", "env", "command", "time", "noglob":
			continue
		}
		return false
	}
	return false
}

type curlState struct {
	def      request.Definition
	url      string
	method   string
	data     []string
	urlenc   []request.FormField
	form     []request.FormField
	jsonBody bool
	binary   bool
	getMode  bool
	head     bool
}

type curlOpt struct {
	takesValue bool
	apply      func(*curlState, string) error
}

func curlFlag(fn func(*curlState)) curlOpt {
	return curlOpt{apply: func(st *curlState, _ string) error { fn(st); return nil }}
}

func curlValue(fn func(*curlState, string) error) curlOpt {
	return curlOpt{takesValue: true, apply: fn}
}

func ignoredValue() curlOpt { return curlValue(func(*curlState, string) error { return nil }) }

func ignoredFlag() curlOpt { return curlFlag(func(*curlState) {}) }

var curlLongOpts = map[string]curlOpt{
	"request":        curlValue(func(st *curlState, v string) error { st.method = strings.ToUpper(v); return nil }),
	"header":         curlValue(optHeader),
	"user":           curlValue(optUser),
	"user-agent":     curlValue(headerOpt("User-Agent")),
	"referer":        curlValue(headerOpt("Referer")),
	"cookie":         curlValue(headerOpt("Cookie")),
	"url":            curlValue(func(st *curlState, v string) error { st.url = v; return nil }),
	"data":           curlValue(optData),
	"data-ascii":     curlValue(optData),
	"data-raw":       curlValue(optData),
	"data-binary":    curlValue(func(st *curlState, v string) error { st.binary = true; return optData(st, v) }),
	"data-urlencode": curlValue(optDataURLEncode),
	"json":           curlValue(optJSON),
	"form":           curlValue(optForm(true)),
	"form-string":    curlValue(optForm(false)),
	"get":            curlFlag(func(st *curlState) { st.getMode = true }),
	"head":           curlFlag(func(st *curlState) { st.head = true }),
	"max-time":       curlValue(optMaxTime),
	"compressed":     curlFlag(func(st *curlState) { st.def.SetHeader("Accept-Encoding", "gzip, deflate, br") }),

	"insecure":   ignoredFlag(),
	"location":   ignoredFlag(),
	"silent":     ignoredFlag(),
	"show-error": ignoredFlag(),
	"verbose":    ignoredFlag(),
	"include":    ignoredFlag(),
	"fail":       ignoredFlag(),
	"http1.1":    ignoredFlag(),
	"http2":      ignoredFlag(),
	"proxy":      ignoredValue(),
	"output":     ignoredValue(),
	"cacert":     ignoredValue(),
	"cert":       ignoredValue(),
	"key":        ignoredValue(),
	"max-redirs": ignoredValue(),

	"connect-timeout": ignoredValue(),
}

var curlShortOpts = map[byte]string{
	'X': "request",
	'H': "header",
	'u': "user",
	'A': "user-agent",
	'e': "referer",
	'b': "cookie",
	'd': "data",
	'F': "form",
	'G': "get",
	'I': "head",
	'm': "max-time",
	'k': "insecure",
	'L': "location",
	's': "silent",
	'S': "show-error",
	'v': "verbose",
	'i': "include",
	'f': "fail",
	'x': "proxy",
	'o': "output",
	'E': "cert",
}

func parseCurlArgs(args []string) (request.Definition, error) {
	st := &curlState{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--") && len(arg) > 2:
			name, val, hasVal := strings.Cut(arg[2:], "=")
			opt, ok := curlLongOpts[name]
			if !ok {
				continue
			}
			if opt.takesValue && !hasVal {
				i++
				if i >= len(args) {
					return request.Definition{}, errdef.New(errdef.CodeParse, "missing argument for --%s", name)
				}
				val = args[i]
			}
			if err := opt.apply(st, val); err != nil {
				return request.Definition{}, err
			}
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			if err := applyShortCluster(st, args, &i); err != nil {
				return request.Definition{}, err
			}
		default:
			if st.url == "" {
				st.url = arg
			}
		}
	}
	return st.finish()
}

// applyShortCluster handles -XPOST, -sS and -H value forms.
func applyShortCluster(st *curlState, args []string, i *int) error {
	arg := args[*i]
	for j := 1; j < len(arg); j++ {
		name, ok := curlShortOpts[arg[j]]
		if !ok {
			continue
		}
		opt := curlLongOpts[name]
		if !opt.takesValue {
			if err := opt.apply(st, ""); err != nil {
				return err
			}
			continue
		}
		val := arg[j+1:]
		if val == "" {
			*i++
			if *i >= len(args) {
				return errdef.New(errdef.CodeParse, "missing argument for -%c", arg[j])
			}
			val = args[*i]
		}
		return opt.apply(st, val)
	}
	return nil
}

func optHeader(st *curlState, raw string) error {
	name, val, _ := strings.Cut(raw, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	st.def.Headers = append(st.def.Headers, request.KeyValue{Key: name, Value: strings.TrimSpace(val), Enabled: true})
	return nil
}

func headerOpt(name string) func(*curlState, string) error {
	return func(st *curlState, v string) error {
		st.def.SetHeader(name, v)
		return nil
	}
}

func optUser(st *curlState, v string) error {
	user, pass, _ := strings.Cut(v, ":")
	st.def.Auth = request.AuthSpec{
		Type:   request.AuthBasic,
		Params: map[string]string{"username": user, "password": pass},
	}
	return nil
}

func optData(st *curlState, v string) error {
	st.data = append(st.data, v)
	return nil
}

func optDataURLEncode(st *curlState, v string) error {
	name, val, ok := strings.Cut(v, "=")
	if !ok {
		name, val = "", v
	}
	st.urlenc = append(st.urlenc, request.FormField{Key: name, Value: val, Type: request.FieldText, Enabled: true})
	return nil
}

func optJSON(st *curlState, v string) error {
	st.jsonBody = true
	st.data = append(st.data, v)
	if _, ok := st.def.Header(request.HeaderContentType); !ok {
		st.def.SetHeader(request.HeaderContentType, request.MimeJSON)
	}
	if _, ok := st.def.Header("Accept"); !ok {
		st.def.SetHeader("Accept", request.MimeJSON)
	}
	return nil
}

func optForm(allowFiles bool) func(*curlState, string) error {
	return func(st *curlState, v string) error {
		name, val, _ := strings.Cut(v, "=")
		field := request.FormField{Key: name, Value: val, Type: request.FieldText, Enabled: true}
		if allowFiles && (strings.HasPrefix(val, "@") || strings.HasPrefix(val, "<")) {
			path, params, _ := strings.Cut(val[1:], ";")
			field.Type = request.FieldFile
			field.FileName = filepath.Base(path)
			field.Value = ""
			for _, p := range strings.Split(params, ";") {
				if k, pv, ok := strings.Cut(p, "="); ok && strings.EqualFold(strings.TrimSpace(k), "type") {
					field.ContentType = strings.TrimSpace(pv)
				}
			}
		}
		st.form = append(st.form, field)
		return nil
	}
}

func optMaxTime(st *curlState, v string) error {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return errdef.New(errdef.CodeParse, "invalid --max-time %q", v)
	}
	st.def.TimeoutMS = int(secs * 1000)
	return nil
}

func (st *curlState) finish() (request.Definition, error) {
	if strings.TrimSpace(st.url) == "" {
		return request.Definition{}, errdef.New(errdef.CodeParse, "curl command missing URL")
	}
	def := st.def
	def.URL = strings.Trim(st.url, `"'`)

	hasData := len(st.data) > 0 || len(st.urlenc) > 0
	switch {
	case st.getMode && hasData:
		def.URL = appendRawQuery(def.URL, st.queryFromData())
	case len(st.form) > 0:
		def.Body = request.Body{Type: request.BodyFormData, Form: st.form}
	case hasData:
		def.Body = st.dataBody()
	}

	switch {
	case st.method != "":
		def.Method = st.method
	case st.head:
		def.Method = "HEAD"
	case st.getMode:
		def.Method = "GET"
	case hasData || len(st.form) > 0:
		def.Method = "POST"
	default:
		def.Method = "GET"
	}
	def.Name = def.Method + " " + def.URL
	return def, nil
}

// dataBody picks the body type curl would send: JSON when asked for or
// declared, url-encoded fields when no content type overrides it, raw text
// otherwise.
func (st *curlState) dataBody() request.Body {
	raw := strings.Join(st.data, "&")
	ct, hasCT := st.def.Header(request.HeaderContentType)
	ct = strings.ToLower(ct)

	switch {
	case st.jsonBody || strings.Contains(ct, "json") || (!hasCT && looksLikeJSON(raw)):
		return request.Body{Type: request.BodyJSON, Raw: strings.Join(st.data, "")}
	case hasCT && !strings.Contains(ct, "x-www-form-urlencoded"):
		return request.Body{Type: request.BodyRaw, Raw: raw}
	case st.binary && len(st.urlenc) == 0:
		return request.Body{Type: request.BodyRaw, Raw: raw}
	}

	fields := make([]request.FormField, 0, len(st.data)+len(st.urlenc))
	for _, d := range st.data {
		for _, pair := range strings.Split(d, "&") {
			if pair == "" {
				continue
			}
			k, v, _ := strings.Cut(pair, "=")
			if dk, err := url.QueryUnescape(k); err == nil {
				k = dk
			}
			if dv, err := url.QueryUnescape(v); err == nil {
				v = dv
			}
			fields = append(fields, request.FormField{Key: k, Value: v, Type: request.FieldText, Enabled: true})
		}
	}
	fields = append(fields, st.urlenc...)
	return request.Body{Type: request.BodyURLEncoded, Form: fields}
}

func (st *curlState) queryFromData() string {
	parts := append([]string(nil), st.data...)
	for _, f := range st.urlenc {
		if f.Key == "" {
			parts = append(parts, url.QueryEscape(f.Value))
			continue
		}
		parts = append(parts, url.QueryEscape(f.Key)+"="+url.QueryEscape(f.Value))
	}
	return strings.Join(parts, "&")
}

func appendRawQuery(rawURL, query string) string {
	if query == "" {
		return rawURL
	}
	base, frag, hasFrag := strings.Cut(rawURL, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	out := base + sep + query
	if hasFrag {
		out += "#" + frag
	}
	return out
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}
