package vars

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/restflow/internal/request"
)

type Provider interface {
	Resolve(name string) (string, bool)
	Label() string
}

// Resolver looks names up across providers in order; the first provider that
// knows a name wins.
type Resolver struct {
	providers []Provider
	dynamic   bool
}

func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers, dynamic: true}
}

// WithoutDynamic disables $uuid, $timestamp and friends.
func (r *Resolver) WithoutDynamic() *Resolver {
	clone := *r
	clone.dynamic = false
	return &clone
}

// First tries direct lookup across all providers.
// If that fails and the name has a dot, tries to match a provider prefix -
// so "environment.api_key" looks for a provider labeled "environment" then asks for "api_key".
func (r *Resolver) Resolve(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}
	for _, provider := range r.providers {
		if value, ok := provider.Resolve(trimmed); ok {
			return value, true
		}
	}
	if r.dynamic && strings.HasPrefix(trimmed, "$") {
		if value, ok := resolveDynamic(trimmed); ok {
			return value, true
		}
	}
	idx := strings.Index(trimmed, ".")
	if idx <= 0 {
		return "", false
	}
	prefix := strings.ToLower(trimmed[:idx])
	subject := strings.TrimSpace(trimmed[idx+1:])
	if subject == "" {
		return "", false
	}
	for _, provider := range r.providers {
		if strings.ToLower(strings.TrimSpace(provider.Label())) != prefix {
			continue
		}
		if value, ok := provider.Resolve(subject); ok {
			return value, true
		}
	}
	return "", false
}

var templateVarPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Expand substitutes every bound placeholder. Unbound placeholders are kept
// byte for byte, whitespace included.
func (r *Resolver) Expand(input string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return templateVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if name == "" {
			return match
		}
		if value, ok := r.Resolve(name); ok {
			return value
		}
		return match
	})
}

// Missing lists the distinct placeholder names in input that no provider binds.
func (r *Resolver) Missing(input string) []string {
	var missing []string
	seen := make(map[string]struct{})
	for _, sub := range templateVarPattern.FindAllStringSubmatch(input, -1) {
		name := strings.TrimSpace(sub[1])
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if r.bound(name) {
			continue
		}
		missing = append(missing, name)
	}
	return missing
}

func (r *Resolver) AllResolved(input string) bool {
	return len(r.Missing(input)) == 0
}

func (r *Resolver) bound(name string) bool {
	if r.dynamic && isDynamic(name) {
		return true
	}
	_, ok := r.Resolve(name)
	return ok
}

// ExpandDeep walks maps and slices (as produced by encoding/json or yaml) and
// expands every string leaf. Map keys are left alone.
func (r *Resolver) ExpandDeep(value any) any {
	switch v := value.(type) {
	case string:
		return r.Expand(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = r.ExpandDeep(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.ExpandDeep(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			out[k] = r.Expand(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = r.Expand(item)
		}
		return out
	default:
		return value
	}
}

// ResolveRequest returns a copy of def with every string field expanded.
// Scripts are not templates and are left untouched.
func (r *Resolver) ResolveRequest(def request.Definition) request.Definition {
	out := def.Clone()
	out.Method = r.Expand(out.Method)
	out.URL = r.Expand(out.URL)
	for i := range out.Headers {
		out.Headers[i].Key = r.Expand(out.Headers[i].Key)
		out.Headers[i].Value = r.Expand(out.Headers[i].Value)
	}
	for i := range out.Query {
		out.Query[i].Key = r.Expand(out.Query[i].Key)
		out.Query[i].Value = r.Expand(out.Query[i].Value)
	}
	out.Body.Raw = r.Expand(out.Body.Raw)
	for i := range out.Body.Form {
		out.Body.Form[i].Key = r.Expand(out.Body.Form[i].Key)
		if !out.Body.Form[i].IsFile() {
			out.Body.Form[i].Value = r.Expand(out.Body.Form[i].Value)
		}
	}
	for k, v := range out.Auth.Params {
		out.Auth.Params[k] = r.Expand(v)
	}
	return out
}

// Unresolved collects missing names from every templated field of def.
func (r *Resolver) Unresolved(def request.Definition) []string {
	var b strings.Builder
	b.WriteString(def.URL)
	for _, h := range def.EnabledHeaders() {
		b.WriteString(h.Key)
		b.WriteString(h.Value)
	}
	for _, q := range def.EnabledQuery() {
		b.WriteString(q.Key)
		b.WriteString(q.Value)
	}
	b.WriteString(def.Body.Raw)
	for _, f := range def.Body.Form {
		if f.Enabled && !f.IsFile() {
			b.WriteString(f.Key)
			b.WriteString(f.Value)
		}
	}
	for _, v := range def.Auth.Params {
		b.WriteString(v)
	}
	return r.Missing(b.String())
}

func isDynamic(name string) bool {
	switch strings.ToLower(name) {
	case "$timestamp", "$isotimestamp", "$timestampiso8601", "$randomint", "$uuid", "$guid":
		return true
	default:
		return false
	}
}

func resolveDynamic(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "$timestamp":
		return fmt.Sprintf("%d", time.Now().Unix()), true
	case "$isotimestamp", "$timestampiso8601":
		return time.Now().UTC().Format(time.RFC3339), true
	case "$randomint":
		n, err := rand.Int(rand.Reader, big.NewInt(1000))
		if err != nil {
			return "0", true
		}
		return n.String(), true
	case "$uuid", "$guid":
		return uuid.NewString(), true
	default:
		return "", false
	}
}

type MapProvider struct {
	values map[string]string
	label  string
}

// Lookups are case-sensitive, matching how scripts address variables.
func NewMapProvider(label string, values map[string]string) Provider {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &MapProvider{values: copied, label: label}
}

func (p *MapProvider) Resolve(name string) (string, bool) {
	value, ok := p.values[name]
	return value, ok
}

func (p *MapProvider) Label() string {
	return p.label
}
