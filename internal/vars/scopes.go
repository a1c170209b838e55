package vars

import "github.com/unkn0wn-root/restflow/internal/request"

const (
	LabelEnvironment = "environment"
	LabelFolder      = "folder"
	LabelGlobal      = "global"
)

// Scopes holds the three variable tiers. Precedence is
// Environment > Folder > Global regardless of lookup order.
type Scopes struct {
	Global       map[string]string            `json:"global,omitempty"       yaml:"global,omitempty"`
	Folders      map[string]map[string]string `json:"folders,omitempty"      yaml:"folders,omitempty"`
	Environments map[string]map[string]string `json:"environments,omitempty" yaml:"environments,omitempty"`
}

// Layers is the active slice of Scopes for one execution.
type Layers struct {
	Global      map[string]string
	Folder      map[string]string
	Environment map[string]string
}

// Active picks the folder and environment tiers. Empty ids select nothing.
func (s Scopes) Active(folderID, envID string) Layers {
	l := Layers{Global: copyMap(s.Global)}
	if folderID != "" {
		l.Folder = copyMap(s.Folders[folderID])
	}
	if envID != "" {
		l.Environment = copyMap(s.Environments[envID])
	}
	return l
}

func (s Scopes) Resolver(folderID, envID string) *Resolver {
	return s.Active(folderID, envID).Resolver()
}

func (s Scopes) Clone() Scopes {
	out := Scopes{Global: copyMap(s.Global)}
	if s.Folders != nil {
		out.Folders = make(map[string]map[string]string, len(s.Folders))
		for id, values := range s.Folders {
			out.Folders[id] = copyMap(values)
		}
	}
	if s.Environments != nil {
		out.Environments = make(map[string]map[string]string, len(s.Environments))
		for id, values := range s.Environments {
			out.Environments[id] = copyMap(values)
		}
	}
	return out
}

func (l Layers) Resolver() *Resolver {
	return NewResolver(
		NewMapProvider(LabelEnvironment, l.Environment),
		NewMapProvider(LabelFolder, l.Folder),
		NewMapProvider(LabelGlobal, l.Global),
	)
}

// Effective flattens the layers into one map, later tiers overwriting earlier.
func (l Layers) Effective() map[string]string {
	out := make(map[string]string, len(l.Global)+len(l.Folder)+len(l.Environment))
	for _, tier := range []map[string]string{l.Global, l.Folder, l.Environment} {
		for k, v := range tier {
			out[k] = v
		}
	}
	return out
}

func Resolve(text string, scopes Scopes, folderID, envID string) string {
	return scopes.Resolver(folderID, envID).Expand(text)
}

func ResolveDeep(value any, scopes Scopes, folderID, envID string) any {
	return scopes.Resolver(folderID, envID).ExpandDeep(value)
}

func AllResolved(text string, scopes Scopes, folderID, envID string) bool {
	return scopes.Resolver(folderID, envID).AllResolved(text)
}

func ResolveRequest(def request.Definition, scopes Scopes, folderID, envID string) request.Definition {
	return scopes.Resolver(folderID, envID).ResolveRequest(def)
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
