package scripts

import "github.com/unkn0wn-root/restflow/internal/request"

type MutationKind string

const (
	SetEnvironment   MutationKind = "env.set"
	UnsetEnvironment MutationKind = "env.unset"
	SetGlobal        MutationKind = "globals.set"
	UnsetGlobal      MutationKind = "globals.unset"
	SetURL           MutationKind = "request.url"
	SetHeader        MutationKind = "request.header.set"
	RemoveHeader     MutationKind = "request.header.remove"
	SetBody          MutationKind = "request.body"
)

type Mutation struct {
	Kind  MutationKind
	Key   string
	Value string
}

// MutationLog is the ordered record of every write a script made through its
// capabilities.
type MutationLog []Mutation

// Apply replays the log onto def and the variable maps. Nil targets are
// skipped.
func (l MutationLog) Apply(def *request.Definition, env, globals map[string]string) {
	for _, m := range l {
		switch m.Kind {
		case SetEnvironment:
			if env != nil {
				env[m.Key] = m.Value
			}
		case UnsetEnvironment:
			if env != nil {
				delete(env, m.Key)
			}
		case SetGlobal:
			if globals != nil {
				globals[m.Key] = m.Value
			}
		case UnsetGlobal:
			if globals != nil {
				delete(globals, m.Key)
			}
		case SetURL:
			if def != nil {
				def.URL = m.Value
			}
		case SetHeader:
			if def != nil {
				def.SetHeader(m.Key, m.Value)
			}
		case RemoveHeader:
			if def != nil {
				def.RemoveHeader(m.Key)
			}
		case SetBody:
			if def != nil {
				def.Body.Raw = m.Value
			}
		}
	}
}

// EnvironmentChanges collapses environment writes to their final state.
func (l MutationLog) EnvironmentChanges() (set map[string]string, removed []string) {
	return l.changes(SetEnvironment, UnsetEnvironment)
}

func (l MutationLog) GlobalChanges() (set map[string]string, removed []string) {
	return l.changes(SetGlobal, UnsetGlobal)
}

// TouchesRequest reports whether any request field was written.
func (l MutationLog) TouchesRequest() bool {
	for _, m := range l {
		switch m.Kind {
		case SetURL, SetHeader, RemoveHeader, SetBody:
			return true
		}
	}
	return false
}

func (l MutationLog) changes(setKind, unsetKind MutationKind) (map[string]string, []string) {
	type state struct {
		value   string
		deleted bool
	}
	final := make(map[string]state)
	var order []string
	for _, m := range l {
		if m.Kind != setKind && m.Kind != unsetKind {
			continue
		}
		if _, seen := final[m.Key]; !seen {
			order = append(order, m.Key)
		}
		final[m.Key] = state{value: m.Value, deleted: m.Kind == unsetKind}
	}

	set := make(map[string]string)
	var removed []string
	for _, key := range order {
		st := final[key]
		if st.deleted {
			removed = append(removed, key)
			continue
		}
		set[key] = st.value
	}
	return set, removed
}
