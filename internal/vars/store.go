package vars

import (
	"sort"
	"sync"
)

// Store is the process-wide variable cache. Callers get copies; writes replace
// whole tiers or merge keys under the lock.
type Store struct {
	mu     sync.RWMutex
	scopes Scopes
}

func NewStore(initial Scopes) *Store {
	return &Store{scopes: initial.Clone()}
}

// Scopes returns the global tier plus the selected folder and environment
// tiers. Unselected tiers are omitted.
func (s *Store) Scopes(folderID, envID string) Scopes {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Scopes{Global: copyMap(s.scopes.Global)}
	if folderID != "" {
		out.Folders = map[string]map[string]string{folderID: copyMap(s.scopes.Folders[folderID])}
	}
	if envID != "" {
		out.Environments = map[string]map[string]string{envID: copyMap(s.scopes.Environments[envID])}
	}
	return out
}

func (s *Store) Snapshot() Scopes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopes.Clone()
}

func (s *Store) SetGlobal(values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes.Global = copyMap(values)
}

func (s *Store) SetFolder(folderID string, values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopes.Folders == nil {
		s.scopes.Folders = make(map[string]map[string]string)
	}
	s.scopes.Folders[folderID] = copyMap(values)
}

func (s *Store) SetEnvironment(envID string, values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopes.Environments == nil {
		s.scopes.Environments = make(map[string]map[string]string)
	}
	s.scopes.Environments[envID] = copyMap(values)
}

func (s *Store) AddEnvironments(envs EnvironmentSet) {
	for id, values := range envs {
		s.SetEnvironment(id, values)
	}
}

// MergeEnvironment applies script writes to a named environment. Keys in
// removed are deleted after set is applied.
func (s *Store) MergeEnvironment(envID string, set map[string]string, removed []string) {
	if envID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopes.Environments == nil {
		s.scopes.Environments = make(map[string]map[string]string)
	}
	env := s.scopes.Environments[envID]
	if env == nil {
		env = make(map[string]string)
		s.scopes.Environments[envID] = env
	}
	for k, v := range set {
		env[k] = v
	}
	for _, k := range removed {
		delete(env, k)
	}
}

func (s *Store) MergeGlobal(set map[string]string, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopes.Global == nil {
		s.scopes.Global = make(map[string]string)
	}
	for k, v := range set {
		s.scopes.Global[k] = v
	}
	for _, k := range removed {
		delete(s.scopes.Global, k)
	}
}

func (s *Store) Environments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.scopes.Environments))
	for name := range s.scopes.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
