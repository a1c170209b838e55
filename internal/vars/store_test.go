package vars

import (
	"sync"
	"testing"
)

func TestStoreScopesReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewStore(tieredScopes())
	got := s.Scopes("f1", "dev")
	got.Global["host"] = "mutated"
	got.Environments["dev"]["host"] = "mutated"

	again := s.Scopes("f1", "dev")
	if again.Global["host"] != "a.com" || again.Environments["dev"]["host"] != "c.com" {
		t.Fatalf("store leaked internal maps: %#v", again)
	}
	if len(s.Scopes("", "").Folders) != 0 || len(s.Scopes("", "").Environments) != 0 {
		t.Fatalf("unselected tiers must be omitted")
	}
}

func TestStoreMergeEnvironment(t *testing.T) {
	t.Parallel()

	s := NewStore(tieredScopes())
	s.MergeEnvironment("dev", map[string]string{"token": "XYZ"}, []string{"host"})
	s.MergeEnvironment("", map[string]string{"ignored": "x"}, nil)

	env := s.Scopes("", "dev").Environments["dev"]
	if env["token"] != "XYZ" {
		t.Fatalf("expected merged token, got %#v", env)
	}
	if _, ok := env["host"]; ok {
		t.Fatalf("expected host removed")
	}
	if names := s.Environments(); len(names) != 1 || names[0] != "dev" {
		t.Fatalf("unexpected environments %v", names)
	}
}

func TestStoreConcurrentWrites(t *testing.T) {
	t.Parallel()

	s := NewStore(Scopes{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.MergeEnvironment("dev", map[string]string{"k": "v"}, nil)
			s.MergeGlobal(map[string]string{"g": "v"}, nil)
			_ = s.Scopes("", "dev")
		}(i)
	}
	wg.Wait()
	if s.Snapshot().Environments["dev"]["k"] != "v" {
		t.Fatalf("expected merged value")
	}
}
