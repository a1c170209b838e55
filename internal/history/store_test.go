package history

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	mu      sync.Mutex
	stored  []Entry
	saves   int
	loadErr error
	saveErr error
}

func (b *fakeBackend) LoadHistory(context.Context) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	out := make([]Entry, len(b.stored))
	copy(out, b.stored)
	return out, nil
}

func (b *fakeBackend) SaveHistory(_ context.Context, entries []Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saves++
	b.stored = append([]Entry(nil), entries...)
	return nil
}

func (b *fakeBackend) snapshot() ([]Entry, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.stored...), b.saves
}

func TestStoreBoundsToMaxEntries(t *testing.T) {
	backend := &fakeBackend{}
	store := NewStore(backend)

	for i := 0; i <= DefaultMaxEntries; i++ {
		store.Append(Entry{ID: strconv.Itoa(i), Method: "GET", URL: "https://api.local"})
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries := store.Entries()
	if len(entries) != DefaultMaxEntries {
		t.Fatalf("expected %d entries, got %d", DefaultMaxEntries, len(entries))
	}
	if entries[0].ID != "1000" {
		t.Fatalf("expected newest first, got %q", entries[0].ID)
	}
	if entries[len(entries)-1].ID != "1" {
		t.Fatalf("expected oldest surviving entry 1, got %q", entries[len(entries)-1].ID)
	}
	if _, ok := store.Get("0"); ok {
		t.Fatalf("oldest entry should have been evicted")
	}

	stored, _ := backend.snapshot()
	if len(stored) != DefaultMaxEntries || stored[0].ID != "1000" {
		t.Fatalf("backend should hold the final snapshot, got %d entries", len(stored))
	}
}

func TestStoreAppendFillsIDAndTimestamp(t *testing.T) {
	store := NewStore(nil)
	defer store.Close()

	before := time.Now()
	entry := store.Append(Entry{Method: "POST", URL: "https://api.local/items"})
	if entry.ID == "" {
		t.Fatalf("expected generated id")
	}
	if entry.Timestamp.Before(before) {
		t.Fatalf("expected timestamp to be set")
	}
	if store.Len() != 1 {
		t.Fatalf("expected one entry")
	}
}

func TestStoreCoalescesWrites(t *testing.T) {
	backend := &fakeBackend{}
	store := NewStore(backend, WithMaxEntries(5))

	for i := 0; i < 50; i++ {
		store.Append(Entry{ID: strconv.Itoa(i)})
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	stored, saves := backend.snapshot()
	if saves == 0 || saves > 50 {
		t.Fatalf("unexpected save count %d", saves)
	}
	if len(stored) != 5 || stored[0].ID != "49" || stored[4].ID != "45" {
		t.Fatalf("backend should hold the latest snapshot, got %+v", stored)
	}
}

func TestStoreClearPersistsSynchronously(t *testing.T) {
	backend := &fakeBackend{}
	store := NewStore(backend)
	defer store.Close()

	store.Append(Entry{ID: "a"})
	store.Append(Entry{ID: "b"})
	store.Clear()

	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
	stored, saves := backend.snapshot()
	if saves == 0 || len(stored) != 0 {
		t.Fatalf("clear should have written an empty list, got %d entries after %d saves", len(stored), saves)
	}
}

func TestStoreClearFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	backend := &fakeBackend{saveErr: errors.New("disk full")}
	store := NewStore(backend, WithLogger(zap.New(core)))
	defer store.Close()

	store.Clear()
	if logs.FilterMessage("persist history failed").Len() != 1 {
		t.Fatalf("expected persist failure to be logged, got %v", logs.All())
	}
	if store.Len() != 0 {
		t.Fatalf("memory should stay cleared")
	}
}

func TestStoreLoad(t *testing.T) {
	backend := &fakeBackend{stored: []Entry{{ID: "3"}, {ID: "2"}, {ID: "1"}}}
	store := NewStore(backend, WithMaxEntries(2))
	defer store.Close()

	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	entries := store.Entries()
	if len(entries) != 2 || entries[0].ID != "3" || entries[1].ID != "2" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	failing := NewStore(&fakeBackend{loadErr: errors.New("corrupt")})
	defer failing.Close()
	err := failing.Load(context.Background())
	if errdef.CodeOf(err) != errdef.CodeHistory {
		t.Fatalf("expected history error, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(nil)
	defer store.Close()

	store.Append(Entry{ID: "a"})
	store.Append(Entry{ID: "b"})
	if !store.Delete("a") {
		t.Fatalf("expected delete to succeed")
	}
	if store.Delete("missing") {
		t.Fatalf("expected delete of unknown id to report false")
	}
	entries := store.Entries()
	if len(entries) != 1 || entries[0].ID != "b" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestStoreAppendAfterCloseWritesThrough(t *testing.T) {
	backend := &fakeBackend{}
	store := NewStore(backend)
	_ = store.Close()

	store.Append(Entry{ID: "late"})
	stored, _ := backend.snapshot()
	if len(stored) != 1 || stored[0].ID != "late" {
		t.Fatalf("expected synchronous write after close, got %+v", stored)
	}
}

func TestNewTraceSummary(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tl := &telemetry.Timeline{
		Started:   start,
		Completed: start.Add(120 * time.Millisecond),
		Phases: []telemetry.Phase{
			{Kind: "dns", Start: start, End: start.Add(10 * time.Millisecond)},
			{Kind: "connect", Start: start.Add(10 * time.Millisecond), End: start.Add(30 * time.Millisecond), Addr: "127.0.0.1:443"},
		},
	}
	summary := NewTraceSummary(tl)
	if summary.Duration != 120*time.Millisecond {
		t.Fatalf("unexpected duration %v", summary.Duration)
	}
	conn, ok := summary.Phase("connect")
	if !ok || conn.Duration != 20*time.Millisecond || conn.Addr != "127.0.0.1:443" {
		t.Fatalf("unexpected connect phase %+v", conn)
	}
	if NewTraceSummary(nil) != nil {
		t.Fatalf("nil timeline should produce nil summary")
	}
}

func TestEntryJSONOmitsStatusOnFailure(t *testing.T) {
	failed, err := json.Marshal(Entry{ID: "a", Method: "GET", URL: "http://x", Error: "dial tcp: refused"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(failed), "statusCode") || strings.Contains(string(failed), `"status"`) {
		t.Fatalf("failed entry carries a status: %s", failed)
	}

	ok, err := json.Marshal(Entry{ID: "b", Method: "GET", URL: "http://x", Status: "200 OK", StatusCode: 200})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(ok), `"statusCode":200`) {
		t.Fatalf("status missing from response entry: %s", ok)
	}
}
