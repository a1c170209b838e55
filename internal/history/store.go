package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/restflow/internal/errdef"
)

const DefaultMaxEntries = 1000

type Entry struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	RequestID  string        `json:"requestId,omitempty"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	Status     string        `json:"status,omitempty"`
	StatusCode int           `json:"statusCode,omitempty"`
	ElapsedMS  int64         `json:"elapsedMs"`
	Timestamp  time.Time     `json:"timestamp"`
	Error      string        `json:"error,omitempty"`
	Trace      *TraceSummary `json:"trace,omitempty"`
}

// Failed reports whether the entry records a transport failure rather than a response.
func (e Entry) Failed() bool {
	return e.StatusCode == 0 && e.Error != ""
}

// Backend persists the whole history list. Implementations replace the
// stored list on every save.
type Backend interface {
	LoadHistory(ctx context.Context) ([]Entry, error)
	SaveHistory(ctx context.Context, entries []Entry) error
}

type Option func(*Store)

func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type snapshot struct {
	version uint64
	entries []Entry
}

// Store keeps the newest entries first and bounds the list to max. Writes
// to the backend happen on a background goroutine that only ever saves the
// latest snapshot; Clear is the one synchronous write.
type Store struct {
	backend Backend
	max     int
	logger  *zap.Logger

	mu      sync.RWMutex
	entries []Entry
	version uint64

	pendingMu sync.Mutex
	pending   *snapshot

	saveMu    sync.Mutex
	saved     uint64
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	closed    bool
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		max:     DefaultMaxEntries,
		logger:  zap.NewNop(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	loaded, err := s.backend.LoadHistory(ctx)
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "load history")
	}
	if len(loaded) > s.max {
		loaded = loaded[:s.max]
	}

	s.mu.Lock()
	s.entries = loaded
	s.version++
	s.mu.Unlock()
	return nil
}

// Append records an entry as the newest and evicts from the tail once the
// bound is exceeded. Missing ids and timestamps are filled in.
func (s *Store) Append(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.Lock()
	next := make([]Entry, 0, min(len(s.entries)+1, s.max))
	next = append(next, entry)
	next = append(next, s.entries...)
	if len(next) > s.max {
		next = next[:s.max]
	}
	s.entries = next
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.schedule(snap)
	return entry
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	idx := -1
	for i, e := range s.entries {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	next := make([]Entry, 0, len(s.entries)-1)
	next = append(next, s.entries[:idx]...)
	next = append(next, s.entries[idx+1:]...)
	s.entries = next
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.schedule(snap)
	return true
}

// Clear empties the history and persists the empty list before returning.
// A failed write is logged; memory stays cleared.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(snap)
}

func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the persister after writing any pending snapshot.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.pendingMu.Lock()
		s.closed = true
		s.pendingMu.Unlock()
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *Store) snapshotLocked() snapshot {
	s.version++
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	return snapshot{version: s.version, entries: entries}
}

func (s *Store) schedule(snap snapshot) {
	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		s.save(snap)
		return
	}
	if s.pending == nil || s.pending.version < snap.version {
		s.pending = &snap
	}
	s.pendingMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *Store) flush() {
	s.pendingMu.Lock()
	snap := s.pending
	s.pending = nil
	s.pendingMu.Unlock()
	if snap != nil {
		s.save(*snap)
	}
}

// save writes snap unless a newer version already reached the backend.
func (s *Store) save(snap snapshot) {
	if s.backend == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if snap.version <= s.saved {
		return
	}
	ctx := context.Background()
	if err := s.backend.SaveHistory(ctx, snap.entries); err != nil {
		s.logger.Warn("persist history failed",
			zap.Uint64("version", snap.version),
			zap.Int("entries", len(snap.entries)),
			zap.Error(errdef.Wrap(errdef.CodeHistory, err, "save history")),
		)
		return
	}
	s.saved = snap.version
}
