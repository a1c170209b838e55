package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/restflow/internal/errdef"
)

// Backend is the durable side of the store.
type Backend interface {
	LoadAll(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store keeps every record in a local cache and writes through to a durable
// backend. The cache is authoritative for reads; durable failures are logged
// and never roll the cache back.
type Store struct {
	durable Backend
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	records  map[string]Record
	degraded bool

	// writeMu orders durable writes the same way as cache updates.
	writeMu sync.Mutex
}

func NewStore(durable Backend, opts ...Option) *Store {
	s := &Store{
		durable: durable,
		logger:  zap.NewNop(),
		now:     time.Now,
		records: make(map[string]Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the cache with the durable contents. When the backend
// cannot be read the store keeps serving its cache and reports degraded.
func (s *Store) Load(ctx context.Context) error {
	if s.durable == nil {
		return nil
	}
	loaded, err := s.durable.LoadAll(ctx)
	if err != nil {
		s.logger.Warn("records backend unavailable, using cache only",
			zap.Error(errdef.Wrap(errdef.CodeStorage, err, "load records")))
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		return nil
	}

	next := make(map[string]Record, len(loaded))
	for _, rec := range loaded {
		if rec.ID == "" {
			continue
		}
		next[rec.ID] = rec
	}
	s.mu.Lock()
	s.records = next
	s.degraded = false
	s.mu.Unlock()
	return nil
}

func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Upsert stores rec. A selectedID naming an existing record replaces it in
// place. Otherwise a record with the same content signature is updated,
// keeping its id, folder and creation time. Anything else is inserted.
func (s *Store) Upsert(ctx context.Context, rec Record, selectedID string) Record {
	rec = rec.Clone()
	now := s.now()

	s.mu.Lock()
	stored := s.upsertLocked(rec, selectedID, now)
	s.writeMu.Lock()
	s.mu.Unlock()
	defer s.writeMu.Unlock()

	if s.durable != nil {
		if err := s.durable.Save(ctx, stored); err != nil {
			s.logger.Warn("persist record failed",
				zap.String("id", stored.ID),
				zap.Error(errdef.Wrap(errdef.CodeStorage, err, "save record")))
		}
	}
	return stored.Clone()
}

func (s *Store) upsertLocked(rec Record, selectedID string, now time.Time) Record {
	if selectedID != "" {
		if existing, ok := s.records[selectedID]; ok {
			rec.ID = selectedID
			rec.CreatedAt = existing.CreatedAt
			if rec.FolderID == "" {
				rec.FolderID = existing.FolderID
			}
			rec.UpdatedAt = now
			rec.Request.ID = rec.ID
			s.records[rec.ID] = rec
			return rec
		}
	}

	sig := Signature(rec)
	if existing, ok := s.findLocked(sig); ok {
		existing.Request = rec.Request
		existing.Request.ID = existing.ID
		existing.Request.FolderID = existing.FolderID
		existing.ResolvedHeaders = rec.ResolvedHeaders
		existing.Response = rec.Response
		if rec.Name != "" {
			existing.Name = rec.Name
		}
		existing.UpdatedAt = now
		s.records[existing.ID] = existing
		return existing
	}

	if rec.ID == "" || s.exists(rec.ID) {
		rec.ID = uuid.NewString()
	}
	rec.Request.ID = rec.ID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.ID] = rec
	return rec
}

func (s *Store) exists(id string) bool {
	_, ok := s.records[id]
	return ok
}

// oldest match wins so repeated sends keep landing on the original record
func (s *Store) findLocked(sig string) (Record, bool) {
	var (
		found Record
		ok    bool
	)
	for _, rec := range s.records {
		if Signature(rec) != sig {
			continue
		}
		if !ok || rec.CreatedAt.Before(found.CreatedAt) ||
			(rec.CreatedAt.Equal(found.CreatedAt) && rec.ID < found.ID) {
			found, ok = rec, true
		}
	}
	return found, ok
}

// FindBySignature returns the record whose content signature equals sig.
func (s *Store) FindBySignature(sig string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.findLocked(sig)
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// List returns records most recently updated first.
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	if _, ok := s.records[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.records, id)
	s.writeMu.Lock()
	s.mu.Unlock()
	defer s.writeMu.Unlock()

	if s.durable != nil {
		if err := s.durable.Delete(ctx, id); err != nil {
			s.logger.Warn("delete record failed",
				zap.String("id", id),
				zap.Error(errdef.Wrap(errdef.CodeStorage, err, "delete record")))
		}
	}
	return true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
