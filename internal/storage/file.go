package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/history"
	"github.com/unkn0wn-root/restflow/internal/records"
)

const (
	recordsFileName = "records.json"
	historyFileName = "history.json"
)

// FileStore keeps records and history as JSON documents in one directory.
// Every write replaces the whole file through a temp file and rename.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "create storage dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) LoadAll(context.Context) ([]records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readRecords()
}

func (f *FileStore) Save(_ context.Context, rec records.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.readRecords()
	if err != nil {
		return err
	}
	replaced := false
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, rec)
	}
	return f.writeJSON(recordsFileName, list)
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.readRecords()
	if err != nil {
		return err
	}
	out := list[:0]
	for _, rec := range list {
		if rec.ID != id {
			out = append(out, rec)
		}
	}
	if len(out) == len(list) {
		return nil
	}
	return f.writeJSON(recordsFileName, out)
}

func (f *FileStore) LoadHistory(context.Context) ([]history.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var entries []history.Entry
	if err := f.readJSON(historyFileName, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *FileStore) SaveHistory(_ context.Context, entries []history.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entries == nil {
		entries = []history.Entry{}
	}
	return f.writeJSON(historyFileName, entries)
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) readRecords() ([]records.Record, error) {
	var list []records.Record
	if err := f.readJSON(recordsFileName, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// readJSON leaves v untouched when the file is missing or empty.
func (f *FileStore) readJSON(name string, v any) error {
	path := filepath.Join(f.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errdef.Wrap(errdef.CodeFilesystem, err, "read %s", path)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errdef.Wrap(errdef.CodeStorage, err, "parse %s", path)
	}
	return nil
}

func (f *FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errdef.Wrap(errdef.CodeStorage, err, "encode %s", name)
	}

	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errdef.Wrap(errdef.CodeFilesystem, err, "replace %s", path)
	}
	return nil
}
