package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/history"
	"github.com/unkn0wn-root/restflow/internal/records"
	"github.com/unkn0wn-root/restflow/internal/request"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	ctx := context.Background()

	fs, err := NewFileStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "restflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Backend{
		"memory": NewMemory(),
		"file":   fs,
		"sqlite": db,
	}
}

func sampleRecord(id string, created time.Time) records.Record {
	return records.Record{
		ID:       id,
		FolderID: "folder-1",
		Request: request.Definition{
			ID:      id,
			Method:  "POST",
			URL:     "{{base}}/items",
			Headers: []request.KeyValue{{Key: "Accept", Value: "application/json", Enabled: true}},
			Body:    request.Body{Type: request.BodyJSON, Raw: `{"a":1}`},
		},
		ResolvedHeaders: map[string]string{"Accept": "application/json"},
		Response:        &records.Response{StatusCode: 201, Status: "201 Created", Body: `{"id":1}`, ElapsedMS: 12},
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestBackendRecords(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := sampleRecord("a", base)
			b := sampleRecord("b", base.Add(time.Minute))
			require.NoError(t, backend.Save(ctx, a))
			require.NoError(t, backend.Save(ctx, b))

			updated := a.Clone()
			updated.Response.StatusCode = 200
			updated.UpdatedAt = base.Add(time.Hour)
			require.NoError(t, backend.Save(ctx, updated))

			got, err := backend.LoadAll(ctx)
			require.NoError(t, err)
			want := []records.Record{updated, b}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("records mismatch (-want +got):\n%s", diff)
			}

			require.NoError(t, backend.Delete(ctx, "a"))
			require.NoError(t, backend.Delete(ctx, "missing"))
			got, err = backend.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, "b", got[0].ID)
		})
	}
}

func TestBackendHistory(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := backend.LoadHistory(ctx)
			require.NoError(t, err)
			require.Empty(t, empty)

			entries := []history.Entry{
				{ID: "2", Method: "GET", URL: "https://a.local/2", StatusCode: 200, Status: "200 OK", ElapsedMS: 5, Timestamp: ts.Add(time.Second)},
				{ID: "1", Method: "GET", URL: "https://a.local/1", Error: "GET https://a.local/1: connection refused", Timestamp: ts},
			}
			require.NoError(t, backend.SaveHistory(ctx, entries))
			got, err := backend.LoadHistory(ctx)
			require.NoError(t, err)
			if diff := cmp.Diff(entries, got); diff != "" {
				t.Fatalf("history mismatch (-want +got):\n%s", diff)
			}

			require.NoError(t, backend.SaveHistory(ctx, nil))
			got, err = backend.LoadHistory(ctx)
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Save(context.Background(), sampleRecord("a", time.Now())))

	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range names {
		require.NotEqual(t, ".tmp", filepath.Ext(entry.Name()))
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, recordsFileName), []byte("{not json"), 0o644))
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = fs.LoadAll(context.Background())
	require.Error(t, err)
	require.Equal(t, errdef.CodeStorage, errdef.CodeOf(err))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := Open(ctx, Config{Driver: DriverSQLite, Path: dir})
	require.NoError(t, err)
	require.IsType(t, &SQLite{}, b)
	require.NoError(t, b.Close())
	_, err = os.Stat(filepath.Join(dir, sqliteFileName))
	require.NoError(t, err)

	b, err = Open(ctx, Config{Path: dir})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, b)

	b, err = Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	require.IsType(t, &Memory{}, b)

	_, err = Open(ctx, Config{Driver: "postgres"})
	require.Equal(t, errdef.CodeConfig, errdef.CodeOf(err))
}

func TestOpenOrMemoryFallsBack(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := OpenOrMemory(context.Background(), Config{Driver: DriverFile}, zap.New(core))
	require.IsType(t, &Memory{}, b)
	require.Equal(t, 1, logs.Len())
}
