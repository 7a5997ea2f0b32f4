package operations

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/Lu1s-png/fleetbackup/internal/snapshot"
)

type fixedProbe struct {
	free int64
	err  error
}

func (p fixedProbe) FreeBytes(string) (int64, error) {
	return p.free, p.err
}

type memStore struct {
	mu          sync.Mutex
	collections map[string][]bson.D
	closed      bool
}

func newMemStore() *memStore {
	return &memStore{collections: map[string][]bson.D{}}
}

func (m *memStore) ListCollectionNames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	return names, nil
}

func (m *memStore) FindAll(_ context.Context, collection string) ([]bson.Raw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bson.Raw, 0, len(m.collections[collection]))
	for _, doc := range m.collections[collection] {
		data, err := bson.Marshal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, bson.Raw(data))
	}
	return out, nil
}

func (m *memStore) Insert(_ context.Context, collection string, docs []bson.D, _ snapshot.ConflictPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = append(m.collections[collection], docs...)
	return nil
}

func (m *memStore) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func dialTo(store snapshot.Store) snapshot.Dialer {
	return func(context.Context, string, string) (snapshot.Store, error) {
		return store, nil
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testStart = time.Date(2025, 4, 24, 21, 0, 0, 123_000_000, time.UTC)

func newTestOperator(opts ...Option) *Operator {
	base := []Option{
		WithConsole(io.Discard),
		WithProbe(fixedProbe{free: 1 << 40}),
		WithClock(fixedClock(testStart)),
	}
	return NewOperator(append(base, opts...)...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// sampleWorkDir lays out config/app.env and a small project tree.
func sampleWorkDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config", "app.env"), "PORT=5000\n")
	writeFile(t, filepath.Join(dir, "project", "file1.txt"), "hello")
	writeFile(t, filepath.Join(dir, "project", "dir", "file2.txt"), "world")
	return dir
}

// zipFiles lists the file entries of an archive, sorted.
func zipFiles(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
