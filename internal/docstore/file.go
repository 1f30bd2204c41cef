package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Compile-time contract assertion.
var _ Persister = (*FilePersister)(nil)

// FilePersister keeps the documents in a single JSON file shaped like a
// json-server database: one top-level array per collection. Every write
// rewrites the file through a temporary file and an atomic rename.
type FilePersister struct {
	mu   sync.Mutex
	path string
	data map[string][]Document
}

// OpenFile prepares a file persister, creating the parent directory as needed.
func OpenFile(path string) (*FilePersister, error) {
	if path == "" {
		path = "data/db.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Path returns the backing file path.
func (f *FilePersister) Path() string { return f.path }

// Load reads the file. A missing file is an empty database.
func (f *FilePersister) Load(ctx context.Context) (map[string][]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.data = make(map[string][]Document)
		return map[string][]Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	data := make(map[string][]Document)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.path, err)
		}
	}
	f.data = data
	return copyData(data), nil
}

// Import replaces the file contents.
func (f *FilePersister) Import(ctx context.Context, data map[string][]Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	next := copyData(data)
	if err := f.write(next); err != nil {
		return err
	}
	f.data = next
	return nil
}

// Append adds one document and rewrites the file.
func (f *FilePersister) Append(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.data == nil {
		f.data = make(map[string][]Document)
	}
	prev := f.data[collection]
	f.data[collection] = append(prev[:len(prev):len(prev)], cloneDocument(doc))
	if err := f.write(f.data); err != nil {
		f.data[collection] = prev
		return err
	}
	return nil
}

// Close is a no-op; every write is flushed before it returns.
func (f *FilePersister) Close() error { return nil }

func (f *FilePersister) write(data map[string][]Document) error {
	out := make(map[string][]Document, len(Collections))
	for _, c := range Collections {
		out[c] = []Document{}
	}
	for name, docs := range data {
		if docs != nil {
			out[name] = docs
		}
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode database: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

func copyData(data map[string][]Document) map[string][]Document {
	out := make(map[string][]Document, len(data))
	for name, docs := range data {
		cp := make([]Document, 0, len(docs))
		for _, d := range docs {
			cp = append(cp, cloneDocument(d))
		}
		out[name] = cp
	}
	return out
}
