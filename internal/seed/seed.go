// Package seed loads the initial consultant dataset (a json-server style
// db.json) from a local file or an S3-compatible bucket.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresaa/api-examen-conduccion/internal/docstore"
)

// ErrNoSource is returned when the configured source does not exist.
var ErrNoSource = errors.New("seed source not found")

// Source yields the raw dataset bytes.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// Dataset is a decoded seed file.
type Dataset struct {
	Collections map[string][]docstore.Document
	Size        int64
}

// Documents returns the total document count across collections.
func (d Dataset) Documents() int {
	n := 0
	for _, docs := range d.Collections {
		n += len(docs)
	}
	return n
}

// FileSource reads the dataset from a local path.
type FileSource struct {
	Path string
}

// Open implements Source.
func (f FileSource) Open(_ context.Context) (io.ReadCloser, error) {
	fh, err := os.Open(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, f.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	return fh, nil
}

func (f FileSource) String() string { return f.Path }

// Resolve picks a Source for uri: s3://bucket/key is read from S3, anything else is a local path.
func Resolve(ctx context.Context, uri string, s3cfg S3Config) (Source, error) {
	if strings.HasPrefix(uri, "s3://") {
		bucket, key, ok := strings.Cut(strings.TrimPrefix(uri, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, fmt.Errorf("invalid s3 seed uri %q", uri)
		}
		s3cfg.Bucket = bucket
		return NewS3Source(ctx, s3cfg, key)
	}
	return FileSource{Path: uri}, nil
}

// Load reads and decodes the dataset. Unknown collections are dropped.
func Load(ctx context.Context, src Source) (Dataset, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return Dataset{}, err
	}
	defer func() { _ = rc.Close() }()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return Dataset{}, fmt.Errorf("read seed %s: %w", src, err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Dataset{}, fmt.Errorf("decode seed %s: %w", src, err)
	}

	ds := Dataset{Collections: make(map[string][]docstore.Document), Size: int64(len(raw))}
	for _, name := range docstore.Collections {
		body, ok := top[name]
		if !ok {
			continue
		}
		var docs []docstore.Document
		if err := json.Unmarshal(body, &docs); err != nil {
			return Dataset{}, fmt.Errorf("decode seed collection %s: %w", name, err)
		}
		ds.Collections[name] = docs
	}
	return ds, nil
}

// Importer is the store surface needed to apply a dataset.
type Importer interface {
	Empty() bool
	Import(ctx context.Context, data map[string][]docstore.Document) error
}

// ApplyIfEmpty imports the dataset into store only when the store holds no documents.
// It reports whether an import happened.
func ApplyIfEmpty(ctx context.Context, store Importer, ds Dataset) (bool, error) {
	if !store.Empty() {
		return false, nil
	}
	if ds.Documents() == 0 {
		return false, nil
	}
	if err := store.Import(ctx, ds.Collections); err != nil {
		return false, fmt.Errorf("import seed: %w", err)
	}
	return true, nil
}
