// Package docstore provides the named-collection document store backing the
// consultant service. Collections are ordered sequences of JSON documents held
// in memory and written through to a Persister on every append.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names known to the store.
const (
	Appointments = "appointments"
	TestResults  = "test_results"
	Cales        = "cales"
	SyncStatus   = "sync_status"
)

// Collections lists every collection in a stable order.
var Collections = []string{Appointments, TestResults, Cales, SyncStatus}

var (
	// ErrUnknownCollection is returned for collection names outside Collections.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrNotFound is returned by lookups that require a match.
	ErrNotFound = errors.New("document not found")
)

// Document is a single JSON object in a collection.
type Document map[string]any

// String returns the string value stored under key, or "" when absent or not a string.
func (d Document) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// Decode copies the document into v using its JSON representation.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// FromValue converts any JSON-encodable object into a Document.
func FromValue(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("value is not an object: %w", err)
	}
	return doc, nil
}

// Predicate selects documents.
type Predicate func(Document) bool

// Where matches documents whose string field equals value.
func Where(field, value string) Predicate {
	return func(d Document) bool {
		v, ok := d[field].(string)
		return ok && v == value
	}
}

// All matches documents accepted by every predicate. With no predicates it matches everything.
func All(preds ...Predicate) Predicate {
	return func(d Document) bool {
		for _, p := range preds {
			if p != nil && !p(d) {
				return false
			}
		}
		return true
	}
}

// Store is the read/append surface consumed by the rest of the service.
type Store interface {
	FindOne(ctx context.Context, collection string, match Predicate) (Document, bool, error)
	FindMany(ctx context.Context, collection string, match Predicate) ([]Document, error)
	Append(ctx context.Context, collection string, doc Document) error
	Count(ctx context.Context, collection string) (int, error)
}

// Persister durably records the store contents.
type Persister interface {
	// Load returns every persisted document grouped by collection, in append order.
	Load(ctx context.Context) (map[string][]Document, error)
	// Import replaces the persisted contents with data.
	Import(ctx context.Context, data map[string][]Document) error
	// Append durably records one document. The in-memory append only happens after it succeeds.
	Append(ctx context.Context, collection string, doc Document) error
	Close() error
}

func knownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

func cloneDocument(d Document) Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(cloneDocument(Document(t)))
	case Document:
		return cloneDocument(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
