package docstore

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time contract assertion.
var _ Store = (*Memory)(nil)

// Memory holds every collection in memory and writes appends through to an
// optional Persister. Reads never touch the persister.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Document
	persister   Persister
}

// NewMemory constructs an ephemeral store with no persister.
func NewMemory() *Memory {
	m := &Memory{collections: make(map[string][]Document, len(Collections))}
	for _, c := range Collections {
		m.collections[c] = nil
	}
	return m
}

// Open constructs a store hydrated from the persister's current contents.
func Open(ctx context.Context, p Persister) (*Memory, error) {
	m := NewMemory()
	if p == nil {
		return m, nil
	}
	data, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	for name, docs := range data {
		if !knownCollection(name) {
			continue
		}
		m.collections[name] = append(m.collections[name], docs...)
	}
	m.persister = p
	return m, nil
}

// Empty reports whether no collection holds any document.
func (m *Memory) Empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, docs := range m.collections {
		if len(docs) > 0 {
			return false
		}
	}
	return true
}

// Import replaces the store contents with data, persisting it first.
func (m *Memory) Import(ctx context.Context, data map[string][]Document) error {
	next := make(map[string][]Document, len(Collections))
	for _, c := range Collections {
		next[c] = nil
	}
	for name, docs := range data {
		if !knownCollection(name) {
			continue
		}
		for _, d := range docs {
			next[name] = append(next[name], cloneDocument(d))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persister != nil {
		if err := m.persister.Import(ctx, next); err != nil {
			return fmt.Errorf("import documents: %w", err)
		}
	}
	m.collections = next
	return nil
}

// FindOne returns a copy of the first document in append order accepted by match.
func (m *Memory) FindOne(ctx context.Context, collection string, match Predicate) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs, ok := m.collections[collection]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	for _, d := range docs {
		if match == nil || match(d) {
			return cloneDocument(d), true, nil
		}
	}
	return nil, false, nil
}

// FindMany returns copies of every document accepted by match, in append order.
func (m *Memory) FindMany(ctx context.Context, collection string, match Predicate) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if match == nil || match(d) {
			out = append(out, cloneDocument(d))
		}
	}
	return out, nil
}

// Append adds doc to the end of collection. The persister is written first so a
// failed write leaves the store unchanged.
func (m *Memory) Append(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	normalized, err := FromValue(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	if m.persister != nil {
		if err := m.persister.Append(ctx, collection, normalized); err != nil {
			return fmt.Errorf("persist %s document: %w", collection, err)
		}
	}
	m.collections[collection] = append(m.collections[collection], normalized)
	return nil
}

// Count returns the number of documents in collection.
func (m *Memory) Count(ctx context.Context, collection string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs, ok := m.collections[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return len(docs), nil
}

// Close releases the persister.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persister == nil {
		return nil
	}
	err := m.persister.Close()
	m.persister = nil
	return err
}
