package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps every collection in process memory. It backs the "memory"
// store driver and the package tests of every workflow.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]interface{}
	watchers    map[*memoryWatcher]struct{}
	newID       func() string
}

type memoryWatcher struct {
	collection string
	id         string // empty for collection watchers
	trigger    chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]interface{}),
		watchers:    make(map[*memoryWatcher]struct{}),
		newID:       uuid.NewString,
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(id, data), nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, data interface{}) error {
	body, err := ToMap(data)
	if err != nil {
		return err
	}
	return s.write(ctx, collection, id, func(map[string]interface{}, bool) (map[string]interface{}, error) {
		return body, nil
	})
}

func (s *MemoryStore) Merge(ctx context.Context, collection, id string, data interface{}) error {
	body, err := ToMap(data)
	if err != nil {
		return err
	}
	return s.write(ctx, collection, id, func(existing map[string]interface{}, _ bool) (map[string]interface{}, error) {
		deepMerge(existing, body)
		return existing, nil
	})
}

func (s *MemoryStore) Add(ctx context.Context, collection string, data interface{}) (string, error) {
	id := s.newID()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, updates ...Update) error {
	return s.write(ctx, collection, id, func(existing map[string]interface{}, exists bool) (map[string]interface{}, error) {
		if !exists {
			return nil, ErrNotFound
		}
		if err := applyUpdates(existing, updates); err != nil {
			return nil, err
		}
		return existing, nil
	})
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return nil
	}
	delete(s.collections[collection], id)
	s.notifyLocked(collection, id)
	return nil
}

// write runs mutate against a private copy of the document and commits the
// result only when mutate succeeds.
func (s *MemoryStore) write(ctx context.Context, collection, id string, mutate func(map[string]interface{}, bool) (map[string]interface{}, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]map[string]interface{})
		s.collections[collection] = docs
	}

	current, exists := docs[id]
	working := map[string]interface{}{}
	if exists {
		working = deepCopy(current).(map[string]interface{})
	}

	next, err := mutate(working, exists)
	if err != nil {
		return err
	}
	docs[id] = next
	s.notifyLocked(collection, id)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []*Document
	for id, data := range s.collections[q.Collection] {
		if matches(data, filters) {
			out = append(out, copyDocument(id, data))
		}
	}
	s.mu.RUnlock()

	sortDocuments(out, q.OrderBy, q.Descending)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) WatchDocument(ctx context.Context, collection, id string) (<-chan DocumentSnapshot, error) {
	w := s.register(collection, id)
	fetch := func(ctx context.Context) DocumentSnapshot {
		doc, err := s.Get(ctx, collection, id)
		switch {
		case errors.Is(err, ErrNotFound):
			return DocumentSnapshot{Exists: false}
		case err != nil:
			return DocumentSnapshot{Err: err}
		default:
			return DocumentSnapshot{Document: doc, Exists: true}
		}
	}
	return watchLoop(ctx, w.trigger, fetch, func() { s.unregister(w) }), nil
}

func (s *MemoryStore) WatchQuery(ctx context.Context, q Query) (<-chan QuerySnapshot, error) {
	if _, err := normalizeFilters(q.Filters); err != nil {
		return nil, err
	}
	w := s.register(q.Collection, "")
	fetch := func(ctx context.Context) QuerySnapshot {
		docs, err := s.Query(ctx, q)
		return QuerySnapshot{Documents: docs, Err: err}
	}
	return watchLoop(ctx, w.trigger, fetch, func() { s.unregister(w) }), nil
}

// WatcherCount reports live subscriptions, for tests asserting teardown.
func (s *MemoryStore) WatcherCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

func (s *MemoryStore) register(collection, id string) *memoryWatcher {
	w := &memoryWatcher{collection: collection, id: id, trigger: make(chan struct{}, 1)}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()
	return w
}

func (s *MemoryStore) unregister(w *memoryWatcher) {
	s.mu.Lock()
	delete(s.watchers, w)
	s.mu.Unlock()
}

func (s *MemoryStore) notifyLocked(collection, id string) {
	for w := range s.watchers {
		if w.collection != collection {
			continue
		}
		if w.id == "" || w.id == id {
			signal(w.trigger)
		}
	}
}
