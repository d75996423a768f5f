package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"post-mirror/domain/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryStore is a serializable in-process document store. A unit of work
// holds the store lock for its whole duration and its writes are applied
// only when the callback returns nil.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string]map[string]bson.Raw
	signaler repository.ISignaler
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]bson.Raw)}
}

// WithSignaler sets the listener notified after each commit.
func (s *MemoryStore) WithSignaler(signaler repository.ISignaler) *MemoryStore {
	s.signaler = signaler
	return s
}

func (s *MemoryStore) Run(ctx context.Context, fn func(ctx context.Context, manager repository.TransactionManager) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	tx := &memoryTx{store: s, writes: make(map[string]map[string]*bson.Raw)}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}
	tx.commit()
	s.mu.Unlock()

	emitSignals(ctx, s.signaler, &tx.touched)
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// Count returns the number of committed documents in a collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[collection])
}

type memoryTx struct {
	store *MemoryStore
	// nil entry marks a deletion.
	writes  map[string]map[string]*bson.Raw
	touched touchSet
}

func (t *memoryTx) lookup(collection, id string) bson.Raw {
	if coll, ok := t.writes[collection]; ok {
		if doc, ok := coll[id]; ok {
			if doc == nil {
				return nil
			}
			return *doc
		}
	}
	return t.store.data[collection][id]
}

func (t *memoryTx) write(collection, id string, raw *bson.Raw) {
	if t.writes[collection] == nil {
		t.writes[collection] = make(map[string]*bson.Raw)
	}
	t.writes[collection][id] = raw
	t.touched.add(collection, id)
}

func (t *memoryTx) Get(ctx context.Context, collection, id string) (bson.Raw, error) {
	doc := t.lookup(collection, id)
	if doc == nil {
		return nil, nil
	}
	return cloneRaw(doc), nil
}

func (t *memoryTx) Query(ctx context.Context, q repository.Query) ([]bson.Raw, error) {
	ids := make(map[string]struct{})
	for id := range t.store.data[q.Collection] {
		ids[id] = struct{}{}
	}
	for id := range t.writes[q.Collection] {
		ids[id] = struct{}{}
	}

	var out []bson.Raw
	for id := range ids {
		doc := t.lookup(q.Collection, id)
		if doc == nil {
			continue
		}
		ok, err := matches(doc, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cloneRaw(doc))
		}
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "_id"
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := lookupField(out[i], orderBy)
		b, bok := lookupField(out[j], orderBy)
		if !aok || !bok {
			return aok && !bok
		}
		return compareValues(a, b) < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (t *memoryTx) Create(ctx context.Context, collection, id string, doc interface{}) error {
	if t.lookup(collection, id) != nil {
		return fmt.Errorf("create %s/%s: document already exists", collection, id)
	}
	return t.Set(ctx, collection, id, doc)
}

func (t *memoryTx) Set(ctx context.Context, collection, id string, doc interface{}) error {
	raw, err := encode(collection, id, doc)
	if err != nil {
		return err
	}
	t.write(collection, id, &raw)
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, collection, id string) error {
	t.write(collection, id, nil)
	return nil
}

func (t *memoryTx) commit() {
	for collection, docs := range t.writes {
		if t.store.data[collection] == nil {
			t.store.data[collection] = make(map[string]bson.Raw)
		}
		for id, doc := range docs {
			if doc == nil {
				delete(t.store.data[collection], id)
				continue
			}
			t.store.data[collection][id] = *doc
		}
	}
}

func cloneRaw(raw bson.Raw) bson.Raw {
	out := make(bson.Raw, len(raw))
	copy(out, raw)
	return out
}
