package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const subscriberBuffer = 64

// MemoryStore keeps documents in process. Transactions are serialized by a
// single mutex and staged until the callback returns without error.
// WithTx must not be re-entered from inside its own callback.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Document

	subMu   sync.Mutex
	subs    map[int]*memorySubscriber
	nextSub int
}

type memorySubscriber struct {
	prefix string
	ch     chan Change
	done   chan struct{}
	once   sync.Once
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		subs: make(map[int]*memorySubscriber),
	}
}

// WithTx runs fn against staged state and applies it atomically.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	changes, err := s.commit(ctx, fn)
	if err != nil {
		return err
	}
	s.publish(changes)
	return nil
}

func (s *MemoryStore) commit(ctx context.Context, fn func(context.Context, Tx) error) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{store: s, staged: make(map[string]Document)}
	if err := fn(ctx, tx); err != nil {
		return nil, err
	}
	for path, doc := range tx.staged {
		s.docs[path] = doc
	}
	return tx.changes, nil
}

// Read implements Reader.
func (s *MemoryStore) Read(ctx context.Context, path string) (Document, error) {
	var doc Document
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		doc, err = tx.Read(ctx, path)
		return err
	})
	return doc, err
}

// List implements Reader.
func (s *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	var docs []Document
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		docs, err = tx.List(ctx, collection)
		return err
	})
	return docs, err
}

// Write implements Tx as a single-operation transaction.
func (s *MemoryStore) Write(ctx context.Context, path string, entity any, expected Version) (Version, error) {
	var version Version
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		version, err = tx.Write(ctx, path, entity, expected)
		return err
	})
	return version, err
}

// Append implements Tx as a single-operation transaction.
func (s *MemoryStore) Append(ctx context.Context, collection string, entity any) (string, error) {
	var id string
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		id, err = tx.Append(ctx, collection, entity)
		return err
	})
	return id, err
}

// Patch implements Tx as a single-operation transaction.
func (s *MemoryStore) Patch(ctx context.Context, path string, fields map[string]any, expected Version) (Version, error) {
	var version Version
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		version, err = tx.Patch(ctx, path, fields, expected)
		return err
	})
	return version, err
}

// Subscribe delivers changes under prefix to fn until unsubscribe is called
// or ctx ends. Slow subscribers lose events instead of blocking writers.
func (s *MemoryStore) Subscribe(ctx context.Context, prefix string, fn func(Change)) (func(), error) {
	sub := &memorySubscriber{
		prefix: prefix,
		ch:     make(chan Change, subscriberBuffer),
		done:   make(chan struct{}),
	}
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.subMu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case change := <-sub.ch:
				fn(change)
			}
		}
	}()

	return func() {
		sub.once.Do(func() { close(sub.done) })
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}, nil
}

func (s *MemoryStore) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, change := range changes {
		for _, sub := range s.subs {
			if !strings.HasPrefix(change.Path, sub.prefix) {
				continue
			}
			select {
			case sub.ch <- change:
			default:
			}
		}
	}
}

type memoryTx struct {
	store   *MemoryStore
	staged  map[string]Document
	changes []Change
}

func (tx *memoryTx) lookup(path string) (Document, bool) {
	if doc, ok := tx.staged[path]; ok {
		return doc, true
	}
	doc, ok := tx.store.docs[path]
	return doc, ok
}

func (tx *memoryTx) Read(ctx context.Context, path string) (Document, error) {
	doc, ok := tx.lookup(path)
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (tx *memoryTx) List(ctx context.Context, collection string) ([]Document, error) {
	seen := make(map[string]Document)
	for path, doc := range tx.store.docs {
		if doc.Collection == collection {
			seen[path] = doc
		}
	}
	for path, doc := range tx.staged {
		if doc.Collection == collection {
			seen[path] = doc
		}
	}
	docs := make([]Document, 0, len(seen))
	for _, doc := range seen {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (tx *memoryTx) Write(ctx context.Context, path string, entity any, expected Version) (Version, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return 0, err
	}
	body, err := encode(entity)
	if err != nil {
		return 0, err
	}
	current, exists := tx.lookup(path)
	if err := checkVersion(exists, current.Version, expected); err != nil {
		return 0, err
	}
	return tx.put(Document{Path: path, Collection: collection, ID: id, Version: current.Version + 1, Body: body}, OpWrite), nil
}

func (tx *memoryTx) Append(ctx context.Context, collection string, entity any) (string, error) {
	id := assignID(entity)
	if _, err := tx.Write(ctx, Path(collection, id), entity, NoVersion); err != nil {
		return "", err
	}
	return id, nil
}

func (tx *memoryTx) Patch(ctx context.Context, path string, fields map[string]any, expected Version) (Version, error) {
	current, exists := tx.lookup(path)
	if !exists {
		return 0, ErrNotFound
	}
	if err := checkVersion(true, current.Version, expected); err != nil {
		return 0, err
	}
	body, err := mergeFields(current.Body, fields)
	if err != nil {
		return 0, err
	}
	current.Body = body
	current.Version++
	return tx.put(current, OpPatch), nil
}

func (tx *memoryTx) put(doc Document, op Op) Version {
	doc.UpdatedAt = time.Now().UTC()
	tx.staged[doc.Path] = doc
	tx.changes = append(tx.changes, Change{Path: doc.Path, Collection: doc.Collection, ID: doc.ID, Version: doc.Version, Op: op})
	return doc.Version
}
