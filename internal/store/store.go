// Package store defines the document store contract the procurement workflow
// runs against, together with its in-memory and PostgreSQL implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the optimistic concurrency token of a stored document.
type Version int64

const (
	// AnyVersion writes unconditionally.
	AnyVersion Version = -1
	// NoVersion requires that the document does not exist yet.
	NoVersion Version = 0
)

var (
	// ErrNotFound indicates the path holds no document.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates a version mismatch or duplicate create.
	ErrConflict = errors.New("store: version conflict")
)

// Op names the kind of mutation carried by a Change.
type Op string

const (
	OpWrite Op = "write"
	OpPatch Op = "patch"
)

// Document is a stored JSON entity.
type Document struct {
	Path       string
	Collection string
	ID         string
	Version    Version
	Body       json.RawMessage
	UpdatedAt  time.Time
}

// Decode unmarshals the document body into dest.
func (d Document) Decode(dest any) error {
	return json.Unmarshal(d.Body, dest)
}

// Change is pushed to subscribers after a mutation commits.
type Change struct {
	Path       string  `json:"path"`
	Collection string  `json:"collection"`
	ID         string  `json:"id"`
	Version    Version `json:"version"`
	Op         Op      `json:"op"`
}

// Reader exposes read operations.
type Reader interface {
	Read(ctx context.Context, path string) (Document, error)
	List(ctx context.Context, collection string) ([]Document, error)
}

// Tx exposes the operations available inside a unit of work.
type Tx interface {
	Reader
	Write(ctx context.Context, path string, entity any, expected Version) (Version, error)
	Append(ctx context.Context, collection string, entity any) (string, error)
	Patch(ctx context.Context, path string, fields map[string]any, expected Version) (Version, error)
}

// Store is the full entity store contract. Calls made directly on the Store
// commit individually; WithTx groups them into one atomic unit.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	Subscribe(ctx context.Context, prefix string, fn func(Change)) (func(), error)
}

// Identifiable entities receive their generated id from Append.
type Identifiable interface {
	AssignID(id string)
}

// Path joins a collection and id.
func Path(collection, id string) string {
	return collection + "/" + id
}

// SplitPath separates the trailing id segment from its collection.
func SplitPath(path string) (string, string, error) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", fmt.Errorf("store: invalid path %q", path)
	}
	return path[:idx], path[idx+1:], nil
}

// NewID generates an append-time identifier.
func NewID() string {
	return uuid.NewString()
}

// Get reads and decodes a document.
func Get[T any](ctx context.Context, r Reader, path string) (T, Version, error) {
	var out T
	doc, err := r.Read(ctx, path)
	if err != nil {
		return out, 0, err
	}
	if err := json.Unmarshal(doc.Body, &out); err != nil {
		return out, 0, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return out, doc.Version, nil
}

// ListAs decodes every document of a collection.
func ListAs[T any](ctx context.Context, r Reader, collection string) ([]T, error) {
	docs, err := r.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := json.Unmarshal(doc.Body, &item); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", doc.Path, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func encode(entity any) (json.RawMessage, error) {
	if raw, ok := entity.(json.RawMessage); ok {
		return raw, nil
	}
	body, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return body, nil
}

func assignID(entity any) string {
	id := NewID()
	if target, ok := entity.(Identifiable); ok {
		target.AssignID(id)
	}
	return id
}

func mergeFields(body json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("store: patch target is not an object: %w", err)
		}
	}
	for key, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("store: encode field %s: %w", key, err)
		}
		doc[key] = raw
	}
	return json.Marshal(doc)
}

func checkVersion(exists bool, current, expected Version) error {
	switch {
	case expected == AnyVersion:
		return nil
	case expected == NoVersion:
		if exists {
			return ErrConflict
		}
		return nil
	case !exists:
		return ErrNotFound
	case current != expected:
		return ErrConflict
	}
	return nil
}
