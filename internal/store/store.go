// Package store is the record store behind every portal workflow: named
// collections of JSON documents addressed by opaque IDs, with dotted field-path
// updates, equality queries and live subscriptions.
//
// Documents are held as generic JSON values. Any Go value written through the
// store (struct, map, time.Time) is first normalised through encoding/json, so
// equality filters and reads see exactly what a JSON round trip produces.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("RECORD_NOT_FOUND")
	ErrInvalidPath = errors.New("INVALID_FIELD_PATH")
)

type Document struct {
	ID   string
	Data map[string]interface{}
}

// Decode copies the document body into v using the body's JSON field names.
func (d *Document) Decode(v interface{}) error {
	return Decode(d.Data, v)
}

type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Set replaces the whole document, creating it when missing.
	Set(ctx context.Context, collection, id string, data interface{}) error
	// Merge deep-merges data into the document, creating it when missing.
	Merge(ctx context.Context, collection, id string, data interface{}) error
	// Add creates a document under a generated ID.
	Add(ctx context.Context, collection string, data interface{}) (string, error)
	// Update applies field-path updates to an existing document and fails
	// with ErrNotFound when it does not exist.
	Update(ctx context.Context, collection, id string, updates ...Update) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]*Document, error)

	// WatchDocument emits the current state immediately and again after every
	// committed change, until ctx is cancelled. The channel is closed on exit.
	WatchDocument(ctx context.Context, collection, id string) (<-chan DocumentSnapshot, error)
	// WatchQuery emits the current result set immediately and again after any
	// change in the queried collection, until ctx is cancelled.
	WatchQuery(ctx context.Context, q Query) (<-chan QuerySnapshot, error)
}

type DocumentSnapshot struct {
	Document *Document
	Exists   bool
	Err      error
}

type QuerySnapshot struct {
	Documents []*Document
	Err       error
}

type Filter struct {
	Path  string
	Value interface{}
}

func Eq(path string, value interface{}) Filter {
	return Filter{Path: path, Value: value}
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	// Limit of zero returns every match.
	Limit int
}

type updateKind int

const (
	updateSet updateKind = iota
	updateAppend
	updateDelete
)

type Update struct {
	Path   string
	kind   updateKind
	values []interface{}
}

// Set assigns value at path, creating intermediate maps.
func Set(path string, value interface{}) Update {
	return Update{Path: path, kind: updateSet, values: []interface{}{value}}
}

// Append adds values to the end of the list at path. A missing field is
// treated as an empty list. Existing elements are never deduplicated.
func Append(path string, values ...interface{}) Update {
	return Update{Path: path, kind: updateAppend, values: values}
}

// Delete removes the field at path.
func Delete(path string) Update {
	return Update{Path: path, kind: updateDelete}
}

func Decode(data map[string]interface{}, v interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// ToMap normalises v into a JSON object.
func ToMap(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return map[string]interface{}{}, nil
	}
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := norm.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document body must be a JSON object, got %T", v)
	}
	return m, nil
}

func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}
