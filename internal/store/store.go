// Package store provides a path-addressed document store with single-path
// operations only: documents, insertion-ordered keyed collections, and a
// per-path read-modify-write transaction. There is no cross-path atomicity;
// callers composing multi-step writes must treat a failed composite as
// possibly partially applied.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when no node exists at the requested path.
var ErrNotFound = errors.New("store: not found")

// Entry is one element of a keyed collection. Key is the opaque,
// insertion-ordered child key; Value is the raw document stored under it.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// Decode unmarshals the entry value into dest.
func (e Entry) Decode(dest any) error {
	return json.Unmarshal(e.Value, dest)
}

// Query selects entries from a keyed collection.
//
// OrderBy names a field of the entry documents to order and filter by; empty
// means order by entry key. Equal, when non-empty, restricts the result to
// entries whose OrderBy value equals it. Limit caps the result size (0 means
// no cap); FromEnd takes entries from the high end of the order instead of
// the low end, preserving ascending order within the result.
type Query struct {
	OrderBy string
	Equal   string
	Limit   int
	FromEnd bool
}

// Store is the single persistence surface of the service.
//
// The path schema is fixed: depth-2 paths (users/{id}, groups/{id},
// invites/{code}) address documents, depth-3 paths address keyed
// collections, and depth-4 paths address one collection entry.
type Store interface {
	// Get reads the node at path into dest, or returns ErrNotFound.
	Get(ctx context.Context, path string, dest any) error

	// Set writes the node at path, replacing any existing value.
	Set(ctx context.Context, path string, value any) error

	// Update merges fields into the document at path. A missing document is
	// created from the fields; this mirrors the upstream store's update
	// semantics and is relied on by callers.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Remove deletes the node at path and all of its descendants. Removing
	// an absent node is not an error.
	Remove(ctx context.Context, path string) error

	// Push returns a fresh child key for the collection at path. Keys are
	// insertion-ordered: a later Push yields a lexicographically greater
	// key. Nothing is written until the caller Sets path/key.
	Push(path string) string

	// Transaction atomically applies fn to the document at path. fn receives
	// the current raw value (nil when absent) and returns the replacement.
	// This is the only cross-operation atomicity the store offers, and it
	// covers exactly one path.
	Transaction(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error

	// Children returns every entry of the collection at path, ordered by
	// entry key. An absent collection yields an empty slice.
	Children(ctx context.Context, path string) ([]Entry, error)

	// QueryChildren returns the entries of the collection at path selected
	// by q, ordered ascending by the query's order.
	QueryChildren(ctx context.Context, path string, q Query) ([]Entry, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Join builds a path from segments. Segments must already be sanitized.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func split(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// applyQuery filters, orders and limits decoded collection entries in memory.
// Backends without native ordered queries share it.
func applyQuery(entries []Entry, q Query) ([]Entry, error) {
	ordered := make([]Entry, 0, len(entries))
	if q.OrderBy == "" {
		ordered = append(ordered, entries...)
	} else {
		for _, entry := range entries {
			value, err := fieldString(entry.Value, q.OrderBy)
			if err != nil {
				return nil, err
			}
			if q.Equal != "" && value != q.Equal {
				continue
			}
			ordered = append(ordered, entry)
		}
	}
	sortEntries(ordered, q.OrderBy)

	if q.Limit > 0 && len(ordered) > q.Limit {
		if q.FromEnd {
			ordered = ordered[len(ordered)-q.Limit:]
		} else {
			ordered = ordered[:q.Limit]
		}
	}
	return ordered, nil
}

func sortEntries(entries []Entry, orderBy string) {
	sort.SliceStable(entries, func(i, j int) bool {
		if orderBy == "" {
			return entries[i].Key < entries[j].Key
		}
		av, _ := fieldString(entries[i].Value, orderBy)
		bv, _ := fieldString(entries[j].Value, orderBy)
		if av == bv {
			return entries[i].Key < entries[j].Key
		}
		return av < bv
	})
}

func fieldString(raw json.RawMessage, field string) (string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	value, ok := doc[field]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		// non-string order values compare by raw representation
		return string(value), nil
	}
	return s, nil
}
