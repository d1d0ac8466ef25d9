// Package kv defines the persistent local store contract used by the mutation
// queue and the optimistic store, plus two small implementations.
//
// The contract is deliberately narrow: synchronous get/set of string-keyed
// blobs. The SQLite implementation lives in package db; this package provides
// an in-memory store for tests and a directory-backed store for hosts where
// SQLite is unavailable.
package kv

import "errors"

// Store is a synchronous string-keyed blob store.
type Store interface {
	// Get returns the value stored under key. ok is false when the key has
	// never been set.
	Get(key string) (value []byte, ok bool, err error)

	// Set durably stores value under key before returning.
	Set(key string, value []byte) error

	// Close releases resources. Close is idempotent.
	Close() error
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv store is closed")

// Well-known keys shared by the offline components.
const (
	KeyQueue    = "queue"
	KeyAliases  = "aliases"
	KeyLastSync = "last_sync"
)

// SnapshotKey returns the key holding the local snapshot of one collection.
func SnapshotKey(kind string) string {
	return "snapshot/" + kind
}
