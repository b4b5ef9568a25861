// Package kv defines the abstraction for a key/value database.
//
// The package also implements a default database implementation that is
// using bbolt as the engine (https://github.com/etcd-io/bbolt), and an
// adapter so that a database bucket can be used as a store snapshot by the
// execution service.
package kv

import "go.dedis.ch/sondage/core/store"

// Bucket is a general interface to operate on a database bucket.
type Bucket interface {
	// Get reads the key from the bucket and returns the value, or nil if the
	// key does not exist.
	Get(key []byte) []byte

	// Set assigns the value to the provided key.
	Set(key, value []byte) error

	// Delete deletes the key from the bucket.
	Delete(key []byte) error

	// Scan iterates over every key that matches the prefix, in an order
	// determined by the implementation. A nil prefix visits the whole
	// bucket. The iteration stops when the callback returns an error.
	Scan(prefix []byte, fn func(k, v []byte) error) error
}

// DB is a general interface to operate over a key/value database.
type DB interface {
	// View executes the provided read-only transaction in the context of the
	// bucket.
	View(bucket []byte, fn func(Bucket) error) error

	// Update executes the provided writable transaction in the context of
	// the bucket.
	Update(bucket []byte, fn func(Bucket) error) error

	// Close closes the database and free the resources.
	Close() error
}

// bucketSnapshot is an adapter to use a database bucket as a store snapshot.
//
// - implements store.Snapshot
type bucketSnapshot struct {
	bucket Bucket
}

// NewSnapshot creates a store snapshot backed by the bucket. Writes are
// applied to the bucket and are made durable by the enclosing database
// transaction.
func NewSnapshot(bucket Bucket) store.Snapshot {
	return bucketSnapshot{bucket: bucket}
}

// Get implements store.Readable. It returns nil if the key does not exist.
func (s bucketSnapshot) Get(key []byte) ([]byte, error) {
	return s.bucket.Get(key), nil
}

// Set implements store.Writable.
func (s bucketSnapshot) Set(key, value []byte) error {
	return s.bucket.Set(key, value)
}

// Delete implements store.Writable.
func (s bucketSnapshot) Delete(key []byte) error {
	return s.bucket.Delete(key)
}
