// Package mem implements in-memory snapshots.
//
// The base snapshot is a plain map. The staging snapshot buffers the writes
// and deletions of a pending transaction on top of any parent snapshot and
// applies them atomically on commit, which gives the execution service its
// all-or-nothing semantics.
package mem

import "go.dedis.ch/sondage/core/store"

// Snapshot is an in-memory implementation of a store snapshot.
//
// - implements store.Snapshot
type Snapshot struct {
	values map[string][]byte
}

// NewSnapshot creates a new empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		values: make(map[string][]byte),
	}
}

// Get implements store.Readable. It returns nil if the key is not set.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	return s.values[string(key)], nil
}

// Set implements store.Writable.
func (s *Snapshot) Set(key, value []byte) error {
	s.values[string(key)] = value

	return nil
}

// Delete implements store.Writable.
func (s *Snapshot) Delete(key []byte) error {
	delete(s.values, string(key))

	return nil
}

// Staging is a snapshot that buffers updates on top of a parent snapshot.
// Reads fall through to the parent for keys that have not been touched. The
// buffered updates are only visible to the parent after a commit.
//
// - implements store.Snapshot
type Staging struct {
	parent  store.Snapshot
	updates map[string][]byte
	deleted map[string]struct{}
}

// NewStaging creates a staging snapshot on top of the parent.
func NewStaging(parent store.Snapshot) *Staging {
	return &Staging{
		parent:  parent,
		updates: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// Get implements store.Readable. It returns the pending value of the key, or
// the parent value if the key has not been written in this staging.
func (s *Staging) Get(key []byte) ([]byte, error) {
	str := string(key)

	if _, ok := s.deleted[str]; ok {
		return nil, nil
	}

	if value, ok := s.updates[str]; ok {
		return value, nil
	}

	return s.parent.Get(key)
}

// Set implements store.Writable. It buffers the write until the staging is
// committed.
func (s *Staging) Set(key, value []byte) error {
	str := string(key)

	delete(s.deleted, str)
	s.updates[str] = value

	return nil
}

// Delete implements store.Writable. It buffers the deletion until the staging
// is committed.
func (s *Staging) Delete(key []byte) error {
	str := string(key)

	delete(s.updates, str)
	s.deleted[str] = struct{}{}

	return nil
}

// Commit applies the buffered updates and deletions to the parent snapshot.
func (s *Staging) Commit() error {
	for key, value := range s.updates {
		err := s.parent.Set([]byte(key), value)
		if err != nil {
			return err
		}
	}

	for key := range s.deleted {
		err := s.parent.Delete([]byte(key))
		if err != nil {
			return err
		}
	}

	s.updates = make(map[string][]byte)
	s.deleted = make(map[string]struct{})

	return nil
}
