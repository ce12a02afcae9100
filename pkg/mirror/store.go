// Package mirror holds the client's local copy of the remote cache table.
//
// All writes go through ApplySet, ApplyDelete and ReplaceAll. Readers only
// ever see a copied Snapshot, and observers registered with Subscribe are told
// about every change in the order it was applied.
package mirror

import (
	"sort"
	"sync"
)

// Entry is one cache entry as the server describes it. Expiry is opaque and
// is only ever displayed.
type Entry struct {
	Value  string `json:"value"`
	Expiry string `json:"expiry"`
}

// ChangeKind says which mutation produced a Change.
type ChangeKind string

const (
	ChangeSet     ChangeKind = "set"
	ChangeDelete  ChangeKind = "delete"
	ChangeReplace ChangeKind = "replace"
)

// Change describes one applied mutation. For ChangeReplace, Entries holds the
// complete new table and Key is empty.
type Change struct {
	Kind    ChangeKind
	Key     string
	Entry   Entry
	Entries map[string]Entry
}

// Observer is called once per applied Change, in application order.
type Observer func(Change)

type subscription struct {
	id int
	fn Observer
}

// Store is the mirror. It is safe for concurrent use.
type Store struct {
	// writeMu serializes mutations and their notifications.
	writeMu sync.Mutex

	mu          sync.RWMutex
	entries     map[string]Entry
	subscribers []subscription
	nextSubID   int
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// ApplySet inserts or overwrites key. The most recently applied write wins.
func (s *Store) ApplySet(key, value, expiry string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	e := Entry{Value: value, Expiry: expiry}
	s.mu.Lock()
	s.entries[key] = e
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Change{Kind: ChangeSet, Key: key, Entry: e})
}

// ApplyDelete removes key. Deleting an absent key changes nothing and
// notifies nobody.
func (s *Store) ApplyDelete(key string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.entries[key]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Change{Kind: ChangeDelete, Key: key})
}

// ReplaceAll swaps the whole table for entries. Keys missing from entries are
// dropped.
func (s *Store) ReplaceAll(entries map[string]Entry) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := make(map[string]Entry, len(entries))
	for k, e := range entries {
		next[k] = e
	}
	s.mu.Lock()
	s.entries = next
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Change{Kind: ChangeReplace, Entries: copyEntries(next)})
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{entries: copyEntries(s.entries)}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe registers fn for every future change. Observers run on the
// mutating goroutine and must not call back into the Store's mutation
// methods. The returned func removes the observer.
func (s *Store) Subscribe(fn Observer) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers = append(s.subscribers, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) subscribersLocked() []subscription {
	if len(s.subscribers) == 0 {
		return nil
	}
	out := make([]subscription, len(s.subscribers))
	copy(out, s.subscribers)
	return out
}

func notify(subs []subscription, c Change) {
	for _, sub := range subs {
		sub.fn(c)
	}
}

func copyEntries(in map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(in))
	for k, e := range in {
		out[k] = e
	}
	return out
}

// Snapshot is a read-only copy of the table taken at one instant.
type Snapshot struct {
	entries map[string]Entry
}

func (s Snapshot) Get(key string) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

func (s Snapshot) Len() int {
	return len(s.entries)
}

// Keys returns the keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a fresh copy of the table.
func (s Snapshot) Entries() map[string]Entry {
	return copyEntries(s.entries)
}
