// Package journal records every change applied to the mirror into an
// automerge document, so a session's history can be dumped on exit and
// inspected later with cmd/debug. The journal is never read back into a
// mirror.
package journal

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/lru-mirror/pkg/mirror"
)

const (
	fieldValue  = "value"
	fieldExpiry = "expiry"
)

type Journal struct {
	mu  sync.Mutex
	doc *automerge.Doc
}

func New() *Journal {
	return &Journal{doc: automerge.New()}
}

// Load reads a journal previously written by Save.
func Load(raw []byte) (*Journal, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return &Journal{doc: doc}, nil
}

func LoadFile(path string) (*Journal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return Load(raw)
}

// Observer adapts the journal for mirror.Store.Subscribe. Recording errors
// are logged and otherwise ignored.
func (j *Journal) Observer() mirror.Observer {
	return func(c mirror.Change) {
		if err := j.Record(c); err != nil {
			slog.Error("failed to journal change", "kind", c.Kind, "key", c.Key, "err", err)
		}
	}
}

// Record commits one change.
func (j *Journal) Record(c mirror.Change) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch c.Kind {
	case mirror.ChangeSet:
		if err := j.setLocked(c.Key, c.Entry); err != nil {
			return err
		}
	case mirror.ChangeDelete:
		if err := j.doc.Path(c.Key).Delete(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", c.Key, err)
		}
	case mirror.ChangeReplace:
		keys, err := j.doc.RootMap().Keys()
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}
		for _, k := range keys {
			if _, ok := c.Entries[k]; !ok {
				if err := j.doc.Path(k).Delete(); err != nil {
					return fmt.Errorf("failed to delete %s: %w", k, err)
				}
			}
		}
		for k, e := range c.Entries {
			if err := j.setLocked(k, e); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}

	msg := string(c.Kind)
	if c.Key != "" {
		msg += " " + c.Key
	}
	if _, err := j.doc.Commit(msg, automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (j *Journal) setLocked(key string, e mirror.Entry) error {
	if err := j.doc.Path(key).Set(map[string]interface{}{
		fieldValue:  e.Value,
		fieldExpiry: e.Expiry,
	}); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Entries returns the table as of the latest recorded change.
func (j *Journal) Entries() (map[string]mirror.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return EntriesOf(j.doc)
}

// EntriesOf reads the table held by a journal document, for example a fork at
// an earlier change.
func EntriesOf(doc *automerge.Doc) (map[string]mirror.Entry, error) {
	keys, err := doc.RootMap().Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	out := make(map[string]mirror.Entry, len(keys))
	for _, k := range keys {
		e, ok, err := EntryOf(doc, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = e
		}
	}
	return out, nil
}

// EntryOf reads one key from a journal document.
func EntryOf(doc *automerge.Doc, key string) (mirror.Entry, bool, error) {
	value, err := readString(doc, key, fieldValue)
	if err != nil {
		return mirror.Entry{}, false, err
	}
	expiry, err := readString(doc, key, fieldExpiry)
	if err != nil {
		return mirror.Entry{}, false, err
	}
	if value == nil {
		return mirror.Entry{}, false, nil
	}
	e := mirror.Entry{Value: *value}
	if expiry != nil {
		e.Expiry = *expiry
	}
	return e, true, nil
}

func readString(doc *automerge.Doc, key, field string) (*string, error) {
	v, err := doc.Path(key, field).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", key, field, err)
	}
	s, ok := v.Interface().(string)
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Doc exposes the underlying document for inspection. Callers must not
// modify it while the journal is still recording.
func (j *Journal) Doc() *automerge.Doc {
	return j.doc
}

func (j *Journal) Save() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.doc.Save()
}

func (j *Journal) SaveFile(path string) error {
	if err := os.WriteFile(path, j.Save(), 0o644); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	return nil
}
