package mirror

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetAndDelete(t *testing.T) {
	s := New()
	s.ApplySet("a", "1", "10")
	s.ApplySet("b", "2", "20")

	snap := s.Snapshot()
	require.Equal(t, 2, snap.Len())
	e, ok := snap.Get("a")
	require.True(t, ok)
	require.Equal(t, Entry{Value: "1", Expiry: "10"}, e)

	s.ApplyDelete("a")
	_, ok = s.Snapshot().Get("a")
	require.False(t, ok)
	require.Equal(t, []string{"b"}, s.Snapshot().Keys())
}

func TestStore_SetIsIdempotent(t *testing.T) {
	s := New()
	s.ApplySet("a", "1", "10")
	first := s.Snapshot().Entries()
	s.ApplySet("a", "1", "10")
	require.Equal(t, first, s.Snapshot().Entries())
}

func TestStore_LastAppliedWins(t *testing.T) {
	s := New()
	s.ApplySet("a", "new", "20")
	s.ApplySet("a", "old", "10")
	e, _ := s.Snapshot().Get("a")
	require.Equal(t, "old", e.Value)
}

func TestStore_DeleteAbsentIsNoop(t *testing.T) {
	s := New()
	s.ApplySet("a", "1", "10")
	before := s.Snapshot().Entries()

	var notified int
	cancel := s.Subscribe(func(Change) { notified++ })
	defer cancel()

	s.ApplyDelete("missing")
	require.Equal(t, before, s.Snapshot().Entries())
	require.Zero(t, notified)
}

func TestStore_ReplaceAllDropsLeftovers(t *testing.T) {
	s := New()
	s.ApplySet("old", "x", "1")
	s.ApplySet("a", "stale", "1")

	want := map[string]Entry{
		"a": {Value: "1", Expiry: "10"},
		"b": {Value: "2", Expiry: "20"},
	}
	s.ReplaceAll(want)
	require.Equal(t, want, s.Snapshot().Entries())

	// the caller's map is not retained
	want["c"] = Entry{Value: "3"}
	require.Equal(t, 2, s.Len())
}

func TestStore_ReplayDeterminism(t *testing.T) {
	type op struct {
		del   bool
		key   string
		value string
	}
	r := rand.New(rand.NewSource(42))
	ops := make([]op, 500)
	for i := range ops {
		ops[i] = op{
			del:   r.Intn(3) == 0,
			key:   fmt.Sprintf("k%d", r.Intn(20)),
			value: fmt.Sprintf("v%d", i),
		}
	}

	expected := map[string]Entry{}
	for _, o := range ops {
		if o.del {
			delete(expected, o.key)
		} else {
			expected[o.key] = Entry{Value: o.value, Expiry: "e"}
		}
	}

	for run := 0; run < 2; run++ {
		s := New()
		for _, o := range ops {
			if o.del {
				s.ApplyDelete(o.key)
			} else {
				s.ApplySet(o.key, o.value, "e")
			}
		}
		require.Equal(t, expected, s.Snapshot().Entries())
	}
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := New()
	s.ApplySet("a", "1", "10")
	snap := s.Snapshot()

	entries := snap.Entries()
	entries["a"] = Entry{Value: "mutated"}
	entries["z"] = Entry{}

	e, _ := snap.Get("a")
	assert.Equal(t, "1", e.Value)
	e, _ = s.Snapshot().Get("a")
	assert.Equal(t, "1", e.Value)

	s.ApplySet("a", "2", "10")
	e, _ = snap.Get("a")
	assert.Equal(t, "1", e.Value, "earlier snapshot must not observe later writes")
}

func TestStore_SubscribeOrderAndCancel(t *testing.T) {
	s := New()
	var got []Change
	cancel := s.Subscribe(func(c Change) { got = append(got, c) })

	s.ApplySet("a", "1", "10")
	s.ApplyDelete("a")
	s.ReplaceAll(map[string]Entry{"b": {Value: "2", Expiry: "20"}})

	require.Len(t, got, 3)
	assert.Equal(t, Change{Kind: ChangeSet, Key: "a", Entry: Entry{Value: "1", Expiry: "10"}}, got[0])
	assert.Equal(t, Change{Kind: ChangeDelete, Key: "a"}, got[1])
	assert.Equal(t, ChangeReplace, got[2].Kind)
	assert.Equal(t, map[string]Entry{"b": {Value: "2", Expiry: "20"}}, got[2].Entries)

	cancel()
	cancel()
	s.ApplySet("c", "3", "30")
	require.Len(t, got, 3)
}

func TestStore_ObserverSeesAppliedState(t *testing.T) {
	s := New()
	var seen []int
	s.Subscribe(func(Change) { seen = append(seen, s.Snapshot().Len()) })

	s.ApplySet("a", "1", "")
	s.ApplySet("b", "1", "")
	s.ApplyDelete("a")
	require.Equal(t, []int{1, 2, 1}, seen)
}

func TestStore_ConcurrentWritersAndReaders(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i%10)
				s.ApplySet(key, "v", "e")
				_ = s.Snapshot().Keys()
				if i%3 == 0 {
					s.ApplyDelete(key)
				}
			}
		}(w)
	}
	wg.Wait()
	require.LessOrEqual(t, s.Len(), 80)
}
