package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/astromechza/lru-mirror/pkg/mirror"
)

func TestJournal_FollowsStore(t *testing.T) {
	store := mirror.New()
	j := New()
	cancel := store.Subscribe(j.Observer())
	defer cancel()

	store.ReplaceAll(map[string]mirror.Entry{
		"a": {Value: "1", Expiry: "10"},
		"b": {Value: "2", Expiry: "20"},
	})
	store.ApplySet("c", "3", "30")
	store.ApplyDelete("a")
	store.ApplySet("b", "22", "21")

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Equal(t, store.Snapshot().Entries(), entries)

	store.ReplaceAll(map[string]mirror.Entry{"z": {Value: "26", Expiry: "0"}})
	entries, err = j.Entries()
	require.NoError(t, err)
	require.Equal(t, map[string]mirror.Entry{"z": {Value: "26", Expiry: "0"}}, entries)

	changes, err := j.Doc().Changes()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(changes), 5)
}

func TestJournal_SaveAndLoad(t *testing.T) {
	j := New()
	require.NoError(t, j.Record(mirror.Change{Kind: mirror.ChangeSet, Key: "k", Entry: mirror.Entry{Value: "v", Expiry: "e"}}))

	path := filepath.Join(t.TempDir(), "mirror.journal")
	require.NoError(t, j.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	entries, err := loaded.Entries()
	require.NoError(t, err)
	require.Equal(t, map[string]mirror.Entry{"k": {Value: "v", Expiry: "e"}}, entries)

	_, err = Load([]byte("not a journal"))
	require.Error(t, err)
}

func TestJournal_UnknownKind(t *testing.T) {
	require.Error(t, New().Record(mirror.Change{Kind: "rename"}))
}
