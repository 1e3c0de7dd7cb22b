package localcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	snap := &Snapshot{
		Community: "research",
		Contacts:  []Entry{{Agent: "atlas", PublicKey: "pk", Endpoint: "https://a.example", Since: time.Now().UTC()}},
	}
	require.NoError(t, c.Save(snap))

	loaded := c.Load("research")
	require.Len(t, loaded.Contacts, 1)
	require.Equal(t, "atlas", loaded.Contacts[0].Agent)

	communities, err := c.Communities()
	require.NoError(t, err)
	require.Contains(t, communities, "research")
}

func TestLoadMissingReturnsEmptySnapshot(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	snap := c.Load("ghost")
	require.Empty(t, snap.Contacts)
}

func TestLoadCorruptFileRecoversEmpty(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.json"), []byte("{not json"), 0o600))

	snap := c.Load("")
	require.Empty(t, snap.Contacts)
}

func TestMigrateLegacyRenamesAndStampsCommunity(t *testing.T) {
	dir := t.TempDir()
	legacy := []Entry{{Agent: "atlas", PublicKey: "pk", Endpoint: "https://a.example"}}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contacts.json"), data, 0o600))

	c, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, c.MigrateLegacy("default"))

	_, err = os.Stat(filepath.Join(dir, "contacts.json"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "contacts.json.migrated"))
	require.NoError(t, err)

	snap := c.Load("default")
	require.Len(t, snap.Contacts, 1)
	require.Equal(t, "default", snap.Community)

	// Re-running is a no-op since the legacy file is gone.
	require.NoError(t, c.MigrateLegacy("default"))
}
