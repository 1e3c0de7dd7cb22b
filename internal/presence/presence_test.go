package presence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cc4me/fabric/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAgent(t *testing.T, store *storage.Store, name string) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.InsertAgent(context.Background(), tx, &storage.Agent{
			Name: name, PublicKey: "pk-" + name, OwnerEmail: name + "@example.com",
			Endpoint: "https://" + name + ".example", Status: storage.AgentActive, CreatedAt: time.Now().UTC(),
		})
	}))
}

func TestTouchFlipsOnlineStatus(t *testing.T) {
	store := newTestStore(t)
	seedAgent(t, store, "atlas")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	hub := New(store)
	hub.Now = func() time.Time { return cur }

	online, _, err := hub.Status(context.Background(), "atlas")
	require.NoError(t, err)
	require.False(t, online)

	require.NoError(t, hub.Touch(context.Background(), "atlas", nil))
	online, lastSeen, err := hub.Status(context.Background(), "atlas")
	require.NoError(t, err)
	require.True(t, online)
	require.NotNil(t, lastSeen)

	cur = base.Add(21 * time.Minute)
	online, _, err = hub.Status(context.Background(), "atlas")
	require.NoError(t, err)
	require.False(t, online)
}

func TestBatchStatusSkipsUnknownAgents(t *testing.T) {
	store := newTestStore(t)
	seedAgent(t, store, "atlas")
	hub := New(store)
	require.NoError(t, hub.Touch(context.Background(), "atlas", nil))

	statuses, err := hub.BatchStatus(context.Background(), []string{"atlas", "ghost"})
	require.NoError(t, err)
	require.True(t, statuses["atlas"])
	_, exists := statuses["ghost"]
	require.False(t, exists)
}
