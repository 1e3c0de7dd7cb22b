package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenAppliesSchemaAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, migrate(context.Background(), store.db))
}

func TestInsertAndGetAgent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := &Agent{
		Name: "atlas", PublicKey: "pk-atlas", OwnerEmail: "a@example.com",
		Endpoint: "https://atlas.example/inbox", Status: AgentPending, CreatedAt: now,
	}
	require.NoError(t, store.InsertAgent(ctx, nil, a))

	got, err := store.GetAgent(ctx, nil, "atlas")
	require.NoError(t, err)
	require.Equal(t, "atlas", got.Name)
	require.Equal(t, AgentPending, got.Status)
	require.Nil(t, got.LastSeen)
}

func TestGetAgentNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetAgent(context.Background(), nil, "ghost")
	require.Error(t, err)
}

func TestPublicKeyInUseDetectsCollision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.InsertAgent(ctx, nil, &Agent{
		Name: "atlas", PublicKey: "shared-key", OwnerEmail: "a@example.com",
		Endpoint: "e", Status: AgentActive, CreatedAt: now,
	}))

	inUse, err := store.PublicKeyInUse(ctx, nil, "shared-key")
	require.NoError(t, err)
	require.True(t, inUse)

	inUse, err = store.PublicKeyInUse(ctx, nil, "unused-key")
	require.NoError(t, err)
	require.False(t, inUse)
}

func TestUpdateAgentKeyClearsRecoveryState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.InsertAgent(ctx, nil, &Agent{
		Name: "atlas", PublicKey: "old-key", OwnerEmail: "a@example.com",
		Endpoint: "e", Status: AgentActive, CreatedAt: now,
	}))
	require.NoError(t, store.InitiateRecovery(ctx, nil, "atlas", "new-key", now))

	require.NoError(t, store.UpdateAgentKey(ctx, nil, "atlas", "new-key", now))

	got, err := store.GetAgent(ctx, nil, "atlas")
	require.NoError(t, err)
	require.Equal(t, "new-key", got.PublicKey)
	require.Nil(t, got.RecoveryInitiatedAt)
	require.Nil(t, got.PendingPublicKey)
}

func TestContactOrderedPairRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.UpsertContact(ctx, nil, &Contact{
		AgentA: "bmo", AgentB: "atlas", Status: ContactPending, RequestedBy: "bmo",
		CreatedAt: now, UpdatedAt: now,
	}))

	c, err := store.GetContact(ctx, nil, "atlas", "bmo")
	require.NoError(t, err)
	require.Equal(t, "atlas", c.AgentA)
	require.Equal(t, "bmo", c.AgentB)
	require.Equal(t, ContactPending, c.Status)
}

func TestIncrementRateLimitResetsAfterWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	window := time.Hour

	var count int
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		count, err = store.IncrementRateLimit(ctx, tx, "contacts:request:atlas", now, window)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		count, err = store.IncrementRateLimit(ctx, tx, "contacts:request:atlas", now.Add(time.Minute), window)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		count, err = store.IncrementRateLimit(ctx, tx, "contacts:request:atlas", now.Add(2*time.Hour), window)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestGroupLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	g := &Group{ID: "g1", Name: "crew", Owner: "atlas", Status: GroupActive, MembersCanSend: true, MaxMembers: 50, CreatedAt: now}
	require.NoError(t, store.InsertGroup(ctx, nil, g))

	require.NoError(t, store.UpsertMembership(ctx, nil, &GroupMembership{
		GroupID: "g1", Agent: "atlas", Role: RoleOwner, Status: MembershipActive, JoinedAt: &now,
	}))
	require.NoError(t, store.AppendGroupChange(ctx, nil, &GroupChange{GroupID: "g1", Kind: "created", Actor: "atlas", Target: "atlas", At: now}))

	got, err := store.GetGroup(ctx, nil, "g1")
	require.NoError(t, err)
	require.Equal(t, GroupActive, got.Status)

	require.NoError(t, store.UpdateGroupOwner(ctx, nil, "g1", "bmo"))
	got, err = store.GetGroup(ctx, nil, "g1")
	require.NoError(t, err)
	require.Equal(t, "bmo", got.Owner)

	require.NoError(t, store.DissolveGroup(ctx, nil, "g1", now))
	got, err = store.GetGroup(ctx, nil, "g1")
	require.NoError(t, err)
	require.Equal(t, GroupDissolved, got.Status)
	require.NotNil(t, got.DissolvedAt)

	changes, err := store.ListGroupChangesSince(ctx, nil, "g1", 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "created", changes[0].Kind)
}

func TestBroadcastInsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := &Broadcast{Sender: "relay-admin", Message: "maintenance window", CreatedAt: now}
	require.NoError(t, store.InsertBroadcast(ctx, nil, b))
	require.NotZero(t, b.ID)

	list, err := store.ListBroadcasts(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "maintenance window", list[0].Message)
}
