// cc4me - federated e2e encrypted messaging fabric for autonomous agents
// Copyright (C) 2026 cc4me-project
//
// This file is part of cc4me.
//
// cc4me is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cc4me is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cc4me. If not, see <https://www.gnu.org/licenses/>.

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cc4me/fabric/internal/cc4merr"
	"github.com/cc4me/fabric/internal/storage"
)

type capturingNotifier struct{ lastCode string }

func (c *capturingNotifier) SendVerificationCode(ctx context.Context, email, code string) error {
	c.lastCode = code
	return nil
}

func newTestManager(t *testing.T) (*Manager, *capturingNotifier) {
	t.Helper()
	store, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	notifier := &capturingNotifier{}
	return New(store, notifier), notifier
}

func TestRegisterVerifyPromotesAgentToActive(t *testing.T) {
	mgr, notifier := newTestManager(t)
	ctx := context.Background()

	agent, err := mgr.Register(ctx, RegisterRequest{
		Name: "atlas", PublicKey: "pk-atlas", Email: "atlas@example.com", Endpoint: "https://atlas.example/inbox",
	})
	require.NoError(t, err)
	require.Equal(t, storage.AgentPending, agent.Status)
	require.NotEmpty(t, notifier.lastCode)

	verified, err := mgr.Verify(ctx, "atlas", notifier.lastCode)
	require.NoError(t, err)
	require.Equal(t, storage.AgentActive, verified.Status)
	require.True(t, verified.EmailVerified)
}

func TestRegisterRejectsDuplicateNameAndKey(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Register(ctx, RegisterRequest{Name: "atlas", PublicKey: "pk-1", Email: "a@example.com", Endpoint: "https://a.example"})
	require.NoError(t, err)

	_, err = mgr.Register(ctx, RegisterRequest{Name: "atlas", PublicKey: "pk-2", Email: "b@example.com", Endpoint: "https://b.example"})
	kind, ok := cc4merr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, cc4merr.Conflict, kind)

	_, err = mgr.Register(ctx, RegisterRequest{Name: "bmo", PublicKey: "pk-1", Email: "c@example.com", Endpoint: "https://c.example"})
	kind, ok = cc4merr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, cc4merr.Conflict, kind)
}

func TestVerifyExhaustsAfterFiveWrongAttempts(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.Register(ctx, RegisterRequest{Name: "atlas", PublicKey: "pk-1", Email: "a@example.com", Endpoint: "https://a.example"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := mgr.Verify(ctx, "atlas", "000000")
		require.Error(t, err)
	}
	_, err = mgr.Verify(ctx, "atlas", "000000")
	require.True(t, ErrExhausted(err))
}

func TestRecoveryCoolingOffBoundary(t *testing.T) {
	mgr, notifier := newTestManager(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.Now = func() time.Time { return start }

	_, err := mgr.Register(ctx, RegisterRequest{Name: "atlas", PublicKey: "pk-old", Email: "atlas@example.com", Endpoint: "https://a.example"})
	require.NoError(t, err)
	_, err = mgr.Verify(ctx, "atlas", notifier.lastCode)
	require.NoError(t, err)

	_, err = mgr.Recover(ctx, RecoverRequest{Name: "atlas", Email: "ATLAS@EXAMPLE.COM", NewPublicKey: "pk-new"})
	require.NoError(t, err)

	mgr.Now = func() time.Time { return start.Add(59 * time.Minute) }
	_, err = mgr.RotateKey(ctx, "atlas", "pk-new", "")
	kind, ok := cc4merr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, cc4merr.State, kind)

	mgr.Now = func() time.Time { return start.Add(61 * time.Minute) }
	updated, err := mgr.RotateKey(ctx, "atlas", "pk-new", "")
	require.NoError(t, err)
	require.Equal(t, "pk-new", updated.PublicKey)
	require.Nil(t, updated.RecoveryInitiatedAt)
	require.Nil(t, updated.PendingPublicKey)
}

func TestRotateKeyRejectsWrongRecoveryKeyAfterCoolingOff(t *testing.T) {
	mgr, notifier := newTestManager(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.Now = func() time.Time { return start }

	_, err := mgr.Register(ctx, RegisterRequest{Name: "atlas", PublicKey: "pk-old", Email: "atlas@example.com", Endpoint: "https://a.example"})
	require.NoError(t, err)
	_, err = mgr.Verify(ctx, "atlas", notifier.lastCode)
	require.NoError(t, err)

	_, err = mgr.Recover(ctx, RecoverRequest{Name: "atlas", Email: "atlas@example.com", NewPublicKey: "pk-new"})
	require.NoError(t, err)

	mgr.Now = func() time.Time { return start.Add(2 * time.Hour) }
	_, err = mgr.RotateKey(ctx, "atlas", "pk-other", "")
	kind, ok := cc4merr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, cc4merr.Shape, kind)
}
