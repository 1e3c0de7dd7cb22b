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

// Package groups implements C9: group creation, invitation, membership
// lifecycle, ownership transfer, dissolution, and the append-only
// change log clients reconcile membership against.
package groups

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cc4me/fabric/internal/cc4merr"
	"github.com/cc4me/fabric/internal/storage"
)

// Manager implements C9 against a *storage.Store.
type Manager struct {
	Store *storage.Store
	Now   func() time.Time
}

func New(store *storage.Store) *Manager {
	return &Manager{Store: store}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// Settings overrides §4.8's defaults at creation time.
type Settings struct {
	MembersCanInvite bool
	MembersCanSend   bool
	MaxMembers       int
}

// Create inserts a new group and the owner's active membership.
func (m *Manager) Create(ctx context.Context, owner, name string, settings *Settings) (*storage.Group, error) {
	if name == "" {
		return nil, cc4merr.New(cc4merr.Shape, "group name is required")
	}
	canInvite, canSend, maxMembers := storage.DefaultGroupSettings()
	if settings != nil {
		canInvite, canSend, maxMembers = settings.MembersCanInvite, settings.MembersCanSend, settings.MaxMembers
		if maxMembers <= 0 {
			_, _, maxMembers = storage.DefaultGroupSettings()
		}
	}
	now := m.now()
	g := &storage.Group{
		ID: uuid.NewString(), Name: name, Owner: owner, Status: storage.GroupActive,
		MembersCanInvite: canInvite, MembersCanSend: canSend, MaxMembers: maxMembers, CreatedAt: now,
	}
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := m.Store.GetAgent(ctx, tx, owner); err != nil {
			return err
		}
		if err := m.Store.InsertGroup(ctx, tx, g); err != nil {
			return err
		}
		joined := now
		if err := m.Store.UpsertMembership(ctx, tx, &storage.GroupMembership{
			GroupID: g.ID, Agent: owner, Role: storage.RoleOwner, Status: storage.MembershipActive, JoinedAt: &joined,
		}); err != nil {
			return err
		}
		return m.appendChange(ctx, tx, g.ID, "created", owner, owner, now)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Invite creates a pending membership for target. Only the owner, or
// (when permitted) an admin, may invite; MembersCanInvite extends that
// permission to ordinary members too.
func (m *Manager) Invite(ctx context.Context, groupID, inviter, target string) error {
	now := m.now()
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		g, err := m.Store.GetGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if g.Status != storage.GroupActive {
			return cc4merr.New(cc4merr.State, "group is dissolved")
		}
		inviterMembership, err := m.Store.GetMembership(ctx, tx, groupID, inviter)
		if err != nil {
			return cc4merr.New(cc4merr.Auth, "inviter is not a member of this group")
		}
		if inviterMembership.Status != storage.MembershipActive {
			return cc4merr.New(cc4merr.Auth, "inviter is not an active member")
		}
		permitted := inviterMembership.Role == storage.RoleOwner || inviterMembership.Role == storage.RoleAdmin || g.MembersCanInvite
		if !permitted {
			return cc4merr.New(cc4merr.Auth, "inviter lacks invite permission")
		}
		if _, err := m.Store.GetAgent(ctx, tx, target); err != nil {
			return err
		}

		active, err := m.Store.ListMemberships(ctx, tx, groupID, storage.MembershipActive)
		if err != nil {
			return err
		}
		if len(active) >= g.MaxMembers {
			return cc4merr.New(cc4merr.State, "group has reached max_members")
		}

		if err := m.Store.UpsertMembership(ctx, tx, &storage.GroupMembership{
			GroupID: groupID, Agent: target, Role: storage.RoleMember, Status: storage.MembershipPending, InvitedBy: &inviter,
		}); err != nil {
			return err
		}
		return m.appendChange(ctx, tx, groupID, "invited", inviter, target, now)
	})
}

// Accept transitions a pending membership to active.
func (m *Manager) Accept(ctx context.Context, groupID, agent string) error {
	now := m.now()
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		mem, err := m.Store.GetMembership(ctx, tx, groupID, agent)
		if err != nil {
			return err
		}
		if mem.Status != storage.MembershipPending {
			return cc4merr.New(cc4merr.State, "no pending invitation for this agent")
		}
		mem.Status = storage.MembershipActive
		mem.JoinedAt = &now
		if err := m.Store.UpsertMembership(ctx, tx, mem); err != nil {
			return err
		}
		return m.appendChange(ctx, tx, groupID, "accepted", agent, agent, now)
	})
}

// Decline transitions a pending membership to removed.
func (m *Manager) Decline(ctx context.Context, groupID, agent string) error {
	now := m.now()
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		mem, err := m.Store.GetMembership(ctx, tx, groupID, agent)
		if err != nil {
			return err
		}
		if mem.Status != storage.MembershipPending {
			return cc4merr.New(cc4merr.State, "no pending invitation for this agent")
		}
		mem.Status = storage.MembershipRemoved
		if err := m.Store.UpsertMembership(ctx, tx, mem); err != nil {
			return err
		}
		return m.appendChange(ctx, tx, groupID, "declined", agent, agent, now)
	})
}

// Leave transitions an active membership to left. The owner must
// transfer ownership before leaving.
func (m *Manager) Leave(ctx context.Context, groupID, agent string) error {
	now := m.now()
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		mem, err := m.Store.GetMembership(ctx, tx, groupID, agent)
		if err != nil {
			return err
		}
		if mem.Status != storage.MembershipActive {
			return cc4merr.New(cc4merr.State, "agent is not an active member")
		}
		if mem.Role == storage.RoleOwner {
			return cc4merr.New(cc4merr.State, "owner must transfer ownership before leaving")
		}
		mem.Status = storage.MembershipLeft
		mem.LeftAt = &now
		if err := m.Store.UpsertMembership(ctx, tx, mem); err != nil {
			return err
		}
		return m.appendChange(ctx, tx, groupID, "left", agent, agent, now)
	})
}

// Remove forcibly removes target; only the owner or an admin may do this.
func (m *Manager) Remove(ctx context.Context, groupID, actor, target string) error {
	now := m.now()
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		actorMem, err := m.Store.GetMembership(ctx, tx, groupID, actor)
		if err != nil {
			return cc4merr.New(cc4merr.Auth, "actor is not a member of this group")
		}
		if actorMem.Role != storage.RoleOwner && actorMem.Role != storage.RoleAdmin {
			return cc4merr.New(cc4merr.Auth, "only the owner or an admin may remove a member")
		}
		targetMem, err := m.Store.GetMembership(ctx, tx, groupID, target)
		if err != nil {
			return err
		}
		if targetMem.Role == storage.RoleOwner {
			return cc4merr.New(cc4merr.State, "cannot remove the owner")
		}
		targetMem.Status = storage.MembershipRemoved
		targetMem.LeftAt = &now
		if err := m.Store.UpsertMembership(ctx, tx, targetMem); err != nil {
			return err
		}
		return m.appendChange(ctx, tx, groupID, "removed", actor, target, now)
	})
}

// Dissolve marks the group dissolved; only the owner may do this.
func (m *Manager) Dissolve(ctx context.Context, groupID, actor string) error {
	now := m.now()
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		g, err := m.Store.GetGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if g.Owner != actor {
			return cc4merr.New(cc4merr.Auth, "only the owner may dissolve the group")
		}
		if err := m.Store.DissolveGroup(ctx, tx, groupID, now); err != nil {
			return err
		}
		return m.appendChange(ctx, tx, groupID, "dissolved", actor, groupID, now)
	})
}

// Transfer atomically swaps the owner role between actor and newOwner.
func (m *Manager) Transfer(ctx context.Context, groupID, actor, newOwner string) error {
	now := m.now()
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		g, err := m.Store.GetGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if g.Owner != actor {
			return cc4merr.New(cc4merr.Auth, "only the current owner may transfer ownership")
		}
		newOwnerMem, err := m.Store.GetMembership(ctx, tx, groupID, newOwner)
		if err != nil {
			return err
		}
		if newOwnerMem.Status != storage.MembershipActive {
			return cc4merr.New(cc4merr.State, "new owner must be an active member")
		}
		oldOwnerMem, err := m.Store.GetMembership(ctx, tx, groupID, actor)
		if err != nil {
			return err
		}

		newOwnerMem.Role = storage.RoleOwner
		oldOwnerMem.Role = storage.RoleMember
		if err := m.Store.UpsertMembership(ctx, tx, newOwnerMem); err != nil {
			return err
		}
		if err := m.Store.UpsertMembership(ctx, tx, oldOwnerMem); err != nil {
			return err
		}
		if err := m.Store.UpdateGroupOwner(ctx, tx, groupID, newOwner); err != nil {
			return err
		}
		return m.appendChange(ctx, tx, groupID, "transferred", actor, newOwner, now)
	})
}

// ChangesSince returns the ordered change log newer than sinceID, for
// /groups/{id}/changes?since=.
func (m *Manager) ChangesSince(ctx context.Context, groupID string, sinceID int64) ([]storage.GroupChange, error) {
	var out []storage.GroupChange
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		changes, err := m.Store.ListGroupChangesSince(ctx, tx, groupID, sinceID)
		if err != nil {
			return err
		}
		out = changes
		return nil
	})
	return out, err
}

func (m *Manager) appendChange(ctx context.Context, tx *sql.Tx, groupID, kind, actor, target string, at time.Time) error {
	return m.Store.AppendGroupChange(ctx, tx, &storage.GroupChange{GroupID: groupID, Kind: kind, Actor: actor, Target: target, At: at})
}
