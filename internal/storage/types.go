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

// Package storage implements the relay's persistence schema: agents,
// contacts, blocks, email verifications, rate-limit buckets, groups,
// memberships, and broadcasts. The relay is the exclusive owner of all
// of this relational state; it never persists message bodies.
package storage

import "time"

// AgentStatus is the lifecycle state of an Agent row.
type AgentStatus string

const (
	AgentPending AgentStatus = "pending"
	AgentActive  AgentStatus = "active"
	AgentRevoked AgentStatus = "revoked"
)

// Agent is a registered identity: a name bound to a long-lived Ed25519
// public key.
type Agent struct {
	Name                string
	PublicKey           string // base64-encoded raw Ed25519 public key (see cryptoutil.EncodePublicKey)
	OwnerEmail          string
	Endpoint            string
	EmailVerified       bool
	Status              AgentStatus
	LastSeen            *time.Time
	CreatedAt           time.Time
	ApprovedBy          *string
	KeyUpdatedAt        *time.Time
	RecoveryInitiatedAt *time.Time
	PendingPublicKey    *string
}

// RecoveryInProgress reports §4.6's observability rule: a recovery is
// "in progress" only within the first hour after it was initiated.
func (a *Agent) RecoveryInProgress(now time.Time) bool {
	if a.RecoveryInitiatedAt == nil {
		return false
	}
	return now.Sub(*a.RecoveryInitiatedAt) < time.Hour
}

// EmailVerification tracks a pending registration code.
type EmailVerification struct {
	AgentName string
	Email     string
	CodeHash  string // SHA-256 hex of the 6-digit code
	Attempts  int
	ExpiresAt time.Time
	Verified  bool
}

// ContactStatus is the lifecycle state of a Contact row.
type ContactStatus string

const (
	ContactPending ContactStatus = "pending"
	ContactActive  ContactStatus = "active"
	ContactDenied  ContactStatus = "denied"
	ContactRemoved ContactStatus = "removed"
)

// Contact is keyed by the ordered pair (AgentA < AgentB lexicographically).
type Contact struct {
	AgentA      string
	AgentB      string
	Status      ContactStatus
	RequestedBy string
	DenialCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderedPair returns (a, b) sorted so a < b, matching the Contact
// primary key convention.
func OrderedPair(x, y string) (a, b string) {
	if x < y {
		return x, y
	}
	return y, x
}

// Block is directional: Blocker prevents Blocked from requesting contact.
type Block struct {
	Blocker string
	Blocked string
}

// GroupStatus is the lifecycle state of a Group row.
type GroupStatus string

const (
	GroupActive    GroupStatus = "active"
	GroupDissolved GroupStatus = "dissolved"
)

// Group is a named set of agents with invite/send policy settings.
type Group struct {
	ID               string
	Name             string
	Owner            string
	Status           GroupStatus
	MembersCanInvite bool
	MembersCanSend   bool
	MaxMembers       int
	CreatedAt        time.Time
	DissolvedAt      *time.Time
}

// DefaultGroupSettings are applied at creation per §4.8.
func DefaultGroupSettings() (membersCanInvite, membersCanSend bool, maxMembers int) {
	return false, true, 50
}

// MembershipRole is a GroupMembership's role.
type MembershipRole string

const (
	RoleOwner  MembershipRole = "owner"
	RoleAdmin  MembershipRole = "admin"
	RoleMember MembershipRole = "member"
)

// MembershipStatus is a GroupMembership's lifecycle state.
type MembershipStatus string

const (
	MembershipPending MembershipStatus = "pending"
	MembershipActive  MembershipStatus = "active"
	MembershipRemoved MembershipStatus = "removed"
	MembershipLeft    MembershipStatus = "left"
)

// GroupMembership ties an agent to a group with a role and status.
type GroupMembership struct {
	GroupID   string
	Agent     string
	Role      MembershipRole
	Status    MembershipStatus
	InvitedBy *string
	JoinedAt  *time.Time
	LeftAt    *time.Time
}

// GroupChange is an append-only log entry for /groups/{id}/changes.
type GroupChange struct {
	ID        int64
	GroupID   string
	Kind      string // e.g. "invited", "accepted", "declined", "left", "removed", "dissolved", "transferred"
	Actor     string
	Target    string
	At        time.Time
}

// RateLimitBucket is a sliding fixed-window counter.
type RateLimitBucket struct {
	Key         string
	Count       int
	WindowStart time.Time
}

// Broadcast is a relay-authored operational notice (§10 of SPEC_FULL).
type Broadcast struct {
	ID        int64
	Sender    string
	Message   string
	CreatedAt time.Time
}
