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

// Package contacts implements C8: the bidirectional contact lifecycle
// (request/accept/deny/remove/list), pending-request expiry, denial-count
// auto-blocking, and the per-sender request rate limit.
package contacts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cc4me/fabric/internal/cc4merr"
	"github.com/cc4me/fabric/internal/storage"
)

const (
	// PendingExpiry is how long an unanswered request stays live before a
	// fresh request against the same pair replaces it outright.
	PendingExpiry = 30 * 24 * time.Hour
	// OnlineWindow is the presence freshness bound §4.7's list() uses.
	OnlineWindow = 20 * time.Minute
	// DenialBlockThreshold is the number of denials that auto-inserts a Block.
	DenialBlockThreshold = 3

	rateLimitWindow = time.Hour
	rateLimitCap    = 100
)

// Manager implements C8 against a *storage.Store.
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

// RateLimitError carries the Retry-After/X-RateLimit-* values §4.7 and
// §6.2 require on a 429 response.
type RateLimitError struct {
	RetryAfter time.Duration
	Limit      int
	Remaining  int
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("contact request rate limit exceeded, retry after %s", e.RetryAfter)
}

// Request implements §4.7's request transition table for an ordered pair.
func (m *Manager) Request(ctx context.Context, from, to, greeting string) (*storage.Contact, error) {
	if greeting != "" {
		return nil, cc4merr.New(cc4merr.Shape, "greeting is no longer accepted (v3)")
	}
	if from == to {
		return nil, cc4merr.New(cc4merr.Shape, "cannot request contact with self")
	}
	now := m.now()

	var result *storage.Contact
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		toAgent, err := m.Store.GetAgent(ctx, tx, to)
		if err != nil {
			return err
		}
		if toAgent.Status != storage.AgentActive {
			return cc4merr.New(cc4merr.Auth, "target agent is not active")
		}

		blocked, err := m.Store.IsBlocked(ctx, tx, to, from)
		if err != nil {
			return err
		}
		if blocked {
			return cc4merr.New(cc4merr.Auth, "requester is blocked by target")
		}

		if err := m.checkRateLimit(ctx, tx, from, now); err != nil {
			return err
		}

		existing, err := m.Store.GetContact(ctx, tx, from, to)
		notFound := false
		if err != nil {
			k, ok := cc4merr.KindOf(err)
			if !ok || k != cc4merr.NotFound {
				return err
			}
			notFound = true
		}

		a, b := storage.OrderedPair(from, to)
		switch {
		case notFound:
			result, err = m.insertFresh(ctx, tx, a, b, from, now)
			return err

		case existing.Status == storage.ContactActive:
			return cc4merr.New(cc4merr.Conflict, "already contacts")

		case existing.Status == storage.ContactPending:
			if now.Sub(existing.CreatedAt) <= PendingExpiry {
				return cc4merr.New(cc4merr.Conflict, "a pending request already exists")
			}
			if err := m.Store.DeleteContact(ctx, tx, a, b); err != nil {
				return err
			}
			result, err = m.insertFresh(ctx, tx, a, b, from, now)
			return err

		case existing.Status == storage.ContactDenied:
			existing.Status = storage.ContactPending
			existing.RequestedBy = from
			existing.UpdatedAt = now
			if err := m.Store.UpsertContact(ctx, tx, existing); err != nil {
				return err
			}
			result = existing
			return nil

		case existing.Status == storage.ContactRemoved:
			if err := m.Store.DeleteContact(ctx, tx, a, b); err != nil {
				return err
			}
			result, err = m.insertFresh(ctx, tx, a, b, from, now)
			return err
		}
		return fmt.Errorf("contacts: unreachable contact status %q", existing.Status)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) insertFresh(ctx context.Context, tx *sql.Tx, a, b, requestedBy string, now time.Time) (*storage.Contact, error) {
	c := &storage.Contact{
		AgentA: a, AgentB: b, Status: storage.ContactPending,
		RequestedBy: requestedBy, DenialCount: 0, CreatedAt: now, UpdatedAt: now,
	}
	if err := m.Store.UpsertContact(ctx, tx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// checkRateLimit enforces the 100 requests/hour/sender cap, returning a
// *RateLimitError carrying the 429 response fields on exceed.
func (m *Manager) checkRateLimit(ctx context.Context, tx *sql.Tx, sender string, now time.Time) error {
	key := "contacts:request:" + sender
	count, err := m.Store.IncrementRateLimit(ctx, tx, key, now, rateLimitWindow)
	if err != nil {
		return err
	}
	if count > rateLimitCap {
		resetAt := now.Add(rateLimitWindow)
		return &RateLimitError{
			RetryAfter: rateLimitWindow,
			Limit:      rateLimitCap,
			Remaining:  0,
			ResetAt:    resetAt,
		}
	}
	return nil
}

// BatchResult is one target's outcome in a BatchRequest call.
type BatchResult struct {
	To      string
	Contact *storage.Contact
	Err     error
}

// BatchRequest applies Request per target and reports per-target results.
// Callers return 201 if every result succeeded, else 207 Multi-Status.
func (m *Manager) BatchRequest(ctx context.Context, from string, targets []string) []BatchResult {
	results := make([]BatchResult, 0, len(targets))
	for _, to := range targets {
		c, err := m.Request(ctx, from, to, "")
		results = append(results, BatchResult{To: to, Contact: c, Err: err})
	}
	return results
}

// PendingView is one row of ListPending's output: the contact plus the
// requester's email, per §4.7.
type PendingView struct {
	Contact       storage.Contact
	RequesterEmail string
}

// ListPending returns live pending requests addressed to agent, sorted
// by CreatedAt ascending.
func (m *Manager) ListPending(ctx context.Context, agent string) ([]PendingView, error) {
	now := m.now()
	var out []PendingView
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := m.Store.ListContactsForAgent(ctx, tx, agent, storage.ContactPending)
		if err != nil {
			return err
		}
		for _, c := range rows {
			if c.RequestedBy == agent {
				continue
			}
			if now.Sub(c.CreatedAt) > PendingExpiry {
				continue
			}
			requester, err := m.Store.GetAgent(ctx, tx, c.RequestedBy)
			if err != nil {
				return err
			}
			out = append(out, PendingView{Contact: c, RequesterEmail: requester.OwnerEmail})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortPendingByCreatedAt(out)
	return out, nil
}

func sortPendingByCreatedAt(views []PendingView) {
	for i := 1; i < len(views); i++ {
		for j := i; j > 0 && views[j].Contact.CreatedAt.Before(views[j-1].Contact.CreatedAt); j-- {
			views[j], views[j-1] = views[j-1], views[j]
		}
	}
}

// AcceptResult surfaces the endpoint-exchange moment: the peer's current
// public key and endpoint, returned the instant a contact goes active.
type AcceptResult struct {
	Contact         *storage.Contact
	PeerPublicKey   string
	PeerEndpoint    string
}

// Accept requires a pending row whose RequestedBy is other; idempotent
// when the pair is already active.
func (m *Manager) Accept(ctx context.Context, agent, other string) (*AcceptResult, error) {
	now := m.now()
	var result *AcceptResult
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		c, err := m.Store.GetContact(ctx, tx, agent, other)
		if err != nil {
			return err
		}
		peer, err := m.Store.GetAgent(ctx, tx, other)
		if err != nil {
			return err
		}
		if c.Status == storage.ContactActive {
			result = &AcceptResult{Contact: c, PeerPublicKey: peer.PublicKey, PeerEndpoint: peer.Endpoint}
			return nil
		}
		if c.Status != storage.ContactPending || c.RequestedBy != other {
			return cc4merr.New(cc4merr.NotFound, "no pending request from that agent")
		}
		c.Status = storage.ContactActive
		c.UpdatedAt = now
		if err := m.Store.UpsertContact(ctx, tx, c); err != nil {
			return err
		}
		result = &AcceptResult{Contact: c, PeerPublicKey: peer.PublicKey, PeerEndpoint: peer.Endpoint}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Deny requires a pending row whose RequestedBy is other. It increments
// the denial count and, at the threshold, auto-inserts a Block(agent→other).
func (m *Manager) Deny(ctx context.Context, agent, other string) (*storage.Contact, error) {
	now := m.now()
	var result *storage.Contact
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		c, err := m.Store.GetContact(ctx, tx, agent, other)
		if err != nil {
			return err
		}
		if c.Status != storage.ContactPending || c.RequestedBy != other {
			return cc4merr.New(cc4merr.NotFound, "no pending request from that agent")
		}
		c.Status = storage.ContactDenied
		c.DenialCount++
		c.UpdatedAt = now
		if err := m.Store.UpsertContact(ctx, tx, c); err != nil {
			return err
		}
		if c.DenialCount >= DenialBlockThreshold {
			if err := m.Store.InsertBlock(ctx, tx, agent, other); err != nil {
				return err
			}
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Remove deletes an active contact row, permitting a future re-request.
func (m *Manager) Remove(ctx context.Context, agent, other string) error {
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		c, err := m.Store.GetContact(ctx, tx, agent, other)
		if err != nil {
			return err
		}
		if c.Status != storage.ContactActive {
			return cc4merr.New(cc4merr.NotFound, "no active contact with that agent")
		}
		return m.Store.DeleteContact(ctx, tx, agent, other)
	})
}

// ContactView is one row of List's output, denormalized with the peer
// agent's live fields per §4.7.
type ContactView struct {
	Peer                string
	PublicKey           string
	Endpoint            string
	Online              bool
	RecoveryInProgress  bool
	Since               time.Time
	KeyUpdatedAt        *time.Time
}

// List returns every active contact of agent, joined with the peer's
// live agent row.
func (m *Manager) List(ctx context.Context, agent string) ([]ContactView, error) {
	now := m.now()
	var out []ContactView
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := m.Store.ListContactsForAgent(ctx, tx, agent, storage.ContactActive)
		if err != nil {
			return err
		}
		for _, c := range rows {
			peerName := c.AgentA
			if peerName == agent {
				peerName = c.AgentB
			}
			peer, err := m.Store.GetAgent(ctx, tx, peerName)
			if err != nil {
				return err
			}
			online := peer.LastSeen != nil && now.Sub(*peer.LastSeen) <= OnlineWindow
			out = append(out, ContactView{
				Peer:               peerName,
				PublicKey:          peer.PublicKey,
				Endpoint:           peer.Endpoint,
				Online:             online,
				RecoveryInProgress: peer.RecoveryInProgress(now),
				Since:              c.UpdatedAt,
				KeyUpdatedAt:       peer.KeyUpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
