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

// Package identity implements the relay's agent lifecycle: registration
// with email verification, key rotation, and cooling-off recovery (§4.6).
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/cc4me/fabric/internal/cc4merr"
	"github.com/cc4me/fabric/internal/reqauth"
	"github.com/cc4me/fabric/internal/storage"
)

const (
	verificationCodeTTL = 10 * time.Minute
	maxVerifyAttempts   = 5
	coolingOff          = time.Hour
)

// errExhausted is a sentinel wrapped into the cc4merr.State errors Verify
// returns once the attempt budget is spent, so relayserver can map it to
// 410 Gone instead of the default State status.
var errExhausted = fmt.Errorf("verification attempts exhausted")

// ErrExhausted reports whether err is (or wraps) the exhausted-attempts case.
func ErrExhausted(err error) bool {
	return errors.Is(err, errExhausted)
}

// errCoolingOff is a sentinel wrapped into the cc4merr.State error
// RotateKey returns during an unexpired cooling-off window, so relayserver
// can map it to 403 instead of State's default 409 — §4.6 and the
// end-to-end cooling-off scenario both require 403 specifically here.
var errCoolingOff = fmt.Errorf("cooling-off period has not elapsed")

// ErrCoolingOff reports whether err is (or wraps) the cooling-off case.
func ErrCoolingOff(err error) bool {
	return errors.Is(err, errCoolingOff)
}

// Notifier delivers the out-of-band verification code to an agent's
// owner email. Email sending is an external collaborator (§1); the
// relay only depends on this narrow interface.
type Notifier interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// NopNotifier discards codes; useful for tests and for deployments that
// surface the code through an out-of-band admin channel instead.
type NopNotifier struct{}

func (NopNotifier) SendVerificationCode(ctx context.Context, email, code string) error { return nil }

// Manager implements C7 against a *storage.Store. It holds no in-memory
// identity state itself — every operation is one transaction against the
// relational schema, per §5's TOCTOU requirement.
type Manager struct {
	Store    *storage.Store
	Notifier Notifier
	Now      func() time.Time
}

// New builds a Manager. notifier may be nil, in which case NopNotifier is used.
func New(store *storage.Store, notifier Notifier) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Manager{Store: store, Notifier: notifier}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// RegisterRequest is the payload for POST /registry/agents.
type RegisterRequest struct {
	Name      string
	PublicKey string
	Email     string
	Endpoint  string
}

// Register creates a new pending agent and a fresh email verification
// row, then dispatches the code through Notifier.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*storage.Agent, error) {
	if req.Name == "" || req.PublicKey == "" || req.Endpoint == "" {
		return nil, cc4merr.New(cc4merr.Shape, "name, publicKey, and endpoint are required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, cc4merr.Wrap(cc4merr.Shape, "malformed email", err)
	}

	now := m.now()
	code, codeHash, err := newVerificationCode()
	if err != nil {
		return nil, cc4merr.Wrap(cc4merr.Crypto, "generate verification code", err)
	}

	agent := &storage.Agent{
		Name:       req.Name,
		PublicKey:  req.PublicKey,
		OwnerEmail: req.Email,
		Endpoint:   req.Endpoint,
		Status:     storage.AgentPending,
		CreatedAt:  now,
	}

	err = m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, getErr := m.Store.GetAgent(ctx, tx, req.Name); getErr == nil {
			return cc4merr.New(cc4merr.Conflict, "agent name already registered")
		} else if k, ok := cc4merr.KindOf(getErr); !ok || k != cc4merr.NotFound {
			return getErr
		}
		inUse, err := m.Store.PublicKeyInUse(ctx, tx, req.PublicKey)
		if err != nil {
			return err
		}
		if inUse {
			return cc4merr.New(cc4merr.Conflict, "public key already registered")
		}
		if err := m.Store.InsertAgent(ctx, tx, agent); err != nil {
			return err
		}
		return m.Store.UpsertEmailVerification(ctx, tx, &storage.EmailVerification{
			AgentName: req.Name,
			Email:     req.Email,
			CodeHash:  codeHash,
			Attempts:  0,
			ExpiresAt: now.Add(verificationCodeTTL),
			Verified:  false,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := m.Notifier.SendVerificationCode(ctx, req.Email, code); err != nil {
		return nil, cc4merr.Wrap(cc4merr.Transport, "send verification code", err)
	}
	return agent, nil
}

// Verify checks a submitted code against the stored hash in constant
// time, promoting the agent to active on success.
func (m *Manager) Verify(ctx context.Context, name, code string) (*storage.Agent, error) {
	now := m.now()
	var result *storage.Agent
	wrongCode := false
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		v, err := m.Store.GetEmailVerification(ctx, tx, name)
		if err != nil {
			return err
		}
		if v.Verified {
			agent, err := m.Store.GetAgent(ctx, tx, name)
			if err != nil {
				return err
			}
			result = agent
			return nil
		}
		if now.After(v.ExpiresAt) {
			return cc4merr.New(cc4merr.State, "verification code expired")
		}
		if v.Attempts >= maxVerifyAttempts {
			return cc4merr.Wrap(cc4merr.State, "too many verification attempts", errExhausted)
		}

		if !reqauth.ConstantTimeEqualHex(hashCode(code), v.CodeHash) {
			// The attempt count must commit, so the Auth error is returned
			// after the transaction rather than from inside it.
			wrongCode = true
			return m.Store.IncrementVerificationAttempts(ctx, tx, name)
		}

		v.Verified = true
		if err := m.Store.UpsertEmailVerification(ctx, tx, v); err != nil {
			return err
		}
		if err := m.Store.SetAgentEmailVerified(ctx, tx, name, true); err != nil {
			return err
		}
		if err := m.Store.UpdateAgentStatus(ctx, tx, name, storage.AgentActive, nil); err != nil {
			return err
		}
		agent, err := m.Store.GetAgent(ctx, tx, name)
		if err != nil {
			return err
		}
		result = agent
		return nil
	})
	if err != nil {
		return nil, err
	}
	if wrongCode {
		return nil, cc4merr.New(cc4merr.Auth, "incorrect verification code")
	}
	return result, nil
}

// RotateKey implements the authenticated and recovery-driven rotation
// paths of §4.6. authenticatedAgent is the caller identity established
// by C5. While a recovery is pending, authenticatedAgent is ignored and
// the rotation is gated by the pending key and the cooling-off period;
// otherwise it must equal name.
func (m *Manager) RotateKey(ctx context.Context, name, newPublicKey, authenticatedAgent string) (*storage.Agent, error) {
	if newPublicKey == "" {
		return nil, cc4merr.New(cc4merr.Shape, "newPublicKey is required")
	}
	now := m.now()
	var result *storage.Agent
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		agent, err := m.Store.GetAgent(ctx, tx, name)
		if err != nil {
			return err
		}

		recovering := agent.RecoveryInitiatedAt != nil
		if recovering {
			if agent.PendingPublicKey == nil || newPublicKey != *agent.PendingPublicKey {
				return cc4merr.New(cc4merr.Shape, "newPublicKey does not match the pending recovery key")
			}
			if now.Sub(*agent.RecoveryInitiatedAt) < coolingOff {
				return cc4merr.Wrap(cc4merr.State, "cooling-off period has not elapsed", errCoolingOff)
			}
		} else if authenticatedAgent == "" || authenticatedAgent != name {
			return cc4merr.New(cc4merr.Auth, "rotate-key requires authentication as the target agent")
		}

		inUse, err := m.Store.PublicKeyInUse(ctx, tx, newPublicKey)
		if err != nil {
			return err
		}
		if inUse && newPublicKey != agent.PublicKey {
			return cc4merr.New(cc4merr.Conflict, "public key already in use by another agent")
		}

		if err := m.Store.UpdateAgentKey(ctx, tx, name, newPublicKey, now); err != nil {
			return err
		}
		updated, err := m.Store.GetAgent(ctx, tx, name)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecoverRequest is the payload for POST /recover.
type RecoverRequest struct {
	Name         string
	Email        string
	NewPublicKey string
}

// Recover initiates the cooling-off recovery flow. It never mutates
// PublicKey directly — only RotateKey, after the cooling-off elapses,
// does that.
func (m *Manager) Recover(ctx context.Context, req RecoverRequest) (*storage.Agent, error) {
	if req.NewPublicKey == "" {
		return nil, cc4merr.New(cc4merr.Shape, "newPublicKey is required")
	}
	now := m.now()
	var result *storage.Agent
	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		agent, err := m.Store.GetAgent(ctx, tx, req.Name)
		if err != nil {
			return err
		}
		if !agent.EmailVerified {
			return cc4merr.New(cc4merr.Shape, "agent email is not verified")
		}
		if !strings.EqualFold(agent.OwnerEmail, req.Email) {
			return cc4merr.New(cc4merr.Auth, "email does not match agent owner")
		}
		// §9 open question: this spec mandates rejecting a recovery
		// key that collides with any other agent, same as rotation.
		inUse, err := m.Store.PublicKeyInUse(ctx, tx, req.NewPublicKey)
		if err != nil {
			return err
		}
		if inUse && req.NewPublicKey != agent.PublicKey {
			return cc4merr.New(cc4merr.Conflict, "public key already in use by another agent")
		}

		if err := m.Store.InitiateRecovery(ctx, tx, req.Name, req.NewPublicKey, now); err != nil {
			return err
		}
		updated, err := m.Store.GetAgent(ctx, tx, req.Name)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Approve sets an agent's status to active and records approvedBy
// (§10.3). It does not check email verification, and Verify activates an
// agent without any approval, so approval is not a gate on top of
// verification.
func (m *Manager) Approve(ctx context.Context, name, approvedBy string) error {
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := m.Store.GetAgent(ctx, tx, name); err != nil {
			return err
		}
		return m.Store.UpdateAgentStatus(ctx, tx, name, storage.AgentActive, &approvedBy)
	})
}

// Revoke sets an agent's status to revoked; C5's auth check already
// treats non-active agents as unauthenticatable.
func (m *Manager) Revoke(ctx context.Context, name string) error {
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := m.Store.GetAgent(ctx, tx, name); err != nil {
			return err
		}
		return m.Store.UpdateAgentStatus(ctx, tx, name, storage.AgentRevoked, nil)
	})
}

func newVerificationCode() (code, codeHash string, err error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", "", err
	}
	code = fmt.Sprintf("%06d", n.Int64())
	return code, hashCode(code), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
