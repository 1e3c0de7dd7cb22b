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

// Package pipeline builds and processes wire envelopes: encrypt+sign on
// the way out, verify+decrypt (with replay/skew defenses) on the way in.
package pipeline

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cc4me/fabric/internal/canon"
	"github.com/cc4me/fabric/internal/cc4merr"
	"github.com/cc4me/fabric/internal/cryptoutil"
	"github.com/cc4me/fabric/internal/envelope"
	"github.com/cc4me/fabric/internal/metrics"
)

// MaxSkew is the maximum tolerated difference between an envelope's
// timestamp and the processing clock.
const MaxSkew = 5 * time.Minute

// BuildOptions customizes Build; the zero value is the common case.
type BuildOptions struct {
	// MessageID overrides the generated UUIDv4, used by the retry queue
	// to preserve message identity across attempts.
	MessageID string
	// GroupID, when set, marks the envelope as type=group.
	GroupID string
	// Now overrides time.Now for deterministic tests.
	Now time.Time
}

// Build assembles a signed, encrypted envelope from sender to recipient
// carrying payload (an arbitrary JSON-able value).
func Build(sender, recipient string, payload interface{}, senderPriv ed25519.PrivateKey, recipientPub ed25519.PublicKey, opts BuildOptions) (*envelope.Envelope, error) {
	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	key, err := cryptoutil.DeriveSharedKey(senderPriv, recipientPub, sender, recipient)
	if err != nil {
		return nil, cc4merr.Wrap(cc4merr.Crypto, "derive shared key", err)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, cc4merr.Wrap(cc4merr.Shape, "marshal payload", err)
	}

	nonce, ciphertext, err := cryptoutil.Seal(key, plaintext, []byte(messageID))
	if err != nil {
		return nil, cc4merr.Wrap(cc4merr.Crypto, "seal payload", err)
	}

	env := &envelope.Envelope{
		Version:   fmt.Sprintf("%d.0", envelope.SupportedMajorVersion),
		Type:      envelope.TypeDirect,
		MessageID: messageID,
		Sender:    sender,
		Recipient: recipient,
		Timestamp: now.Format(time.RFC3339),
		Payload: envelope.Payload{
			Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
			Nonce:      base64.StdEncoding.EncodeToString(nonce),
		},
	}
	if opts.GroupID != "" {
		env.Type = envelope.TypeGroup
		env.GroupID = opts.GroupID
	}

	signBytes, err := canon.Marshal(envelope.SignablePayload(env))
	if err != nil {
		return nil, cc4merr.Wrap(cc4merr.Shape, "canonicalize signable payload", err)
	}
	sig := cryptoutil.Sign(senderPriv, signBytes)
	env.Signature = base64.StdEncoding.EncodeToString(sig)

	return env, nil
}

// ProcessResult is what a successfully processed envelope yields.
type ProcessResult struct {
	Sender    string
	MessageID string
	Timestamp time.Time
	Payload   json.RawMessage
	Verified  bool
}

// Process verifies and decrypts env, as received by recipientPriv from
// senderPub, relative to the clock now. Failures are *cc4merr.Error
// values: Shape for a malformed envelope or timestamp, Version for an
// unsupported major version, Auth for both excess clock skew and a bad
// signature, and Crypto for decode or decryption failures. Skew and a bad
// signature share the Auth kind; only the metrics outcome label separates
// them. The skew check compares at the timestamp's one-second precision.
func Process(env *envelope.Envelope, recipientPriv ed25519.PrivateKey, senderPub ed25519.PublicKey, now time.Time) (*ProcessResult, error) {
	if !envelope.Validate(env) {
		metrics.EnvelopesProcessed.WithLabelValues("shape").Inc()
		return nil, cc4merr.New(cc4merr.Shape, "envelope failed shape validation")
	}
	if !envelope.IsVersionCompatible(env.Version) {
		metrics.EnvelopesProcessed.WithLabelValues("version").Inc()
		return nil, cc4merr.New(cc4merr.Version, fmt.Sprintf("unsupported envelope version %q", env.Version))
	}

	ts, err := time.Parse(time.RFC3339, env.Timestamp)
	if err != nil {
		metrics.EnvelopesProcessed.WithLabelValues("shape").Inc()
		return nil, cc4merr.Wrap(cc4merr.Shape, "parse timestamp", err)
	}
	skew := now.Truncate(time.Second).Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxSkew {
		metrics.EnvelopesProcessed.WithLabelValues("skew").Inc()
		return nil, cc4merr.New(cc4merr.Auth, fmt.Sprintf("timestamp skew %s exceeds %s", skew, MaxSkew))
	}

	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		metrics.EnvelopesProcessed.WithLabelValues("signature").Inc()
		return nil, cc4merr.Wrap(cc4merr.Crypto, "decode signature", err)
	}
	signBytes, err := canon.Marshal(envelope.SignablePayload(env))
	if err != nil {
		metrics.EnvelopesProcessed.WithLabelValues("shape").Inc()
		return nil, cc4merr.Wrap(cc4merr.Shape, "canonicalize signable payload", err)
	}
	if !cryptoutil.Verify(senderPub, signBytes, sig) {
		metrics.EnvelopesProcessed.WithLabelValues("signature").Inc()
		return nil, cc4merr.New(cc4merr.Auth, "signature verification failed")
	}

	key, err := cryptoutil.DeriveSharedKey(recipientPriv, senderPub, env.Sender, env.Recipient)
	if err != nil {
		metrics.EnvelopesProcessed.WithLabelValues("decrypt").Inc()
		return nil, cc4merr.Wrap(cc4merr.Crypto, "derive shared key", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Payload.Nonce)
	if err != nil {
		metrics.EnvelopesProcessed.WithLabelValues("decrypt").Inc()
		return nil, cc4merr.Wrap(cc4merr.Crypto, "decode nonce", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Payload.Ciphertext)
	if err != nil {
		metrics.EnvelopesProcessed.WithLabelValues("decrypt").Inc()
		return nil, cc4merr.Wrap(cc4merr.Crypto, "decode ciphertext", err)
	}

	plaintext, err := cryptoutil.Open(key, nonce, ciphertext, []byte(env.MessageID))
	if err != nil {
		metrics.EnvelopesProcessed.WithLabelValues("decrypt").Inc()
		return nil, cc4merr.Wrap(cc4merr.Crypto, "decrypt payload", err)
	}

	metrics.EnvelopesProcessed.WithLabelValues("ok").Inc()
	return &ProcessResult{
		Sender:    env.Sender,
		MessageID: env.MessageID,
		Timestamp: ts,
		Payload:   json.RawMessage(plaintext),
		Verified:  true,
	}, nil
}
