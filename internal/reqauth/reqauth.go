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

// Package reqauth builds and verifies the relay's per-request
// authentication header: an Ed25519 signature over
// "METHOD PATH\nTIMESTAMP\nSHA256_HEX(body)".
package reqauth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cc4me/fabric/internal/cc4merr"
)

// MaxSkew is the maximum tolerated difference between X-Timestamp and
// the relay's clock.
const MaxSkew = 5 * time.Minute

// TimestampHeader and AuthorizationHeader are wire header names.
const (
	TimestampHeader     = "X-Timestamp"
	AuthorizationHeader = "Authorization"
)

// SignableString builds the exact string signed for a request.
func SignableString(method, path string, timestamp time.Time, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s %s\n%s\n%s", method, path, timestamp.UTC().Format(time.RFC3339), hex.EncodeToString(sum[:]))
}

// Sign returns the X-Timestamp and Authorization header values an agent
// attaches to a relay request.
func Sign(agent string, priv ed25519.PrivateKey, method, path string, body []byte, now time.Time) (timestampHeader, authHeader string) {
	ts := now.UTC().Format(time.RFC3339)
	sig := ed25519.Sign(priv, []byte(SignableString(method, path, now, body)))
	return ts, fmt.Sprintf("Signature %s:%s", agent, base64.StdEncoding.EncodeToString(sig))
}

// Verify checks a request's signature. pub is the agent's current public
// key as looked up by the caller (normally keyed by the agent name parsed
// from the Authorization header); active reports whether the relay
// considers that agent active, which Verify requires unless
// allowInactive is set (used by endpoints authenticated with a pending
// recovery key, where the agent has no "current" active status yet).
func Verify(pub ed25519.PublicKey, active bool, allowInactive bool, method, path, timestampHeader, authHeader string, body []byte, now time.Time) error {
	if !allowInactive && !active {
		return cc4merr.New(cc4merr.Auth, "agent is not active")
	}

	ts, err := time.Parse(time.RFC3339, timestampHeader)
	if err != nil {
		return cc4merr.Wrap(cc4merr.Shape, "parse X-Timestamp", err)
	}
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxSkew {
		return cc4merr.New(cc4merr.Auth, fmt.Sprintf("timestamp skew %s exceeds %s", skew, MaxSkew))
	}

	_, sigB64, ok := ParseAuthorizationAgent(authHeader)
	if !ok {
		return cc4merr.New(cc4merr.Shape, "malformed Authorization header")
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return cc4merr.Wrap(cc4merr.Shape, "decode signature", err)
	}

	expected := []byte(SignableString(method, path, ts, body))
	if !ed25519.Verify(pub, expected, sig) {
		return cc4merr.New(cc4merr.Auth, "signature verification failed")
	}
	return nil
}

// ParseAuthorizationAgent extracts the agent name and base64 signature
// from an "Authorization: Signature <agent>:<sig>" header value.
func ParseAuthorizationAgent(header string) (agent, sigB64 string, ok bool) {
	const prefix = "Signature "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := header[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i], rest[i+1:], true
		}
	}
	return "", "", false
}

// ConstantTimeEqualHex compares two hex-encoded digests without leaking
// timing information, used by the identity manager when comparing
// verification-code hashes.
func ConstantTimeEqualHex(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
