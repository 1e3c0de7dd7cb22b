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

// Package envelope defines the wire envelope schema: shape validation,
// the signable-payload extraction used as signing input, and the
// major-version compatibility gate.
package envelope

import (
	"strconv"
	"strings"
)

// Type is the envelope's message kind.
type Type string

const (
	TypeDirect Type = "direct"
	TypeGroup  Type = "group"
)

// SupportedMajorVersion is the only major version this build accepts.
// Per §9's open question, unknown types and versions are rejected
// strictly rather than tolerated.
const SupportedMajorVersion = 2

// Payload is the encrypted body carried by an envelope: base64-encoded
// ciphertext (with the GCM tag appended) and nonce.
type Payload struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// Envelope is the signed, optionally-encrypted unit of peer-to-peer
// transport.
type Envelope struct {
	Version   string  `json:"version"`
	Type      Type    `json:"type"`
	MessageID string  `json:"messageId"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Timestamp string  `json:"timestamp"`
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"`
	GroupID   string  `json:"groupId,omitempty"`
}

// Validate performs the boolean shape check §4.3 describes: required
// fields present, type/groupId coupling respected. It does NOT verify
// the signature — that is the pipeline's job.
func Validate(e *Envelope) bool {
	if e.Version == "" || e.MessageID == "" || e.Sender == "" ||
		e.Recipient == "" || e.Timestamp == "" || e.Signature == "" {
		return false
	}
	if e.Payload.Ciphertext == "" || e.Payload.Nonce == "" {
		return false
	}
	switch e.Type {
	case TypeDirect:
		if e.GroupID != "" {
			return false
		}
	case TypeGroup:
		if e.GroupID == "" {
			return false
		}
	default:
		// Runtime validation is strict: unknown types are rejected
		// outright rather than tolerated (§9 open question).
		return false
	}
	return true
}

// IsVersionCompatible accepts only a dotted version string whose integer
// component before the first '.' equals SupportedMajorVersion. Malformed
// strings are rejected.
func IsVersionCompatible(version string) bool {
	major, ok := majorOf(version)
	if !ok {
		return false
	}
	return major == SupportedMajorVersion
}

func majorOf(version string) (int, bool) {
	head, _, _ := strings.Cut(version, ".")
	if head == "" {
		return 0, false
	}
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return major, true
}

// signable is the JSON shape signed over: the envelope with Signature
// cleared. Field order doesn't matter here since canon.Marshal sorts
// keys; the struct only needs to carry every field except Signature.
type signable struct {
	Version   string  `json:"version"`
	Type      Type    `json:"type"`
	MessageID string  `json:"messageId"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Timestamp string  `json:"timestamp"`
	Payload   Payload `json:"payload"`
	GroupID   string  `json:"groupId,omitempty"`
}

// SignablePayload returns e with Signature removed — nothing else is
// stripped, so GroupID remains inside the signed region.
func SignablePayload(e *Envelope) interface{} {
	return signable{
		Version:   e.Version,
		Type:      e.Type,
		MessageID: e.MessageID,
		Sender:    e.Sender,
		Recipient: e.Recipient,
		Timestamp: e.Timestamp,
		Payload:   e.Payload,
		GroupID:   e.GroupID,
	}
}
