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

package envelope

import (
	"testing"

	"github.com/cc4me/fabric/internal/canon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnvelope() *Envelope {
	return &Envelope{
		Version:   "2.0",
		Type:      TypeDirect,
		MessageID: "m1",
		Sender:    "atlas",
		Recipient: "bmo",
		Timestamp: "2026-07-31T00:00:00Z",
		Payload:   Payload{Ciphertext: "Y2lwaGVy", Nonce: "bm9uY2U="},
		Signature: "c2ln",
	}
}

func TestValidateAcceptsWellFormedDirect(t *testing.T) {
	assert.True(t, Validate(baseEnvelope()))
}

func TestValidateRejectsGroupIDOnDirect(t *testing.T) {
	e := baseEnvelope()
	e.GroupID = "g1"
	assert.False(t, Validate(e))
}

func TestValidateRequiresGroupIDOnGroup(t *testing.T) {
	e := baseEnvelope()
	e.Type = TypeGroup
	assert.False(t, Validate(e))
	e.GroupID = "g1"
	assert.True(t, Validate(e))
}

func TestValidateRejectsUnknownType(t *testing.T) {
	e := baseEnvelope()
	e.Type = "broadcast-ish"
	assert.False(t, Validate(e))
}

func TestValidateRejectsMissingFields(t *testing.T) {
	e := baseEnvelope()
	e.Signature = ""
	assert.False(t, Validate(e))
}

func TestIsVersionCompatible(t *testing.T) {
	cases := map[string]bool{
		"2.0":     true,
		"2.1":     true,
		"2":       true,
		"3.0":     false,
		"1.9":     false,
		"":        false,
		"abc":     false,
		"2.x.y":   true, // only the component before the first '.' matters
		".2":      false,
	}
	for v, want := range cases {
		assert.Equal(t, want, IsVersionCompatible(v), "version=%q", v)
	}
}

func TestSignablePayloadDropsOnlySignature(t *testing.T) {
	e := baseEnvelope()
	out, err := canon.Marshal(SignablePayload(e))
	require.NoError(t, err)
	assert.NotContains(t, string(out), "signature")
	assert.Contains(t, string(out), `"messageId":"m1"`)
}

func TestSignablePayloadKeepsGroupIDInSignedRegion(t *testing.T) {
	e := baseEnvelope()
	e.Type = TypeGroup
	e.GroupID = "g1"
	out, err := canon.Marshal(SignablePayload(e))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"groupId":"g1"`)
}

func TestSignablePayloadMutationInvalidatesSignature(t *testing.T) {
	e1 := baseEnvelope()
	e2 := baseEnvelope()
	e2.GroupID = "" // no-op for direct but exercises the mutation-detection idea below
	e2.Timestamp = "2026-07-31T00:05:00Z"

	out1, err := canon.Marshal(SignablePayload(e1))
	require.NoError(t, err)
	out2, err := canon.Marshal(SignablePayload(e2))
	require.NoError(t, err)
	assert.NotEqual(t, string(out1), string(out2))
}
