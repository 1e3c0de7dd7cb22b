package pipeline

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cc4me/fabric/internal/cc4merr"
)

type keypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func genKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return keypair{pub, priv}
}

func TestBuildProcessRoundTrip(t *testing.T) {
	alice := genKeypair(t)
	bob := genKeypair(t)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	env, err := Build("atlas", "bmo", map[string]interface{}{"text": "hi"}, alice.priv, bob.pub, BuildOptions{Now: now})
	require.NoError(t, err)

	result, err := Process(env, bob.priv, alice.pub, now)
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.Equal(t, "atlas", result.Sender)
	require.JSONEq(t, `{"text":"hi"}`, string(result.Payload))
}

func TestProcessRejectsTamperedCiphertext(t *testing.T) {
	alice := genKeypair(t)
	bob := genKeypair(t)
	now := time.Now().UTC()

	env, err := Build("atlas", "bmo", map[string]interface{}{"text": "hi"}, alice.priv, bob.pub, BuildOptions{Now: now})
	require.NoError(t, err)

	// Flip a bit in the ciphertext without re-signing.
	raw := []byte(env.Payload.Ciphertext)
	raw[0] ^= 1
	env.Payload.Ciphertext = string(raw)

	_, err = Process(env, bob.priv, alice.pub, now)
	require.Error(t, err)
}

func TestProcessRejectsSkew(t *testing.T) {
	alice := genKeypair(t)
	bob := genKeypair(t)
	now := time.Now().UTC()

	env, err := Build("atlas", "bmo", map[string]interface{}{"text": "hi"}, alice.priv, bob.pub, BuildOptions{Now: now.Add(-6 * time.Minute)})
	require.NoError(t, err)

	_, err = Process(env, bob.priv, alice.pub, now)
	require.Error(t, err)
	kind, ok := cc4merr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, cc4merr.Auth, kind)
}

func TestProcessAcceptsBoundarySkew(t *testing.T) {
	alice := genKeypair(t)
	bob := genKeypair(t)
	now := time.Now().UTC()

	env, err := Build("atlas", "bmo", map[string]interface{}{"text": "hi"}, alice.priv, bob.pub, BuildOptions{Now: now.Add(-MaxSkew)})
	require.NoError(t, err)

	_, err = Process(env, bob.priv, alice.pub, now)
	require.NoError(t, err)
}

func TestProcessRejectsUnsupportedVersion(t *testing.T) {
	alice := genKeypair(t)
	bob := genKeypair(t)
	now := time.Now().UTC()

	env, err := Build("atlas", "bmo", map[string]interface{}{"text": "hi"}, alice.priv, bob.pub, BuildOptions{Now: now})
	require.NoError(t, err)
	env.Version = "3.0"

	_, err = Process(env, bob.priv, alice.pub, now)
	require.Error(t, err)
	kind, _ := cc4merr.KindOf(err)
	require.Equal(t, cc4merr.Version, kind)
}

func TestSignatureCoversGroupID(t *testing.T) {
	alice := genKeypair(t)
	bob := genKeypair(t)
	now := time.Now().UTC()

	env, err := Build("atlas", "bmo", map[string]interface{}{"text": "hi"}, alice.priv, bob.pub, BuildOptions{Now: now, GroupID: "g1"})
	require.NoError(t, err)

	env.GroupID = "g2"
	_, err = Process(env, bob.priv, alice.pub, now)
	require.Error(t, err)
	kind, _ := cc4merr.KindOf(err)
	require.Equal(t, cc4merr.Auth, kind)
}
