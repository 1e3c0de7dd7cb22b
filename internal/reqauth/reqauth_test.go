package reqauth

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	body := []byte(`{"toAgent":"atlas"}`)
	ts, auth := Sign("bmo", priv, "POST", "/contacts/request", body, now)

	err = Verify(pub, true, false, "POST", "/contacts/request", ts, auth, body, now)
	require.NoError(t, err)
}

func TestVerifyRejectsBodyTamper(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	body := []byte(`{"toAgent":"atlas"}`)
	ts, auth := Sign("bmo", priv, "POST", "/contacts/request", body, now)

	err = Verify(pub, true, false, "POST", "/contacts/request", ts, auth, []byte(`{"toAgent":"eve"}`), now)
	require.Error(t, err)
}

func TestVerifyRejectsSkew(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	body := []byte("")
	ts, auth := Sign("bmo", priv, "GET", "/contacts", body, now.Add(-6*time.Minute))

	err = Verify(pub, true, false, "GET", "/contacts", ts, auth, body, now)
	require.Error(t, err)
}

func TestVerifyRequiresActiveUnlessAllowed(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	ts, auth := Sign("bmo", priv, "GET", "/contacts", nil, now)

	err = Verify(pub, false, false, "GET", "/contacts", ts, auth, nil, now)
	require.Error(t, err)

	err = Verify(pub, false, true, "GET", "/contacts", ts, auth, nil, now)
	require.NoError(t, err)
}

func TestParseAuthorizationAgent(t *testing.T) {
	agent, sig, ok := ParseAuthorizationAgent("Signature atlas:c2ln")
	require.True(t, ok)
	require.Equal(t, "atlas", agent)
	require.Equal(t, "c2ln", sig)

	_, _, ok = ParseAuthorizationAgent("Bearer abc")
	require.False(t, ok)
}
