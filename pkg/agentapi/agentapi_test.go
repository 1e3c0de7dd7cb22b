package agentapi

import (
	"context"
	"crypto/ed25519"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cc4me/fabric/internal/cryptoutil"
	"github.com/cc4me/fabric/internal/localcache"
)

func newTestClient(t *testing.T, name string, priv ed25519.PrivateKey) *Client {
	t.Helper()
	c, err := New("http://unused.invalid", name, priv, Options{CacheDir: t.TempDir(), Community: "test"})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func cacheContact(t *testing.T, c *Client, peer string, pub ed25519.PublicKey, endpoint string) {
	t.Helper()
	snap := &localcache.Snapshot{Community: c.Community, UpdatedAt: time.Now().UTC()}
	snap.Contacts = append(snap.Contacts, localcache.Entry{
		Agent:     peer,
		PublicKey: cryptoutil.EncodePublicKey(pub),
		Endpoint:  endpoint,
		Since:     time.Now().UTC(),
	})
	require.NoError(t, c.Cache.Save(snap))
}

func TestSendDeliversDirectlyAndRecipientDecodes(t *testing.T) {
	alicePub, alicePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	bobPub, bobPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	alice := newTestClient(t, "alice", alicePriv)
	bob := newTestClient(t, "bob", bobPriv)

	bobSrv := httptest.NewServer(bob.Inbox())
	defer bobSrv.Close()

	cacheContact(t, alice, "bob", bobPub, bobSrv.URL)
	cacheContact(t, bob, "alice", alicePub, "http://unused.invalid")

	env, err := alice.Send(context.Background(), "bob", map[string]string{"text": "hi"})
	require.NoError(t, err)
	require.Equal(t, "alice", env.Sender)
	require.Equal(t, 0, alice.Retry.Len())

	select {
	case msg := <-bob.Messages():
		require.Equal(t, "alice", msg.Sender)
		require.JSONEq(t, `{"text":"hi"}`, string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received the message")
	}
}

func TestSendQueuesOnDeliveryFailure(t *testing.T) {
	_, alicePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	alice := newTestClient(t, "alice", alicePriv)

	_, bobPub, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	cacheContact(t, alice, "bob", bobPub, "http://127.0.0.1:0")

	env, err := alice.Send(context.Background(), "bob", map[string]string{"text": "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, env.MessageID)
	require.Equal(t, 1, alice.Retry.Len())
}

func TestSendUnknownRecipientFails(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	alice := newTestClient(t, "alice", priv)

	_, err = alice.Send(context.Background(), "ghost", map[string]string{"text": "hi"})
	require.Error(t, err)
}
