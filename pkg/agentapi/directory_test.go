package agentapi

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newDirectoryClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c, err := New(srv.URL, "atlas", priv, Options{CacheDir: t.TempDir(), Community: "default"})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestRefreshContactsPopulatesCache(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/contacts", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"peer": "bmo", "publicKey": "abc", "endpoint": "http://bmo.invalid", "online": true, "since": "2026-01-01T00:00:00Z"},
			},
		})
	})
	c := newDirectoryClient(t, handler)

	require.NoError(t, c.RefreshContacts(context.Background()))
	snap := c.Cache.Load(c.Community)
	require.Len(t, snap.Contacts, 1)
	require.Equal(t, "bmo", snap.Contacts[0].Agent)
	require.Equal(t, "http://bmo.invalid", snap.Contacts[0].Endpoint)
}

func TestCreateGroupDecodesID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"id": "grp-1", "name": "allies", "owner": "atlas"},
		})
	})
	c := newDirectoryClient(t, handler)

	id, err := c.CreateGroup(context.Background(), "allies")
	require.NoError(t, err)
	require.Equal(t, "grp-1", id)
}

func TestRequestContactFailureSurfacesRelayError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "already contacts"})
	})
	c := newDirectoryClient(t, handler)

	err := c.RequestContact(context.Background(), "bmo")
	require.Error(t, err)
	require.Contains(t, err.Error(), "already contacts")
}
