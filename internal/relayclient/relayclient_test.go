package relayclient

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDoReturnsOKOnJSON2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"status": "active"}})
	}))
	defer srv.Close()

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := New(srv.URL, "atlas", priv)

	res, err := c.Do(context.Background(), http.MethodGet, "/presence/atlas", nil)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 200, res.Status)
}

func TestDoNeverRetries4xxJSON(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "already contacts"})
	}))
	defer srv.Close()

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := New(srv.URL, "atlas", priv)

	res, err := c.Do(context.Background(), http.MethodPost, "/contacts/request", map[string]string{"to": "bmo"})
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, 409, res.Status)
	require.Equal(t, "already contacts", res.Error)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoRetriesNonJSONThenGivesSyntheticResult(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>captive portal</html>"))
	}))
	defer srv.Close()

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := New(srv.URL, "atlas", priv)

	res, err := c.Do(context.Background(), http.MethodGet, "/presence/atlas", nil)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, int32(maxAttempts), atomic.LoadInt32(&calls))
	require.Contains(t, res.Error, "Non-JSON")
}
