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

package relayserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/cc4me/fabric/internal/cryptoutil"
	"github.com/cc4me/fabric/internal/reqauth"
	"github.com/cc4me/fabric/internal/storage"
)

func jsonReader(body []byte) io.Reader {
	return bytes.NewReader(body)
}

type capturingNotifier struct {
	codes map[string]string
}

func (n *capturingNotifier) SendVerificationCode(ctx context.Context, email, code string) error {
	n.codes[email] = code
	return nil
}

type testAgent struct {
	name string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func newHarness(t *testing.T) (*Server, *httptest.Server, *capturingNotifier) {
	t.Helper()
	store, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &capturingNotifier{codes: make(map[string]string)}
	srv := New(store, notifier, []byte("test-admin-secret"))
	httpSrv := httptest.NewServer(srv.Routes())
	t.Cleanup(httpSrv.Close)
	return srv, httpSrv, notifier
}

func registerAndVerify(t *testing.T, httpSrv *httptest.Server, notifier *capturingNotifier, name string) *testAgent {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	ta := &testAgent{name: name, priv: priv, pub: pub}

	body, _ := json.Marshal(registerRequest{
		Name: name, PublicKey: cryptoutil.EncodePublicKey(pub),
		Email: name + "@example.com", Endpoint: "https://" + name + ".example/inbox",
	})
	resp, err := http.Post(httpSrv.URL+"/registry/agents", "application/json", jsonReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	code := notifier.codes[name+"@example.com"]
	require.NotEmpty(t, code)

	vBody, _ := json.Marshal(verifyRequest{Code: code})
	vResp, err := http.Post(httpSrv.URL+"/registry/agents/"+name+"/verify", "application/json", jsonReader(vBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, vResp.StatusCode)
	vResp.Body.Close()

	return ta
}

func signedRequest(t *testing.T, method, url string, ta *testAgent, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, jsonReader(body))
	require.NoError(t, err)
	path := req.URL.Path
	ts, auth := reqauth.Sign(ta.name, ta.priv, method, path, body, time.Now().UTC())
	req.Header.Set(reqauth.TimestampHeader, ts)
	req.Header.Set(reqauth.AuthorizationHeader, auth)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRegisterVerifyAndFetchAgent(t *testing.T) {
	_, httpSrv, notifier := newHarness(t)
	registerAndVerify(t, httpSrv, notifier, "atlas")

	resp, err := http.Get(httpSrv.URL + "/registry/agents/atlas")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "active", out.Data.Status)
}

func TestContactRequestAcceptFlow(t *testing.T) {
	_, httpSrv, notifier := newHarness(t)
	atlas := registerAndVerify(t, httpSrv, notifier, "atlas")
	bmo := registerAndVerify(t, httpSrv, notifier, "bmo")

	body, _ := json.Marshal(contactsRequestRequest{ToAgent: "atlas"})
	req := signedRequest(t, http.MethodPost, httpSrv.URL+"/contacts/request", bmo, body)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// atlas accepting a request "from atlas" is 404: no contact row pairs
	// atlas with itself.
	badReq := signedRequest(t, http.MethodPost, httpSrv.URL+"/contacts/atlas/accept", atlas, nil)
	badResp, err := http.DefaultClient.Do(badReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, badResp.StatusCode)
	badResp.Body.Close()

	okReq := signedRequest(t, http.MethodPost, httpSrv.URL+"/contacts/bmo/accept", atlas, nil)
	okResp, err := http.DefaultClient.Do(okReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, okResp.StatusCode)
	okResp.Body.Close()
}

func TestContactsBatchRequestPartialFailureReturns207(t *testing.T) {
	_, httpSrv, notifier := newHarness(t)
	bmo := registerAndVerify(t, httpSrv, notifier, "bmo")
	registerAndVerify(t, httpSrv, notifier, "atlas")

	body, _ := json.Marshal(contactsBatchRequestRequest{ToAgents: []string{"atlas", "nobody"}})
	req := signedRequest(t, http.MethodPost, httpSrv.URL+"/contacts/batch-request", bmo, body)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	var out struct {
		Data []batchResultView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Data, 2)
	require.Equal(t, "atlas", out.Data[0].To)
	require.Empty(t, out.Data[0].Error)
	require.Equal(t, "nobody", out.Data[1].To)
	require.NotEmpty(t, out.Data[1].Error)
}

func TestContactsBatchRequestAllOKReturns201(t *testing.T) {
	_, httpSrv, notifier := newHarness(t)
	bmo := registerAndVerify(t, httpSrv, notifier, "bmo")
	registerAndVerify(t, httpSrv, notifier, "atlas")
	registerAndVerify(t, httpSrv, notifier, "carol")

	body, _ := json.Marshal(contactsBatchRequestRequest{ToAgents: []string{"atlas", "carol"}})
	req := signedRequest(t, http.MethodPost, httpSrv.URL+"/contacts/batch-request", bmo, body)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRecoverThenRotateKeyRespectsCoolingOff(t *testing.T) {
	srv, httpSrv, notifier := newHarness(t)
	registerAndVerify(t, httpSrv, notifier, "atlas")

	newPub, newPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	recBody, _ := json.Marshal(recoverRequest{Name: "atlas", Email: "atlas@example.com", NewPublicKey: cryptoutil.EncodePublicKey(newPub)})
	recResp, err := http.Post(httpSrv.URL+"/recover", "application/json", jsonReader(recBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, recResp.StatusCode)
	recResp.Body.Close()

	pending := &testAgent{name: "atlas", priv: newPriv, pub: newPub}
	tooSoonBody, _ := json.Marshal(rotateKeyRequest{NewPublicKey: cryptoutil.EncodePublicKey(newPub)})
	tooSoonReq := signedRequest(t, http.MethodPost, httpSrv.URL+"/registry/agents/atlas/rotate-key", pending, tooSoonBody)
	tooSoonResp, err := http.DefaultClient.Do(tooSoonReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, tooSoonResp.StatusCode)
	tooSoonResp.Body.Close()

	srv.Identity.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	rotateReq := signedRequest(t, http.MethodPost, httpSrv.URL+"/registry/agents/atlas/rotate-key", pending, tooSoonBody)
	rotateResp, err := http.DefaultClient.Do(rotateReq)
	require.NoError(t, err)
	defer rotateResp.Body.Close()
	require.Equal(t, http.StatusOK, rotateResp.StatusCode)

	var out struct {
		Data struct {
			PublicKey string `json:"publicKey"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rotateResp.Body).Decode(&out))
	require.Equal(t, cryptoutil.EncodePublicKey(newPub), out.Data.PublicKey)
}

func TestAdminBroadcastRequiresBearerToken(t *testing.T) {
	_, httpSrv, _ := newHarness(t)

	body, _ := json.Marshal(broadcastRequest{Sender: "ops", Message: "maintenance window"})
	resp, err := http.Post(httpSrv.URL+"/admin/broadcast", "application/json", jsonReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"})
	signed, err := token.SignedString([]byte("test-admin-secret"))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, httpSrv.URL+"/admin/broadcast", jsonReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Content-Type", "application/json")
	authedResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authedResp.Body.Close()
	require.Equal(t, http.StatusCreated, authedResp.StatusCode)
}
