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

// Package relayserver wires C5 (reqauth)/C7 (identity)/C8 (contacts)/C9
// (groups)/presence/admin onto a net/http.ServeMux, implementing the
// relay's HTTP surface. Grounded on the teacher's dependency-injected
// constructor style: one *Server holds every manager, and handlers are
// methods on *Server that Routes registers, rather than functions reaching
// into package globals.
package relayserver

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cc4me/fabric/internal/cc4merr"
	"github.com/cc4me/fabric/internal/contacts"
	"github.com/cc4me/fabric/internal/cryptoutil"
	"github.com/cc4me/fabric/internal/groups"
	"github.com/cc4me/fabric/internal/identity"
	"github.com/cc4me/fabric/internal/logging"
	"github.com/cc4me/fabric/internal/metrics"
	"github.com/cc4me/fabric/internal/presence"
	"github.com/cc4me/fabric/internal/reqauth"
	"github.com/cc4me/fabric/internal/storage"
)

// Server holds the managers every handler is built against.
type Server struct {
	Store     *storage.Store
	Identity  *identity.Manager
	Contacts  *contacts.Manager
	Groups    *groups.Manager
	Presence  *presence.Hub
	Logger    logging.Logger
	AdminKey  []byte // HMAC secret validating the admin bearer JWT
	Now       func() time.Time
}

// New builds a Server with managers constructed over store.
func New(store *storage.Store, notifier identity.Notifier, adminKey []byte) *Server {
	return &Server{
		Store:    store,
		Identity: identity.New(store, notifier),
		Contacts: contacts.New(store),
		Groups:   groups.New(store),
		Presence: presence.New(store),
		Logger:   logging.L(),
		AdminKey: adminKey,
	}
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Routes builds the relay's handler tree per §6.2.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /registry/agents", s.instrumented("register", s.handleRegister))
	mux.HandleFunc("POST /registry/agents/{name}/verify", s.instrumented("verify", s.handleVerify))
	mux.HandleFunc("GET /registry/agents/{name}", s.instrumented("get_agent", s.handleGetAgent))
	mux.HandleFunc("POST /registry/agents/{name}/rotate-key", s.instrumented("rotate_key", s.handleRotateKey))
	mux.HandleFunc("POST /recover", s.instrumented("recover", s.handleRecover))
	mux.HandleFunc("POST /registry/agents/{name}/approve", s.instrumented("approve", s.requireAdmin(s.handleApprove)))
	mux.HandleFunc("POST /registry/agents/{name}/revoke", s.instrumented("revoke", s.requireAdmin(s.handleRevoke)))

	mux.HandleFunc("POST /contacts/request", s.instrumented("contacts_request", s.authed(s.handleContactsRequest)))
	mux.HandleFunc("POST /contacts/batch-request", s.instrumented("contacts_batch_request", s.authed(s.handleContactsBatchRequest)))
	mux.HandleFunc("GET /contacts/pending", s.instrumented("contacts_pending", s.authed(s.handleContactsPending)))
	mux.HandleFunc("POST /contacts/{a}/accept", s.instrumented("contacts_accept", s.authed(s.handleContactsAccept)))
	mux.HandleFunc("POST /contacts/{a}/deny", s.instrumented("contacts_deny", s.authed(s.handleContactsDeny)))
	mux.HandleFunc("DELETE /contacts/{a}", s.instrumented("contacts_remove", s.authed(s.handleContactsRemove)))
	mux.HandleFunc("GET /contacts", s.instrumented("contacts_list", s.authed(s.handleContactsList)))

	mux.HandleFunc("PUT /presence", s.instrumented("presence_put", s.authed(s.handlePresencePut)))
	mux.HandleFunc("GET /presence/{a}", s.instrumented("presence_get", s.authed(s.handlePresenceGet)))
	mux.HandleFunc("GET /presence/batch", s.instrumented("presence_batch", s.authed(s.handlePresenceBatch)))
	mux.HandleFunc("GET /presence/ws", s.instrumented("presence_ws", s.authed(s.handlePresenceWS)))

	mux.HandleFunc("POST /groups", s.instrumented("groups_create", s.authed(s.handleGroupsCreate)))
	mux.HandleFunc("POST /groups/{id}/invite", s.instrumented("groups_invite", s.authed(s.handleGroupsInvite)))
	mux.HandleFunc("POST /groups/{id}/accept", s.instrumented("groups_accept", s.authed(s.handleGroupsAccept)))
	mux.HandleFunc("POST /groups/{id}/decline", s.instrumented("groups_decline", s.authed(s.handleGroupsDecline)))
	mux.HandleFunc("POST /groups/{id}/leave", s.instrumented("groups_leave", s.authed(s.handleGroupsLeave)))
	mux.HandleFunc("POST /groups/{id}/remove", s.instrumented("groups_remove", s.authed(s.handleGroupsRemove)))
	mux.HandleFunc("POST /groups/{id}/dissolve", s.instrumented("groups_dissolve", s.authed(s.handleGroupsDissolve)))
	mux.HandleFunc("POST /groups/{id}/transfer", s.instrumented("groups_transfer", s.authed(s.handleGroupsTransfer)))
	mux.HandleFunc("GET /groups/{id}/changes", s.instrumented("groups_changes", s.authed(s.handleGroupsChanges)))

	mux.HandleFunc("POST /admin/broadcast", s.instrumented("admin_broadcast", s.requireAdmin(s.handleAdminBroadcast)))
	mux.HandleFunc("GET /admin/broadcasts", s.instrumented("admin_broadcasts", s.requireAdmin(s.handleAdminBroadcasts)))

	return mux
}

// instrumented wraps h so every route's outcome status is counted.
func (s *Server) instrumented(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.RelayRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying ResponseWriter when it
// supports hijacking, so the websocket upgrade on /presence/ws still
// works through the instrumented wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("relayserver: underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

// --- auth plumbing -----------------------------------------------------

type ctxKey string

const agentCtxKey ctxKey = "agent"

// authed wraps h, requiring a valid C5 signature from an active agent,
// and piggy-backs a presence touch on success.
func (s *Server) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readAndRestoreBody(r)
		if err != nil {
			writeError(w, err)
			return
		}

		agent, err := s.authenticate(r, body, false)
		if err != nil {
			writeError(w, err)
			return
		}

		if peers, err := s.activePeerNames(r.Context(), agent.Name); err == nil {
			_ = s.Presence.Touch(r.Context(), agent.Name, peers)
		}

		ctx := context.WithValue(r.Context(), agentCtxKey, agent)
		h(w, r.WithContext(ctx))
	}
}

func agentFromContext(r *http.Request) *storage.Agent {
	a, _ := r.Context().Value(agentCtxKey).(*storage.Agent)
	return a
}

// authenticate validates the C5 signature. allowInactive permits an
// agent mid-recovery (no "current" active status) to authenticate with
// its pending key, used only by rotate-key.
func (s *Server) authenticate(r *http.Request, body []byte, allowInactive bool) (*storage.Agent, error) {
	name, _, ok := reqauth.ParseAuthorizationAgent(r.Header.Get(reqauth.AuthorizationHeader))
	if !ok {
		return nil, cc4merr.New(cc4merr.Shape, "malformed Authorization header")
	}

	var agent *storage.Agent
	err := s.Store.WithTx(r.Context(), func(tx *sql.Tx) error {
		a, err := s.Store.GetAgent(r.Context(), tx, name)
		agent = a
		return err
	})
	if err != nil {
		return nil, err
	}

	pubKey := agent.PublicKey
	if allowInactive && agent.PendingPublicKey != nil {
		pubKey = *agent.PendingPublicKey
	}
	pub, err := cryptoutil.DecodePublicKey(pubKey)
	if err != nil {
		return nil, cc4merr.Wrap(cc4merr.Crypto, "decode agent public key", err)
	}

	active := agent.Status == storage.AgentActive
	path := r.URL.Path
	err = reqauth.Verify(pub, active, allowInactive, r.Method, path,
		r.Header.Get(reqauth.TimestampHeader), r.Header.Get(reqauth.AuthorizationHeader), body, s.now())
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *Server) activePeerNames(ctx context.Context, agent string) ([]string, error) {
	var out []string
	err := s.Store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.Store.ListContactsForAgent(ctx, tx, agent, storage.ContactActive)
		if err != nil {
			return err
		}
		for _, c := range rows {
			peer := c.AgentA
			if peer == agent {
				peer = c.AgentB
			}
			out = append(out, peer)
		}
		return nil
	})
	return out, err
}

// requireAdmin validates a bearer JWT signed with AdminKey in lieu of a
// per-agent Ed25519 signature, per §6.2.
func (s *Server) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			writeError(w, cc4merr.New(cc4merr.Auth, "missing admin bearer token"))
			return
		}
		tokenStr := strings.TrimPrefix(authz, prefix)
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.AdminKey, nil
		})
		if err != nil || !token.Valid {
			writeError(w, cc4merr.Wrap(cc4merr.Auth, "invalid admin token", err))
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["role"] != "admin" {
			writeError(w, cc4merr.New(cc4merr.Auth, "token lacks admin role"))
			return
		}
		h(w, r)
	}
}

// --- response helpers ---------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func writeError(w http.ResponseWriter, err error) {
	if rlErr, ok := asRateLimitError(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(rlErr.RetryAfter.Seconds())))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rlErr.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rlErr.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rlErr.ResetAt.Unix(), 10))
		metrics.RateLimitRejections.Inc()
		writeJSONError(w, http.StatusTooManyRequests, rlErr.Error())
		return
	}
	if identity.ErrExhausted(err) {
		writeJSONError(w, http.StatusGone, err.Error())
		return
	}
	if identity.ErrCoolingOff(err) {
		writeJSONError(w, http.StatusForbidden, err.Error())
		return
	}
	kind, ok := cc4merr.KindOf(err)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSONError(w, cc4merr.HTTPStatus(kind), err.Error())
}

func asRateLimitError(err error) (*contacts.RateLimitError, bool) {
	rlErr, ok := err.(*contacts.RateLimitError)
	return rlErr, ok
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cc4merr.Wrap(cc4merr.Shape, "decode request body", err)
	}
	return nil
}

// readAndRestoreBody reads r.Body fully and replaces it with a fresh
// reader over the same bytes, for handlers (like rotate-key) that need
// the raw body for C5 verification and a decoded copy for the handler.
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, cc4merr.Wrap(cc4merr.Shape, "read body", err)
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	return body, nil
}

func decodeRestoredJSON(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return cc4merr.Wrap(cc4merr.Shape, "decode request body", err)
	}
	return nil
}
