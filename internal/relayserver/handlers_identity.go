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
	"database/sql"
	"net/http"

	"github.com/cc4me/fabric/internal/identity"
	"github.com/cc4me/fabric/internal/storage"
)

type registerRequest struct {
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
	Email     string `json:"email"`
	Endpoint  string `json:"endpoint"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.Identity.Register(r.Context(), identity.RegisterRequest{
		Name: req.Name, PublicKey: req.PublicKey, Email: req.Email, Endpoint: req.Endpoint,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agentView(agent))
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.Identity.Verify(r.Context(), name, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentView(agent))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var agent *storage.Agent
	err := s.Store.WithTx(r.Context(), func(tx *sql.Tx) error {
		a, err := s.Store.GetAgent(r.Context(), tx, name)
		agent = a
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentView(agent))
}

type rotateKeyRequest struct {
	NewPublicKey string `json:"newPublicKey"`
}

// handleRotateKey covers both §6.2 auth modes: an active agent
// self-authenticating with C5, and a recovering agent authenticating
// with its still-pending recovery key (authenticate checks the pending
// key whenever one is set). The caller's name is passed on only when the
// caller is active; RotateKey ignores it on the recovery path.
func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := readAndRestoreBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req rotateKeyRequest
	if err := decodeRestoredJSON(body, &req); err != nil {
		writeError(w, err)
		return
	}

	authedAgent, err := s.authenticate(r, body, true)
	if err != nil {
		writeError(w, err)
		return
	}
	authenticatedAgentName := authedAgent.Name
	if authedAgent.Status != storage.AgentActive {
		// A non-active caller is not passed on as the authenticated
		// agent; RotateKey then rotates only if a recovery is pending.
		authenticatedAgentName = ""
	}

	agent, err := s.Identity.RotateKey(r.Context(), name, req.NewPublicKey, authenticatedAgentName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentView(agent))
}

type recoverRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	NewPublicKey string `json:"newPublicKey"`
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.Identity.Recover(r.Context(), identity.RecoverRequest{
		Name: req.Name, Email: req.Email, NewPublicKey: req.NewPublicKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, agentView(agent))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Identity.Approve(r.Context(), name, "admin"); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "active"})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Identity.Revoke(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "revoked"})
}

// agentView strips nothing sensitive currently lives on Agent beyond the
// public key, but keeps the wire shape independent of the storage row.
func agentView(a *storage.Agent) map[string]interface{} {
	return map[string]interface{}{
		"name":                a.Name,
		"publicKey":           a.PublicKey,
		"endpoint":            a.Endpoint,
		"status":              a.Status,
		"emailVerified":       a.EmailVerified,
		"keyUpdatedAt":        a.KeyUpdatedAt,
		"recoveryInitiatedAt": a.RecoveryInitiatedAt,
	}
}
