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
	"net/http"

	"github.com/cc4me/fabric/internal/contacts"
	"github.com/cc4me/fabric/internal/storage"
)

// contactRowView projects a storage.Contact onto the relay's lowercase
// wire shape, matching agentView's convention.
func contactRowView(c *storage.Contact) map[string]interface{} {
	return map[string]interface{}{
		"agentA":      c.AgentA,
		"agentB":      c.AgentB,
		"status":      c.Status,
		"requestedBy": c.RequestedBy,
		"denialCount": c.DenialCount,
		"createdAt":   c.CreatedAt,
		"updatedAt":   c.UpdatedAt,
	}
}

func pendingRowView(p contacts.PendingView) map[string]interface{} {
	return map[string]interface{}{
		"contact":        contactRowView(&p.Contact),
		"requesterEmail": p.RequesterEmail,
	}
}

func acceptResultView(r *contacts.AcceptResult) map[string]interface{} {
	return map[string]interface{}{
		"contact":       contactRowView(r.Contact),
		"peerPublicKey": r.PeerPublicKey,
		"peerEndpoint":  r.PeerEndpoint,
	}
}

func contactListView(v contacts.ContactView) map[string]interface{} {
	return map[string]interface{}{
		"peer":               v.Peer,
		"publicKey":          v.PublicKey,
		"endpoint":           v.Endpoint,
		"online":             v.Online,
		"recoveryInProgress": v.RecoveryInProgress,
		"since":              v.Since,
		"keyUpdatedAt":       v.KeyUpdatedAt,
	}
}

type contactsRequestRequest struct {
	ToAgent string `json:"toAgent"`
}

func (s *Server) handleContactsRequest(w http.ResponseWriter, r *http.Request) {
	from := agentFromContext(r)
	var req contactsRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.Contacts.Request(r.Context(), from.Name, req.ToAgent, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contactRowView(c))
}

type contactsBatchRequestRequest struct {
	ToAgents []string `json:"toAgents"`
}

type batchResultView struct {
	To      string                 `json:"to"`
	Contact map[string]interface{} `json:"contact,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// handleContactsBatchRequest applies Request per target and reports 201
// only when every target succeeded, 207 Multi-Status otherwise (§4.7).
func (s *Server) handleContactsBatchRequest(w http.ResponseWriter, r *http.Request) {
	from := agentFromContext(r)
	var req contactsBatchRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	results := s.Contacts.BatchRequest(r.Context(), from.Name, req.ToAgents)
	views := make([]batchResultView, len(results))
	allOK := true
	for i, res := range results {
		v := batchResultView{To: res.To}
		if res.Err != nil {
			allOK = false
			v.Error = res.Err.Error()
		} else {
			v.Contact = contactRowView(res.Contact)
		}
		views[i] = v
	}

	status := http.StatusCreated
	if !allOK {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, views)
}

func (s *Server) handleContactsPending(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	pending, err := s.Contacts.ListPending(r.Context(), agent.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]map[string]interface{}, len(pending))
	for i, p := range pending {
		views[i] = pendingRowView(p)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleContactsAccept(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	other := r.PathValue("a")
	res, err := s.Contacts.Accept(r.Context(), agent.Name, other)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResultView(res))
}

func (s *Server) handleContactsDeny(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	other := r.PathValue("a")
	c, err := s.Contacts.Deny(r.Context(), agent.Name, other)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contactRowView(c))
}

func (s *Server) handleContactsRemove(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	other := r.PathValue("a")
	if err := s.Contacts.Remove(r.Context(), agent.Name, other); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContactsList(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	list, err := s.Contacts.List(r.Context(), agent.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]map[string]interface{}, len(list))
	for i, v := range list {
		views[i] = contactListView(v)
	}
	writeJSON(w, http.StatusOK, views)
}
