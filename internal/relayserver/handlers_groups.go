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
	"strconv"

	"github.com/cc4me/fabric/internal/groups"
	"github.com/cc4me/fabric/internal/storage"
)

// groupView projects a storage.Group onto the relay's lowercase wire
// shape, matching agentView's convention.
func groupView(g *storage.Group) map[string]interface{} {
	return map[string]interface{}{
		"id":               g.ID,
		"name":             g.Name,
		"owner":            g.Owner,
		"status":           g.Status,
		"membersCanInvite": g.MembersCanInvite,
		"membersCanSend":   g.MembersCanSend,
		"maxMembers":       g.MaxMembers,
		"createdAt":        g.CreatedAt,
		"dissolvedAt":      g.DissolvedAt,
	}
}

func groupChangeView(c storage.GroupChange) map[string]interface{} {
	return map[string]interface{}{
		"id":      c.ID,
		"groupId": c.GroupID,
		"kind":    c.Kind,
		"actor":   c.Actor,
		"target":  c.Target,
		"at":      c.At,
	}
}

type createGroupRequest struct {
	Name             string `json:"name"`
	MembersCanInvite bool   `json:"membersCanInvite"`
	MembersCanSend   bool   `json:"membersCanSend"`
	MaxMembers       int    `json:"maxMembers"`
}

func (s *Server) handleGroupsCreate(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	g, err := s.Groups.Create(r.Context(), agent.Name, req.Name, &groups.Settings{
		MembersCanInvite: req.MembersCanInvite, MembersCanSend: req.MembersCanSend, MaxMembers: req.MaxMembers,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, groupView(g))
}

type inviteRequest struct {
	Target string `json:"target"`
}

func (s *Server) handleGroupsInvite(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	groupID := r.PathValue("id")
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Groups.Invite(r.Context(), groupID, agent.Name, req.Target); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGroupsAccept(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	groupID := r.PathValue("id")
	if err := s.Groups.Accept(r.Context(), groupID, agent.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGroupsDecline(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	groupID := r.PathValue("id")
	if err := s.Groups.Decline(r.Context(), groupID, agent.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGroupsLeave(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	groupID := r.PathValue("id")
	if err := s.Groups.Leave(r.Context(), groupID, agent.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type targetRequest struct {
	Target string `json:"target"`
}

func (s *Server) handleGroupsRemove(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	groupID := r.PathValue("id")
	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Groups.Remove(r.Context(), groupID, agent.Name, req.Target); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGroupsDissolve(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	groupID := r.PathValue("id")
	if err := s.Groups.Dissolve(r.Context(), groupID, agent.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type transferRequest struct {
	NewOwner string `json:"newOwner"`
}

func (s *Server) handleGroupsTransfer(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	groupID := r.PathValue("id")
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Groups.Transfer(r.Context(), groupID, agent.Name, req.NewOwner); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGroupsChanges(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		since = parsed
	}
	changes, err := s.Groups.ChangesSince(r.Context(), groupID, since)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]map[string]interface{}, len(changes))
	for i, c := range changes {
		views[i] = groupChangeView(c)
	}
	writeJSON(w, http.StatusOK, views)
}
