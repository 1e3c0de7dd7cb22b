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
	"strings"
)

func (s *Server) handlePresencePut(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	peers, err := s.activePeerNames(r.Context(), agent.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Presence.Touch(r.Context(), agent.Name, peers); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": true})
}

func (s *Server) handlePresenceGet(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("a")
	online, lastSeen, err := s.Presence.Status(r.Context(), target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agent": target, "online": online, "lastSeen": lastSeen})
}

func (s *Server) handlePresenceBatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("agents")
	var names []string
	if raw != "" {
		names = strings.Split(raw, ",")
	}
	statuses, err := s.Presence.BatchStatus(r.Context(), names)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handlePresenceWS(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	if err := s.Presence.ServeWS(w, r, agent.Name); err != nil {
		s.Logger.Warn("presence websocket upgrade failed")
	}
}
