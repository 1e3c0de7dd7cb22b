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
	"strconv"

	"github.com/cc4me/fabric/internal/storage"
)

type broadcastRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

func broadcastView(b *storage.Broadcast) map[string]interface{} {
	return map[string]interface{}{
		"id":        b.ID,
		"sender":    b.Sender,
		"message":   b.Message,
		"createdAt": b.CreatedAt,
	}
}

// handleAdminBroadcast records an operational notice. Broadcasts are
// relay-authored plaintext, not E2E envelopes, so there is no recipient
// fan-out to build here beyond the row itself; admins list it through
// GET /admin/broadcasts, and nothing is pushed to agents.
func (s *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	b := &storage.Broadcast{Sender: req.Sender, Message: req.Message, CreatedAt: s.now()}
	err := s.Store.WithTx(r.Context(), func(tx *sql.Tx) error {
		return s.Store.InsertBroadcast(r.Context(), tx, b)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, broadcastView(b))
}

func (s *Server) handleAdminBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	var broadcasts []storage.Broadcast
	err := s.Store.WithTx(r.Context(), func(tx *sql.Tx) error {
		list, err := s.Store.ListBroadcasts(r.Context(), tx, limit)
		broadcasts = list
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]map[string]interface{}, len(broadcasts))
	for i := range broadcasts {
		views[i] = broadcastView(&broadcasts[i])
	}
	writeJSON(w, http.StatusOK, views)
}
