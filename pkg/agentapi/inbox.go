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

package agentapi

import (
	"encoding/json"
	"net/http"

	"github.com/cc4me/fabric/internal/cryptoutil"
	"github.com/cc4me/fabric/internal/envelope"
	"github.com/cc4me/fabric/internal/pipeline"
)

// Inbox returns the http.Handler an agent process mounts to receive
// peer-to-peer envelope deliveries: "Incoming POSTs land in a receive
// hook that runs C4 in reverse, then emits a message event."
func (c *Client) Inbox() http.Handler {
	return http.HandlerFunc(c.handleInbox)
}

func (c *Client) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var env envelope.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	senderEntry, ok := c.lookup(env.Sender)
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	senderKey, err := cryptoutil.DecodePublicKey(senderEntry.PublicKey)
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	result, err := pipeline.Process(&env, c.PrivateKey, senderKey, c.now())
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	msg := Message{
		Sender:    result.Sender,
		MessageID: result.MessageID,
		Timestamp: result.Timestamp,
		GroupID:   env.GroupID,
		Payload:   result.Payload,
	}
	select {
	case c.messages <- msg:
	default:
		// A stalled subscriber must not block delivery acknowledgment;
		// the sender already has a durable copy via its own retry queue.
	}

	w.WriteHeader(http.StatusAccepted)
}
