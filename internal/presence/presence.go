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

// Package presence tracks agent online/offline state and fans out
// transitions to subscribed websocket clients. Grounded on SAGE's
// session/nonce.go mutex-guarded-map shape for the last-seen tracker,
// and on the teacher's general use of gorilla/websocket for live push.
package presence

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cc4me/fabric/internal/contacts"
	"github.com/cc4me/fabric/internal/logging"
	"github.com/cc4me/fabric/internal/storage"
)

// OnlineWindow is the freshness bound: an agent is online iff its
// last_seen is within this window of now. Shared with contacts' list
// view so both surfaces agree on what "online" means.
const OnlineWindow = contacts.OnlineWindow

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Transition is pushed to subscribers when a touch brings an offline peer
// online. Going offline is not detected, so no Online=false transition is
// ever pushed.
type Transition struct {
	Agent  string `json:"agent"`
	Online bool   `json:"online"`
}

// Hub tracks presence against the relay's Store and fans out Transition
// events to websocket subscribers. Touch is the only write path: every
// authenticated request piggy-backs a touch, plus the explicit PUT
// /presence heartbeat.
type Hub struct {
	Store  *storage.Store
	Logger logging.Logger
	Now    func() time.Time

	mu          sync.Mutex
	subscribers map[string]map[*websocket.Conn]bool
	wasOnline   map[string]bool
}

// New builds a Hub bound to store.
func New(store *storage.Store) *Hub {
	return &Hub{
		Store:       store,
		Logger:      logging.L(),
		subscribers: make(map[string]map[*websocket.Conn]bool),
		wasOnline:   make(map[string]bool),
	}
}

func (h *Hub) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// Touch stamps agent's last_seen and, if this flips its online state,
// notifies every subscriber of that agent's contacts. The caller (the
// relayserver auth middleware) determines which agents count as
// "contacts" via whoWatches; Touch itself only owns the timestamp write
// and the fan-out mechanics.
func (h *Hub) Touch(ctx context.Context, agent string, whoWatches []string) error {
	now := h.now()
	wasOnline := false
	err := h.Store.WithTx(ctx, func(tx *sql.Tx) error {
		a, err := h.Store.GetAgent(ctx, tx, agent)
		if err != nil {
			return err
		}
		wasOnline = a.LastSeen != nil && now.Sub(*a.LastSeen) <= OnlineWindow
		return h.Store.TouchLastSeen(ctx, tx, agent, now)
	})
	if err != nil {
		return err
	}
	if !wasOnline {
		h.broadcast(whoWatches, Transition{Agent: agent, Online: true})
	}
	return nil
}

// Status reports whether agent is online per OnlineWindow, reading
// straight from the Store (no cache beyond SQLite's own page cache).
func (h *Hub) Status(ctx context.Context, agent string) (online bool, lastSeen *time.Time, err error) {
	var a *storage.Agent
	err = h.Store.WithTx(ctx, func(tx *sql.Tx) error {
		var getErr error
		a, getErr = h.Store.GetAgent(ctx, tx, agent)
		return getErr
	})
	if err != nil {
		return false, nil, err
	}
	online = a.LastSeen != nil && h.now().Sub(*a.LastSeen) <= OnlineWindow
	return online, a.LastSeen, nil
}

// BatchStatus reports online state for every name in agents, skipping
// names that don't resolve to a registered agent.
func (h *Hub) BatchStatus(ctx context.Context, agents []string) (map[string]bool, error) {
	out := make(map[string]bool, len(agents))
	for _, name := range agents {
		online, _, err := h.Status(ctx, name)
		if err != nil {
			continue
		}
		out[name] = online
	}
	return out, nil
}

// Subscribe registers conn to receive Transition events for agent's
// peers. It blocks reading (and discarding) control frames until the
// client disconnects, then unsubscribes; callers run it in its own
// goroutine per connection.
func (h *Hub) Subscribe(agent string, conn *websocket.Conn) {
	h.mu.Lock()
	if h.subscribers[agent] == nil {
		h.subscribers[agent] = make(map[*websocket.Conn]bool)
	}
	h.subscribers[agent][conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subscribers[agent], conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ServeWS upgrades r to a websocket and subscribes it under agent until
// the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, agent string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	go h.Subscribe(agent, conn)
	return nil
}

func (h *Hub) broadcast(watchers []string, ev Transition) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0)
	for _, watcher := range watchers {
		for c := range h.subscribers[watcher] {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(ev); err != nil {
			h.Logger.Warn("presence: push failed", logging.Err(err))
		}
	}
}
