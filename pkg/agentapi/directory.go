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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cc4me/fabric/internal/localcache"
)

// contactView mirrors the relay's wire shape for GET /contacts; it is
// independent of contacts.ContactView to keep the wrapper decoupled
// from the relay's internal package boundary.
type contactView struct {
	Peer      string     `json:"peer"`
	PublicKey string     `json:"publicKey"`
	Endpoint  string     `json:"endpoint"`
	Online    bool       `json:"online"`
	Since     time.Time  `json:"since"`
}

// RequestContact asks the relay to create (or revive) a contact request
// toward target.
func (c *Client) RequestContact(ctx context.Context, target string) error {
	res, err := c.Relay.Do(ctx, http.MethodPost, "/contacts/request", map[string]string{"toAgent": target})
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("agentapi: contact request to %s failed: %s", target, res.Error)
	}
	return nil
}

// AcceptContact accepts a pending request from other, and refreshes the
// local cache with the exchanged endpoint/key.
func (c *Client) AcceptContact(ctx context.Context, other string) error {
	res, err := c.Relay.Do(ctx, http.MethodPost, "/contacts/"+other+"/accept", nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("agentapi: accept %s failed: %s", other, res.Error)
	}
	return c.RefreshContacts(ctx)
}

// RefreshContacts pulls the relay's live contact list and overwrites the
// local cache snapshot, per C11's relay-is-source-of-truth model.
func (c *Client) RefreshContacts(ctx context.Context) error {
	res, err := c.Relay.Do(ctx, http.MethodGet, "/contacts", nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("agentapi: list contacts failed: %s", res.Error)
	}

	var views []contactView
	if err := json.Unmarshal(res.Data, &views); err != nil {
		return fmt.Errorf("agentapi: decode contacts: %w", err)
	}

	snap := &localcache.Snapshot{Community: c.Community, UpdatedAt: c.now()}
	for _, v := range views {
		snap.Contacts = append(snap.Contacts, localcache.Entry{
			Agent:     v.Peer,
			PublicKey: v.PublicKey,
			Endpoint:  v.Endpoint,
			Since:     v.Since,
		})
	}
	return c.Cache.Save(snap)
}

// CreateGroup creates a group owned by this agent.
func (c *Client) CreateGroup(ctx context.Context, name string) (string, error) {
	res, err := c.Relay.Do(ctx, http.MethodPost, "/groups", map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	if !res.OK {
		return "", fmt.Errorf("agentapi: create group %s failed: %s", name, res.Error)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(res.Data, &created); err != nil {
		return "", fmt.Errorf("agentapi: decode group: %w", err)
	}
	return created.ID, nil
}

// InviteToGroup invites target into groupID.
func (c *Client) InviteToGroup(ctx context.Context, groupID, target string) error {
	res, err := c.Relay.Do(ctx, http.MethodPost, "/groups/"+groupID+"/invite", map[string]string{"target": target})
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("agentapi: invite %s to %s failed: %s", target, groupID, res.Error)
	}
	return nil
}
