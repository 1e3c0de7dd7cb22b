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

// Package agentapi is the typed convenience layer an agent process
// embeds: it owns the signed relay client, the on-disk contact cache,
// and the retry queue, and exposes Send/Receive/Contacts/Groups as one
// surface over the wire/crypto core. Grounded on the teacher's
// pkg/agent/* being the consumer-facing layer over core/*.
package agentapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cc4me/fabric/internal/cryptoutil"
	"github.com/cc4me/fabric/internal/envelope"
	"github.com/cc4me/fabric/internal/localcache"
	"github.com/cc4me/fabric/internal/pipeline"
	"github.com/cc4me/fabric/internal/relayclient"
	"github.com/cc4me/fabric/internal/retryqueue"
)

// Message is a decrypted incoming envelope surfaced to the host.
type Message struct {
	Sender    string
	MessageID string
	Timestamp time.Time
	GroupID   string
	Payload   json.RawMessage
}

// Options customizes New; the zero value uses sane defaults.
type Options struct {
	CacheDir     string
	Community    string
	RetryOptions retryqueue.Options
	HTTPClient   *http.Client
}

// Client is the per-agent convenience wrapper.
type Client struct {
	Name       string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Community  string

	Relay      *relayclient.Client
	Cache      *localcache.Cache
	Retry      *retryqueue.Queue
	HTTPClient *http.Client
	Now        func() time.Time

	messages chan Message
}

// outgoing pairs a built envelope with the endpoint it must be POSTed
// to, since the retry queue only needs to retry the delivery attempt,
// not the (deterministic) envelope construction.
type outgoing struct {
	Envelope *envelope.Envelope
	Endpoint string
}

// New builds a Client bound to relayURL, signing relay calls and
// outgoing envelopes as name. The on-disk cache lives under
// opts.CacheDir (created if absent).
func New(relayURL, name string, priv ed25519.PrivateKey, opts Options) (*Client, error) {
	cache, err := localcache.New(opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("agentapi: open cache: %w", err)
	}

	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("agentapi: private key does not expose an ed25519 public key")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	c := &Client{
		Name:       name,
		PrivateKey: priv,
		PublicKey:  pub,
		Community:  opts.Community,
		Relay:      relayclient.New(relayURL, name, priv),
		Cache:      cache,
		HTTPClient: httpClient,
		messages:   make(chan Message, 64),
	}
	c.Retry = retryqueue.New(c.deliverQueued, opts.RetryOptions)
	return c, nil
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Messages returns the channel of decrypted incoming messages, matching
// the event-stream Design Notes guidance (§9): a bounded channel the
// host subscribes to, with per-sender ordering preserved by the
// underlying HTTP receive path being handled sequentially per request.
func (c *Client) Messages() <-chan Message { return c.messages }

// Close stops the retry queue's timer.
func (c *Client) Close() { c.Retry.Stop() }

// Send resolves recipient from the local contact cache, builds and
// signs an envelope, and attempts direct delivery to the recipient's
// endpoint; on failure the message is handed to the retry queue, per
// spec's "a send call resolves recipient via C8/C11, builds an
// envelope ..., POSTs to the recipient's endpoint; failure hands the
// message to C10" control flow.
func (c *Client) Send(ctx context.Context, recipient string, payload interface{}) (*envelope.Envelope, error) {
	entry, ok := c.lookup(recipient)
	if !ok {
		return nil, fmt.Errorf("agentapi: %s is not a cached contact", recipient)
	}
	recipientPub, err := cryptoutil.DecodePublicKey(entry.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("agentapi: decode recipient key: %w", err)
	}

	env, err := pipeline.Build(c.Name, recipient, payload, c.PrivateKey, recipientPub, pipeline.BuildOptions{Now: c.now()})
	if err != nil {
		return nil, err
	}

	if c.deliver(ctx, entry.Endpoint, env) {
		return env, nil
	}

	msg := &retryqueue.Message{
		MessageID: env.MessageID,
		Recipient: recipient,
		Payload:   &outgoing{Envelope: env, Endpoint: entry.Endpoint},
		CreatedAt: c.now(),
	}
	if !c.Retry.Enqueue(msg) {
		return nil, fmt.Errorf("agentapi: retry queue full, dropping message %s", env.MessageID)
	}
	return env, nil
}

// SendGroup builds and fans an envelope out to every name in members,
// resolving each from the contact cache, collecting per-recipient errors instead of failing
// the whole call on the first one.
func (c *Client) SendGroup(ctx context.Context, groupID string, members []string, payload interface{}) map[string]error {
	results := make(map[string]error, len(members))
	for _, member := range members {
		entry, ok := c.lookup(member)
		if !ok {
			results[member] = fmt.Errorf("agentapi: %s is not a cached contact", member)
			continue
		}
		recipientPub, err := cryptoutil.DecodePublicKey(entry.PublicKey)
		if err != nil {
			results[member] = err
			continue
		}
		env, err := pipeline.Build(c.Name, member, payload, c.PrivateKey, recipientPub, pipeline.BuildOptions{GroupID: groupID, Now: c.now()})
		if err != nil {
			results[member] = err
			continue
		}
		if c.deliver(ctx, entry.Endpoint, env) {
			results[member] = nil
			continue
		}
		msg := &retryqueue.Message{
			MessageID: env.MessageID,
			Recipient: member,
			GroupID:   groupID,
			Payload:   &outgoing{Envelope: env, Endpoint: entry.Endpoint},
			CreatedAt: c.now(),
		}
		if !c.Retry.Enqueue(msg) {
			results[member] = fmt.Errorf("agentapi: retry queue full, dropping message %s", env.MessageID)
			continue
		}
		results[member] = nil
	}
	return results
}

func (c *Client) lookup(recipient string) (localcache.Entry, bool) {
	snap := c.Cache.Load(c.Community)
	for _, e := range snap.Contacts {
		if e.Agent == recipient {
			return e, true
		}
	}
	return localcache.Entry{}, false
}

// deliverQueued adapts the retry queue's SendFunc signature.
func (c *Client) deliverQueued(ctx context.Context, msg *retryqueue.Message) bool {
	out, ok := msg.Payload.(*outgoing)
	if !ok {
		return false
	}
	return c.deliver(ctx, out.Endpoint, out.Envelope)
}

// deliver POSTs env to endpoint's inbox path. Envelope-level signature
// and AEAD authentication stand in for C5 here: direct agent-to-agent
// delivery is outside the relay's request-auth scheme.
func (c *Client) deliver(ctx context.Context, endpoint string, env *envelope.Envelope) bool {
	body, err := json.Marshal(env)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
