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

// Package relayclient implements C12: the signed HTTP client agents use
// to reach the relay, retrying transient transport failures and
// non-JSON responses (middlebox interstitials) with backoff, and never
// retrying a well-formed 4xx.
package relayclient

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cc4me/fabric/internal/reqauth"
)

const (
	maxAttempts    = 3
	attemptTimeout = 10 * time.Second
	backoffUnit    = 200 * time.Millisecond
)

// Result is the normalized outcome of a relay call.
type Result struct {
	OK     bool
	Status int
	Data   json.RawMessage
	Error  string
}

// Client is a signed HTTP client bound to one agent identity.
type Client struct {
	BaseURL    string
	Agent      string
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
	Now        func() time.Time
}

// New builds a Client against baseURL, signing every request as agent.
func New(baseURL, agent string, priv ed25519.PrivateKey) *Client {
	return &Client{
		BaseURL:    baseURL,
		Agent:      agent,
		PrivateKey: priv,
		HTTPClient: &http.Client{Timeout: attemptTimeout},
	}
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Do issues method against path (relative to BaseURL), signing body (nil
// for none) per C5, and retries per §4.10's discipline.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*Result, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("relayclient: marshal request body: %w", err)
		}
	}

	var lastResult *Result
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffUnit * time.Duration(attempt+1)):
			}
		}

		result, transient, err := c.doOnce(ctx, method, path, bodyBytes)
		if !transient {
			return result, err
		}
		lastResult, lastErr = result, err
	}

	// Exhausted every attempt on a transient failure: a transport error
	// has no response to surface, so synthesize one; a persistently
	// non-JSON body surfaces as its own synthetic error per §4.10.
	if lastResult == nil {
		return &Result{OK: false, Error: fmt.Sprintf("transport error after %d attempts: %v", maxAttempts, lastErr)}, nil
	}
	return &Result{OK: false, Status: lastResult.Status, Error: fmt.Sprintf("Non-JSON response (status %d)", lastResult.Status)}, nil
}

// doOnce performs a single attempt. transient is true when the caller
// should retry: a transport-level error, or a response body that fails
// to parse as JSON.
func (c *Client) doOnce(ctx context.Context, method, path string, bodyBytes []byte) (result *Result, transient bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, c.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, false, fmt.Errorf("relayclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	now := c.now()
	ts, auth := reqauth.Sign(c.Agent, c.PrivateKey, method, path, bodyBytes, now)
	req.Header.Set(reqauth.TimestampHeader, ts)
	req.Header.Set(reqauth.AuthorizationHeader, auth)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("relayclient: transport error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("relayclient: read response body: %w", err)
	}

	var parsed struct {
		Error string          `json:"error"`
		Data  json.RawMessage `json:"data"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &parsed) != nil {
		return &Result{OK: false, Status: resp.StatusCode}, true, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data := parsed.Data
		if data == nil {
			data = raw
		}
		return &Result{OK: true, Status: resp.StatusCode, Data: data}, false, nil
	}

	errMsg := parsed.Error
	if errMsg == "" {
		errMsg = http.StatusText(resp.StatusCode)
	}
	return &Result{OK: false, Status: resp.StatusCode, Error: errMsg}, false, nil
}
