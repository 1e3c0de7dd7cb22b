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

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// keyFile is the on-disk shape of a saved identity key, grounded on the
// teacher's file-backed key storage (JSON envelope, base64 payload,
// 0600 permissions).
type keyFile struct {
	Seed string `json:"seed"`
}

// loadOrCreateKey loads the ed25519 seed at path, generating and
// persisting a fresh key pair if the file does not exist.
func loadOrCreateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		var kf keyFile
		if err := json.Unmarshal(raw, &kf); err != nil {
			return nil, fmt.Errorf("decode key file: %w", err)
		}
		seed, err := base64.StdEncoding.DecodeString(kf.Seed)
		if err != nil {
			return nil, fmt.Errorf("decode key seed: %w", err)
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	kf := keyFile{Seed: base64.StdEncoding.EncodeToString(priv.Seed())}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return priv, nil
}
