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

// Package localcache implements C11: the agent's on-disk JSON snapshot
// of its contact list, partitioned into per-community files sharing one
// dataDir, plus the one-shot migration from a single legacy cache file.
// Grounded on the teacher's file-based KeyStorage backend
// (crypto/storage's Store/Load/Delete/List shape), generalized from
// single-key files to one snapshot file per community. The manifest
// listing known communities is YAML, matching the teacher's config
// files; the per-community payload is JSON, matching the teacher's wire
// format split.
package localcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	manifestFile    = "communities.yaml"
	defaultCommunity = "default"
	legacyFileName  = "contacts.json"
)

// Entry is one cached contact: the subset of C8's list() view an agent
// needs to resolve a recipient's endpoint and key offline.
type Entry struct {
	Agent        string     `json:"agent"`
	PublicKey    string     `json:"publicKey"`
	Endpoint     string     `json:"endpoint"`
	Since        time.Time  `json:"since"`
	KeyUpdatedAt *time.Time `json:"keyUpdatedAt,omitempty"`
}

// Snapshot is one community's persisted cache file.
type Snapshot struct {
	Community string    `json:"community"`
	Contacts  []Entry   `json:"contacts"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// manifest is the YAML index of known community files.
type manifest struct {
	Communities []string `yaml:"communities"`
}

// Cache is a single-process, single-dataDir contact cache. Multi-process
// sharing of one dataDir requires external advisory locking, which this
// package does not provide (§5).
type Cache struct {
	mu      sync.Mutex
	dataDir string
}

// New returns a Cache rooted at dataDir, creating it if necessary.
func New(dataDir string) (*Cache, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("localcache: create data dir: %w", err)
	}
	return &Cache{dataDir: dataDir}, nil
}

func (c *Cache) communityPath(community string) string {
	if community == "" {
		community = defaultCommunity
	}
	return filepath.Join(c.dataDir, community+".json")
}

// Load reads a community's snapshot. A missing or corrupt file is
// recovered locally per §7: it returns an empty snapshot rather than an
// error, so the caller refills from the relay.
func (c *Cache) Load(community string) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.communityPath(community)
	data, err := os.ReadFile(path)
	if err != nil {
		return emptySnapshot(community)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return emptySnapshot(community)
	}
	return &snap
}

func emptySnapshot(community string) *Snapshot {
	if community == "" {
		community = defaultCommunity
	}
	return &Snapshot{Community: community, Contacts: nil}
}

// Save writes a community's snapshot atomically (write to a temp file,
// then rename) and registers the community in the manifest.
func (c *Cache) Save(snap *Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.Community == "" {
		snap.Community = defaultCommunity
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("localcache: marshal snapshot: %w", err)
	}
	path := c.communityPath(snap.Community)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("localcache: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("localcache: rename snapshot into place: %w", err)
	}
	return c.registerCommunityLocked(snap.Community)
}

// Communities lists every community registered in the manifest.
func (c *Cache) Communities() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.loadManifestLocked()
	if err != nil {
		return nil, err
	}
	return m.Communities, nil
}

func (c *Cache) loadManifestLocked() (*manifest, error) {
	path := filepath.Join(c.dataDir, manifestFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localcache: read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		// Corrupt manifest recovers the same way a corrupt snapshot
		// does: start empty rather than fail the caller.
		return &manifest{}, nil
	}
	return &m, nil
}

func (c *Cache) registerCommunityLocked(community string) error {
	m, err := c.loadManifestLocked()
	if err != nil {
		return err
	}
	for _, existing := range m.Communities {
		if existing == community {
			return nil
		}
	}
	m.Communities = append(m.Communities, community)
	sort.Strings(m.Communities)
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("localcache: marshal manifest: %w", err)
	}
	path := filepath.Join(c.dataDir, manifestFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("localcache: write manifest: %w", err)
	}
	return nil
}

// MigrateLegacy converts a pre-community single-file contact cache
// (legacyFileName at dataDir's root) into a per-community file, writing
// its entries into community's snapshot and renaming the legacy file to "*.migrated"
// so the migration never re-runs (§6.3). It is a no-op if no legacy file
// exists.
func (c *Cache) MigrateLegacy(community string) error {
	c.mu.Lock()
	legacyPath := filepath.Join(c.dataDir, legacyFileName)
	data, err := os.ReadFile(legacyPath)
	c.mu.Unlock()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("localcache: read legacy cache: %w", err)
	}

	var legacyContacts []Entry
	if err := json.Unmarshal(data, &legacyContacts); err != nil {
		// A corrupt legacy file is abandoned in place rather than
		// blocking startup; the agent refills from the relay instead.
		return nil
	}

	if community == "" {
		community = defaultCommunity
	}
	if err := c.Save(&Snapshot{Community: community, Contacts: legacyContacts, UpdatedAt: time.Now().UTC()}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return os.Rename(legacyPath, legacyPath+".migrated")
}
