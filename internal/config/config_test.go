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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRelayConfigAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
storage:
  path: /var/lib/fabric/relay.db
`), 0o644))

	cfg, err := LoadRelayConfig(path, "")
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "/var/lib/fabric/relay.db", cfg.Storage.Path)
	require.Equal(t, ":8443", cfg.HTTP.Addr)
	require.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, ":9090", cfg.Metrics.Addr)
	require.Equal(t, 6, cfg.RetryQueue.MaxAttempts)
}

func TestAdminSecretReadsEnvVar(t *testing.T) {
	cfg := &RelayConfig{Admin: AdminConfig{SecretEnv: "FABRIC_TEST_ADMIN_SECRET"}}

	_, err := cfg.AdminSecret()
	require.Error(t, err)

	t.Setenv("FABRIC_TEST_ADMIN_SECRET", "shh")
	secret, err := cfg.AdminSecret()
	require.NoError(t, err)
	require.Equal(t, "shh", string(secret))
}

func TestLoadAgentConfigAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: atlas
relayUrl: https://relay.example.com
`), 0o644))

	cfg, err := LoadAgentConfig(path, "")
	require.NoError(t, err)
	require.Equal(t, "atlas", cfg.Name)
	require.Equal(t, "https://relay.example.com", cfg.RelayURL)
	require.Equal(t, ".fabric/cache", cfg.CacheDir)
	require.Equal(t, "development", cfg.Environment)
}
