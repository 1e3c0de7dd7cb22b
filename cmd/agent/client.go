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
	"fmt"
	"os"

	"github.com/cc4me/fabric/internal/config"
	"github.com/cc4me/fabric/internal/logging"
	"github.com/cc4me/fabric/pkg/agentapi"
)

// newClient loads the agent config and key material and builds the
// convenience wrapper every subcommand operates through.
func newClient() (*agentapi.Client, *config.AgentConfig, error) {
	cfg, err := config.LoadAgentConfig(configPath, envPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Name == "" || cfg.RelayURL == "" {
		return nil, nil, fmt.Errorf("agent config must set name and relayUrl")
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level))
	logging.SetDefault(logger)

	priv, err := loadOrCreateKey(cfg.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load agent key: %w", err)
	}

	client, err := agentapi.New(cfg.RelayURL, cfg.Name, priv, agentapi.Options{
		CacheDir:  cfg.CacheDir,
		Community: cfg.Name,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}
