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

	"github.com/spf13/cobra"
)

var (
	configPath string
	envPath    string
)

var rootCmd = &cobra.Command{
	Use:   "fabric-relay",
	Short: "fabric-relay runs the federated relay's HTTP surface",
	Long: `fabric-relay serves agent registration, contact, group, and
presence operations over the relay's signed HTTP API, and emits
Prometheus metrics for everything it processes.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "relay.yaml", "path to relay config file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", "", "optional .env file to load before reading config")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
