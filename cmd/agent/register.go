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
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cc4me/fabric/internal/config"
	"github.com/cc4me/fabric/internal/cryptoutil"
)

var (
	registerEmail    string
	registerEndpoint string
	verifyCode       string
)

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a new agent identity with the relay",
	Long: `Register generates (or reuses) a local key pair and submits a
registration request to the relay. The relay emails a verification
code to --email out of band; run "verify" with that code to activate
the agent.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <name>",
	Short: "Submit the email verification code for a pending registration",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(verifyCmd)

	registerCmd.Flags().StringVar(&registerEmail, "email", "", "owner email address (required)")
	registerCmd.Flags().StringVar(&registerEndpoint, "endpoint", "", "HTTP endpoint this agent's inbox listens on (required)")
	registerCmd.MarkFlagRequired("email")
	registerCmd.MarkFlagRequired("endpoint")

	verifyCmd.Flags().StringVar(&verifyCode, "code", "", "verification code from the registration email (required)")
	verifyCmd.MarkFlagRequired("code")
}

func runRegister(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, err := config.LoadAgentConfig(configPath, envPath)
	if err != nil {
		return err
	}

	priv, err := loadOrCreateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load agent key: %w", err)
	}
	pub := priv.Public().(ed25519.PublicKey)

	body, _ := json.Marshal(map[string]string{
		"name":      name,
		"publicKey": cryptoutil.EncodePublicKey(pub),
		"email":     registerEmail,
		"endpoint":  registerEndpoint,
	})

	resp, err := postRelay(cfg.RelayURL, "/registry/agents", body)
	if err != nil {
		return err
	}
	fmt.Printf("registered %s, pending email verification: %s\n", name, resp)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, err := config.LoadAgentConfig(configPath, envPath)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"code": verifyCode})
	resp, err := postRelay(cfg.RelayURL, "/registry/agents/"+name+"/verify", body)
	if err != nil {
		return err
	}
	fmt.Printf("verified %s: %s\n", name, resp)
	return nil
}

// postRelay issues an unauthenticated POST, used for the two identity
// operations (register, verify) that precede the agent having a live
// session to sign with.
func postRelay(baseURL, path string, body []byte) (string, error) {
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("relay returned %d: %s", resp.StatusCode, raw)
	}
	return string(raw), nil
}
