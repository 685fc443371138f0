package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage swarm agents",
	}
	cmd.AddCommand(newAgentRegisterCmd())
	return cmd
}

func newAgentRegisterCmd() *cobra.Command {
	var (
		server       string
		capabilities []string
		maxLoad      int
		trust        float64
	)

	cmd := &cobra.Command{
		Use:   "register <agent-id>",
		Short: "Register an agent with a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentRegister(cmd, server, args[0], capabilities, maxLoad, trust)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "node API address")
	cmd.Flags().StringSliceVar(&capabilities, "cap", nil, "agent capability (repeatable)")
	cmd.Flags().IntVar(&maxLoad, "max-load", 3, "concurrent task capacity")
	cmd.Flags().Float64Var(&trust, "trust", 0.7, "initial trust score, 0 to 1")
	return cmd
}

func runAgentRegister(cmd *cobra.Command, server, id string, capabilities []string, maxLoad int, trust float64) error {
	body, err := json.Marshal(map[string]any{
		"id":           id,
		"capabilities": capabilities,
		"max_load":     maxLoad,
		"trust_score":  trust,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := http.Post(server+"/api/agents", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("register with %s: %w", server, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("register failed (%d): %s", resp.StatusCode, data)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered agent %s\n", id)
	return nil
}
