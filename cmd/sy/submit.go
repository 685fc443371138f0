package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var (
		server       string
		priority     string
		complexity   string
		capabilities []string
		maxRetries   int
	)

	cmd := &cobra.Command{
		Use:   "submit <description>",
		Short: "Submit a task to a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, server, args[0], priority, complexity, capabilities, maxRetries)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "node API address")
	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "task priority (critical, high, medium, normal, low)")
	cmd.Flags().StringVar(&complexity, "complexity", "simple", "task complexity (trivial, simple, moderate, complex, expert)")
	cmd.Flags().StringSliceVar(&capabilities, "cap", nil, "required capability (repeatable)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "retry budget")
	return cmd
}

func runSubmit(cmd *cobra.Command, server, description, priority, complexity string, capabilities []string, maxRetries int) error {
	body, err := json.Marshal(map[string]any{
		"description":  description,
		"priority":     priority,
		"complexity":   complexity,
		"capabilities": capabilities,
		"max_retries":  maxRetries,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := http.Post(server+"/api/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit to %s: %w", server, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("submit failed (%d): %s", resp.StatusCode, data)
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted task %s\n", out.TaskID)
	return nil
}
