package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/swarm"
)

func newStatusCmd() *cobra.Command {
	var (
		server string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show node status",
		Long:  "Displays queue depth, live assignments, fleet size, node liveness, and messaging counters for a running node. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, server, watch)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "node API address")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	return cmd
}

func runStatus(cmd *cobra.Command, server string, watch bool) error {
	out := cmd.OutOrStdout()

	for {
		st, err := fetchStatus(server)
		if err != nil {
			return err
		}

		if watch {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}

		fmt.Fprint(out, formatStatus(st))

		if !watch {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
}

func fetchStatus(server string) (*swarm.Status, error) {
	resp, err := http.Get(server + "/api/status")
	if err != nil {
		return nil, fmt.Errorf("fetch status from %s: %w", server, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status failed (%d): %s", resp.StatusCode, data)
	}

	var st swarm.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func formatStatus(st *swarm.Status) string {
	s := fmt.Sprintf("Node %s\n", st.NodeID)
	s += fmt.Sprintf("  Tasks:      %d queued, %d running, %d completed, %d failed\n",
		st.QueuedTasks, st.ActiveAssignments, st.CompletedTasks, st.FailedTasks)
	s += fmt.Sprintf("  Agents:     %d\n", st.Agents)
	s += fmt.Sprintf("  Nodes:      %d online, %d degraded, %d offline\n",
		st.Nodes["online"], st.Nodes["degraded"], st.Nodes["offline"])
	s += fmt.Sprintf("  Messages:   %d sent, %d failed\n", st.MessagesSent, st.MessagesFailed)
	s += fmt.Sprintf("  Consensus:  %d open proposals\n", st.OpenProposals)
	if len(st.GossipKeys) > 0 {
		s += fmt.Sprintf("  Gossip:     %v\n", st.GossipKeys)
	}
	return s
}
