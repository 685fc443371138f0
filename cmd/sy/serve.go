package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/api"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/metrics"
	"github.com/zulandar/switchyard/internal/swarm"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		noJournal  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination engine and HTTP API",
		Long:  "Starts the swarm engine with its timer loops, the journal store, and the HTTP API. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, noJournal)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchyard.yaml", "path to Switchyard config file")
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "disable the durable journal store")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, noJournal bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	engine, err := swarm.New(cfg, swarm.Options{
		Metrics: collector,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	opts := api.StartOpts{
		Engine:   engine,
		Registry: registry,
		Port:     cfg.API.Port,
		Out:      cmd.OutOrStdout(),
	}

	if !noJournal {
		gormDB, err := db.Connect(cfg.DB)
		if err != nil {
			return fmt.Errorf("connect journal store: %w", err)
		}
		if err := db.Migrate(gormDB); err != nil {
			return fmt.Errorf("migrate journal store: %w", err)
		}
		swarm.NewJournal(gormDB, log).Attach(engine)
		opts.DB = gormDB
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	go func() { errc <- engine.Run(ctx) }()
	go func() { errc <- api.Start(ctx, opts) }()

	fmt.Fprintf(cmd.OutOrStdout(), "Switchyard node %s running\n", cfg.NodeID)

	err = <-errc
	stop()
	<-errc
	return err
}

// loadConfig loads the YAML config, falling back to defaults when the file
// does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}
