package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/glowlink/internal/admin"
	"github.com/danmuck/glowlink/internal/config"
	"github.com/danmuck/glowlink/internal/logging"
	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/node"
	"github.com/danmuck/glowlink/internal/observability"
	"github.com/danmuck/glowlink/internal/transport"
)

func runCmd() *cobra.Command {
	var (
		path    string
		noAdmin bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if path != "" {
				loaded, err := config.Load(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
				logging.ApplyLevel(cfg.LogLevel)
			}
			if noAdmin {
				cfg.Admin.Listen = ""
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "path to a glowd TOML config")
	cmd.Flags().BoolVar(&noAdmin, "no-admin", false, "do not serve the admin HTTP surface")
	return cmd
}

// run starts the configured node, the simulated peers of a hub medium and the
// admin surface, and blocks until ctx ends.
func run(ctx context.Context, cfg config.Config) error {
	observability.RegisterMetrics()
	opts := node.OptionsFromConfig(cfg)

	var (
		local  *node.Node
		runner func(context.Context) error
	)
	switch cfg.Medium.Kind {
	case config.MediumUDP:
		medium, err := transport.NewUDPMedium(transport.UDPConfig{
			Address:   cfg.Address,
			Group:     cfg.Medium.Group,
			Interface: cfg.Medium.Interface,
		})
		if err != nil {
			return fmt.Errorf("open udp medium: %w", err)
		}
		local, err = node.New(medium, opts)
		if err != nil {
			_ = medium.Close()
			return err
		}
		runner = local.Run
	case config.MediumHub:
		cluster, err := node.NewCluster(cfg.Address, 1+cfg.Medium.SimulatedPeers, opts,
			transport.WithLoss(cfg.Medium.Loss))
		if err != nil {
			return err
		}
		local = cluster.Nodes[0]
		runner = cluster.Run
	default:
		return fmt.Errorf("%w: medium kind %q", config.ErrInvalid, cfg.Medium.Kind)
	}

	logs.Infof("glowd.run node=%q medium=%s addr=%s admin=%q",
		local.Name(), cfg.Medium.Kind, cfg.Address, cfg.Admin.Listen)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 2)
	workers := 1
	go func() { errc <- runner(ctx) }()
	if cfg.Admin.Listen != "" {
		srv := admin.New(local, admin.Options{CORSOrigins: cfg.Admin.CORSOrigins})
		workers++
		go func() { errc <- srv.Serve(ctx, cfg.Admin.Listen) }()
	}

	var first error
	for i := 0; i < workers; i++ {
		err := <-errc
		if err != nil && !errors.Is(err, context.Canceled) && first == nil {
			first = err
		}
		cancel()
	}
	logs.Infof("glowd.run stopped node=%q err=%v", local.Name(), first)
	return first
}
