package commands

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/internal/server"
)

type ServeOptions struct {
	Host string
	Port int
}

func NewServeCmd() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored checkpoints, training history and metrics over HTTP",
		Example: `  # Listen on the configured address
  tsad serve

  # Checkpoints in Redis, custom port
  TSAD_CHECKPOINT_BACKEND=redis tsad serve --port 8081`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			serverConfig := cfg.Server
			if cmd.Flags().Changed("host") {
				serverConfig.Host = opts.Host
			}
			if cmd.Flags().Changed("port") {
				serverConfig.Port = opts.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := checkpoint.NewFactory(logger).Open(ctx, cfg.Checkpoint)
			if err != nil {
				return err
			}
			defer store.Close()

			srv, err := server.NewServer(&serverConfig, server.Dependencies{
				Store:    store,
				Families: networks.NewFactory(logger).Families(),
			}, logger)
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"backend": store.Backend(),
				"port":    serverConfig.Port,
			}).Info("Serving checkpoints")
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Listen port (overrides config)")

	return cmd
}
