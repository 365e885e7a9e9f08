package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"climatology/harvester/internal/config"
	"climatology/harvester/internal/container"
	"climatology/harvester/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type rootOptions struct {
	configPath string
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	var cmd = &cobra.Command{
		Use:           "harvester",
		Short:         "Replicates a paginated file catalog to local storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	cmd.PersistentFlags().String("driver", "", "Page driver: rod or static")
	viper.BindPFlag("browser.driver", cmd.PersistentFlags().Lookup("driver"))

	cmd.AddCommand(newHarvestCommand(opts))
	cmd.AddCommand(newArchiveCommand(opts))
	cmd.AddCommand(newDiscoverCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))

	return cmd
}

// Execute runs the root command. Only configuration and setup failures exit non-zero.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func (o *rootOptions) setup(ctx context.Context) (*container.Container, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level); err != nil {
		return nil, err
	}

	app, err := container.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}
	return app, nil
}
