package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/rnshub/pkg/config"
	"github.com/DeBrosOfficial/rnshub/pkg/hub"
	"github.com/DeBrosOfficial/rnshub/pkg/logging"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		RunE:  runServe,
	}
	cmd.Flags().String("config", "", "Path to config YAML (default ~/.rnshub/"+configName+" when present)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n%w", stderrors.Join(errs...))
	}

	logger, err := logging.NewLogger(logging.Options{
		Level:        cfg.Logging.Level,
		EnableColors: cfg.Logging.Colors,
		OutputFile:   config.ExpandPath(cfg.Logging.OutputFile),
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	h, err := hub.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.ComponentInfo(logging.ComponentGeneral, "Starting rnshub",
		zap.String("data_dir", cfg.Hub.DataDir),
		zap.String("node_name", cfg.Hub.NodeName))

	if err := h.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig reads path, or the default config file when path is empty and
// it exists, or falls back to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		def, err := config.DefaultPath(configName)
		if err != nil {
			return config.DefaultConfig(), nil
		}
		if _, err := os.Stat(def); err != nil {
			return config.DefaultConfig(), nil
		}
		path = def
	}
	return config.LoadFile(config.ExpandPath(path))
}
