package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mossy-p/signconnect/config"
	"github.com/mossy-p/signconnect/internal/logging"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "signaling",
		Short:         "SignConnect WebRTC signaling relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().AddFlagSet(config.FlagSet())

	root.AddCommand(serveCommand(), migrateCommand(), tokenCommand(), probeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the root logger for cmd.
func setup(cmd *cobra.Command) (*config.Config, hclog.Logger, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, logger, nil
}
