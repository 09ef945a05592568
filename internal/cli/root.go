// Package cli wires the staffforms commands: setup, run, layout,
// verify-layout, backup and render.
package cli

import (
	"errors"
	"fmt"

	"github.com/nrc-it/staffforms/internal/config"
	"github.com/nrc-it/staffforms/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ErrUsage = errors.New("usage")

// app carries what PersistentPreRunE loads for the subcommands.
type app struct {
	configFile string
	envFile    string

	loader *config.Loader
	cfg    config.Config
	logger *zap.Logger
}

// NewRootCommand builds a fresh command tree so tests can run commands in
// isolation.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "staffforms",
		Short: "Refinery staff data-collection forms",
		Long: `staffforms serves the password-gated intake forms for employees,
contracts and service staff, stores their attachments and appends one row per
submission to the category spreadsheet.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	root.AddCommand(
		newSetupCommand(a),
		newRunCommand(a),
		newLayoutCommand(),
		newVerifyLayoutCommand(a),
		newBackupCommand(a),
		newRenderCommand(a),
	)
	return root
}

func Execute(args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.Execute()
}

// init loads .env, the config and the logger. setup runs before any config
// exists, and layout only reads the built-in schema.
func (a *app) init(cmd *cobra.Command, args []string) error {
	if cmd.Annotations["config"] == "skip" {
		return nil
	}
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	a.loader = config.NewLoader(config.WithConfigFile(a.configFile))
	cfg, err := a.loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

var skipConfig = map[string]string{"config": "skip"}
