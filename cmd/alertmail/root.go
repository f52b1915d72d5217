package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shineum/alertmail-lite/internal/config"
)

// Options configures the root command.
type Options struct {
	ConfigPath string
	Out        io.Writer
	LogOut     io.Writer
}

// DefaultOptions reads the config path from ALERTMAIL_CONFIG.
func DefaultOptions() Options {
	return Options{
		ConfigPath: os.Getenv("ALERTMAIL_CONFIG"),
		Out:        os.Stdout,
		LogOut:     os.Stderr,
	}
}

type runtimeState struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	logger     *slog.Logger
	out        io.Writer
	logOut     io.Writer
}

// NewRootCommand builds the alertmail command tree.
func NewRootCommand(opts Options) *cobra.Command {
	rt := &runtimeState{configPath: opts.ConfigPath, out: opts.Out, logOut: opts.LogOut}

	root := &cobra.Command{
		Use:          "alertmail",
		Short:        "Driver alert email delivery service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.out == nil {
				rt.out = cmd.OutOrStdout()
			}
			if rt.logOut == nil {
				rt.logOut = cmd.ErrOrStderr()
			}
			if cmd.Annotations["config"] == "skip" {
				rt.logger = setupLogger(rt.logLevel, rt.logOut)
				return nil
			}

			cfg, err := loadConfig(rt.configPath)
			if err != nil {
				return err
			}
			rt.cfg = cfg

			level := cfg.Logging.Level
			if rt.logLevel != "" {
				level = rt.logLevel
			}
			rt.logger = setupLogger(level, rt.logOut)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "path to YAML configuration file (optional)")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "log level override: debug, info, warn, error")

	root.AddCommand(
		newServeCommand(rt),
		newSendCommand(rt),
		newTestCommand(rt),
		newProvidersCommand(rt),
		newSecretCommand(rt),
	)
	return root
}

func skipConfig() map[string]string {
	return map[string]string{"config": "skip"}
}

// writeObject prints obj as indented JSON or as YAML.
func writeObject(w io.Writer, format string, obj any) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(obj)
	case "yaml":
		data, err := yaml.Marshal(obj)
		if err != nil {
			return fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
