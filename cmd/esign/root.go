package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/app"
	"github.com/vocdoni/gofirma/esign/internal/config"
	"github.com/vocdoni/gofirma/esign/internal/logging"
)

// cli carries what every command shares once the root has run.
type cli struct {
	configFile string
	v          *viper.Viper
	app        *app.App
	out        io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New(), out: os.Stdout}
	root := &cobra.Command{
		Use:           "esign",
		Short:         "Trust layer for Let's eSign document signing",
		Long:          "esign seals, binds and submits signing tasks to the Let's eSign service and verifies signed documents against their signing proofs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.app != nil {
				c.app.Close()
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("log-format", "json", "log format: json|console")
	flags.String("api-url", "https://api.letsesign.net", "remote service base URL")
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = c.v.BindPFlag("api.base_url", flags.Lookup("api-url"))

	root.AddCommand(
		newServeCmd(c),
		newSendCmd(c),
		newBulkSendCmd(c),
		newPreviewCmd(c),
		newTemplateCmd(c),
		newVerifyCmd(c),
		newStatusCmd(c),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	c.out = cmd.OutOrStdout()
	if c.configFile != "" {
		c.v.SetConfigFile(c.configFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", c.configFile, err)
		}
	}
	cfg, err := config.FromViper(c.v)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	log.Debug("configuration", zap.Any("config", cfg.Redacted()))
	c.app, err = app.New(cfg, log)
	return err
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
