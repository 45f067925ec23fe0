package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ggoodman/pushstream-go/config"
)

type app struct {
	stdout io.Writer
	stderr io.Writer

	cfgFile string
	baseURL string
	token   string
	verbose bool

	cfg *config.Config
	log *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "pushsub",
		Short: "Tail server-push subscriptions",
		Long: `pushsub opens a SUBSCRIBE stream and prints each event as one JSON object per line.

Configuration is read from PUSHSTREAM_* environment variables and an optional YAML file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ~/.pushstream/config.yaml)")
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "server base URL, overrides base_url and locator")
	root.PersistentFlags().StringVar(&a.token, "token", "", "static bearer token, overrides every other token source")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(newTailCmd(a))
	return root
}

func (a *app) init() error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
		cfg.Locator = ""
	}
	if a.token != "" {
		cfg.Token = a.token
		cfg.TokenFile = ""
		cfg.OAuth.ClientID = ""
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lvl, _ := cfg.Level()
	a.cfg = cfg
	a.log = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: lvl}))
	return nil
}
