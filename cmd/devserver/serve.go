package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"devserver/internal/app"
	"devserver/internal/config"
)

// serveFlags are the command-line overrides applied on top of the loaded
// configuration
type serveFlags struct {
	configPath      string
	host            string
	port            int
	dist            string
	publicDir       string
	compress        bool
	historyFallback bool
	htmlFallback    string
	headers         map[string]string
	logLevel        string
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dev server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd.Flags(), cfg)

			application, err := app.NewApplication(cmd.Context(), app.Options{Config: cfg})
			if err != nil {
				return err
			}
			return application.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "Path to the config file")
	flags.StringVar(&f.host, "host", "", "Host to listen on")
	flags.IntVarP(&f.port, "port", "p", config.DefaultPort, "Port to listen on")
	flags.StringVar(&f.dist, "dist", config.DefaultDistPath, "Build output directory")
	flags.StringVar(&f.publicDir, "public-dir", "", "Directory of static assets served as is")
	flags.BoolVar(&f.compress, "compress", false, "Gzip responses")
	flags.BoolVar(&f.historyFallback, "history-api-fallback", false, "Serve index.html for unknown client-side routes")
	flags.StringVar(&f.htmlFallback, "html-fallback", config.HTMLFallbackIndex, "HTML fallback policy (index or false)")
	flags.StringToStringVar(&f.headers, "header", nil, "Extra response header as key=value (repeatable)")
	flags.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return cmd
}

// apply copies every flag set on the command line into cfg
func (f *serveFlags) apply(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Server.Host = f.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = f.port
	}
	if flags.Changed("dist") {
		cfg.Output.DistPath = f.dist
	}
	if flags.Changed("public-dir") {
		cfg.Dev.PublicDir.Name = f.publicDir
	}
	if flags.Changed("compress") {
		cfg.Dev.Compress = f.compress
	}
	if flags.Changed("history-api-fallback") {
		cfg.Dev.HistoryAPIFallback = config.HistoryFallbackConfig{Enabled: f.historyFallback}
	}
	if flags.Changed("html-fallback") {
		cfg.Dev.HTMLFallback = f.htmlFallback
	}
	if flags.Changed("header") {
		if cfg.Dev.Headers == nil {
			cfg.Dev.Headers = make(map[string]string, len(f.headers))
		}
		for k, v := range f.headers {
			cfg.Dev.Headers[k] = v
		}
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
}
