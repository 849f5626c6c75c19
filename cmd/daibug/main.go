// daibug launches the observability hub around a dev-server command: it
// supervises the child, serves the WebSocket and HTTP endpoints, and with
// --mcp exposes the tool surface to an agent over stdio.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daibug/daibug/pkg/config"
	"github.com/daibug/daibug/pkg/hub"
	"github.com/daibug/daibug/pkg/mcpserver"
	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "daibug --cmd \"<dev server command>\"",
		Short:         "Local observability bridge between a dev server, the browser and an agent",
		Version:       version.Full(),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := rootCmd.Flags()
	f.String("cmd", "", "dev server command to launch and supervise (required)")
	f.String("console", "", "console levels to capture (csv or alias: all, errors, errors-and-warnings)")
	f.String("watch-network", "", "watch rule shorthand <urlGlob>:<csv of status codes>")
	f.String("redact", "", "extra sensitive field names (csv)")
	f.Bool("session-auto-start", false, "start recording a session on startup")
	f.String("config", "", "config file path (default ./"+config.DefaultFileName+")")
	f.Bool("no-config", false, "ignore any config file")
	f.Bool("mcp", false, "serve MCP tools on stdio")

	// Flag names double as viper keys; DAIBUG_SESSION_AUTO_START and
	// friends override through AutomaticEnv.
	for _, name := range []string{
		"cmd", "console", "watch-network", "redact",
		"session-auto-start", "config", "no-config", "mcp",
	} {
		_ = viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), f.Lookup(name))
	}
	viper.SetEnvPrefix("DAIBUG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	// Stdout stays clean for MCP framing; all logging goes to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env")
	}

	cmdline := strings.TrimSpace(viper.GetString("cmd"))
	if cmdline == "" {
		return fmt.Errorf("--cmd is required")
	}

	cfg, err := config.LoadOptional(viper.GetString("config"), viper.GetBool("no_config"))
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(&cfg); err != nil {
		return err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "config:", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.New(cfg, hub.Options{Cmd: cmdline})
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	defer func() {
		if err := h.Stop(); err != nil {
			slog.Error("Hub shutdown error", "error", err)
		}
	}()

	httpPort, wsPort := h.Ports()
	slog.Info("daibug running",
		"cmd", cmdline, "http_port", httpPort, "ws_port", wsPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	if viper.GetBool("mcp") {
		// The MCP session owns the process lifetime: when the agent closes
		// stdin the server returns and we shut down.
		mcpDone := make(chan error, 1)
		srv := mcpserver.NewServer(mcpserver.Backends{
			Events:       h,
			Interactions: h,
			Commands:     h,
			Watch:        h,
			Sessions:     h,
		})
		go func() { mcpDone <- srv.Run(ctx) }()
		slog.Info("MCP server listening on stdio")

		select {
		case sig := <-sigCh:
			slog.Info("Shutdown signal received", "signal", sig)
		case err := <-mcpDone:
			if err != nil && ctx.Err() == nil {
				slog.Warn("MCP session ended", "error", err)
			} else {
				slog.Info("MCP session ended")
			}
		}
		return nil
	}

	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)
	return nil
}

// applyFlagOverrides layers the CLI shorthands over the resolved config.
func applyFlagOverrides(cfg *config.Config) error {
	if console := viper.GetString("console"); console != "" {
		include := config.NormalizeConsoleInclude(splitCSV(console))
		if len(include) == 0 {
			return fmt.Errorf("--console %q selects no known levels", console)
		}
		cfg.Console.Include = include
	}

	if spec := viper.GetString("watch_network"); spec != "" {
		rule, err := parseWatchNetwork(spec)
		if err != nil {
			return err
		}
		cfg.Watch = append(cfg.Watch, rule)
	}

	if fields := splitCSV(viper.GetString("redact")); len(fields) > 0 {
		cfg.Redact.Fields = append(cfg.Redact.Fields, fields...)
	}

	if viper.GetBool("session_auto_start") {
		cfg.Session.AutoStart = true
	}
	return nil
}

// parseWatchNetwork parses "<urlGlob>:<csv of status codes>". The glob may
// itself contain colons, so the status list is taken from the last one.
func parseWatchNetwork(spec string) (config.WatchRuleConfig, error) {
	idx := strings.LastIndex(spec, ":")
	if idx <= 0 || idx == len(spec)-1 {
		return config.WatchRuleConfig{}, fmt.Errorf("invalid --watch-network %q, want <urlGlob>:<csv of status codes>", spec)
	}
	glob := spec[:idx]
	var codes []int
	for _, part := range splitCSV(spec[idx+1:]) {
		code, err := strconv.Atoi(part)
		if err != nil {
			return config.WatchRuleConfig{}, fmt.Errorf("invalid status code %q in --watch-network", part)
		}
		codes = append(codes, code)
	}
	return config.WatchRuleConfig{
		Label:       "network watch " + glob,
		Source:      models.SourceBrowserNetwork,
		URLPattern:  glob,
		StatusCodes: codes,
	}, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
