package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/enginebridge/internal/config"
	"github.com/vango-dev/enginebridge/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		errors.Colors = false
	}
	if err := rootCmd().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError renders structured errors as a block and anything else on
// one line.
func printError(w io.Writer, err error) {
	var e *errors.Error
	if stderrors.As(err, &e) {
		fmt.Fprint(w, e.Format())
		return
	}
	fmt.Fprintf(w, "error: %s\n", err)
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enginebridge",
		Short: "Bridge host applications to embedded game engines",
		Long: `enginebridge connects a host application to embedded Unity and
Unreal runtimes through a method channel and an event stream.

  • serve runs a native host with headless engine runtimes
  • send connects to a native host and delivers one message
  • config init writes a default enginebridge.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		serveCmd(),
		sendCmd(),
		configCmd(),
		versionCmd(),
	)
	return cmd
}

// loadConfig reads the config in dir, falling back to defaults when there
// is none.
func loadConfig(dir string) (*config.Config, error) {
	if !config.Exists(dir) {
		return config.Default(), nil
	}
	return config.Load(dir)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
