package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmcdole/skiptrack/internal/app"
	"github.com/mmcdole/skiptrack/internal/config"
	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/log"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Exit codes by error kind
const (
	exitError      = 1
	exitValidation = 2
	exitNotFound   = 3
	exitConflict   = 4
	exitStorage    = 5
)

func main() {
	var (
		showVersion bool
		configPath  string
		metricsFile string
	)
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.StringVar(&configPath, "config", "", "config file (default ~/.config/skiptrack/config.yaml)")
	flag.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("skiptrack %s\n", Version)
		return
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(exitValidation)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, configPath, metricsFile, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(exitCode(err))
	}
}

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "Usage: skiptrack [flags] <command> [command flags]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "\nFlags:\n")
	flag.PrintDefaults()
}

func exitCode(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return exitValidation
	case domain.KindNotFound:
		return exitNotFound
	case domain.KindConflict:
		return exitConflict
	case domain.KindStorage:
		return exitStorage
	default:
		return exitError
	}
}

func run(ctx context.Context, configPath, metricsFile string, args []string) error {
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		return domain.Validationf("unknown command %q", name)
	}
	fs := newFlagSet(name, cmd.summary, os.Stderr)
	exec := cmd.setup(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return domain.Validationf("%s: %v", name, err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := log.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger, closer = log.NullLogger(), io.NopCloser(nil)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("starting skiptrack", "version", Version, "command", name)

	reg := prometheus.NewRegistry()
	a, cleanup, err := app.InitApp(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer a.Markers.Close()

	if err := a.Markers.Init(ctx); err != nil {
		return err
	}

	c := &cli{
		svc:         a.Markers,
		out:         os.Stdout,
		in:          os.Stdin,
		interactive: stdinIsTerminal(),
	}
	runErr := exec(ctx, c)

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			logger.Error("failed to write metrics", "error", err, "path", metricsFile)
			return errors.Join(runErr, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	return runErr
}

// newFlagSet returns a flag set for a command that reports errors instead of exiting
func newFlagSet(name, summary string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: skiptrack %s [flags]\n\n%s\n\n", name, strings.TrimSpace(summary))
		fs.PrintDefaults()
	}
	return fs
}
