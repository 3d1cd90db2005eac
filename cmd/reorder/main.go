package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/gops/agent"

	"github.com/ehrlich-b/go-reorder"
	"github.com/ehrlich-b/go-reorder/internal/constants"
	"github.com/ehrlich-b/go-reorder/internal/logging"
)

// cliConfig holds everything parsed from the command line
type cliConfig struct {
	params     reorder.Params
	iterations uint64
	verbose    bool
	logFormat  string
	json       bool
	gops       bool
}

// parseFlags builds the experiment configuration. Defaults come from the
// build-time constants, so a plain invocation matches the compiled-in
// behaviour.
func parseFlags(fs *flag.FlagSet, args []string) (*cliConfig, error) {
	defaults := reorder.DefaultParams()

	var (
		fence      = fs.String("fence", defaults.Fence.String(), "Barrier between store and load: compiler or hardware")
		singleCore = fs.Bool("single-core", defaults.SingleCore, "Pin both workers to one CPU")
		cpu        = fs.Int("cpu", defaults.CPU, "CPU used by -single-core")
		n          = fs.Uint64("n", 0, "Number of iterations (0 runs until interrupted)")
		verbose    = fs.Bool("v", false, "Verbose output")
		logFormat  = fs.String("log-format", "text", "Log format: text or json")
		jsonOut    = fs.Bool("json", false, "Print a JSON summary on exit")
		gopsAgent  = fs.Bool("gops", false, "Start a gops diagnostics agent")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	kind, err := reorder.ParseFence(*fence)
	if err != nil {
		return nil, err
	}
	if *logFormat != "text" && *logFormat != "json" {
		return nil, fmt.Errorf("invalid log format %q", *logFormat)
	}

	return &cliConfig{
		params: reorder.Params{
			Fence:      kind,
			SingleCore: *singleCore,
			CPU:        *cpu,
		},
		iterations: *n,
		verbose:    *verbose,
		logFormat:  *logFormat,
		json:       *jsonOut,
		gops:       *gopsAgent,
	}, nil
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "reorder: %v\n", err)
		os.Exit(2)
	}

	// Set up logging
	logConfig := logConfigFor(cfg)
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)
	defer logger.Close()

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Warn("failed to start gops agent", "error", err)
		} else {
			defer agent.Close()
			logger.Debug("gops agent listening", "pid", os.Getpid())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exp, err := reorder.New(cfg.params, &reorder.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create experiment", "error", err)
		logger.Close()
		os.Exit(1)
	}

	logger.Debug("experiment running",
		"fence", cfg.params.Fence.String(),
		"single_core", cfg.params.SingleCore,
		"iterations", cfg.iterations,
		"gomaxprocs", runtime.GOMAXPROCS(0))
	logger.Debug("send SIGUSR1 to dump goroutine stacks", "pid", os.Getpid())

	// Set up SIGUSR1 handler for stack trace dumps
	dumpCh := make(chan os.Signal, 1)
	signal.Notify(dumpCh, syscall.SIGUSR1)
	defer signal.Stop(dumpCh)
	go func() {
		for range dumpCh {
			dumpStacks(logger, exp)
		}
	}()

	progressDone := make(chan struct{})
	if logger.DebugEnabled() {
		go reportProgress(logger, exp, constants.ProgressInterval, progressDone)
	}

	runErr := exp.Run(ctx, cfg.iterations)
	close(progressDone)

	if errors.Is(runErr, context.Canceled) {
		logger.Debug("received shutdown signal")
		runErr = nil
	}

	// Try cleanup with a timeout
	closed := make(chan error, 1)
	go func() { closed <- exp.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			logger.Error("error stopping workers", "error", err)
		}
	case <-time.After(constants.ShutdownTimeout):
		logger.Warn("cleanup timeout, workers still running")
	}

	info := exp.Info()
	logger.Debug("experiment finished",
		"iterations", info.Iterations,
		"reorders", info.Metrics.Reorders,
		"reorder_rate", info.Metrics.ReorderRate)

	if cfg.json {
		if err := writeSummary(os.Stdout, info); err != nil {
			logger.Error("failed to encode summary", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("experiment failed", "error", runErr)
		logger.Close()
		os.Exit(1)
	}
}

// logConfigFor keeps stderr quiet unless -v is given, so report lines are
// the only output of a plain run.
func logConfigFor(cfg *cliConfig) *logging.Config {
	logConfig := logging.DefaultConfig()
	logConfig.Format = cfg.logFormat
	logConfig.Level = logging.LevelWarn
	if cfg.verbose {
		logConfig.Level = logging.LevelDebug
	}
	return logConfig
}

// writeSummary prints the final status as a single JSON line
func writeSummary(w io.Writer, info reorder.Info) error {
	data, err := sonic.Marshal(info)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// reportProgress logs a status line every interval until done is closed
func reportProgress(logger *logging.Logger, exp *reorder.Experiment, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := exp.Metrics().Snapshot()
			logger.Debug("progress",
				"iterations", exp.Iteration(),
				"reorders", snap.Reorders,
				"iterations_per_sec", snap.IterationsPerSec)
		}
	}
}

func dumpStacks(logger *logging.Logger, exp *reorder.Experiment) {
	buf := make([]byte, 1024*1024) // 1MB buffer
	n := runtime.Stack(buf, true)
	fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n")
	fmt.Fprintf(os.Stderr, "%s\n", buf[:n])
	fmt.Fprintf(os.Stderr, "=== END STACK DUMP ===\n\n")

	summary, _ := sonic.Marshal(exp.Info())

	// Also dump to a file
	filename := fmt.Sprintf("reorder-stacks-%d.txt", time.Now().Unix())
	f, err := os.Create(filename)
	if err != nil {
		logger.Warn("failed to create stack dump file", "error", err)
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(f, "Process ID: %d\n", os.Getpid())
	fmt.Fprintf(f, "Experiment: %s\n\n", summary)
	f.Write(buf[:n])

	fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
	pprof.Lookup("goroutine").WriteTo(f, 2)

	fmt.Fprintf(os.Stderr, "stack trace written to %s\n", filename)
}
