package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/srodi/csprof/pkg/config"
	"github.com/srodi/csprof/pkg/export"
	"github.com/srodi/csprof/pkg/guarantee"
	"github.com/srodi/csprof/pkg/metrics"
	"github.com/srodi/csprof/pkg/profiler"
	"github.com/srodi/csprof/pkg/ui"
)

const defaultDuration = 10 * time.Second

type runConfig struct {
	profile       config.Config
	duration      time.Duration
	workers       int
	hold          time.Duration
	watch         time.Duration
	exportThreads bool
	debug         bool
}

func parseConfig(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("csprof", flag.ContinueOnError)
	path := fs.String("config", "", "YAML configuration file; flags below override it")
	interval := fs.Duration("interval", 0, "periodic phase interval (0 disables periodic phases)")
	minGap := fs.Duration("min-phase-gap", 0, "skip quiescence points closer than this to the previous phase")
	topK := fs.Int("topk", 0, "number of contended monitors ranked per phase (0 disables ranking)")
	threshold := fs.Float64("threshold", 0, "CSP percentage below which monitors are not reported")
	stackFrames := fs.Int("stack-frames", 0, "frames kept per monitor contention stack")
	stacks := fs.Bool("stacks", false, "print the CSP summary with contention stacks")
	threadStats := fs.Bool("thread-stats", false, "print the per-thread statistics table")
	metricsAddr := fs.String("metrics-addr", "", "serve prometheus metrics on this address (e.g. :9090)")
	pinPath := fs.String("bpf-pin-path", "", "pin the exported thread map at this bpffs path")

	duration := fs.Duration("duration", defaultDuration, "how long the workload runs (0 runs until interrupted)")
	workers := fs.Int("workers", 8, "number of contending worker goroutines")
	hold := fs.Duration("hold", 50*time.Microsecond, "how long a worker holds a monitor")
	watch := fs.Duration("watch", 0, "refresh an on-demand report at this interval")
	exportThreads := fs.Bool("export-threads", false, "publish the final thread table in a BPF array map (linux)")
	debug := fs.Bool("debug", false, "development logging, including per-phase rankings")
	if err := fs.Parse(args); err != nil {
		return runConfig{}, err
	}

	profile, err := config.Load(*path)
	if err != nil {
		return runConfig{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "interval":
			profile.PhaseInterval = *interval
		case "min-phase-gap":
			profile.MinPhaseGap = *minGap
		case "topk":
			profile.RankingCapacity = *topK
		case "threshold":
			profile.CSPThreshold = *threshold
		case "stack-frames":
			profile.StackFrames = *stackFrames
		case "stacks":
			profile.PrintStackSummary = *stacks
		case "thread-stats":
			profile.PrintThreadStats = *threadStats
		case "metrics-addr":
			profile.MetricsAddr = *metricsAddr
		case "bpf-pin-path":
			profile.BPFPinPath = *pinPath
		}
	})
	if err := profile.Validate(); err != nil {
		return runConfig{}, err
	}

	cfg := runConfig{
		profile:       profile,
		duration:      *duration,
		workers:       *workers,
		hold:          *hold,
		watch:         *watch,
		exportThreads: *exportThreads || profile.BPFPinPath != "",
		debug:         *debug,
	}
	if cfg.duration < 0 {
		cfg.duration = defaultDuration
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}
	// Workers plus the consumer must fit in the thread table.
	if cfg.workers+1 > profile.MaxThreads {
		cfg.workers = profile.MaxThreads - 1
	}
	return cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("parsing configuration: %v", err)
	}

	logger, err := newLogger(cfg.debug)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	guarantee.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	opts := []profiler.Option{profiler.WithLogger(logger)}

	if addr := cfg.profile.MetricsAddr; addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		exporter, err := metrics.NewExporter(reg)
		if err != nil {
			logger.Fatal("initializing metrics", zap.Error(err))
		}
		opts = append(opts, profiler.WithObserver(exporter))
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", zap.String("addr", addr))
	}

	if cfg.exportThreads {
		// Raise rlimit for locked memory to allow the BPF map to be created.
		if err := raiseMemlock(); err != nil {
			logger.Warn("failed to raise rlimit memlock", zap.Error(err))
		}
		pub, err := export.NewPublisher(cfg.profile.MaxThreads, cfg.profile.BPFPinPath)
		if err != nil {
			logger.Warn("thread export disabled", zap.Error(err))
		} else {
			defer pub.Close()
			opts = append(opts, profiler.WithPublisher(pub))
		}
	}

	prof, err := profiler.New(cfg.profile, opts...)
	if err != nil {
		logger.Fatal("initializing profiler", zap.Error(err))
	}
	work := newWorkload(prof, cfg.workers, cfg.hold)

	if term.IsTerminal(int(os.Stdout.Fd())) && cfg.watch <= 0 {
		fmt.Print(ui.Banner())
	}

	prof.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return work.Run(gctx) })
	if cfg.watch > 0 {
		g.Go(func() error { return watch(gctx, logger, prof, cfg.watch) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("workload failed", zap.Error(err))
	}

	if err := prof.Shutdown(os.Stdout); err != nil {
		logger.Error("printing reports", zap.Error(err))
	}
}

// watch redraws an on-demand report every interval until ctx is done.
func watch(ctx context.Context, logger *zap.Logger, prof *profiler.Profiler, interval time.Duration) error {
	cleanupTerminal := enableSingleView(logger)
	defer cleanupTerminal()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var buf bytes.Buffer
			buf.WriteString(ui.Banner())
			fmt.Fprintf(&buf, "csprof (press Ctrl+C to exit)\n")
			fmt.Fprintf(&buf, "Updated: %s | Interval: %v\n\n", time.Now().Format(time.RFC3339), interval)
			if err := prof.Report(&buf); err != nil {
				return fmt.Errorf("on-demand report: %w", err)
			}
			clearScreen()
			fmt.Print(buf.String())
		}
	}
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}

func enableSingleView(logger *zap.Logger) func() {
	stdoutFD := int(os.Stdout.Fd())
	stdinFD := int(os.Stdin.Fd())
	if !term.IsTerminal(stdoutFD) {
		return func() {}
	}

	fmt.Print("\033[?1049h") // switch to alternate buffer
	fmt.Print("\033[?25l")   // hide cursor

	var restore []func()
	if term.IsTerminal(stdinFD) {
		if undoEcho, err := disableInputEcho(stdinFD); err != nil {
			logger.Warn("unable to suppress stdin echo", zap.Error(err))
		} else if undoEcho != nil {
			restore = append(restore, undoEcho)
		}
	}

	return func() {
		for i := len(restore) - 1; i >= 0; i-- {
			restore[i]()
		}
		fmt.Print("\033[?25h")   // show cursor
		fmt.Print("\033[?1049l") // restore main buffer
	}
}
