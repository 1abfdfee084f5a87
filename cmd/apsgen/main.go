package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"apsgen/internal/api"
	"apsgen/internal/capture"
	"apsgen/internal/config"
	"apsgen/internal/dates"
	"apsgen/internal/ics"
	appLog "apsgen/internal/log"
	"apsgen/internal/metrics"
	"apsgen/internal/pipeline"
	"apsgen/internal/render"
	"apsgen/internal/web"
)

const version = "0.1.0"

const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

// flagConfig holds CLI flag values and positional dates.
type flagConfig struct {
	configPath string
	outputDir  string
	baseURL    string
	verbose    bool
	quiet      bool
	dryRun     bool
	serve      bool
	schedule   bool

	startDate string
	endDate   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}

	switch {
	case flags.verbose:
		appLog.SetLevel(appLog.LevelDebug)
	case flags.quiet:
		appLog.SetLevel(appLog.LevelWarn)
	default:
		appLog.SetLevel(appLog.LevelInfo)
	}

	appLog.Info("apsgen starting", "version", version)

	daemon := flags.serve || flags.schedule

	// Only long-running modes create a default config file on first run.
	load := config.Read
	if daemon && !flags.dryRun {
		load = config.Load
	}
	conf, err := load(flags.configPath)
	switch {
	case err != nil && conf == nil:
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return exitError
	case err != nil:
		appLog.Warn("could not write default config; continuing with defaults", "config_path", flags.configPath, "err", err)
	}
	if flags.baseURL != "" {
		conf.BaseURL = flags.baseURL
	}
	if flags.outputDir != "" {
		conf.OutputDir = flags.outputDir
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		return exitError
	}
	if !flags.verbose && !flags.quiet {
		level, _ := appLog.ParseLevel(conf.LogLevel)
		appLog.SetLevel(level)
	}

	appLog.Debug("effective config",
		"source", conf.Source,
		"base_url", conf.BaseURL,
		"timeout_seconds", conf.TimeoutSeconds,
		"max_retries", conf.MaxRetries,
		"ics_count", len(conf.ICS),
		"timezone", conf.Timezone,
		"output_dir", conf.OutputDir,
		"export_png", conf.ExportPNG,
		"export_ics", conf.ExportICS,
		"dry_run", flags.dryRun,
	)

	m := metrics.New()
	p := newPipeline(conf, flags.dryRun, m)

	if daemon {
		if err := runDaemon(ctx, conf, flags, p, m); err != nil {
			return exitError
		}
		appLog.Info("apsgen exiting")
		return exitOK
	}

	r, err := dates.ParseRange(flags.startDate, flags.endDate)
	if err != nil {
		appLog.Error("invalid date range", err)
		return exitError
	}

	_, err = p.Run(ctx, r)
	return exitCode(ctx, err)
}

// exitCode maps a batch error to the process exit code. Cancellation only
// counts when it is what stopped the batch.
func exitCode(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return exitOK
	case ctx.Err() != nil:
		appLog.Warn("interrupted")
		return exitInterrupted
	default:
		appLog.Error("batch failed", err)
		return exitError
	}
}

func newPipeline(conf *config.Config, dryRun bool, m *metrics.Metrics) *pipeline.Pipeline {
	opts := pipeline.Options{
		OutputDir: conf.OutputDir,
		DryRun:    dryRun,
		ExportICS: conf.ExportICS,
		Location:  conf.Location(),
		Metrics:   m,
	}
	if conf.ExportPNG {
		opts.Rasterizer = capture.Rasterizer{}
	}
	return pipeline.New(newSource(conf, m), render.NewSVGRenderer(conf.LogoPath), opts)
}

func newSource(conf *config.Config, m *metrics.Metrics) pipeline.Source {
	if conf.Source == config.SourceICS {
		sources := make([]ics.Source, 0, len(conf.ICS))
		for _, c := range conf.ICS {
			if c.URL == "" {
				continue
			}
			id := c.ID
			if id == "" {
				if c.Name != "" {
					id = c.Name
				} else {
					id = c.URL
				}
			}
			sources = append(sources, ics.Source{ID: id, URL: c.URL})
		}
		fetcher := ics.NewFetcher(conf.CacheDir, conf.Timeout(), m)
		return ics.NewFeed(fetcher, sources, conf.Location(), m)
	}

	return api.NewClient(conf.BaseURL, api.Options{
		Timeout:           conf.Timeout(),
		MaxRetries:        conf.MaxRetries,
		RequestsPerSecond: conf.RequestsPerSecond,
		Metrics:           m,
	})
}

// runDaemon runs the preview server and/or the cron schedule until ctx is
// canceled.
func runDaemon(ctx context.Context, conf *config.Config, flags flagConfig, p *pipeline.Pipeline, m *metrics.Metrics) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	if flags.schedule {
		c, err := newScheduler(ctx, conf, p)
		if err != nil {
			return err
		}
		c.Start()
		appLog.Info("scheduler started", "schedule", conf.Schedule, "timezone", conf.Timezone)
		defer func() {
			<-c.Stop().Done()
			appLog.Info("scheduler stopped")
		}()
	}

	if flags.serve {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.StartServer(ctx, conf, p, m); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		wg.Wait()
		return nil
	case err := <-errCh:
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		return err
	}
}

// newScheduler registers a batch run for the week starting on the day the
// job fires. Runs are canceled with ctx.
func newScheduler(ctx context.Context, conf *config.Config, p batchRunner) (*cron.Cron, error) {
	loc := conf.Location()
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(conf.Schedule, func() {
		r, err := dates.ParseRange(time.Now().In(loc).Format(dates.DayLayout), "")
		if err != nil {
			appLog.Error("scheduled run: bad range", err)
			return
		}
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if _, err := p.Run(runCtx, r); err != nil {
			appLog.Error("scheduled run failed", err, "start", r.StartDay())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", conf.Schedule, err)
	}
	return c, nil
}

type batchRunner interface {
	Run(ctx context.Context, r dates.Range) (*pipeline.Result, error)
}

// cronLogger routes cron's logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

func parseFlags(args []string, stderr io.Writer) (flagConfig, error) {
	var cfg flagConfig

	fs := flag.NewFlagSet("apsgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: apsgen [flags] START_DATE [END_DATE]")
		fmt.Fprintln(stderr, "       apsgen -serve|-schedule [flags]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Generate event graphics and a digest for APS events between two YYYY-MM-DD dates.")
		fmt.Fprintln(stderr, "END_DATE defaults to 7 days after START_DATE.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.configPath, "config", "apsgen.yaml", "Path to config file")
	fs.StringVar(&cfg.outputDir, "output-dir", "", "Output directory (default: START_DATE)")
	fs.StringVar(&cfg.baseURL, "base-url", "", "Base URL of the events API (overrides config if set)")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")
	fs.BoolVar(&cfg.verbose, "v", false, "Shorthand for -verbose")
	fs.BoolVar(&cfg.quiet, "quiet", false, "Only log warnings and errors")
	fs.BoolVar(&cfg.quiet, "q", false, "Shorthand for -quiet")
	fs.BoolVar(&cfg.dryRun, "dry-run", false, "Show what would be written without writing files")
	fs.BoolVar(&cfg.serve, "serve", false, "Run the preview HTTP server")
	fs.BoolVar(&cfg.schedule, "schedule", false, "Run batches on the configured cron schedule")

	// Flags may follow the positional dates.
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return cfg, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}

	if cfg.verbose && cfg.quiet {
		return cfg, errors.New("-verbose and -quiet are mutually exclusive")
	}

	daemon := cfg.serve || cfg.schedule
	switch {
	case len(positional) > 2:
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(positional[2:], " "))
	case len(positional) == 0 && !daemon:
		fs.Usage()
		return cfg, errors.New("START_DATE is required")
	case len(positional) > 0 && daemon:
		return cfg, errors.New("dates cannot be combined with -serve or -schedule")
	}

	if len(positional) > 0 {
		cfg.startDate = positional[0]
	}
	if len(positional) > 1 {
		cfg.endDate = positional[1]
	}
	return cfg, nil
}
