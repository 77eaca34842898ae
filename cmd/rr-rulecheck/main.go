package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"

	"github.com/haukened/rr-rulecheck/internal/rules/common/clock"
	"github.com/haukened/rr-rulecheck/internal/rules/common/log"
	"github.com/haukened/rr-rulecheck/internal/rules/config"
	"github.com/haukened/rr-rulecheck/internal/rules/domain"
	"github.com/haukened/rr-rulecheck/internal/rules/gateways/metrics"
	"github.com/haukened/rr-rulecheck/internal/rules/gateways/report"
	"github.com/haukened/rr-rulecheck/internal/rules/gateways/upstream"
	"github.com/haukened/rr-rulecheck/internal/rules/repos/history"
	"github.com/haukened/rr-rulecheck/internal/rules/repos/verdictcache"
	"github.com/haukened/rr-rulecheck/internal/rules/repos/whitelist"
	"github.com/haukened/rr-rulecheck/internal/rules/services/orchestrator"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-rulecheck"

	defaultHistoryLimit = 10
)

var errWhitelistRequired = errors.New("at least one whitelist file is required")

// newExchanger returns the DNS client used by the resolver pool. It can be mocked in tests.
var newExchanger = func() upstream.Exchanger {
	return &dns.Client{Net: "udp"}
}

// Application holds all the components of a rule check run
type Application struct {
	config       *config.AppConfig
	orchestrator *orchestrator.Orchestrator
	sources      []whitelist.Source
	closers      []io.Closer
}

// runOptions are the command-line values of the run command
type runOptions struct {
	configPath string
	whitelist  []string
	outDir     string
	suffix     string
	reportFile string
	inputs     []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command with its run and history subcommands
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Remove ad-block rules whose domains no longer resolve",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")

	rootCmd.AddCommand(newRunCmd(), newHistoryCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run INPUT...",
		Short: "Filter rule files, dropping rules for dead domains",
		Long: `Reads each rule file, checks every rule domain against the whitelist and
the configured DNS resolvers, and writes the file back without the rules
whose domains no resolver could confirm.

An INPUT of the form in.txt:out.txt writes the filtered copy to out.txt.
Otherwise the output goes to --out-dir, gets --suffix, or replaces the input.

Example:
  rr-rulecheck run --whitelist allow.txt --out-dir filtered/ easylist.txt hosts.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRules,
	}

	cmd.Flags().StringArrayP("whitelist", "w", nil, "Whitelist file (repeatable)")
	cmd.Flags().StringP("out-dir", "o", "", "Directory for filtered files")
	cmd.Flags().StringP("suffix", "s", "", "Suffix added to the output file name, before the extension")
	cmd.Flags().StringP("report", "r", "", "Write the run report to this file (.json, .yaml or .txt)")
	cmd.MarkFlagsMutuallyExclusive("out-dir", "suffix")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored run summaries, newest first",
		Args:  cobra.NoArgs,
		RunE:  showHistory,
	}

	cmd.Flags().String("db", "", "History database (defaults to history_db from config)")
	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Number of runs to print, 0 for all")
	cmd.Flags().StringP("format", "f", string(report.FormatText), "Output format (text, json, yaml)")

	return cmd
}

// parseRunOptions reads the run command flags
func parseRunOptions(cmd *cobra.Command, args []string) (*runOptions, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	wl, err := cmd.Flags().GetStringArray("whitelist")
	if err != nil {
		return nil, fmt.Errorf("failed to get whitelist flag: %w", err)
	}
	outDir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return nil, fmt.Errorf("failed to get out-dir flag: %w", err)
	}
	suffix, err := cmd.Flags().GetString("suffix")
	if err != nil {
		return nil, fmt.Errorf("failed to get suffix flag: %w", err)
	}
	reportFile, err := cmd.Flags().GetString("report")
	if err != nil {
		return nil, fmt.Errorf("failed to get report flag: %w", err)
	}

	return &runOptions{
		configPath: configPath,
		whitelist:  wl,
		outDir:     outDir,
		suffix:     suffix,
		reportFile: reportFile,
		inputs:     args,
	}, nil
}

// loadConfig loads configuration and applies command-line overrides
func loadConfig(opts *runOptions) (*config.AppConfig, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if len(opts.whitelist) > 0 {
		cfg.Whitelist = opts.whitelist
	}
	if opts.reportFile != "" {
		cfg.ReportFile = opts.reportFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	if len(cfg.Whitelist) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, errWhitelistRequired)
	}
	return cfg, nil
}

// buildJobs maps inputs to output paths. An explicit in:out pair wins over
// outDir, which wins over suffix; with neither the input is replaced.
func buildJobs(inputs []string, outDir, suffix string) ([]orchestrator.Job, error) {
	jobs := make([]orchestrator.Job, 0, len(inputs))
	seen := make(map[string]string, len(inputs))
	for _, arg := range inputs {
		job := orchestrator.Job{Input: arg}
		if in, out, ok := strings.Cut(arg, ":"); ok {
			if in == "" || out == "" {
				return nil, fmt.Errorf("%w: malformed input pair %q", domain.ErrConfiguration, arg)
			}
			job = orchestrator.Job{Input: in, Output: out}
		} else if outDir != "" {
			job.Output = filepath.Join(outDir, filepath.Base(arg))
		} else if suffix != "" {
			ext := filepath.Ext(arg)
			job.Output = strings.TrimSuffix(arg, ext) + suffix + ext
		}

		dest := filepath.Clean(job.Destination())
		if prev, dup := seen[dest]; dup {
			return nil, fmt.Errorf("%w: %s and %s write to the same output %s", domain.ErrConfiguration, prev, job.Input, dest)
		}
		seen[dest] = job.Input
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// runRules is the entry point of the run command
func runRules(cmd *cobra.Command, args []string) error {
	opts, err := parseRunOptions(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	// Configure global logging
	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		return fmt.Errorf("logging configuration error: %w", err)
	}
	defer log.Sync()

	jobs, err := buildJobs(opts.inputs, opts.outDir, opts.suffix)
	if err != nil {
		return err
	}

	log.Info(map[string]any{
		"version":      version,
		"env":          cfg.Env,
		"log_level":    cfg.LogLevel,
		"inputs":       len(jobs),
		"whitelist":    cfg.Whitelist,
		"workers":      cfg.Workers,
		"file_workers": cfg.FileWorkers,
		"cache_size":   cfg.CacheSize,
	}, "Starting rule check")

	app, err := buildApplication(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, runErr := app.Run(ctx, jobs)
	if len(rep.Files) > 0 {
		if err := report.Encode(cmd.OutOrStdout(), report.FormatText, rep); err != nil {
			log.Warn(map[string]any{"error": err}, "Failed to print report")
		}
	}
	return runErr
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := &clock.RealClock{}
	logger := log.GetLogger()

	cache, err := verdictcache.New(int(cfg.CacheSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create verdict cache: %w", err)
	}

	app := &Application{config: cfg}
	var sinks []orchestrator.Sink
	var observer upstream.QueryObserver

	if cfg.MetricsFile != "" {
		m := metrics.NewMetrics(cfg.MetricsFile)
		observer = m
		sinks = append(sinks, m)
	}

	pool, err := upstream.NewPool(upstream.Options{
		Endpoints: cfg.ResolverEndpoints(),
		Exchanger: newExchanger(),
		Logger:    logger,
		Observer:  observer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver pool: %w", err)
	}

	endpoints := pool.Endpoints()
	names := make([]string, 0, len(endpoints))
	var maxLatency time.Duration
	for _, ep := range endpoints {
		names = append(names, ep.Label())
		maxLatency = max(maxLatency, ep.MaxLatency())
	}
	log.Info(map[string]any{
		"endpoints":   names,
		"timeout":     cfg.Timeout,
		"retries":     cfg.Retries,
		"max_latency": maxLatency,
	}, "Resolver pool configured")

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			// history is a side output; the run goes on without it
			log.Warn(map[string]any{"path": cfg.HistoryDB, "error": err}, "History store unavailable")
		} else {
			app.closers = append(app.closers, store)
			sinks = append(sinks, store)
		}
	}
	if cfg.ReportFile != "" {
		sinks = append(sinks, report.NewWriter(cfg.ReportFile))
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Resolver:          pool,
		Cache:             cache,
		Workers:           cfg.Workers,
		FileWorkers:       cfg.FileWorkers,
		IncludeExceptions: cfg.IncludeExceptions,
		Endpoints:         len(endpoints),
		Sinks:             sinks,
		Logger:            logger,
		Clock:             clk,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	app.orchestrator = orch

	for _, path := range cfg.Whitelist {
		app.sources = append(app.sources, whitelist.Source{Name: path})
	}
	return app, nil
}

// Run filters the given jobs against the configured whitelist
func (app *Application) Run(ctx context.Context, jobs []orchestrator.Job) (domain.Report, error) {
	rep, err := app.orchestrator.Run(ctx, jobs, app.sources)
	if err != nil {
		log.Error(map[string]any{"error": err}, "Rule check failed")
		return rep, err
	}
	log.Info(map[string]any{
		"run_id":  rep.RunID,
		"kept":    rep.Totals.Valid,
		"removed": rep.Totals.Removed(),
		"failed":  rep.Failed,
	}, "Rule check completed")
	return rep, nil
}

// Close releases resources held by the side outputs
func (app *Application) Close() {
	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			log.Warn(map[string]any{"error": err}, "Error during shutdown")
		}
	}
	app.closers = nil
}

// showHistory is the entry point of the history command
func showHistory(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	dbPath, err := cmd.Flags().GetString("db")
	if err != nil {
		return fmt.Errorf("failed to get db flag: %w", err)
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("failed to get limit flag: %w", err)
	}
	formatName, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}

	if dbPath == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		dbPath = cfg.HistoryDB
	}
	if dbPath == "" {
		return fmt.Errorf("%w: no history database configured", domain.ErrConfiguration)
	}

	store, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reports, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
		return err
	}
	return report.Encode(cmd.OutOrStdout(), format, reports...)
}
