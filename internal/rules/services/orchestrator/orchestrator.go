package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-rulecheck/internal/rules/common/clock"
	"github.com/haukened/rr-rulecheck/internal/rules/common/log"
	"github.com/haukened/rr-rulecheck/internal/rules/domain"
	"github.com/haukened/rr-rulecheck/internal/rules/repos/whitelist"
	"github.com/haukened/rr-rulecheck/internal/rules/services/processor"
	"github.com/haukened/rr-rulecheck/internal/rules/services/validator"
)

const (
	errNoJobs           = "no input files"
	errResolverRequired = "resolver is required"
	errCacheRequired    = "verdict cache is required"
)

// Job is one input file and where its filtered copy goes.
// An empty Output means the input is replaced in place.
type Job struct {
	Input  string
	Output string
}

// Destination returns the path the filtered file is written to.
func (j Job) Destination() string {
	if j.Output == "" {
		return j.Input
	}
	return j.Output
}

// Sink receives the finished report. Sinks are best-effort: a failing sink
// is logged and never changes the outcome of a run.
type Sink interface {
	Name() string
	Publish(report domain.Report) error
}

// VerdictCache is the run-wide verdict cache. Its counters are copied into the report.
type VerdictCache interface {
	validator.VerdictCache
	Stats() domain.CacheStats
}

// Options configures an Orchestrator.
type Options struct {
	// required parameters
	Resolver validator.Resolver
	Cache    VerdictCache
	// optional
	Workers           int
	FileWorkers       int
	IncludeExceptions bool
	Endpoints         int
	Sinks             []Sink
	Logger            log.Logger
	Clock             clock.Clock
	NewRunID          func() string
}

// Orchestrator runs the File Processor over a batch of files that share one
// whitelist, one validator and one verdict cache.
type Orchestrator struct {
	opts Options
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errResolverRequired)
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errCacheRequired)
	}
	if opts.FileWorkers <= 0 {
		opts.FileWorkers = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	return &Orchestrator{opts: opts}, nil
}

// Run filters every job. It fails before touching any file when the
// whitelist cannot be built, returns ErrAllFilesFailed when no file could be
// processed, and otherwise succeeds with per-file failures recorded in the report.
func (o *Orchestrator) Run(ctx context.Context, jobs []Job, sources []whitelist.Source) (domain.Report, error) {
	start := o.opts.Clock.Now()
	report := domain.Report{
		RunID:     o.opts.NewRunID(),
		StartedAt: start,
		Endpoints: o.opts.Endpoints,
	}
	if len(jobs) == 0 {
		return report, fmt.Errorf("%w: %s", domain.ErrConfiguration, errNoJobs)
	}

	wl, err := o.buildWhitelist(jobs, sources)
	if err != nil {
		return report, err
	}
	report.WhitelistSize = wl.Len()

	v, err := validator.New(validator.Options{
		Whitelist: wl,
		Cache:     o.opts.Cache,
		Resolver:  o.opts.Resolver,
		Logger:    o.opts.Logger,
	})
	if err != nil {
		return report, err
	}
	proc, err := processor.New(processor.Options{
		Validator: v,
		Workers:   o.opts.Workers,
		Logger:    o.opts.Logger,
		Clock:     o.opts.Clock,
	})
	if err != nil {
		return report, err
	}

	report.Files = make([]domain.FileReport, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.opts.FileWorkers)
	for i, job := range jobs {
		g.Go(func() error {
			report.Files[i] = o.runJob(ctx, proc, job)
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range report.Files {
		if f.Failed() {
			report.Failed++
			continue
		}
		report.Succeeded++
		report.Totals.Add(f.Stats)
	}
	report.Cache = o.opts.Cache.Stats()
	report.Elapsed = clock.Since(o.opts.Clock, start)

	o.opts.Logger.Info(map[string]any{
		"run_id":    report.RunID,
		"files":     len(jobs),
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"kept":      report.Totals.Valid,
		"removed":   report.Totals.Removed(),
		"queried":   report.Cache.Entries,
		"elapsed":   report.Elapsed.String(),
	}, "run finished")

	o.publish(report)

	if report.TotalFailure() {
		return report, domain.ErrAllFilesFailed
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// buildWhitelist loads the whitelist sources and, when enabled, unions the
// exception rules of every input file into the same set.
func (o *Orchestrator) buildWhitelist(jobs []Job, sources []whitelist.Source) (*whitelist.Set, error) {
	b := whitelist.NewBuilder(whitelist.Options{Logger: o.opts.Logger})
	for _, src := range sources {
		if err := b.AddSource(src); err != nil {
			o.opts.Logger.Warn(map[string]any{"source": src.Name, "error": err}, "whitelist source skipped")
		}
	}
	if o.opts.IncludeExceptions {
		for _, job := range jobs {
			n, err := b.AddExceptions(whitelist.Source{Name: job.Input})
			if err != nil {
				// the processor reports this file as failed
				continue
			}
			if n > 0 {
				o.opts.Logger.Debug(map[string]any{"input": job.Input, "exceptions": n}, "exceptions added to whitelist")
			}
		}
	}
	return b.Build()
}

func (o *Orchestrator) runJob(ctx context.Context, proc *processor.Processor, job Job) domain.FileReport {
	stats, err := proc.Process(ctx, job.Input, job.Destination())
	if err == nil {
		return domain.FileReport{Stats: stats}
	}

	fields := map[string]any{"input": job.Input, "error": err}
	var fe *domain.FileError
	if errors.As(err, &fe) {
		fields["op"] = fe.Op
		fields["path"] = fe.Path
	}
	o.opts.Logger.Error(fields, "file failed")
	stats.Input = job.Input
	stats.Output = job.Destination()
	return domain.FileReport{Stats: stats, Error: err.Error()}
}

func (o *Orchestrator) publish(report domain.Report) {
	for _, s := range o.opts.Sinks {
		if err := s.Publish(report); err != nil {
			o.opts.Logger.Warn(map[string]any{"sink": s.Name(), "error": err}, "report sink failed")
		}
	}
}
