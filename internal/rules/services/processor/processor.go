package processor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-rulecheck/internal/rules/common/clock"
	"github.com/haukened/rr-rulecheck/internal/rules/common/log"
	"github.com/haukened/rr-rulecheck/internal/rules/common/utils"
	"github.com/haukened/rr-rulecheck/internal/rules/domain"
	"github.com/haukened/rr-rulecheck/internal/rules/repos/parsers"
)

const (
	errValidatorRequired = "validator is required"
	errCancelled         = "processing %s: %w"

	writeBufferSize = 64 * 1024
)

// Validator decides whether a normalized domain is still alive.
type Validator interface {
	Validate(ctx context.Context, name string) domain.ValidationResult
}

// Options configures a Processor.
type Options struct {
	// required parameters
	Validator Validator
	// Workers bounds concurrent validations per file; <= 0 uses GOMAXPROCS*4.
	Workers int
	Logger  log.Logger
	Clock   clock.Clock
}

// Processor filters one rule file at a time. A single Processor may run
// several files concurrently.
type Processor struct {
	validator Validator
	workers   int
	logger    log.Logger
	clock     clock.Clock
}

// New creates a Processor.
func New(opts Options) (*Processor, error) {
	if opts.Validator == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, errValidatorRequired)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0) * 4
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Processor{
		validator: opts.Validator,
		workers:   opts.Workers,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}, nil
}

// Process validates every distinct domain of input and writes the surviving
// lines to output in their original order with their original terminators.
// Output may equal input. The output is replaced atomically and only after
// every domain has been decided.
//
// Only file I/O failures (wrapping domain.ErrFileIO) and cancellation are
// returned; resolution failures just drop the affected rules.
func (p *Processor) Process(ctx context.Context, input, output string) (domain.FileStats, error) {
	start := p.clock.Now()
	stats := domain.FileStats{Input: input, Output: output, Dialects: make(map[string]int)}

	info, err := os.Stat(input)
	if err != nil {
		return stats, domain.NewFileError("stat", input, err)
	}

	verdicts, err := p.collect(ctx, input, &stats)
	if err != nil {
		return stats, err
	}

	invalidApexes := make(map[string]struct{})
	err = writeAtomic(output, info.Mode().Perm(), func(w io.Writer) error {
		return p.filter(ctx, input, w, verdicts, &stats, invalidApexes)
	})
	if err != nil {
		return stats, err
	}
	stats.InvalidApexes = len(invalidApexes)
	stats.Elapsed = clock.Since(p.clock, start)

	p.logger.Info(map[string]any{
		"input":   input,
		"output":  output,
		"lines":   stats.TotalLines,
		"domains": stats.DistinctDomains,
		"kept":    stats.Valid,
		"removed": stats.Removed(),
		"errored": stats.Errored,
		"elapsed": stats.Elapsed.String(),
	}, "file processed")
	return stats, nil
}

// collect is the first pass: it classifies every line, counts it, and
// validates each new distinct domain on the bounded worker pool.
func (p *Processor) collect(ctx context.Context, input string, stats *domain.FileStats) (map[string]domain.ValidationResult, error) {
	f, err := os.Open(input)
	if err != nil {
		return nil, domain.NewFileError("open", input, err)
	}
	defer f.Close()

	var mu sync.Mutex
	verdicts := make(map[string]domain.ValidationResult)
	seen := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	scanErr := parsers.Scan(f, func(_ int, _ string, rl domain.RuleLine) error {
		stats.TotalLines++
		switch rl.Kind {
		case domain.LineComment:
			stats.CommentLines++
			return nil
		case domain.LineStructural:
			stats.StructuralLines++
			return nil
		}

		stats.DomainRules++
		stats.Dialects[rl.Dialect.String()]++
		if rl.Exception {
			stats.Exceptions++
			return nil
		}
		if _, dup := seen[rl.Domain]; dup {
			stats.Duplicates++
			return nil
		}
		seen[rl.Domain] = struct{}{}

		if err := gctx.Err(); err != nil {
			return err
		}
		name := rl.Domain
		g.Go(func() error {
			r := p.validator.Validate(gctx, name)
			mu.Lock()
			verdicts[name] = r
			mu.Unlock()
			return nil
		})
		return nil
	})
	waitErr := g.Wait()
	stats.DistinctDomains = len(seen)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf(errCancelled, input, err)
	}
	if scanErr != nil {
		return nil, domain.NewFileError("read", input, scanErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf(errCancelled, input, waitErr)
	}
	return verdicts, nil
}

// filter is the second pass: it re-streams input and copies every line that
// survives into w.
func (p *Processor) filter(ctx context.Context, input string, w io.Writer, verdicts map[string]domain.ValidationResult, stats *domain.FileStats, invalidApexes map[string]struct{}) error {
	f, err := os.Open(input)
	if err != nil {
		return domain.NewFileError("open", input, err)
	}
	defer f.Close()

	err = parsers.Scan(f, func(_ int, raw string, rl domain.RuleLine) error {
		if rl.Filterable() {
			r, ok := verdicts[rl.Domain]
			if !ok {
				// the file grew between passes
				r = p.validator.Validate(ctx, rl.Domain)
			}
			if !r.Valid {
				stats.Invalid++
				if r.Outcome == domain.OutcomeErrored {
					stats.Errored++
				}
				invalidApexes[utils.GetApexDomain(rl.Domain)] = struct{}{}
				return nil
			}
			stats.Valid++
			switch r.Source {
			case domain.SourceWhitelist:
				stats.Whitelisted++
			case domain.SourceCache:
				stats.CacheHits++
			}
		}
		if _, err := io.WriteString(w, raw); err != nil {
			return &writeError{err}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	var we *writeError
	if errors.As(err, &we) {
		return we
	}
	return domain.NewFileError("read", input, err)
}

// writeError marks a failure on the output side of the copy.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// writeAtomic fills a pending file next to output and atomically replaces
// output with it. Output is untouched unless every step succeeds.
func writeAtomic(output string, perm os.FileMode, fill func(w io.Writer) error) error {
	pf, err := renameio.NewPendingFile(output,
		renameio.WithTempDir(filepath.Dir(output)),
		renameio.WithStaticPermissions(perm))
	if err != nil {
		return domain.NewFileError("create", output, err)
	}
	defer func() { _ = pf.Cleanup() }()

	bw := bufio.NewWriterSize(pf, writeBufferSize)
	if err := fill(bw); err != nil {
		var we *writeError
		if errors.As(err, &we) {
			return domain.NewFileError("write", output, we.err)
		}
		return err
	}
	if err := bw.Flush(); err != nil {
		return domain.NewFileError("write", output, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return domain.NewFileError("replace", output, err)
	}
	return nil
}
