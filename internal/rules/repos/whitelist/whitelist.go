package whitelist

import (
	"fmt"
	"io"
	"os"

	"github.com/haukened/rr-rulecheck/internal/rules/common/log"
	"github.com/haukened/rr-rulecheck/internal/rules/common/utils"
	"github.com/haukened/rr-rulecheck/internal/rules/domain"
	"github.com/haukened/rr-rulecheck/internal/rules/repos/parsers"
)

// Source is one whitelist input. When Reader is nil, Name is opened as a file path.
type Source struct {
	Name   string
	Reader io.Reader
}

// Options configures a Builder.
type Options struct {
	Logger log.Logger
}

// Set is a read-only set of normalized domains.
type Set struct {
	names map[string]struct{}
}

// Contains reports whether name is whitelisted.
func (s *Set) Contains(name string) bool {
	if s == nil || len(s.names) == 0 {
		return false
	}
	_, ok := s.names[utils.CanonicalDNSName(name)]
	return ok
}

// Len returns the number of distinct whitelisted domains.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Builder accumulates whitelist entries. It is not safe for concurrent use;
// the Set it builds is.
type Builder struct {
	logger   log.Logger
	names    map[string]struct{}
	readable int
}

// NewBuilder returns an empty Builder.
func NewBuilder(opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Builder{logger: logger, names: make(map[string]struct{})}
}

// AddSource streams src and adds every domain-bearing line. An empty source is
// fine; a source that cannot be opened or read returns a FileIOError.
func (b *Builder) AddSource(src Source) error {
	added, err := b.scan(src, func(rl domain.RuleLine) bool { return rl.IsDomain() })
	if err != nil {
		return err
	}
	b.readable++
	b.logger.Debug(map[string]any{"source": src.Name, "added": added}, "whitelist source loaded")
	return nil
}

// AddExceptions streams a rule file and adds only its exception rules.
// Exception sources do not count towards the readable whitelist sources.
func (b *Builder) AddExceptions(src Source) (int, error) {
	return b.scan(src, func(rl domain.RuleLine) bool { return rl.IsDomain() && rl.Exception })
}

func (b *Builder) scan(src Source, keep func(domain.RuleLine) bool) (int, error) {
	r := src.Reader
	if r == nil {
		f, err := os.Open(src.Name)
		if err != nil {
			return 0, domain.NewFileError("open", src.Name, err)
		}
		defer f.Close()
		r = f
	}

	added := 0
	err := parsers.Scan(r, func(_ int, _ string, rl domain.RuleLine) error {
		if !keep(rl) {
			return nil
		}
		if _, dup := b.names[rl.Domain]; !dup {
			b.names[rl.Domain] = struct{}{}
			added++
		}
		return nil
	})
	if err != nil {
		return added, domain.NewFileError("read", src.Name, err)
	}
	return added, nil
}

// Build freezes the accumulated entries into a Set. It fails with
// ErrConfiguration when no whitelist source could be read.
func (b *Builder) Build() (*Set, error) {
	if b.readable == 0 {
		return nil, fmt.Errorf("%w: no readable whitelist source", domain.ErrConfiguration)
	}
	names := make(map[string]struct{}, len(b.names))
	for n := range b.names {
		names[n] = struct{}{}
	}
	b.logger.Info(map[string]any{"domains": len(names), "sources": b.readable}, "whitelist built")
	return &Set{names: names}, nil
}
