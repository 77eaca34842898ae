package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// Format selects the report encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// FormatFromPath picks the format from a file extension; unknown extensions use JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".txt":
		return FormatText
	default:
		return FormatJSON
	}
}

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown report format %q", domain.ErrConfiguration, s)
	}
}

// Encode writes reports to w in the given format. A single report is encoded
// as an object; several as a list.
func Encode(w io.Writer, f Format, reports ...domain.Report) error {
	var v any = reports
	if len(reports) == 1 {
		v = reports[0]
	}
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatText:
		for i, r := range reports {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := writeText(w, r); err != nil {
				return err
			}
		}
		return nil
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// writeText renders a compact table, one row per file plus totals.
func writeText(w io.Writer, r domain.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\tstarted %s\telapsed %s\n", r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Elapsed.Round(1e6))
	fmt.Fprintln(tw, "FILE\tLINES\tDOMAINS\tKEPT\tREMOVED\tERRORED\tSTATUS")
	for _, f := range r.Files {
		status := "ok"
		if f.Failed() {
			status = "failed: " + f.Error
		}
		s := f.Stats
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", s.Input, s.TotalLines, s.DistinctDomains, s.Valid, s.Removed(), s.Errored, status)
	}
	t := r.Totals
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t%d\t%d ok, %d failed\n", t.TotalLines, t.DistinctDomains, t.Valid, t.Removed(), t.Errored, r.Succeeded, r.Failed)
	if len(t.Dialects) > 0 {
		names := make([]string, 0, len(t.Dialects))
		for n := range t.Dialects {
			names = append(names, n)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, n := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", n, t.Dialects[n]))
		}
		fmt.Fprintf(tw, "dialects\t%s\n", strings.Join(parts, " "))
	}
	c := r.Cache
	fmt.Fprintf(tw, "cache\t%d entries, %d hits, %d misses\n", c.Entries, c.Hits, c.Misses)
	return tw.Flush()
}

const reportPerm = 0o644

// Writer saves the run report to a file. It is a best-effort report sink.
type Writer struct {
	Path   string
	Format Format // empty derives the format from Path
}

// NewWriter returns a Writer whose format follows the file extension.
func NewWriter(path string) *Writer {
	return &Writer{Path: path, Format: FormatFromPath(path)}
}

func (w *Writer) Name() string { return "report" }

// Publish writes r to w.Path, atomically replacing any previous file.
func (w *Writer) Publish(r domain.Report) error {
	f := w.Format
	if f == "" {
		f = FormatFromPath(w.Path)
	}
	pf, err := renameio.NewPendingFile(w.Path,
		renameio.WithTempDir(filepath.Dir(w.Path)),
		renameio.WithPermissions(reportPerm))
	if err != nil {
		return domain.NewFileError("create", w.Path, err)
	}
	defer func() { _ = pf.Cleanup() }()

	if err := Encode(pf, f, r); err != nil {
		return domain.NewFileError("write", w.Path, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return domain.NewFileError("replace", w.Path, err)
	}
	return nil
}
