package parsers

import (
	"bufio"
	"io"
	"strings"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// Extract classifies a single line (without its terminator).
//
// Rules:
//   - blank lines are structural; lines starting with '!' or '#' are comments
//   - the dialect table is tried in priority order, first match wins
//   - a matched line whose candidate fails normalization is demoted to structural
//   - unknown syntax is structural, never dropped
func Extract(line string) domain.RuleLine {
	trimmed := strings.TrimSpace(stripLineBOM(line))

	if isEmpty, isComment := classifyLine(trimmed); isEmpty || isComment {
		if isComment {
			return domain.CommentLine(line)
		}
		return domain.StructuralLine(line)
	}

	for _, rule := range dialectTable {
		candidate, matched := rule.match(trimmed)
		if !matched {
			continue
		}
		name, ok := normalizeCandidate(candidate)
		if !ok {
			return domain.StructuralLine(line)
		}
		return domain.DomainLine(line, name, rule.dialect, rule.exception)
	}
	return domain.StructuralLine(line)
}

// LineFunc receives each line of a stream: its 1-based number, the raw text
// including the original terminator, and its classification.
type LineFunc func(lineNum int, raw string, rl domain.RuleLine) error

// Scan streams r line by line, classifying each line with Extract. Lines of any
// length are supported and terminators are preserved in raw, so concatenating
// every raw value reproduces the input byte for byte.
func Scan(r io.Reader, fn LineFunc) error {
	br := bufio.NewReaderSize(r, 64*1024)
	lineNum := 0
	for {
		raw, err := br.ReadString('\n')
		if len(raw) > 0 {
			lineNum++
			text := raw[:len(raw)-terminatorLen(raw)]
			if ferr := fn(lineNum, raw, Extract(text)); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
