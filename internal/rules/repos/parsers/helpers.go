package parsers

import (
	"strings"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// stripLineBOM removes a UTF-8 byte order mark from the start of a line.
func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// classifyLine reports whether a trimmed line is blank or a whole-line comment.
// Comments start with '!' (AdBlock) or '#' (hosts and most converter dialects).
func classifyLine(trimmed string) (isEmpty bool, isComment bool) {
	if trimmed == "" {
		return true, false
	}
	return false, trimmed[0] == '!' || trimmed[0] == '#'
}

// stripInlineComment removes an inline '#' comment.
func stripInlineComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// stripModifiers removes an AdBlock "$modifier,list" tail.
func stripModifiers(body string) string {
	if idx := strings.IndexByte(body, '$'); idx >= 0 {
		return body[:idx]
	}
	return body
}

// normalizeCandidate applies the single canonical normalization to an extracted
// candidate. Anything that still carries rule syntax ('/', '*', ':', '^', '|',
// '~', '#', '$' or whitespace) is rejected rather than repaired.
func normalizeCandidate(raw string) (string, bool) {
	if raw == "" || strings.ContainsAny(raw, "/*:^|~#$ \t") {
		return "", false
	}
	return domain.NormalizeName(raw)
}

// terminatorLen returns the length of the "\n" or "\r\n" suffix of raw.
func terminatorLen(raw string) int {
	switch {
	case strings.HasSuffix(raw, "\r\n"):
		return 2
	case strings.HasSuffix(raw, "\n"):
		return 1
	default:
		return 0
	}
}
