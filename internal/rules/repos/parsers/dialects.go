package parsers

import (
	"regexp"
	"strings"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

// matcher inspects a trimmed, non-comment line. matched=true claims the line for
// the dialect; an empty or malformed candidate then demotes it to structural.
type matcher func(trimmed string) (candidate string, matched bool)

// dialectRule is one entry of the strategy table.
type dialectRule struct {
	dialect   domain.Dialect
	exception bool
	match     matcher
}

// dialectTable is tried in order, first match wins. Bare domains go last
// because every converter form would otherwise look like a single token.
var dialectTable = []dialectRule{
	{dialect: domain.DialectAdblockException, exception: true, match: adblockMatcher("@@||")},
	{dialect: domain.DialectAdblock, match: adblockMatcher("||")},
	{dialect: domain.DialectHosts, match: matchHosts},
	{dialect: domain.DialectAllowPolicy, exception: true, match: regexMatcher(`(?i)^DOMAIN(?:-SUFFIX)?\s*,\s*([^,\s]+)\s*,\s*DIRECT(?:\s*,.*)?$`, 1)},
	{dialect: domain.DialectDomainSuffix, match: regexMatcher(`(?i)^DOMAIN-SUFFIX\s*,\s*([^,\s]+)\s*,\s*REJECT[\w-]*(?:\s*,.*)?$`, 1)},
	{dialect: domain.DialectDomain, match: regexMatcher(`(?i)^DOMAIN\s*,\s*([^,\s]+)\s*,\s*REJECT[\w-]*(?:\s*,.*)?$`, 1)},
	{dialect: domain.DialectSingbox, match: regexMatcher(`(?i)^domain:\s*([^,\s]+)\s*,\s*policy:\s*reject$`, 1)},
	{dialect: domain.DialectAdclose, match: regexMatcher(`(?i)^block\s+(\S+)$`, 1)},
	{dialect: domain.DialectInvizible, match: regexMatcher(`(?i)^(\S+)\s+block$`, 1)},
	{dialect: domain.DialectClashPayload, match: regexMatcher(`^-\s*['"]?(?:\+\.)?([^'"\s]+)['"]?$`, 1)},
	{dialect: domain.DialectSuffixWildcard, match: regexMatcher(`^\+\.(\S+)$`, 1)},
	{dialect: domain.DialectPlain, match: matchPlain},
}

// sinkholeAddrs are the hosts-file targets treated as block entries.
var sinkholeAddrs = map[string]struct{}{
	"0.0.0.0":   {},
	"127.0.0.1": {},
}

// adblockMatcher matches "<prefix>domain^[|][$modifiers]".
// A rule without the '^' separator is claimed but yields no candidate.
func adblockMatcher(prefix string) matcher {
	return func(trimmed string) (string, bool) {
		if !strings.HasPrefix(trimmed, prefix) {
			return "", false
		}
		body := stripModifiers(trimmed[len(prefix):])
		body = strings.TrimSuffix(body, "|")
		if !strings.HasSuffix(body, "^") {
			return "", true
		}
		return strings.TrimSuffix(body, "^"), true
	}
}

// matchHosts matches "0.0.0.0 domain [# comment]". Lines naming several hosts
// are claimed but not extracted, since they cannot be partially filtered.
func matchHosts(trimmed string) (string, bool) {
	fields := strings.Fields(stripInlineComment(trimmed))
	if len(fields) < 2 {
		return "", false
	}
	if _, ok := sinkholeAddrs[fields[0]]; !ok {
		return "", false
	}
	if len(fields) != 2 {
		return "", true
	}
	return fields[1], true
}

// matchPlain matches a line that is itself a valid domain and nothing else.
func matchPlain(trimmed string) (string, bool) {
	if _, ok := normalizeCandidate(trimmed); !ok {
		return "", false
	}
	return trimmed, true
}

// regexMatcher captures the domain from a fixed group of pattern.
func regexMatcher(pattern string, group int) matcher {
	re := regexp.MustCompile(pattern)
	return func(trimmed string) (string, bool) {
		m := re.FindStringSubmatch(trimmed)
		if m == nil {
			return "", false
		}
		return m[group], true
	}
}
