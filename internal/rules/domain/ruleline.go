package domain

import "fmt"

// LineKind classifies a single line of a rule file.
type LineKind uint8

const (
	// LineStructural is passed through untouched: blank lines, headers, unknown syntax.
	LineStructural LineKind = iota
	// LineComment is a '!' or '#' comment, passed through untouched.
	LineComment
	// LineDomain carries a domain and is subject to filtering unless it is an exception.
	LineDomain
)

// String returns a stable string representation of the line kind.
func (k LineKind) String() string {
	switch k {
	case LineStructural:
		return "structural"
	case LineComment:
		return "comment"
	case LineDomain:
		return "domain"
	default:
		return fmt.Sprintf("LineKind(%d)", k)
	}
}

// Dialect identifies the rule syntax a domain-bearing line was written in.
type Dialect uint8

const (
	DialectNone Dialect = iota
	DialectAdblock
	DialectAdblockException
	DialectHosts
	DialectPlain
	DialectDomainSuffix
	DialectDomain
	DialectSingbox
	DialectAdclose
	DialectInvizible
	DialectAllowPolicy
	DialectClashPayload
	DialectSuffixWildcard
)

var dialectNames = map[Dialect]string{
	DialectNone:             "none",
	DialectAdblock:          "adblock",
	DialectAdblockException: "adblock-exception",
	DialectHosts:            "hosts",
	DialectPlain:            "plain",
	DialectDomainSuffix:     "domain-suffix",
	DialectDomain:           "domain",
	DialectSingbox:          "singbox",
	DialectAdclose:          "adclose",
	DialectInvizible:        "invizible",
	DialectAllowPolicy:      "allow-policy",
	DialectClashPayload:     "clash-payload",
	DialectSuffixWildcard:   "suffix-wildcard",
}

func (d Dialect) String() string {
	if s, ok := dialectNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Dialect(%d)", d)
}

// RuleLine is the classified form of one input line.
//
// Text is the raw line without its terminator. Domain and Dialect are only
// set for LineDomain. Exception lines are never filtered.
type RuleLine struct {
	Kind      LineKind
	Text      string
	Domain    string
	Dialect   Dialect
	Exception bool
}

// CommentLine builds a comment RuleLine.
func CommentLine(text string) RuleLine {
	return RuleLine{Kind: LineComment, Text: text}
}

// StructuralLine builds a structural RuleLine.
func StructuralLine(text string) RuleLine {
	return RuleLine{Kind: LineStructural, Text: text}
}

// DomainLine builds a domain-bearing RuleLine.
func DomainLine(text, name string, dialect Dialect, exception bool) RuleLine {
	return RuleLine{Kind: LineDomain, Text: text, Domain: name, Dialect: dialect, Exception: exception}
}

// IsDomain reports whether the line carries a domain.
func (l RuleLine) IsDomain() bool { return l.Kind == LineDomain }

// Filterable reports whether the line's survival depends on validation.
func (l RuleLine) Filterable() bool { return l.Kind == LineDomain && !l.Exception }
