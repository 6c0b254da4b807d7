package expect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PatternKind identifies how a Pattern is matched against a line.
type PatternKind int

const (
	// KindLiteral matches when the line contains the pattern text.
	KindLiteral PatternKind = iota
	// KindWildcard interleaves literal anchors with "*" or "{name}" spans.
	KindWildcard
	// KindAny always matches. Written as a lone "*".
	KindAny
	// KindRegexp is a Go regular expression, written with a "re:" prefix.
	KindRegexp
)

func (k PatternKind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindWildcard:
		return "wildcard"
	case KindAny:
		return "any"
	case KindRegexp:
		return "regexp"
	default:
		return "unknown"
	}
}

// RegexpPrefix marks a pattern as a regular expression.
const RegexpPrefix = "re:"

type token struct {
	literal  string
	wildcard bool
	name     string
}

// Pattern is a parsed, immutable match expression.
type Pattern struct {
	raw    string
	kind   PatternKind
	tokens []token
	re     *regexp.Regexp
}

// MatchResult is the outcome of matching a single line.
type MatchResult struct {
	Matched  bool
	Captures map[string]string
}

// ParsePattern parses the textual form used in scenario files.
func ParsePattern(s string) (Pattern, error) {
	p := Pattern{raw: s}

	switch {
	case s == "*":
		p.kind = KindAny
		return p, nil
	case strings.HasPrefix(s, RegexpPrefix):
		expr := strings.TrimPrefix(s, RegexpPrefix)
		if expr == "" {
			return Pattern{}, fmt.Errorf("empty regular expression")
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return Pattern{}, fmt.Errorf("invalid regular expression %q: %w", expr, err)
		}
		p.kind = KindRegexp
		p.re = re
		return p, nil
	case s == "":
		return Pattern{}, fmt.Errorf("empty pattern")
	}

	tokens, err := tokenize(s)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", s, err)
	}
	if len(tokens) == 1 && !tokens[0].wildcard {
		p.kind = KindLiteral
	} else {
		p.kind = KindWildcard
	}
	p.tokens = tokens
	return p, nil
}

// MustParsePattern is like ParsePattern but panics on error.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

func tokenize(s string) ([]token, error) {
	var tokens []token
	var lit strings.Builder
	anon := 0

	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, token{literal: lit.String()})
			lit.Reset()
		}
	}
	pushWildcard := func(name string) error {
		flush()
		if n := len(tokens); n > 0 && tokens[n-1].wildcard {
			return fmt.Errorf("adjacent wildcards before %q", name)
		}
		tokens = append(tokens, token{wildcard: true, name: name})
		return nil
	}

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '*':
			anon++
			if err := pushWildcard(strconv.Itoa(anon)); err != nil {
				return nil, err
			}
		case '{':
			end := strings.IndexByte(s[i:], '}')
			name := ""
			if end > 0 {
				name = s[i+1 : i+end]
			}
			if end < 0 || !validCaptureName(name) {
				lit.WriteByte(c)
				continue
			}
			if err := pushWildcard(name); err != nil {
				return nil, err
			}
			i += end
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return tokens, nil
}

func validCaptureName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// String returns the pattern as written.
func (p Pattern) String() string { return p.raw }

// Kind reports how the pattern is matched.
func (p Pattern) Kind() PatternKind { return p.kind }

// IsZero reports whether p was never parsed.
func (p Pattern) IsZero() bool { return p.raw == "" && p.kind == KindLiteral }

// Match decides whether line satisfies pattern and extracts captured spans.
// Wildcard spans are greedy: the anchor following a wildcard is taken at its
// last occurrence, so patterns with several wildcards may not find a split
// that a backtracking matcher would.
func Match(line string, p Pattern) MatchResult {
	switch p.kind {
	case KindAny:
		return MatchResult{Matched: true}
	case KindRegexp:
		return matchRegexp(line, p.re)
	case KindLiteral:
		if p.IsZero() {
			return MatchResult{}
		}
		return MatchResult{Matched: strings.Contains(line, p.tokens[0].literal)}
	default:
		return matchWildcard(line, p.tokens)
	}
}

func matchRegexp(line string, re *regexp.Regexp) MatchResult {
	if re == nil {
		return MatchResult{}
	}
	m := re.FindStringSubmatch(line)
	if m == nil {
		return MatchResult{}
	}
	res := MatchResult{Matched: true}
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		if res.Captures == nil {
			res.Captures = make(map[string]string)
		}
		res.Captures[name] = m[i]
	}
	return res
}

func matchWildcard(line string, tokens []token) MatchResult {
	captures := make(map[string]string)
	pos := 0
	var open *token // wildcard waiting for its closing anchor
	first := true

	for i := range tokens {
		t := &tokens[i]
		if t.wildcard {
			open = t
			continue
		}

		rest := line[pos:]
		var idx int
		if open == nil && first {
			// A leading anchor may sit anywhere in the line.
			idx = strings.Index(rest, t.literal)
		} else {
			idx = strings.LastIndex(rest, t.literal)
		}
		if idx < 0 {
			return MatchResult{}
		}
		if open != nil {
			captures[open.name] = rest[:idx]
			open = nil
		}
		pos += idx + len(t.literal)
		first = false
	}

	if open != nil {
		captures[open.name] = line[pos:]
	}
	return MatchResult{Matched: true, Captures: captures}
}
