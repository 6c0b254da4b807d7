package expect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern_Kinds(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    PatternKind
		wantErr bool
	}{
		{"lone star is any", "*", KindAny, false},
		{"plain text is literal", "state changed to CONFIRMED", KindLiteral, false},
		{"star inside text is wildcard", "Call * state changed", KindWildcard, false},
		{"named capture is wildcard", "Call {id} state", KindWildcard, false},
		{"braces without a name stay literal", "SDP {} body", KindLiteral, false},
		{"invalid capture name stays literal", "value {1x}", KindLiteral, false},
		{"regexp prefix", `re:Call \d+`, KindRegexp, false},
		{"empty pattern", "", KindLiteral, true},
		{"empty regexp", "re:", KindLiteral, true},
		{"broken regexp", "re:(", KindLiteral, true},
		{"adjacent wildcards", "a**b", KindLiteral, true},
		{"adjacent named wildcards", "a{x}{y}b", KindLiteral, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePattern(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind())
			assert.Equal(t, tt.input, p.String())
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		line     string
		matched  bool
		captures map[string]string
	}{
		{
			name:    "literal substring",
			pattern: "state changed to CONFIRMED",
			line:    "12:00:01.123 Call 0 state changed to CONFIRMED",
			matched: true,
		},
		{
			name:    "literal absent",
			pattern: "MEDIA_HOLD",
			line:    "ACK sip:127.0.0.1",
		},
		{
			name:    "any matches empty line",
			pattern: "*",
			line:    "",
			matched: true,
		},
		{
			name:     "anonymous wildcard captures",
			pattern:  "Call * state changed to *",
			line:     "Call 3 state changed to CONFIRMED",
			matched:  true,
			captures: map[string]string{"1": "3", "2": "CONFIRMED"},
		},
		{
			name:     "named wildcard captures",
			pattern:  "ICE negotiation success ({n} component",
			line:     "ICE negotiation success (2 component(s))",
			matched:  true,
			captures: map[string]string{"n": "2"},
		},
		{
			name:     "leading wildcard captures prefix",
			pattern:  "*ACK sip:",
			line:     "tx ACK sip:bob",
			matched:  true,
			captures: map[string]string{"1": "tx "},
		},
		{
			name:     "greedy span takes last anchor",
			pattern:  "a*b",
			line:     "a1b2b",
			matched:  true,
			captures: map[string]string{"1": "1b2"},
		},
		{
			name:    "greedy limitation rejects a backtracking match",
			pattern: "a*b*c",
			line:    "a1b2c b",
		},
		{
			name:    "anchors must appear in order",
			pattern: "CONFIRMED * Call",
			line:    "Call 0 state changed to CONFIRMED",
		},
		{
			name:     "regexp named groups",
			pattern:  `re:Call (?P<id>\d+) state changed to (?P<state>[A-Z]+)`,
			line:     "Call 7 state changed to DISCONNECTED",
			matched:  true,
			captures: map[string]string{"id": "7", "state": "DISCONNECTED"},
		},
		{
			name:    "regexp without match",
			pattern: `re:^ACK`,
			line:    "INVITE then ACK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := MustParsePattern(tt.pattern)
			res := Match(tt.line, p)
			assert.Equal(t, tt.matched, res.Matched)
			if tt.captures != nil {
				assert.Equal(t, tt.captures, res.Captures)
			}
		})
	}
}

func TestMatch_ZeroPatternNeverMatches(t *testing.T) {
	var p Pattern
	assert.True(t, p.IsZero())
	assert.False(t, Match("anything", p).Matched)
}

func TestMatch_IsPure(t *testing.T) {
	p := MustParsePattern("Call {id} state")
	first := Match("Call 1 state", p)
	second := Match("Call 1 state", p)
	assert.Equal(t, first, second)

	first.Captures["id"] = "mutated"
	assert.Equal(t, "1", Match("Call 1 state", p).Captures["id"])
}
