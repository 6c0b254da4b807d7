package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"sipharness/internal/results"

	"github.com/mattn/go-runewidth"
)

// WriteFailures writes a plain-text block for every failing verdict: the
// failing roles with the event index, pattern and failure kind, followed by
// scenario-level errors.
func WriteFailures(w io.Writer, verdicts []*results.Verdict) error {
	var b strings.Builder
	for _, v := range verdicts {
		if v.Passed {
			continue
		}
		fmt.Fprintf(&b, "FAIL %s", v.Scenario)
		if v.Path != "" {
			fmt.Fprintf(&b, " (%s)", v.Path)
		}
		b.WriteString("\n")
		for _, r := range v.Failing() {
			b.WriteString("  " + describeFailure(r) + "\n")
			if r.Reason != "" {
				fmt.Fprintf(&b, "    reason: %s\n", r.Reason)
			}
		}
		for _, e := range v.Errors {
			fmt.Fprintf(&b, "  error: %s\n", e)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func describeFailure(r results.InstanceResult) string {
	parts := []string{r.Role + ":", string(r.Outcome)}
	if r.Kind != results.KindNone {
		parts = append(parts, string(r.Kind))
	}
	if r.EventIndex != results.NoEvent {
		parts = append(parts, "event="+strconv.Itoa(r.EventIndex))
	}
	if r.Pattern != "" {
		parts = append(parts, "pattern="+strconv.Quote(r.Pattern))
	}
	if r.Total > 0 {
		parts = append(parts, fmt.Sprintf("progress=%d/%d", r.Matched, r.Total))
	}
	return strings.Join(parts, " ")
}

// excerpt returns the last n lines, each truncated to width display cells.
func excerpt(lines []string, n, width int) []string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if runewidth.StringWidth(l) > width {
			l = runewidth.Truncate(l, width, "…")
		}
		out = append(out, l)
	}
	return out
}
