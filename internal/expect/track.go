package expect

import (
	"fmt"
	"time"
)

// Event is one expected entry of a track.
type Event struct {
	// Name is an optional label used in reports.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Pattern is matched against each output line.
	Pattern Pattern `yaml:"-" json:"-"`
	// Timeout bounds the wait for this event, measured from the moment the
	// previous event matched (or the track started). Zero waits forever.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Required events fail the track when missed; optional ones are skipped.
	Required bool `yaml:"required" json:"required"`
	// Send is written to the instance's stdin once the event matched.
	Send string `yaml:"send,omitempty" json:"send,omitempty"`
}

// Label returns the event name, falling back to the pattern text.
func (e Event) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Pattern.String()
}

// FeedResult is the outcome of a single Feed or CheckTimeout call.
type FeedResult int

const (
	// Ignored means the line did not concern the awaited event.
	Ignored FeedResult = iota
	// Advanced means the cursor moved but events remain.
	Advanced
	// Violated means the track failed; it is terminal.
	Violated
	// Completed means every event was satisfied or skipped; it is terminal.
	Completed
)

func (r FeedResult) String() string {
	switch r {
	case Ignored:
		return "Ignored"
	case Advanced:
		return "Advanced"
	case Violated:
		return "Violated"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Status is the lifecycle state of a track.
type Status int

const (
	StatusPending Status = iota
	StatusWaiting
	StatusCompleted
	StatusViolated
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusWaiting:
		return "Waiting"
	case StatusCompleted:
		return "Completed"
	case StatusViolated:
		return "Violated"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusViolated
}

// ViolationReason tells why a track was violated.
type ViolationReason int

const (
	// ReasonTimeout: a required event's deadline elapsed.
	ReasonTimeout ViolationReason = iota
	// ReasonMismatch: output arrived but never matched before the stream ended.
	ReasonMismatch
	// ReasonStreamEnded: the stream ended with no output while waiting.
	ReasonStreamEnded
)

func (r ViolationReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonMismatch:
		return "mismatch"
	case ReasonStreamEnded:
		return "stream ended"
	default:
		return "unknown"
	}
}

// Violation describes the event that failed a track.
type Violation struct {
	Index   int
	Event   Event
	Reason  ViolationReason
	Elapsed time.Duration
}

func (v Violation) Error() string {
	return fmt.Sprintf("event %d (%s): %s after %s", v.Index, v.Event.Label(), v.Reason, v.Elapsed)
}

// Observation records how one event was resolved.
type Observation struct {
	Index    int
	Line     string
	Captures map[string]string
	Elapsed  time.Duration
	Skipped  bool
}

// Track is an ordered, timed sequence of expected events for one instance.
// It is not safe for concurrent use; the owning monitor serialises calls.
type Track struct {
	events    []Event
	cursor    int
	status    Status
	waitStart time.Time
	ignored   int
	// matched is the event matched by the latest Feed, or -1.
	matched int

	violation    *Violation
	observations []Observation
}

// NewTrack creates a pending track over events.
func NewTrack(events []Event) *Track {
	evs := make([]Event, len(events))
	copy(evs, events)
	return &Track{events: evs, matched: -1}
}

// Start begins the wait for the first event. A track without required
// events completes immediately. Calling Start twice has no effect.
func (t *Track) Start(now time.Time) FeedResult {
	if t.status != StatusPending {
		return t.current()
	}
	t.waitStart = now
	t.status = StatusWaiting
	if t.settle(now) {
		return Completed
	}
	return Ignored
}

// Feed offers one output line to the track.
//
// A line that does not match the awaited optional event is tried against the
// events after it. The skip is only committed when a later event matches,
// the earliest such event wins, and a required event ends the lookahead.
func (t *Track) Feed(line string, now time.Time) FeedResult {
	t.matched = -1
	if t.status == StatusPending {
		t.Start(now)
	}
	if t.status.Terminal() {
		return t.current()
	}
	// Deadlines that passed before this line arrived take precedence.
	if res := t.CheckTimeout(now); res == Violated || res == Completed {
		return res
	}

	for i := t.cursor; i < len(t.events); i++ {
		ev := t.events[i]
		m := Match(line, ev.Pattern)
		if m.Matched {
			for j := t.cursor; j < i; j++ {
				t.observations = append(t.observations, Observation{Index: j, Skipped: true, Elapsed: now.Sub(t.waitStart)})
			}
			t.observations = append(t.observations, Observation{
				Index:    i,
				Line:     line,
				Captures: m.Captures,
				Elapsed:  now.Sub(t.waitStart),
			})
			t.matched = i
			t.cursor = i + 1
			t.waitStart = now
			t.ignored = 0
			if t.settle(now) {
				return Completed
			}
			return Advanced
		}
		if ev.Required {
			break
		}
	}

	t.ignored++
	return Ignored
}

// CheckTimeout applies deadlines at now. A required event past its deadline
// violates the track; an optional one is skipped and the wait for the next
// event starts at the skipped event's deadline.
func (t *Track) CheckTimeout(now time.Time) FeedResult {
	t.matched = -1
	if t.status != StatusWaiting {
		return t.current()
	}

	skipped := false
	for t.cursor < len(t.events) {
		ev := t.events[t.cursor]
		if ev.Timeout <= 0 {
			break
		}
		deadline := t.waitStart.Add(ev.Timeout)
		if now.Before(deadline) {
			break
		}
		if ev.Required {
			t.violate(ReasonTimeout, now)
			return Violated
		}
		t.observations = append(t.observations, Observation{Index: t.cursor, Skipped: true, Elapsed: ev.Timeout})
		t.cursor++
		t.waitStart = deadline
		t.ignored = 0
		skipped = true
	}

	if t.settle(now) {
		return Completed
	}
	if skipped {
		return Advanced
	}
	return Ignored
}

// Finish tells the track that no more output will arrive. Remaining optional
// events are skipped; a remaining required event violates the track with
// ReasonMismatch when lines were seen while waiting for it, otherwise
// ReasonStreamEnded.
func (t *Track) Finish(now time.Time) FeedResult {
	t.matched = -1
	if t.status == StatusPending {
		t.Start(now)
	}
	if t.status.Terminal() {
		return t.current()
	}
	if res := t.CheckTimeout(now); res == Violated || res == Completed {
		return res
	}

	for i := t.cursor; i < len(t.events); i++ {
		if t.events[i].Required {
			t.cursor = i
			reason := ReasonStreamEnded
			if t.ignored > 0 {
				reason = ReasonMismatch
			}
			t.violate(reason, now)
			return Violated
		}
	}
	t.settle(now)
	return Completed
}

// Satisfied reports whether no required event remains to be matched.
func (t *Track) Satisfied() bool {
	if t.status == StatusViolated {
		return false
	}
	for i := t.cursor; i < len(t.events); i++ {
		if t.events[i].Required {
			return false
		}
	}
	return true
}

// settle completes the track once no required event remains. Trailing
// optional events are recorded as skipped.
func (t *Track) settle(now time.Time) bool {
	if !t.Satisfied() {
		return false
	}
	for ; t.cursor < len(t.events); t.cursor++ {
		t.observations = append(t.observations, Observation{Index: t.cursor, Skipped: true, Elapsed: now.Sub(t.waitStart)})
	}
	t.status = StatusCompleted
	return true
}

func (t *Track) violate(reason ViolationReason, now time.Time) {
	t.status = StatusViolated
	t.violation = &Violation{
		Index:   t.cursor,
		Event:   t.events[t.cursor],
		Reason:  reason,
		Elapsed: now.Sub(t.waitStart),
	}
}

func (t *Track) current() FeedResult {
	switch t.status {
	case StatusCompleted:
		return Completed
	case StatusViolated:
		return Violated
	default:
		return Ignored
	}
}

// Status returns the lifecycle state.
func (t *Track) Status() Status { return t.status }

// Cursor returns the index of the awaited event, or Len when done.
func (t *Track) Cursor() int { return t.cursor }

// Len returns the number of events.
func (t *Track) Len() int { return len(t.events) }

// Event returns the i-th event.
func (t *Track) Event(i int) Event { return t.events[i] }

// Violation returns the failure, or nil.
func (t *Track) Violation() *Violation { return t.violation }

// Deadline returns when the awaited event times out, if it has a timeout.
func (t *Track) Deadline() (time.Time, bool) {
	if t.status != StatusWaiting || t.cursor >= len(t.events) {
		return time.Time{}, false
	}
	ev := t.events[t.cursor]
	if ev.Timeout <= 0 {
		return time.Time{}, false
	}
	return t.waitStart.Add(ev.Timeout), true
}

// Observations returns a copy of every resolved event in resolution order.
func (t *Track) Observations() []Observation {
	out := make([]Observation, len(t.observations))
	copy(out, t.observations)
	return out
}

// Matched returns the observation of the event matched by the latest Feed.
// Events skipped in the same call are not reported.
func (t *Track) Matched() (Observation, bool) {
	if t.matched < 0 {
		return Observation{}, false
	}
	for i := len(t.observations) - 1; i >= 0; i-- {
		if o := t.observations[i]; o.Index == t.matched && !o.Skipped {
			return o, true
		}
	}
	return Observation{}, false
}

// LastObservation returns the most recently resolved event.
func (t *Track) LastObservation() (Observation, bool) {
	if len(t.observations) == 0 {
		return Observation{}, false
	}
	return t.observations[len(t.observations)-1], true
}
