package expect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func required(pattern string, timeout time.Duration) Event {
	return Event{Pattern: MustParsePattern(pattern), Timeout: timeout, Required: true}
}

func optional(pattern string, timeout time.Duration) Event {
	return Event{Pattern: MustParsePattern(pattern), Timeout: timeout}
}

func TestTrack_RequiredEventsInOrderComplete(t *testing.T) {
	tr := NewTrack([]Event{
		required("CALLING", 5*time.Second),
		required("CONFIRMED", 5*time.Second),
		required("DISCONNECTED", 5*time.Second),
	})
	tr.Start(t0)

	assert.Equal(t, Advanced, tr.Feed("Call 0 state changed to CALLING", at(time.Second)))
	assert.Equal(t, Advanced, tr.Feed("Call 0 state changed to CONFIRMED", at(2*time.Second)))
	assert.Equal(t, Completed, tr.Feed("Call 0 state changed to DISCONNECTED", at(3*time.Second)))

	assert.Equal(t, StatusCompleted, tr.Status())
	assert.Equal(t, tr.Len(), tr.Cursor())
	assert.Nil(t, tr.Violation())

	obs := tr.Observations()
	require.Len(t, obs, 3)
	for i, o := range obs {
		assert.Equal(t, i, o.Index)
		assert.False(t, o.Skipped)
		assert.Equal(t, time.Second, o.Elapsed)
	}
}

func TestTrack_IrrelevantLinesAreIgnored(t *testing.T) {
	tr := NewTrack([]Event{required("CONFIRMED", 0)})
	tr.Start(t0)

	assert.Equal(t, Ignored, tr.Feed("Registration complete", at(time.Second)))
	assert.Equal(t, StatusWaiting, tr.Status())
	assert.Equal(t, 0, tr.Cursor())
}

func TestTrack_TerminalStatesAreSticky(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		tr := NewTrack([]Event{required("A", time.Second)})
		tr.Start(t0)
		require.Equal(t, Completed, tr.Feed("A", at(0)))

		assert.Equal(t, Completed, tr.Feed("A", at(time.Second)))
		assert.Equal(t, Completed, tr.CheckTimeout(at(time.Hour)))
		assert.Equal(t, Completed, tr.Finish(at(time.Hour)))
		assert.Len(t, tr.Observations(), 1)
	})

	t.Run("violated", func(t *testing.T) {
		tr := NewTrack([]Event{required("A", time.Second), required("B", time.Second)})
		tr.Start(t0)
		require.Equal(t, Violated, tr.CheckTimeout(at(2*time.Second)))
		v := tr.Violation()

		assert.Equal(t, Violated, tr.Feed("A", at(3*time.Second)))
		assert.Equal(t, Violated, tr.Feed("B", at(3*time.Second)))
		assert.Equal(t, Violated, tr.Finish(at(4*time.Second)))
		assert.Equal(t, v, tr.Violation())
		assert.Equal(t, 0, tr.Cursor())
	})
}

func TestTrack_OptionalEventsMayBeOmitted(t *testing.T) {
	tr := NewTrack([]Event{
		required("CONFIRMED", 5*time.Second),
		optional("ICE negotiation success", 5*time.Second),
		required("DISCONNECTED", 5*time.Second),
	})
	tr.Start(t0)

	assert.Equal(t, Advanced, tr.Feed("CONFIRMED", at(time.Second)))
	assert.Equal(t, Completed, tr.Feed("DISCONNECTED", at(2*time.Second)))

	obs := tr.Observations()
	require.Len(t, obs, 3)
	assert.True(t, obs[1].Skipped)
	assert.Equal(t, "DISCONNECTED", obs[2].Line)
}

func TestTrack_OptionalEventMatchesWhenPresent(t *testing.T) {
	tr := NewTrack([]Event{
		optional("ICE negotiation success", 5*time.Second),
		required("CONFIRMED", 5*time.Second),
	})
	tr.Start(t0)

	assert.Equal(t, Advanced, tr.Feed("ICE negotiation success (2 components)", at(time.Second)))
	assert.Equal(t, Completed, tr.Feed("CONFIRMED", at(2*time.Second)))
	assert.False(t, tr.Observations()[0].Skipped)
}

func TestTrack_LookaheadStopsAtRequiredEvent(t *testing.T) {
	tr := NewTrack([]Event{
		optional("hold", 0),
		required("re-INVITE", 0),
		required("ACK", 0),
	})
	tr.Start(t0)

	// ACK is behind a required event, so the optional skip is not committed.
	assert.Equal(t, Ignored, tr.Feed("ACK sip:bob", at(time.Second)))
	assert.Equal(t, 0, tr.Cursor())

	assert.Equal(t, Advanced, tr.Feed("re-INVITE sent", at(2*time.Second)))
	assert.Equal(t, 2, tr.Cursor())
}

func TestTrack_LookaheadPrefersEarliestMatch(t *testing.T) {
	tr := NewTrack([]Event{
		optional("x", 0),
		optional("media", 0),
		required("media active", 0),
	})
	tr.Start(t0)

	assert.Equal(t, Advanced, tr.Feed("media active", at(time.Second)))
	assert.Equal(t, 2, tr.Cursor())
}

func TestTrack_OrderingIsEnforced(t *testing.T) {
	tr := NewTrack([]Event{
		required("MEDIA_HOLD", 5*time.Second),
		required("ACK sip:", 5*time.Second),
	})
	tr.Start(t0)

	assert.Equal(t, Ignored, tr.Feed("ACK sip:alice@127.0.0.1", at(time.Second)))
	assert.Equal(t, 0, tr.Cursor())
	assert.Equal(t, Ignored, tr.CheckTimeout(at(4*time.Second)))
	assert.Equal(t, Violated, tr.CheckTimeout(at(5*time.Second)))

	v := tr.Violation()
	require.NotNil(t, v)
	assert.Equal(t, 0, v.Index)
	assert.Equal(t, ReasonTimeout, v.Reason)
	assert.Equal(t, "MEDIA_HOLD", v.Event.Label())
}

func TestTrack_TimeoutMonotonicity(t *testing.T) {
	for _, noise := range []int{0, 1, 10, 100} {
		tr := NewTrack([]Event{required("CONFIRMED", 5*time.Second)})
		tr.Start(t0)
		for i := 0; i < noise; i++ {
			tr.Feed("noise", at(time.Duration(i)*time.Millisecond))
		}
		assert.Equal(t, Violated, tr.CheckTimeout(at(5*time.Second+time.Millisecond)), "noise=%d", noise)
	}
}

func TestTrack_LateLineDoesNotRescueExpiredEvent(t *testing.T) {
	tr := NewTrack([]Event{required("CONFIRMED", 5*time.Second)})
	tr.Start(t0)

	assert.Equal(t, Violated, tr.Feed("CONFIRMED", at(6*time.Second)))
	assert.Equal(t, ReasonTimeout, tr.Violation().Reason)
}

func TestTrack_OptionalTimeoutSkipsAndRebasesClock(t *testing.T) {
	tr := NewTrack([]Event{
		optional("ICE", 2*time.Second),
		required("CONFIRMED", 3*time.Second),
	})
	tr.Start(t0)

	assert.Equal(t, Advanced, tr.CheckTimeout(at(2*time.Second)))
	assert.Equal(t, 1, tr.Cursor())

	deadline, ok := tr.Deadline()
	require.True(t, ok)
	assert.Equal(t, at(5*time.Second), deadline)

	// The check cadence does not matter: a late check rebases on the deadline.
	late := NewTrack(tr.events)
	late.Start(t0)
	assert.Equal(t, Violated, late.CheckTimeout(at(5*time.Second)))
	assert.Equal(t, 1, late.Violation().Index)
}

func TestTrack_TrailingOptionalEventsComplete(t *testing.T) {
	t.Run("when the last required event matches", func(t *testing.T) {
		tr := NewTrack([]Event{
			required("CONFIRMED", 5*time.Second),
			optional("ICE negotiation success", 5*time.Second),
			optional("Media for call", 5*time.Second),
		})
		tr.Start(t0)

		assert.Equal(t, Completed, tr.Feed("Call 0 state changed to CONFIRMED", at(time.Second)))
		assert.Equal(t, StatusCompleted, tr.Status())
		assert.Equal(t, 3, tr.Cursor())

		obs := tr.Observations()
		require.Len(t, obs, 3)
		assert.False(t, obs[0].Skipped)
		assert.True(t, obs[1].Skipped)
		assert.True(t, obs[2].Skipped)

		matched, ok := tr.Matched()
		require.True(t, ok)
		assert.Equal(t, 0, matched.Index)
	})

	t.Run("when a timeout skips up to them", func(t *testing.T) {
		tr := NewTrack([]Event{optional("A", time.Second), required("B", 0), optional("C", 0)})
		tr.Start(t0)
		require.Equal(t, Advanced, tr.CheckTimeout(at(time.Second)))
		assert.Equal(t, Completed, tr.Feed("B", at(2*time.Second)))
	})

	t.Run("on start without required events", func(t *testing.T) {
		tr := NewTrack([]Event{optional("ACK sip:", time.Second)})
		assert.Equal(t, Completed, tr.Start(t0))
		assert.True(t, tr.Satisfied())
	})

	t.Run("not before the last required event", func(t *testing.T) {
		tr := NewTrack([]Event{required("A", 0), optional("B", 0), required("C", 0)})
		tr.Start(t0)
		assert.Equal(t, Advanced, tr.Feed("A", at(0)))
		assert.False(t, tr.Satisfied())
		assert.Equal(t, StatusWaiting, tr.Status())
	})
}

func TestTrack_MatchedOnlyReportsTheLatestFeed(t *testing.T) {
	tr := NewTrack([]Event{
		required("CONFIRMED", 0),
		optional("hold", time.Second),
		required("DISCONNECTED", 0),
	})
	tr.Start(t0)

	require.Equal(t, Advanced, tr.Feed("CONFIRMED", at(0)))
	obs, ok := tr.Matched()
	require.True(t, ok)
	assert.Equal(t, 0, obs.Index)

	assert.Equal(t, Ignored, tr.Feed("noise", at(100*time.Millisecond)))
	_, ok = tr.Matched()
	assert.False(t, ok)

	require.Equal(t, Advanced, tr.CheckTimeout(at(2*time.Second)))
	_, ok = tr.Matched()
	assert.False(t, ok, "a skip is not a match")
}

func TestTrack_FinishReasons(t *testing.T) {
	t.Run("mismatch when lines were seen", func(t *testing.T) {
		tr := NewTrack([]Event{required("CONFIRMED", 0)})
		tr.Start(t0)
		tr.Feed("Call 0 state changed to DISCONNECTED", at(time.Second))
		assert.Equal(t, Violated, tr.Finish(at(2*time.Second)))
		assert.Equal(t, ReasonMismatch, tr.Violation().Reason)
	})

	t.Run("stream failure when silent", func(t *testing.T) {
		tr := NewTrack([]Event{required("CONFIRMED", 0)})
		tr.Start(t0)
		assert.Equal(t, Violated, tr.Finish(at(2*time.Second)))
		assert.Equal(t, ReasonStreamEnded, tr.Violation().Reason)
	})

	t.Run("first remaining required event is reported", func(t *testing.T) {
		tr := NewTrack([]Event{optional("A", 0), required("B", 0)})
		tr.Start(t0)
		assert.Equal(t, Violated, tr.Finish(at(time.Second)))
		assert.Equal(t, 1, tr.Violation().Index)
	})
}

func TestTrack_EmptyTrackCompletesOnStart(t *testing.T) {
	tr := NewTrack(nil)
	assert.Equal(t, Completed, tr.Start(t0))
	assert.Equal(t, Completed, tr.Feed("anything", at(time.Second)))
}

func TestTrack_FeedStartsPendingTrack(t *testing.T) {
	tr := NewTrack([]Event{required("A", time.Second)})
	assert.Equal(t, StatusPending, tr.Status())
	assert.Equal(t, Completed, tr.Feed("A", t0))
}

func TestTrack_LastObservationCarriesCaptures(t *testing.T) {
	tr := NewTrack([]Event{{Pattern: MustParsePattern("Call {id} state"), Required: true, Send: "H"}})
	tr.Start(t0)
	require.Equal(t, Completed, tr.Feed("Call 4 state changed", at(time.Second)))

	obs, ok := tr.LastObservation()
	require.True(t, ok)
	assert.Equal(t, "4", obs.Captures["id"])
	assert.Equal(t, "H", tr.Event(obs.Index).Send)
}

func TestTrack_Determinism(t *testing.T) {
	events := []Event{
		optional("ICE", 2*time.Second),
		required("CONFIRMED", 3*time.Second),
		optional("media", time.Second),
	}
	lines := []struct {
		text string
		at   time.Duration
	}{
		{"noise", 100 * time.Millisecond},
		{"Call 0 CONFIRMED", 2500 * time.Millisecond},
		{"other", 2600 * time.Millisecond},
	}

	run := func() (Status, int, []Observation) {
		tr := NewTrack(events)
		tr.Start(t0)
		for _, l := range lines {
			tr.Feed(l.text, at(l.at))
			tr.CheckTimeout(at(l.at))
		}
		tr.CheckTimeout(at(10 * time.Second))
		return tr.Status(), tr.Cursor(), tr.Observations()
	}

	s1, c1, o1 := run()
	s2, c2, o2 := run()
	assert.Equal(t, s1, s2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, o1, o2)
	assert.Equal(t, StatusCompleted, s1)
}
