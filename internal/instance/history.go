package instance

import "sync"

// history keeps the most recent lines of output in a ring.
type history struct {
	mu    sync.Mutex
	lines []Line
	next  int
	full  bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 1
	}
	return &history{lines: make([]Line, size)}
}

func (h *history) add(l Line) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines[h.next] = l
	h.next = (h.next + 1) % len(h.lines)
	if h.next == 0 {
		h.full = true
	}
}

// snapshot returns the kept lines, oldest first.
func (h *history) snapshot() []Line {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]Line, h.next)
		copy(out, h.lines[:h.next])
		return out
	}
	out := make([]Line, 0, len(h.lines))
	out = append(out, h.lines[h.next:]...)
	out = append(out, h.lines[:h.next]...)
	return out
}
