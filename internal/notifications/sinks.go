package notifications

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// WriterSink prints toasts as single lines, e.g. to a terminal.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Deliver(t Toast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "[%s] %s\n", strings.ToUpper(string(t.Level)), t.Message)
}

// Recent keeps the last few toasts for the status view.
type Recent struct {
	mu    sync.Mutex
	limit int
	items []Toast
}

func NewRecent(limit int) *Recent {
	if limit <= 0 {
		limit = 20
	}
	return &Recent{limit: limit}
}

func (r *Recent) Deliver(t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, t)
	if over := len(r.items) - r.limit; over > 0 {
		r.items = append(r.items[:0], r.items[over:]...)
	}
}

// Items returns the retained toasts, oldest first.
func (r *Recent) Items() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.items...)
}
