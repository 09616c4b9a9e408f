package uploads

import (
	"context"
	"sync"
	"time"
)

// stallMonitor runs tick on a fixed interval while at least one holder has
// acquired it. Release of the last holder stops the loop and waits for it,
// so no tick runs after release returns.
type stallMonitor struct {
	interval time.Duration
	tick     func()

	mu     sync.Mutex
	refs   int
	cancel context.CancelFunc
	done   chan struct{}
}

func newStallMonitor(interval time.Duration, tick func()) *stallMonitor {
	return &stallMonitor{interval: interval, tick: tick}
}

func (m *stallMonitor) acquire() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs++
	if m.refs > 1 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go m.loop(ctx, done)
}

func (m *stallMonitor) release() {
	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		return
	}
	m.refs--
	if m.refs > 0 {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *stallMonitor) active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs > 0
}

func (m *stallMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			m.tick()
		}
	}
}
