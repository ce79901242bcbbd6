package watchdog

import (
	"context"
	"sync/atomic"
	"time"
)

// Nudger is a background goroutine that periodically asks the script
// goroutine to tick its watchdog and clears the start of idle watchdogs.
// It only touches atomics.
type Nudger struct {
	w      *Watchdog
	flag   atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

// StartNudger starts a nudger firing every interval until ctx is done or
// Stop is called.
func StartNudger(ctx context.Context, w *Watchdog, interval time.Duration) *Nudger {
	if interval <= 0 {
		interval = w.Ceiling() / 2
	}
	ctx, cancel := context.WithCancel(ctx)
	n := &Nudger{
		w:      w,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go n.run(ctx, interval)
	return n
}

func (n *Nudger) run(ctx context.Context, interval time.Duration) {
	defer close(n.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.flag.Store(true)
			n.w.ClearIdle()
		}
	}
}

// Take reports whether a nudge is pending and consumes it.
func (n *Nudger) Take() bool {
	if n == nil {
		return false
	}
	return n.flag.Swap(false)
}

// Stop stops the goroutine and waits for it to exit.
func (n *Nudger) Stop() {
	if n == nil {
		return
	}
	n.cancel()
	<-n.done
}
