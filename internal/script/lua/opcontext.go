package lua

import (
	"time"

	"github.com/dshills/scriptbridge/internal/script/watchdog"
)

// DefaultCheckInterval is the number of VM instructions between watchdog
// ticks.
const DefaultCheckInterval = 1000

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// opContext is the context.Context installed on the LState. gopher-lua polls
// Done before every VM instruction, which makes it the operation callback:
// every N-th poll, or after a nudge, it ticks the watchdog on the script
// goroutine. Done returns a closed channel once the watchdog aborts, and the
// VM raises Err as a script error.
type opContext struct {
	w      *watchdog.Watchdog
	nudger *watchdog.Nudger
	where  watchdog.Locator
	now    func() time.Time

	every int
	polls int
}

func newOpContext(w *watchdog.Watchdog, every int, where watchdog.Locator) *opContext {
	if every <= 0 {
		every = DefaultCheckInterval
	}
	return &opContext{
		w:     w,
		where: where,
		now:   time.Now,
		every: every,
	}
}

func (o *opContext) Deadline() (time.Time, bool) { return time.Time{}, false }

func (o *opContext) Done() <-chan struct{} {
	if o.w.Aborted() {
		return closedChan
	}
	o.polls++
	if o.polls < o.every && !o.nudger.Take() {
		return nil
	}
	o.polls = 0
	if o.w.Tick(o.now(), o.where) {
		return nil
	}
	return closedChan
}

func (o *opContext) Err() error {
	if o.w.Aborted() {
		return watchdog.ErrTimeout
	}
	return nil
}

func (o *opContext) Value(any) any { return nil }
