// Package watchdog bounds how long a single top-level script execution may
// run before the host is asked whether to continue.
//
// A Watchdog is driven by Tick from the goroutine running the script. The
// first tick of an execution records its start; a later tick past
// start+ceiling asks the host hook. The hook returning true resets the start
// and lets the script continue; false aborts it, and the abort stays in
// force until the next top-level execution begins.
package watchdog

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultCeiling is the default run time allowed before the hook is asked.
const DefaultCeiling = 5 * time.Second

// ErrTimeout is the cause of an execution aborted by the watchdog.
var ErrTimeout = errors.New("script execution timed out")

// Hook is asked whether a long-running script may continue. label and line
// locate the script frame being executed.
type Hook func(label string, line int) bool

// Locator reports the script frame being executed. It is only called when
// the hook is about to be asked.
type Locator func() (label string, line int)

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithClock replaces the time source used to reset the start after the hook
// allows a script to continue.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) {
		w.now = now
	}
}

// WithHook sets the host hook.
func WithHook(h Hook) Option {
	return func(w *Watchdog) {
		w.hook = h
	}
}

// Watchdog tracks the run time of the current top-level execution.
type Watchdog struct {
	ceiling time.Duration
	hook    Hook
	now     func() time.Time

	// start is the first tick of the execution in unix nanoseconds; zero
	// means unset. It is cleared from other goroutines through ClearIdle.
	start   atomic.Int64
	running atomic.Bool

	aborted  bool
	handling bool
}

// New returns a watchdog with the given ceiling. A non-positive ceiling
// selects DefaultCeiling.
func New(ceiling time.Duration, opts ...Option) *Watchdog {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	w := &Watchdog{
		ceiling: ceiling,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Ceiling returns the configured ceiling.
func (w *Watchdog) Ceiling() time.Duration { return w.ceiling }

// SetHook replaces the host hook. A nil hook lets every script continue.
func (w *Watchdog) SetHook(h Hook) { w.hook = h }

// Begin marks the start of a top-level execution. It lifts a previous abort
// and clears the recorded start.
func (w *Watchdog) Begin() {
	w.aborted = false
	w.start.Store(0)
	w.running.Store(true)
}

// End marks the end of a top-level execution.
func (w *Watchdog) End() {
	w.running.Store(false)
}

// Running reports whether a top-level execution is in progress.
func (w *Watchdog) Running() bool { return w.running.Load() }

// Aborted reports whether the current execution has been aborted.
func (w *Watchdog) Aborted() bool { return w.aborted }

// ClearIdle clears the recorded start if no execution is in progress. It is
// safe to call from any goroutine.
func (w *Watchdog) ClearIdle() {
	if !w.running.Load() {
		w.start.Store(0)
	}
}

// Tick observes the script at time now and reports whether it may continue.
func (w *Watchdog) Tick(now time.Time, where Locator) bool {
	if w.aborted {
		return false
	}

	start := w.start.Load()
	if start == 0 {
		w.start.Store(now.UnixNano())
		return true
	}
	if now.UnixNano() <= start+int64(w.ceiling) {
		return true
	}

	if w.handling {
		// Expired again while the hook is still deciding.
		Logger().Warn("script blocked during blocked-script handling, aborting")
		w.aborted = true
		return false
	}

	var label string
	var line int
	if where != nil {
		label, line = where()
	}
	Logger().Debug("script runs too long",
		zap.String("label", label),
		zap.Int("line", line),
		zap.Duration("elapsed", time.Duration(now.UnixNano()-start)))

	if w.hook == nil {
		w.start.Store(w.now().UnixNano())
		return true
	}

	w.handling = true
	cont := w.hook(label, line)
	w.handling = false

	if cont {
		w.start.Store(w.now().UnixNano())
		return true
	}
	w.aborted = true
	return false
}
