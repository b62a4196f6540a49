package reactor

import (
	"os"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	stumpy "github.com/joeycumines/logiface-stumpy"
)

// Diagnostics is the reactor's ambient logging surface. It is intentionally
// narrow: the reactor only ever needs to report three kinds of event —
// a subsystem failing, an invariant being violated, and a GC collection
// running — everything else (script-level console output) belongs to the
// interpreter binding, not the reactor.
type Diagnostics interface {
	SubsystemFailed(name string, err error)
	InvariantViolated(msg string)
	GCCollected(stats GCStats)
}

// GCStats summarizes one [Loop] collection for diagnostics.
type GCStats struct {
	LiveHandles    int
	ForwardedRoots int
	BytesReclaimed int64
}

// stumpyDiagnostics is the default [Diagnostics] implementation, backed by
// github.com/joeycumines/logiface with the logiface-stumpy JSON encoder —
// the same structured-logging stack the rest of the example pack uses, wired
// here for real rather than only inside test helpers.
type stumpyDiagnostics struct {
	log     *logiface.Logger[*stumpy.Event]
	limiter *catrate.Limiter
}

// NewStumpyDiagnostics builds the default structured-logging [Diagnostics],
// writing newline-delimited JSON to w (os.Stderr if nil). [New] uses it,
// with the [WithGCRateLimit] windows, when no [WithDiagnostics] option is
// given. Repeated SubsystemError and GC-collection diagnostics are
// throttled through a
// go-catrate limiter configured with rateWindows (e.g.
// {time.Second: 1, time.Minute: 20}); a nil/empty map disables throttling.
func NewStumpyDiagnostics(w *os.File, rateWindows map[time.Duration]int) Diagnostics {
	if w == nil {
		w = os.Stderr
	}
	logger := logiface.New[*stumpy.Event](
		stumpy.WithStumpy(stumpy.WithWriter(w)),
	)
	d := &stumpyDiagnostics{log: logger}
	if len(rateWindows) > 0 {
		d.limiter = catrate.NewLimiter(rateWindows)
	}
	return d
}

func (d *stumpyDiagnostics) allow(category string) bool {
	if d.limiter == nil {
		return true
	}
	_, ok := d.limiter.Allow(category)
	return ok
}

func (d *stumpyDiagnostics) SubsystemFailed(name string, err error) {
	if !d.allow("subsystem:" + name) {
		return
	}
	d.log.Err().Str("subsystem", name).Err(err).Log("subsystem failed")
}

func (d *stumpyDiagnostics) InvariantViolated(msg string) {
	d.log.Emerg().Str("invariant", msg).Log("reactor invariant violated")
}

func (d *stumpyDiagnostics) GCCollected(stats GCStats) {
	if !d.allow("gc") {
		return
	}
	d.log.Debug().
		Int("live_handles", stats.LiveHandles).
		Int("forwarded_roots", stats.ForwardedRoots).
		Int64("bytes_reclaimed", stats.BytesReclaimed).
		Log("gc collection completed")
}

// noopDiagnostics discards everything.
type noopDiagnostics struct{}

func (noopDiagnostics) SubsystemFailed(string, error) {}
func (noopDiagnostics) InvariantViolated(string)       {}
func (noopDiagnostics) GCCollected(GCStats)            {}
