package channel

import "time"

// Clock abstracts timer creation so reconnect and heartbeat timing can be
// driven deterministically in tests.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a single-shot timer handle.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

type realTimer struct{ t *time.Timer }

func (rt realTimer) Stop() bool { return rt.t.Stop() }

// timerKind names the three controller-owned timers.
type timerKind int

const (
	timerReconnect timerKind = iota
	timerHeartbeat
	timerHeartbeatTimeout
	timerKinds
)

// timerTable owns at most one live timer per kind. Arming a kind cancels
// its predecessor; generation counters discard fires from stopped timers
// that were already in flight when Stop returned.
type timerTable struct {
	clock  Clock
	timers [timerKinds]Timer
	gens   [timerKinds]uint64
}

func newTimerTable(clock Clock) *timerTable {
	return &timerTable{clock: clock}
}

// arm schedules fire(kind, gen) after d, replacing any live timer of this kind.
func (tt *timerTable) arm(k timerKind, d time.Duration, fire func(kind timerKind, gen uint64)) {
	tt.cancel(k)
	gen := tt.gens[k]
	tt.timers[k] = tt.clock.AfterFunc(d, func() { fire(k, gen) })
}

// cancel stops the live timer for k, if any, and invalidates in-flight fires.
func (tt *timerTable) cancel(k timerKind) {
	if t := tt.timers[k]; t != nil {
		t.Stop()
		tt.timers[k] = nil
	}
	tt.gens[k]++
}

// live reports whether a fire with the given generation is still current.
func (tt *timerTable) live(k timerKind, gen uint64) bool {
	return tt.gens[k] == gen
}

func (tt *timerTable) cancelAll() {
	for k := timerKind(0); k < timerKinds; k++ {
		tt.cancel(k)
	}
}
