package reactor

import (
	"container/heap"
	"sync"
	"time"

	"github.com/cuemby/initd/pkg/registry"
)

// timerKind distinguishes the two deadline classes the reactor
// schedules per component: a restart attempt once backoff elapses,
// and a periodic health re-probe.
type timerKind int

const (
	kindRestart timerKind = iota
	kindHealthTick
)

// Fired is one expired deadline, identifying which component and
// which kind of work is due.
type Fired struct {
	Index registry.CompIndex
	Kind  timerKind
}

// entry is one scheduled deadline, a row of the wheel's min-heap.
type entry struct {
	at    time.Time
	index registry.CompIndex
	kind  timerKind
}

type entryHeap []entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}

// Wheel is the single timer wheel of §5, keyed on (component,
// deadline): every scheduled restart-backoff and health-tick deadline
// across every component lives in one min-heap, backed by exactly one
// underlying *time.Timer, so the reactor never parks one OS timer per
// component the way a naive time.AfterFunc-per-deadline design would.
type Wheel struct {
	mu     sync.Mutex
	heap   entryHeap
	timer  *time.Timer
	fired  chan Fired
	reset  chan struct{}
	closed chan struct{}
}

// NewWheel creates an empty Wheel and starts its background
// scheduling goroutine.
func NewWheel() *Wheel {
	w := &Wheel{
		fired:  make(chan Fired, 16),
		reset:  make(chan struct{}, 1),
		closed: make(chan struct{}),
		timer:  time.NewTimer(time.Hour),
	}
	w.timer.Stop()
	go w.run()
	return w
}

// Fired is the channel the reactor selects on alongside process
// exits, readiness outcomes, control requests, and signals.
func (w *Wheel) Fired() <-chan Fired {
	return w.fired
}

// Schedule adds a (component, deadline) entry to the wheel.
func (w *Wheel) Schedule(idx registry.CompIndex, kind timerKind, at time.Time) {
	w.mu.Lock()
	heap.Push(&w.heap, entry{at: at, index: idx, kind: kind})
	w.mu.Unlock()

	select {
	case w.reset <- struct{}{}:
	default:
	}
}

// Close stops the wheel's background goroutine.
func (w *Wheel) Close() {
	close(w.closed)
}

func (w *Wheel) run() {
	for {
		w.mu.Lock()
		var wait time.Duration
		if len(w.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(w.heap[0].at)
			if wait < 0 {
				wait = 0
			}
		}
		w.mu.Unlock()

		w.timer.Reset(wait)

		select {
		case <-w.closed:
			w.timer.Stop()
			return
		case <-w.reset:
			w.timer.Stop()
			continue
		case <-w.timer.C:
			w.drainDue()
		}
	}
}

// drainDue pops every entry whose deadline has passed and emits a
// Fired for each — a burst of simultaneous deadlines (e.g. several
// components failing in the same restart storm) drains in one pass
// rather than one timer fire per entry.
func (w *Wheel) drainDue() {
	now := time.Now()
	w.mu.Lock()
	var due []entry
	for len(w.heap) > 0 && !w.heap[0].at.After(now) {
		due = append(due, heap.Pop(&w.heap).(entry))
	}
	w.mu.Unlock()

	for _, e := range due {
		w.fired <- Fired{Index: e.index, Kind: e.kind}
	}
}
