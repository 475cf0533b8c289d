// Package procaudio implements C4: watches per-process audio session
// lifecycle events and starts or stops one recorder per process that
// currently emits audio, forwarding an include-process-tree flag to
// its recorder factory, with a debounced, idempotent teardown (spec.md §4.4).
//
// Grounded on camera.go's per-camera supervisor shape (one goroutine
// per tracked entity, a stop channel flipped on teardown) generalized
// from "one goroutine per configured camera" to "one goroutine per
// live audio session".
package procaudio

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/haldis/rewind/internal/capture"
)

// RecorderFactory creates and starts the recorder for one audio
// session. The returned stop func tears it down; it must be safe to
// call more than once.
type RecorderFactory func(ctx context.Context, pid int, includeTree bool) (stop func(), err error)

// Watcher handles C4's add and remove events from a
// capture.ProcessAudioDiscovery source on one loop; debounced
// teardowns run on per-pid timers.
type Watcher struct {
	discovery   capture.ProcessAudioDiscovery
	factory     RecorderFactory
	debounce    time.Duration
	includeTree bool

	mu      sync.Mutex
	active  map[int]func() // pid -> stop
	pending map[int]*time.Timer
}

// New constructs a Watcher. debounce is the teardown grace period
// (spec.md §4.4: min_retained_seconds), and includeTree is passed
// unchanged to factory for every pid (SPEC_FULL.md's
// tree-inclusion-policy supplement); the Watcher itself does not
// consult process ancestry.
func New(discovery capture.ProcessAudioDiscovery, factory RecorderFactory, debounce time.Duration, includeTree bool) *Watcher {
	return &Watcher{
		discovery:   discovery,
		factory:     factory,
		debounce:    debounce,
		includeTree: includeTree,
		active:      map[int]func(){},
		pending:     map[int]*time.Timer{},
	}
}

// Run starts the discovery source and dispatches its events to
// onAdded/onRemoved in a single loop until ctx is canceled, at which point every active
// recorder is torn down.
func (w *Watcher) Run(ctx context.Context) error {
	events, err := w.discovery.Start(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.teardownAll()
			return nil
		case ev, ok := <-events:
			if !ok {
				w.teardownAll()
				return nil
			}
			switch {
			case ev.Added:
				w.onAdded(ctx, ev.PID)
			case ev.Expired, ev.Gone:
				w.onRemoved(ev.PID)
			}
		}
	}
}

// onAdded implements spec.md §4.4's session-created contract: no-op if
// a recorder already exists for pid, otherwise start one. A pending
// debounced teardown for the same pid is canceled — the session came
// back before its grace period elapsed.
func (w *Watcher) onAdded(ctx context.Context, pid int) {
	w.mu.Lock()
	if t, ok := w.pending[pid]; ok {
		t.Stop()
		delete(w.pending, pid)
	}
	_, exists := w.active[pid]
	w.mu.Unlock()
	if exists {
		return
	}

	stop, err := w.factory(ctx, pid, w.includeTree)
	if err != nil {
		// Fail-silent per process: one session's activation failure
		// must not prevent others from being observed.
		log.Printf("procaudio: pid %d: start failed: %v", pid, err)
		return
	}

	w.mu.Lock()
	w.active[pid] = stop
	w.mu.Unlock()
}

// onRemoved implements spec.md §4.4's debounced, idempotent teardown:
// a short silence must not drop the process's ring buffer before a
// subsequent snapshot can still cover it.
func (w *Watcher) onRemoved(pid int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.active[pid]; !ok {
		return
	}
	if _, ok := w.pending[pid]; ok {
		return // teardown already scheduled
	}

	w.pending[pid] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		stop, ok := w.active[pid]
		delete(w.active, pid)
		delete(w.pending, pid)
		w.mu.Unlock()
		if ok {
			stop()
		}
	})
}

func (w *Watcher) teardownAll() {
	w.mu.Lock()
	pending := w.pending
	active := w.active
	w.pending = map[int]*time.Timer{}
	w.active = map[int]func(){}
	w.mu.Unlock()

	for _, t := range pending {
		t.Stop()
	}
	for _, stop := range active {
		stop()
	}
}
