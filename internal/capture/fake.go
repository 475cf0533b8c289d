package capture

import (
	"context"
	"sync"
	"time"
)

// FakeScreenSource is an in-memory ScreenSurfaceSource used by tests
// and by platforms where the real DXGI/ScreenCaptureKit backend isn't
// wired (spec.md §1 scopes platform-specific surface acquisition out
// of this core beyond its capability contract).
type FakeScreenSource struct {
	mu      sync.Mutex
	seq     int
	Produce bool // when false, Acquire reports Stale
}

func (f *FakeScreenSource) Init(ctx context.Context) error { return nil }

func (f *FakeScreenSource) Acquire(targetW, targetH int) (AcquireResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Produce {
		return Stale, nil
	}
	f.seq++
	return Produced, nil
}

func (f *FakeScreenSource) Close() error { return nil }

// FakeAudioEndpoint is an in-memory AudioEndpoint that replays a fixed
// sequence of buffers, used by audiosrc's tests for the counter-to-pts
// conversion and by cmd/rewind as its stand-in audio endpoint.
type FakeAudioEndpoint struct {
	mu      sync.Mutex
	Format  WaveFormat
	Freq    int64
	Buffers []AudioBuffer
	idx     int
}

func (f *FakeAudioEndpoint) Init() (WaveFormat, error) { return f.Format, nil }
func (f *FakeAudioEndpoint) CounterFrequency() int64   { return f.Freq }
func (f *FakeAudioEndpoint) Close() error              { return nil }

func (f *FakeAudioEndpoint) WaitForEvent(timeout time.Duration) error { return nil }

func (f *FakeAudioEndpoint) ReadBuffer() (AudioBuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.Buffers) {
		return AudioBuffer{}, errNoMoreBuffers
	}
	b := f.Buffers[f.idx]
	f.idx++
	return b, nil
}

func (f *FakeAudioEndpoint) ReleaseBuffer(samples int) error { return nil }

type noMoreBuffersError struct{}

func (noMoreBuffersError) Error() string { return "capture: no more buffered audio" }

var errNoMoreBuffers = noMoreBuffersError{}

// ErrNoMoreBuffers is returned by FakeAudioEndpoint.ReadBuffer once its
// fixture is exhausted.
var ErrNoMoreBuffers = errNoMoreBuffers

// FakeProcessAudioDiscovery lets tests drive process-session lifecycle
// events on demand instead of waiting on a real OS session notifier.
type FakeProcessAudioDiscovery struct {
	mu       sync.Mutex
	events   chan ProcessAudioEvent
	names    map[int]string
	parents  map[int]int
	preexist []int
}

func NewFakeProcessAudioDiscovery(preexisting []int, names map[int]string, parents map[int]int) *FakeProcessAudioDiscovery {
	return &FakeProcessAudioDiscovery{
		events:   make(chan ProcessAudioEvent, 16),
		names:    names,
		parents:  parents,
		preexist: preexisting,
	}
}

func (f *FakeProcessAudioDiscovery) Start(ctx context.Context) (<-chan ProcessAudioEvent, error) {
	for _, pid := range f.preexist {
		f.events <- ProcessAudioEvent{PID: pid, Added: true}
	}
	go func() {
		<-ctx.Done()
	}()
	return f.events, nil
}

func (f *FakeProcessAudioDiscovery) ProcessName(pid int) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.names[pid]
	return n, ok
}

func (f *FakeProcessAudioDiscovery) IsDescendant(pid, ancestor int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p := pid; ; {
		parent, ok := f.parents[p]
		if !ok {
			return false
		}
		if parent == ancestor {
			return true
		}
		p = parent
	}
}

// Emit pushes a synthetic lifecycle event, simulating the OS notifier.
func (f *FakeProcessAudioDiscovery) Emit(ev ProcessAudioEvent) {
	f.events <- ev
}

// FakeHotkey is a Hotkey capability with no OS keyboard hook: Register
// stores the callback, and Trigger invokes it directly. Standing in
// for the platform-specific global hotkey registration spec.md §1
// scopes out of this core; a real backend would swap this for a
// win32 RegisterHotKey or a Carbon/Quartz event tap, never reached by
// this package.
type FakeHotkey struct {
	mu       sync.Mutex
	chord    string
	callback func()
}

func (h *FakeHotkey) Register(chord string, callback func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chord = chord
	h.callback = callback
	return nil
}

func (h *FakeHotkey) Start() error { return nil }

// Trigger invokes the registered callback, simulating the chord firing.
func (h *FakeHotkey) Trigger() {
	h.mu.Lock()
	cb := h.callback
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FakeHwCtx is a VideoEncoderHwCtx standing in for the real DXGI/Metal
// hardware-frame-context binding spec.md §1 scopes out of this core.
type FakeHwCtx struct{}

func (FakeHwCtx) Setup(width, height int) error          { return nil }
func (FakeHwCtx) Prepare(frameHandle int, ref any) error { return nil }
