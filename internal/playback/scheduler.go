// Package playback implements C7 (the per-stream scheduler) and C8
// (the orchestrator that demuxes a clip file and drives one scheduler
// per stream).
//
// Grounded on original_source's "Clip Editor/stream_scheduler.rs":
// PlayState (atomic playing flag + waiters woken on every transition),
// FixedRateScheduler (bounded queue, ticker-paced release, sample-count
// advance), and DynRateScheduler (unbounded queue, admission gated on
// accumulated buffered duration, sleep-paced release). Reworked for Go:
// Notify's broadcast-to-all-waiters is modeled as a mutex-guarded
// channel that's closed and replaced on every state transition, and
// the admission-side Mutex<Duration> from stream_scheduler.rs becomes
// a mutex-guarded field plus a "space freed" channel that is closed and
// replaced whenever budget is released, instead of a second Notify.
//
// stream_scheduler.rs's HasDuration impl for frame::Video is a
// `panic!()` placeholder; this package never reaches for it — a VFR
// frame's duration here always comes from the decoded packet's own
// duration field (spec.md Design Notes), never a hardcoded constant.
package playback

import (
	"context"
	"sync"
	"time"
)

// Frame is one decoded unit handed to a scheduler.
type Frame struct {
	PTS      int64
	Samples  int           // audio-sample-equivalent tick advance for fixed-rate scheduling; 1 for CFR video
	Duration time.Duration // wall-clock duration, used by the duration-driven scheduler
	Payload  []byte
}

// Callback consumes one scheduled frame. It must not retain ownership
// of the scheduler that invokes it (spec.md §9 "Callback shapes").
type Callback func(ctx context.Context, f Frame)

// PlayState is a shared play/pause gate with broadcast wakeup,
// grounded on stream_scheduler.rs's PlayState (AtomicBool + Notify).
type PlayState struct {
	mu      sync.Mutex
	playing bool
	wake    chan struct{}
}

// NewPlayState constructs a PlayState in the given initial mode.
func NewPlayState(playing bool) *PlayState {
	return &PlayState{playing: playing, wake: make(chan struct{})}
}

// Set changes the play/pause state and wakes every waiter, matching
// stream_scheduler.rs's set_playing (SPEC_FULL.md prefers an explicit
// Set over toggle-only, see FlipPlaying below).
func (p *PlayState) Set(playing bool) {
	p.mu.Lock()
	p.playing = playing
	old := p.wake
	p.wake = make(chan struct{})
	p.mu.Unlock()
	close(old)
}

// FlipPlaying toggles the state, matching stream_scheduler.rs's
// flip_playing; kept alongside Set for parity with the toggle-only
// hotkey action some callers bind directly.
func (p *PlayState) FlipPlaying() {
	p.mu.Lock()
	p.playing = !p.playing
	old := p.wake
	p.wake = make(chan struct{})
	p.mu.Unlock()
	close(old)
}

// Playing reports the current state.
func (p *PlayState) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// waitUntilPlaying blocks until playing is true, returning whether it
// actually had to wait (a paused→playing transition happened), which
// the fixed-rate scheduler uses to decide whether to reset its ticker
// (spec.md §4.7 "if play_state transitioned paused→playing, reset
// ticker").
func (p *PlayState) waitUntilPlaying(ctx context.Context) (waited bool, err error) {
	for {
		p.mu.Lock()
		if p.playing {
			p.mu.Unlock()
			return waited, nil
		}
		wake := p.wake
		p.mu.Unlock()

		waited = true
		select {
		case <-wake:
		case <-ctx.Done():
			return waited, ctx.Err()
		}
	}
}

// Scheduler is the common C7 contract: insert decoded frames, start
// the release loop, and flush on seek.
type Scheduler interface {
	InsertFrame(ctx context.Context, f Frame) error
	Start(ctx context.Context) error
	Flush()
	PlayState() *PlayState
}
