package playback

import (
	"context"
	"sync"
	"time"
)

// DurationDrivenScheduler releases frames at their own decoded
// duration's pace, used for VFR streams (spec.md §4.7 "Duration-driven").
// Grounded on stream_scheduler.rs's DynRateScheduler: an unbounded
// channel, admission gated on accumulated buffered duration staying
// within maxBuffered, and a "space freed" notification the admission
// side waits on instead of polling.
//
// stream_scheduler.rs derives a VFR frame's duration from a `panic!()`
// placeholder; this type takes Frame.Duration as already populated
// from the decoded packet's own duration (spec.md Design Notes),
// never synthesizing one.
type DurationDrivenScheduler struct {
	maxBuffered time.Duration
	callback    Callback
	play        *PlayState

	queue chan Frame

	mu      sync.Mutex
	used    time.Duration
	spaceCh chan struct{} // closed and replaced whenever used decreases
}

// NewDurationDrivenScheduler constructs a scheduler admitting frames
// up to maxBuffered of accumulated duration.
func NewDurationDrivenScheduler(maxBuffered time.Duration, callback Callback) *DurationDrivenScheduler {
	return &DurationDrivenScheduler{
		maxBuffered: maxBuffered,
		callback:    callback,
		play:        NewPlayState(true),
		queue:       make(chan Frame, 4096),
		spaceCh:     make(chan struct{}),
	}
}

func (s *DurationDrivenScheduler) PlayState() *PlayState { return s.play }

// InsertFrame blocks until admitting f would not push accumulated
// buffered duration past maxBuffered (spec.md §4.7/§4.8's admission
// gate), then enqueues it.
func (s *DurationDrivenScheduler) InsertFrame(ctx context.Context, f Frame) error {
	for {
		s.mu.Lock()
		if s.used+f.Duration <= s.maxBuffered {
			s.used += f.Duration
			s.mu.Unlock()
			select {
			case s.queue <- f:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		wake := s.spaceCh
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Flush drops every queued frame and resets the accumulated-duration
// counter, waking any admission-side waiter.
func (s *DurationDrivenScheduler) Flush() {
	for {
		select {
		case <-s.queue:
		default:
			s.mu.Lock()
			s.used = 0
			old := s.spaceCh
			s.spaceCh = make(chan struct{})
			s.mu.Unlock()
			close(old)
			return
		}
	}
}

// Start launches the release loop: dequeue, wait for the play gate,
// invoke the callback, sleep the frame's own duration, then release
// its buffered-duration budget. The gate runs before the callback so
// zero callbacks occur between a pause and the next resume (spec.md
// §4.7's pause-gate invariant), matching FixedRateScheduler.
func (s *DurationDrivenScheduler) Start(ctx context.Context) error {
	go func() {
		for {
			var f Frame
			select {
			case f = <-s.queue:
			case <-ctx.Done():
				return
			}

			if _, err := s.play.waitUntilPlaying(ctx); err != nil {
				return
			}

			s.callback(ctx, f)

			select {
			case <-time.After(f.Duration):
			case <-ctx.Done():
				return
			}

			s.mu.Lock()
			s.used -= f.Duration
			if s.used < 0 {
				s.used = 0
			}
			old := s.spaceCh
			s.spaceCh = make(chan struct{})
			s.mu.Unlock()
			close(old)
		}
	}()
	return nil
}
