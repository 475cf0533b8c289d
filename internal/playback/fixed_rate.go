package playback

import (
	"context"
	"time"
)

// FixedRateScheduler releases frames at a constant 1/rate cadence,
// used for audio and CFR video (spec.md §4.7 "Fixed-rate"). Grounded
// on stream_scheduler.rs's FixedRateScheduler: a bounded channel sized
// rate*maxBufferedSeconds, a ticker advanced frame.Samples ticks per
// callback, and a ticker reset on every paused→playing transition so
// resuming never produces a catch-up burst (spec.md §4.7's key
// property).
type FixedRateScheduler struct {
	rate     float64
	period   time.Duration
	queue    chan Frame
	callback Callback
	play     *PlayState
}

// NewFixedRateScheduler constructs a scheduler at rate Hz with a
// bounded queue holding up to maxBufferedSeconds worth of frames.
func NewFixedRateScheduler(rate float64, maxBufferedSeconds float64, callback Callback) *FixedRateScheduler {
	capacity := int(rate * maxBufferedSeconds)
	if capacity < 1 {
		capacity = 1
	}
	return &FixedRateScheduler{
		rate:     rate,
		period:   time.Duration(float64(time.Second) / rate),
		queue:    make(chan Frame, capacity),
		callback: callback,
		play:     NewPlayState(true),
	}
}

func (s *FixedRateScheduler) PlayState() *PlayState { return s.play }

// InsertFrame enqueues f, suspending the caller (the orchestrator's
// demux/decode loop) if the queue is at capacity (spec.md §4.8 "which
// suspends if at capacity").
func (s *FixedRateScheduler) InsertFrame(ctx context.Context, f Frame) error {
	select {
	case s.queue <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush drops every currently queued frame, used on seek (spec.md §9
// "Flush"). It does not reset the release loop's ticker; the ticker is
// reset only on a paused→playing transition.
func (s *FixedRateScheduler) Flush() {
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

// Start launches the release loop: strict FIFO, one callback per
// dequeued frame, paced by a ticker advanced frame.Samples ticks,
// reset whenever the play/pause gate transitions paused→playing.
func (s *FixedRateScheduler) Start(ctx context.Context) error {
	go func() {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		for {
			var f Frame
			select {
			case f = <-s.queue:
			case <-ctx.Done():
				return
			}

			// Gate before invoking the callback, not after: spec.md
			// §4.7's pause-gate invariant requires zero callbacks
			// between a pause and the next resume. stream_scheduler.rs
			// checks the gate after its callback call, which leaks one
			// extra callback per pause; that ordering is not carried
			// over here.
			waited, err := s.play.waitUntilPlaying(ctx)
			if err != nil {
				return
			}
			if waited {
				ticker.Reset(s.period)
			}

			s.callback(ctx, f)

			samples := f.Samples
			if samples < 1 {
				samples = 1
			}
			for i := 0; i < samples; i++ {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}
