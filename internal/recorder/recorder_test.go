package recorder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haldis/rewind/internal/packet"
)

type countingSource struct {
	ticks   atomic.Int64
	failAt  int64
	initErr error
}

func (s *countingSource) Init(ctx context.Context) error { return s.initErr }

func (s *countingSource) Tick(ctx context.Context, ring packet.RingBuffer) error {
	n := s.ticks.Add(1)
	if s.failAt > 0 && n >= s.failAt {
		return errors.New("boom")
	}
	ring.Insert(packet.Packet{StreamID: 0, PTS: n, HasPTS: true, Duration: 1, IsKeyframe: true})
	return nil
}

func (s *countingSource) Close() error { return nil }

func TestRecorderStartStop(t *testing.T) {
	ring := packet.NewFlat(1000)
	src := &countingSource{}
	r := New("test", src, ring)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if !r.Running() {
		t.Fatal("expected recorder to be running")
	}
	r.Stop()
	if r.Running() {
		t.Fatal("expected recorder to be stopped")
	}
	if src.ticks.Load() == 0 {
		t.Fatal("expected at least one tick before stop")
	}
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	ring := packet.NewFlat(1000)
	r := New("test", &countingSource{}, ring)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
	r.Stop() // must not deadlock or panic
}

func TestRecorderStopWithoutStartIsSafe(t *testing.T) {
	ring := packet.NewFlat(1000)
	r := New("test", &countingSource{}, ring)
	r.Stop() // never started; must return immediately
}

func TestRecorderSurfacesTickError(t *testing.T) {
	ring := packet.NewFlat(1000)
	src := &countingSource{failAt: 1}
	r := New("test", src, ring)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-r.done
	if r.Err() == nil {
		t.Fatal("expected a recorded error after tick failure")
	}
	if r.Running() {
		t.Fatal("expected recorder to have stopped itself after the error")
	}
}

func TestRecorderInitFailureReturnsImmediately(t *testing.T) {
	ring := packet.NewFlat(1000)
	src := &countingSource{initErr: errors.New("init failed")}
	r := New("test", src, ring)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected Init error to propagate")
	}
	if r.Running() {
		t.Fatal("recorder must not be running after a failed Init")
	}
}
