package timebase

import "testing"

func TestSeconds(t *testing.T) {
	video := New(1, 30)
	if got := video.Seconds(90); got != 3.0 {
		t.Fatalf("Seconds(90) = %v, want 3.0", got)
	}

	audio := New(1, 48000)
	if got := audio.Seconds(144000); got != 3.0 {
		t.Fatalf("Seconds(144000) = %v, want 3.0", got)
	}
}

func TestRescaleIdentity(t *testing.T) {
	tb := New(1, 48000)
	if got := Rescale(12345, tb, tb); got != 12345 {
		t.Fatalf("Rescale identity = %d, want 12345", got)
	}
}

func TestRescaleVideoToFineMuxerClock(t *testing.T) {
	// 90 units at 1/30 is exactly 3s; rescaled into a 1/90000 muxer
	// clock that should land on exactly 270000.
	src := New(1, 30)
	dst := New(1, 90000)
	if got := Rescale(90, src, dst); got != 270000 {
		t.Fatalf("Rescale(90, 1/30 -> 1/90000) = %d, want 270000", got)
	}
}

func TestRescaleLongClipNoOverflow(t *testing.T) {
	// A multi-hour clip's audio pts at 1/48000, rescaled to 1/90000,
	// must not overflow even though the raw multiplication would
	// exceed 2^63 for large enough values.
	src := New(1, 48000)
	dst := New(1, 90000)
	value := int64(48000) * 3600 * 5 // 5 hours of audio samples
	got := Rescale(value, src, dst)
	want := int64(90000) * 3600 * 5
	if got != want {
		t.Fatalf("Rescale(5h) = %d, want %d", got, want)
	}
}

func TestRescaleRoundsToNearest(t *testing.T) {
	// 1 unit at 1/3 rescaled to 1/2: 1 * 2 / 3 = 0.666 -> rounds to 1.
	src := New(1, 3)
	dst := New(1, 2)
	if got := Rescale(1, src, dst); got != 1 {
		t.Fatalf("Rescale round = %d, want 1", got)
	}
}
