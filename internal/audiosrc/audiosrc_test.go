package audiosrc

import (
	"testing"

	astiav "github.com/asticode/go-astiav"

	"github.com/haldis/rewind/internal/capture"
)

func TestStreamParamsHonorsConfiguredChannelCount(t *testing.T) {
	s := New(nil, Params{SampleRate: 48000, Channels: 6, BitRate: 192_000, CodecID: astiav.CodecIDAac})

	sp := s.StreamParams()
	if sp.IsVideo {
		t.Fatal("expected IsVideo false")
	}
	if sp.SampleRate != 48000 {
		t.Fatalf("unexpected sample rate: %d", sp.SampleRate)
	}
	if sp.Channels != 6 {
		t.Fatalf("expected the configured channel count to be honored, got %d", sp.Channels)
	}
	if sp.CodecID == "" {
		t.Fatal("expected a non-empty codec name from astiav.FindEncoder")
	}
}

func TestTimeBaseIsInverseSampleRate(t *testing.T) {
	s := New(nil, Params{SampleRate: 44100, Channels: 2, CodecID: astiav.CodecIDAac})

	tb := s.TimeBase()
	if tb.Num != 1 || tb.Den != 44100 {
		t.Fatalf("expected timebase 1/44100, got %d/%d", tb.Num, tb.Den)
	}
}

// TestPositionToPTSConvertsCounterDelta exercises the spec.md §4.3
// step 2 conversion directly: pts must derive from the endpoint's own
// high-resolution counter, never from wall-clock elapsed time.
func TestPositionToPTSConvertsCounterDelta(t *testing.T) {
	endpoint := &capture.FakeAudioEndpoint{Freq: 10_000_000} // 10 MHz QPC-style counter
	s := New(endpoint, Params{SampleRate: 48000, Channels: 2, CodecID: astiav.CodecIDAac})
	s.epochCounter = 1_000_000_000
	s.haveEpoch = true

	// One second of counter ticks at 10 MHz should map to one second of
	// samples at 48 kHz.
	got := s.positionToPTS(s.epochCounter + 10_000_000)
	if got != 48000 {
		t.Fatalf("expected 48000 samples for a 1s counter delta, got %d", got)
	}
}

func TestPositionToPTSSaturatesAtZero(t *testing.T) {
	endpoint := &capture.FakeAudioEndpoint{Freq: 10_000_000}
	s := New(endpoint, Params{SampleRate: 48000, Channels: 2, CodecID: astiav.CodecIDAac})
	s.epochCounter = 1_000_000_000
	s.haveEpoch = true

	got := s.positionToPTS(s.epochCounter - 5_000_000) // a position before epoch
	if got != 0 {
		t.Fatalf("expected saturation at zero for a before-epoch position, got %d", got)
	}
}

func TestPositionToPTSFallsBackWhenFrequencyUnknown(t *testing.T) {
	endpoint := &capture.FakeAudioEndpoint{Freq: 0}
	s := New(endpoint, Params{SampleRate: 48000, Channels: 2, CodecID: astiav.CodecIDAac})
	s.ptsCounter = 1234

	if got := s.positionToPTS(999); got != s.ptsCounter {
		t.Fatalf("expected the current pts_counter as a no-op fallback, got %d", got)
	}
}

func TestPendingSampleCountTracksBufferedBytes(t *testing.T) {
	s := New(nil, Params{SampleRate: 48000, Channels: 2, CodecID: astiav.CodecIDAac})
	s.pending = make([][]byte, 2)
	if s.pendingSampleCount() != 0 {
		t.Fatal("expected zero pending samples before any data arrives")
	}
	s.pending[0] = make([]byte, 4*10) // 10 float32 samples buffered on channel 0
	if got := s.pendingSampleCount(); got != 10 {
		t.Fatalf("expected 10 pending samples, got %d", got)
	}
}

func TestEndpointSampleFormatMapsKnownNames(t *testing.T) {
	cases := map[string]astiav.SampleFormat{
		"s16":     astiav.SampleFormatS16,
		"s16p":    astiav.SampleFormatS16,
		"flt":     astiav.SampleFormatFlt,
		"fltp":    astiav.SampleFormatFlt,
		"s32":     astiav.SampleFormatS32,
		"unknown": astiav.SampleFormatS16,
	}
	for name, want := range cases {
		if got := endpointSampleFormat(name); got != want {
			t.Fatalf("endpointSampleFormat(%q) = %v, want %v", name, got, want)
		}
	}
}
