package videosrc

import (
	"testing"

	astiav "github.com/asticode/go-astiav"
)

func TestNewParamsDerivesFPSTimebase(t *testing.T) {
	p := NewParams(1920, 1080, 30, 6_000_000, astiav.CodecIDH264)
	if p.FPS.Num != 1 || p.FPS.Den != 30 {
		t.Fatalf("expected stream timebase 1/30, got %d/%d", p.FPS.Num, p.FPS.Den)
	}
	if p.Width != 1920 || p.Height != 1080 {
		t.Fatalf("unexpected dimensions: %+v", p)
	}
}

func TestStreamParamsAndTimeBaseMatchFPS(t *testing.T) {
	s := New(nil, nil, NewParams(1280, 720, 60, 4_000_000, astiav.CodecIDH264))

	tb := s.TimeBase()
	if tb.Num != 1 || tb.Den != 60 {
		t.Fatalf("expected timebase 1/60, got %d/%d", tb.Num, tb.Den)
	}

	sp := s.StreamParams()
	if !sp.IsVideo {
		t.Fatal("expected IsVideo true")
	}
	if sp.Width != 1280 || sp.Height != 720 {
		t.Fatalf("unexpected stream dimensions: %+v", sp)
	}
	if sp.FrameRate.Num != 1 || sp.FrameRate.Den != 60 {
		t.Fatalf("unexpected stream frame rate: %+v", sp.FrameRate)
	}
	if sp.CodecID == "" {
		t.Fatal("expected a non-empty codec name from astiav.FindEncoder")
	}
}
