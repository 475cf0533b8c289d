package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haldis/rewind/internal/packet"
	"github.com/haldis/rewind/internal/timebase"
)

// TestNormalizeSharesOneGlobalZeroAcrossStreams exercises the actual
// spec.md §4.6 algorithm: global_zero is the minimum first_pts_seconds
// across ALL streams, not each stream's own minimum, so legitimate
// inter-stream skew (audio starting before video here) is preserved
// rather than erased.
func TestNormalizeSharesOneGlobalZeroAcrossStreams(t *testing.T) {
	videoTB := timebase.New(1, 30)   // seconds per frame
	audioTB := timebase.New(1, 4800) // seconds per sample-rate unit

	video := []packet.Packet{
		{StreamID: 0, PTS: 3, HasPTS: true, DTS: 3, HasDTS: true},  // 0.1s
		{StreamID: 0, PTS: 33, HasPTS: true, DTS: 33, HasDTS: true}, // 1.1s
	}
	audio := []packet.Packet{
		{StreamID: 1, PTS: 0, HasPTS: true, DTS: 0, HasDTS: true},       // 0.0s, earlier than video
		{StreamID: 1, PTS: 4800, HasPTS: true, DTS: 4800, HasDTS: true}, // 1.0s
	}

	videoSecs, _ := firstPTSSeconds(video, videoTB)
	audioSecs, _ := firstPTSSeconds(audio, audioTB)
	globalZeroSeconds := audioSecs
	if videoSecs < globalZeroSeconds {
		globalZeroSeconds = videoSecs
	}
	if globalZeroSeconds != 0 {
		t.Fatalf("expected audio's earlier start to win as global_zero, got %v", globalZeroSeconds)
	}

	normalize(video, timebase.Rescale(0, timebase.New(1, nanosPerSecond), videoTB))
	normalize(audio, timebase.Rescale(0, timebase.New(1, nanosPerSecond), audioTB))

	// global_zero is 0s here, so neither stream shifts, and the 0.1s
	// offset between them (video's true late start relative to audio)
	// survives instead of both being independently snapped to zero.
	if video[0].PTS != 3 || video[1].PTS != 33 {
		t.Fatalf("video shifted even though global_zero was 0: %+v", video)
	}
	if audio[0].PTS != 0 || audio[1].PTS != 4800 {
		t.Fatalf("audio shifted even though global_zero was 0: %+v", audio)
	}
}

func TestNormalizeShiftsByRescaledGlobalZero(t *testing.T) {
	// global_zero = 1s, expressed in a 1/30 stream's units: 30.
	tb := timebase.New(1, 30)
	packets := []packet.Packet{
		{StreamID: 0, PTS: 50, HasPTS: true, DTS: 50, HasDTS: true},
		{StreamID: 0, PTS: 10, HasPTS: true, DTS: 10, HasDTS: true},
		{StreamID: 0, PTS: 30, HasPTS: true, DTS: 30, HasDTS: true},
	}
	zero := timebase.Rescale(1*nanosPerSecond, timebase.New(1, nanosPerSecond), tb)
	if zero != 30 {
		t.Fatalf("expected 1s to rescale to 30 units at 1/30, got %d", zero)
	}
	normalize(packets, zero)
	if packets[0].PTS != 20 || packets[1].PTS != -20 || packets[2].PTS != 0 {
		t.Fatalf("expected every packet shifted by the same global_zero regardless of order: %+v", packets)
	}
}

func TestNextFilePathProbesSuffixOnCollision(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	first, err := nextFilePath(dir, "clip", ".mp4", now)
	if err != nil {
		t.Fatalf("nextFilePath: %v", err)
	}
	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed collision file: %v", err)
	}

	second, err := nextFilePath(dir, "clip", ".mp4", now)
	if err != nil {
		t.Fatalf("nextFilePath after collision: %v", err)
	}
	if second == first {
		t.Fatal("expected a different path once the first name is taken")
	}
	if filepath.Base(second) != "clip_20260731_120000_001.mp4" {
		t.Fatalf("expected the _001 suffix probe, got %s", filepath.Base(second))
	}
}
