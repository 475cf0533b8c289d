// Package capture declares the capability interfaces the core consumes
// from platform-specific or external collaborators (spec.md §6): screen
// duplication, audio endpoints, process-audio session discovery, the
// hotkey listener, the muxer, and the audio sink. Each is a thin Go
// interface; concrete implementations live in platform-tagged files
// the way the teacher splits darwin.go/windows.go/darwin_stub.go.
package capture

import (
	"context"
	"time"
)

// AcquireResult is the outcome of one ScreenSurfaceSource.Acquire call.
type AcquireResult int

const (
	// Produced means a fresh GPU surface is ready in the frame handle
	// the caller passed in.
	Produced AcquireResult = iota
	// Stale means no new frame has arrived since the last acquire; the
	// caller must reuse the previously produced surface (needed for
	// constant-frame-rate pacing, spec.md §4.2).
	Stale
)

// ScreenSurfaceSource is the capability a platform's screen duplication
// backend exposes. The first acquisition after Init can legitimately
// return Stale with no error (spec.md §4.2's "known edge case").
type ScreenSurfaceSource interface {
	Init(ctx context.Context) error
	// Acquire attempts a non-blocking acquire of the next desktop
	// frame into an encoder-owned surface sized targetW x targetH.
	Acquire(targetW, targetH int) (AcquireResult, error)
	Close() error
}

// VideoEncoderHwCtx is the capability that sets up the encoder's
// hardware frame context and prepares an acquired surface for the
// encoder to consume (spec.md §6).
type VideoEncoderHwCtx interface {
	Setup(width, height int) error
	// Prepare copies/converts the given surface reference into the
	// pre-allocated encoder frame handle identified by frameHandle.
	Prepare(frameHandle int, surfaceRef any) error
}

// WaveFormat describes the PCM layout an AudioEndpoint was opened
// with (spec.md §6).
type WaveFormat struct {
	SampleRate   int
	ChannelCount int
	SampleFormat string // e.g. "s16", "fltp"
	BlockAlign   int
}

// AudioBuffer is one endpoint read: raw bytes, the sample count they
// represent, endpoint flags (e.g. silent/discontinuity), and the
// endpoint's own high-resolution position counter (QPC-style) used to
// derive a wall-clock-anchored pts (spec.md §4.3).
type AudioBuffer struct {
	Data          []byte
	SampleCount   int
	Silent        bool
	Discontinuity bool
	Position      int64 // endpoint performance-counter ticks
}

// AudioEndpoint is the capability wrapping one OS audio endpoint:
// system loopback, microphone input, or a per-process loopback stream
// (spec.md §6).
type AudioEndpoint interface {
	Init() (WaveFormat, error)
	// CounterFrequency returns the endpoint clock's ticks-per-second,
	// needed to convert Position into sample-domain pts (spec.md §4.3
	// step 2).
	CounterFrequency() int64
	WaitForEvent(timeout time.Duration) error
	ReadBuffer() (AudioBuffer, error)
	ReleaseBuffer(samples int) error
	Close() error
}

// ProcessAudioEvent is one lifecycle transition reported by
// ProcessAudioDiscovery (spec.md §4.4).
type ProcessAudioEvent struct {
	PID     int
	Added   bool
	Expired bool // session state went to "expired"
	Gone    bool // session disconnected entirely
}

// ProcessAudioDiscovery streams per-process audio session lifecycle
// events (spec.md §6/§4.4). Implementations must synthesize an Added
// event for every session already active at Start time.
type ProcessAudioDiscovery interface {
	Start(ctx context.Context) (<-chan ProcessAudioEvent, error)
	ProcessName(pid int) (string, bool)
	// IsDescendant reports whether pid is a descendant of ancestor
	// (spec.md §4.4, SPEC_FULL.md supplemented features).
	// procaudio.Watcher does not call it.
	IsDescendant(pid, ancestor int) bool
}

// Hotkey is the thin OS keyboard-hook wrapper the core registers a
// callback with (spec.md §6); its implementation is out of scope.
type Hotkey interface {
	Register(chord string, callback func()) error
	Start() error
}

// Muxer is the container-writer contract the snapshot step invokes
// (spec.md §6); its implementation is out of scope beyond this
// contract (in this repo, internal/snapshot's astiav-backed writer
// implements it directly rather than through a separate adapter, the
// way video.go's startRecorder/closeRecorder drive astiav inline).
type Muxer interface {
	Open(path string, formatHint string) error
	AddStream(params StreamParams, tb Rational) (streamID int, err error)
	WriteHeader() error
	WritePacket(streamID int, pts, dts int64, hasDTS bool, duration int64, keyframe bool, payload []byte) error
	WriteTrailer() error
	Close() error
}

// Rational mirrors internal/timebase.Rational without importing it
// here, so capture stays a leaf package with no internal dependencies
// of its own; internal/snapshot converts between the two at the edge.
type Rational struct {
	Num, Den int64
}

// StreamParams is the authoritative description of one encoded stream,
// captured once at encoder-open time (spec.md §3 "Encoder session").
type StreamParams struct {
	IsVideo      bool
	CodecID      string
	Width        int
	Height       int
	SampleRate   int
	Channels     int
	SampleFormat string
	FrameRate    Rational
	BitRate      int64
	GlobalHeader bool
}

// AudioSink is the capability the playback orchestrator feeds
// interleaved float samples through to reach the OS audio graph
// (spec.md §6).
type AudioSink interface {
	Write(samples []float32) error
	SetVolume(v float32)
	Close() error
}

// PowerEvents reports sleep/wake transitions, matching darwin.go/
// windows.go's HandleSleep (carried into SPEC_FULL.md's ambient
// stack). cmd/rewind only logs them; no Recorder is restarted on wake.
type PowerEvents interface {
	Start(ctx context.Context) (<-chan PowerEvent, error)
}

// PowerEvent is one sleep/wake transition.
type PowerEvent int

const (
	Sleep PowerEvent = iota
	Wake
)
