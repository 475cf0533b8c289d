/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * QAnotherRTSP
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of QAnotherRTSP.
 *
 * QAnotherRTSP is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * QAnotherRTSP is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with QAnotherRTSP.  If not, see <https://www.gnu.org/licenses/>.
 */

// C8: the playback orchestrator. Grounded on video.go's openAndDecode:
// AllocFormatContext + OpenInput + FindStreamInfo, auto-selecting a
// video stream and an optional audio stream, then one
// FindDecoder/AllocCodecContext/Open per stream — the same shape this
// file drives for every stream the clip file contains instead of just
// one video + one audio.
package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime"
	"sync"
	"time"

	astiav "github.com/asticode/go-astiav"

	"github.com/haldis/rewind/internal/capture"
	"github.com/haldis/rewind/internal/timebase"
)

// streamState is one demuxed stream's decode + schedule pipeline.
type streamState struct {
	index     int
	decCtx    *astiav.CodecContext
	frame     *astiav.Frame
	scheduler Scheduler
	isVideo   bool
	timeBase  astiav.Rational
}

// Orchestrator opens one clip file, demuxes it, and drives one
// scheduler per stream (spec.md §4.8).
type Orchestrator struct {
	sink        capture.AudioSink
	maxBuffered time.Duration

	mu      sync.Mutex
	fc      *astiav.FormatContext
	streams map[int]*streamState
	seekTo  chan int64 // seek targets in nanoseconds, nil channel until Open
}

// New constructs an Orchestrator. sink receives interleaved float
// audio samples from every audio stream's scheduler callback (spec.md
// §4.8's "output sink fed by a live producer-consumer channel").
func New(sink capture.AudioSink, maxBuffered time.Duration) *Orchestrator {
	return &Orchestrator{sink: sink, maxBuffered: maxBuffered, streams: map[int]*streamState{}}
}

// Open opens path, enumerates its streams, and instantiates a decoder
// and a scheduler for each — fixed-rate if the stream reports a valid
// average framerate (video) or sample rate (audio), duration-driven
// otherwise (spec.md §4.8).
func (o *Orchestrator) Open(path string) error {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return errors.New("playback: AllocFormatContext failed")
	}
	if err := fc.OpenInput(path, nil, nil); err != nil {
		fc.Free()
		return fmt.Errorf("playback: OpenInput: %w", err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.Free()
		return fmt.Errorf("playback: FindStreamInfo: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.fc = fc
	o.seekTo = make(chan int64, 1)

	for i, st := range fc.Streams() {
		mediaType := st.CodecParameters().MediaType()
		if mediaType != astiav.MediaTypeVideo && mediaType != astiav.MediaTypeAudio {
			continue
		}

		dec := astiav.FindDecoder(st.CodecParameters().CodecID())
		if dec == nil {
			log.Printf("playback: stream %d: no decoder for codec, skipping", i)
			continue
		}
		decCtx := astiav.AllocCodecContext(dec)
		if decCtx == nil {
			log.Printf("playback: stream %d: AllocCodecContext failed, skipping", i)
			continue
		}
		if err := st.CodecParameters().ToCodecContext(decCtx); err != nil {
			log.Printf("playback: stream %d: ToCodecContext failed: %v", i, err)
			decCtx.Free()
			continue
		}
		if err := decCtx.Open(dec, nil); err != nil {
			log.Printf("playback: stream %d: decoder open failed: %v", i, err)
			decCtx.Free()
			continue
		}

		isVideo := mediaType == astiav.MediaTypeVideo
		ss := &streamState{
			index:    i,
			decCtx:   decCtx,
			frame:    astiav.AllocFrame(),
			isVideo:  isVideo,
			timeBase: st.TimeBase(),
		}

		if isVideo {
			rate := st.AvgFrameRate()
			if rate.Num() > 0 && rate.Den() > 0 {
				fps := float64(rate.Num()) / float64(rate.Den())
				ss.scheduler = NewFixedRateScheduler(fps, o.maxBuffered.Seconds(), o.videoCallback(ss))
			} else {
				ss.scheduler = NewDurationDrivenScheduler(o.maxBuffered, o.videoCallback(ss))
			}
		} else {
			sr := decCtx.SampleRate()
			if sr > 0 {
				ss.scheduler = NewFixedRateScheduler(float64(sr), o.maxBuffered.Seconds(), o.audioCallback(ss))
			} else {
				ss.scheduler = NewDurationDrivenScheduler(o.maxBuffered, o.audioCallback(ss))
			}
		}
		o.streams[i] = ss
	}
	return nil
}

func (o *Orchestrator) videoCallback(ss *streamState) Callback {
	return func(ctx context.Context, f Frame) {
		// A real renderer hook is out of scope (spec.md §1); this is
		// the seam the GUI-side consumer attaches to.
	}
}

func (o *Orchestrator) audioCallback(ss *streamState) Callback {
	return func(ctx context.Context, f Frame) {
		if o.sink == nil {
			return
		}
		samples := bytesToFloat32(f.Payload)
		if err := o.sink.Write(samples); err != nil {
			log.Printf("playback: stream %d: sink write: %v", ss.index, err)
		}
	}
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[4*i:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// Run launches every stream's scheduler and then runs the demux/
// dispatch main loop until ctx is canceled or the file is exhausted
// (spec.md §4.8 "Main loop").
func (o *Orchestrator) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	o.mu.Lock()
	for _, ss := range o.streams {
		if err := ss.scheduler.Start(ctx); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	fc := o.fc
	o.mu.Unlock()

	pkt := astiav.AllocPacket()
	defer pkt.Free()

	for {
		select {
		case <-ctx.Done():
			return nil
		case pts := <-o.seekTo:
			if err := o.doSeek(pts); err != nil {
				log.Printf("playback: seek failed: %v", err)
			}
			continue
		default:
		}

		if err := fc.ReadFrame(pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("playback: ReadFrame: %w", err)
		}

		o.mu.Lock()
		ss, ok := o.streams[pkt.StreamIndex()]
		o.mu.Unlock()
		if !ok {
			pkt.Unref()
			continue
		}

		if err := o.decodeAndSchedule(ctx, ss, pkt); err != nil {
			log.Printf("playback: stream %d: %v", ss.index, err)
		}
		pkt.Unref()
	}
}

func (o *Orchestrator) decodeAndSchedule(ctx context.Context, ss *streamState, pkt *astiav.Packet) error {
	if err := ss.decCtx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("SendPacket: %w", err)
	}
	for {
		if err := ss.decCtx.ReceiveFrame(ss.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("ReceiveFrame: %w", err)
		}

		f := Frame{PTS: ss.frame.Pts()}
		if ss.isVideo {
			f.Samples = 1
		} else {
			f.Samples = ss.frame.NbSamples()
		}
		f.Duration = rescaleToDuration(ss.frame.Pkt_duration(), ss.timeBase)

		if err := ss.scheduler.InsertFrame(ctx, f); err != nil {
			return err
		}
	}
}

func rescaleToDuration(ticks int64, tb astiav.Rational) time.Duration {
	if tb.Den() == 0 {
		return 0
	}
	srcTB := timebase.New(int64(tb.Num()), int64(tb.Den()))
	nanos := timebase.Rescale(ticks, srcTB, timebase.New(1, int64(time.Second)))
	return time.Duration(nanos)
}

// Seek requests a re-seek to ptsSeconds and flushes every stream's
// scheduler queue (spec.md §4.8 "re-seeks on user request").
func (o *Orchestrator) Seek(ptsSeconds float64) {
	o.mu.Lock()
	for _, ss := range o.streams {
		ss.scheduler.Flush()
	}
	ch := o.seekTo
	o.mu.Unlock()
	if ch != nil {
		select {
		case ch <- int64(ptsSeconds * float64(time.Second)):
		default:
		}
	}
}

func (o *Orchestrator) doSeek(tsNanos int64) error {
	o.mu.Lock()
	fc := o.fc
	o.mu.Unlock()
	return fc.SeekFrame(-1, tsNanos/1000, astiav.NewSeekFlags(astiav.SeekFlagBackward))
}

// Close releases every stream's decoder and the format context.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ss := range o.streams {
		ss.frame.Free()
		ss.decCtx.Free()
	}
	if o.fc != nil {
		o.fc.Free()
	}
	return nil
}
