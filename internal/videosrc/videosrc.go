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

// Package videosrc implements the video source & encoder adapter
// (spec component C2): acquires one GPU surface per tick, converts it
// into the encoder's pixel format, and hands it to a hardware or
// software video encoder, draining compressed packets into the
// owning Recorder's ring buffer.
//
// Grounded on the teacher's video.go, which already drives an astiav
// CodecContext through the SendPacket/ReceiveFrame decode half of the
// same API this package drives in the encode direction, and on
// video.go's startRecorder (AAC encoder open + swresample) for the
// general "open an astiav encoder, capture its params" shape.
package videosrc

import (
	"context"
	"errors"
	"fmt"
	"time"

	astiav "github.com/asticode/go-astiav"

	"github.com/haldis/rewind/internal/capture"
	"github.com/haldis/rewind/internal/packet"
	"github.com/haldis/rewind/internal/timebase"
)

// Params describes the encoder configuration captured once at open
// time (spec.md §3 "Encoder session").
type Params struct {
	Width, Height int
	FPS           timebase.Rational // stream timebase, 1/fps
	BitRate       int64
	CodecID       astiav.CodecID
	GlobalHeader  bool
}

// NewParams builds Params from a frames-per-second integer, deriving
// the stream timebase as 1/fps (spec.md §3: "For video it is
// framerate-derived").
func NewParams(width, height, fps int, bitRate int64, codecID astiav.CodecID) Params {
	return Params{
		Width:   width,
		Height:  height,
		FPS:     timebase.New(1, int64(fps)),
		BitRate: bitRate,
		CodecID: codecID,
	}
}

// Source is a C2 video source & encoder adapter. One Source belongs to
// exactly one Recorder (spec.md §4.5 invariant).
type Source struct {
	surface capture.ScreenSurfaceSource
	hwctx   capture.VideoEncoderHwCtx
	params  Params

	encCtx *astiav.CodecContext
	frame  *astiav.Frame
	pkt    *astiav.Packet

	epoch        time.Time
	tickInEpoch  int64
	frameCounter int64

	lastFrameValid bool
}

// New constructs a Source bound to a screen surface capability and a
// hardware-frame-context capability (spec.md §6).
func New(surface capture.ScreenSurfaceSource, hwctx capture.VideoEncoderHwCtx, params Params) *Source {
	return &Source{surface: surface, hwctx: hwctx, params: params}
}

// Params exposes the encoder parameters the snapshot step needs to add
// a matching muxer stream (spec.md §3 "Encoder session").
func (s *Source) Params() Params { return s.params }

// StreamParams adapts Params into the capture package's codec-agnostic
// description, so the snapshot writer never needs to import astiav
// itself (spec.md §6's capability boundary).
func (s *Source) StreamParams() capture.StreamParams {
	name := ""
	if codec := astiav.FindEncoder(s.params.CodecID); codec != nil {
		name = codec.Name()
	}
	return capture.StreamParams{
		IsVideo:      true,
		CodecID:      name,
		Width:        s.params.Width,
		Height:       s.params.Height,
		FrameRate:    capture.Rational{Num: s.params.FPS.Num, Den: s.params.FPS.Den},
		BitRate:      s.params.BitRate,
		GlobalHeader: s.params.GlobalHeader,
	}
}

// TimeBase returns the stream's muxer timebase, 1/fps (spec.md §3).
func (s *Source) TimeBase() capture.Rational {
	return capture.Rational{Num: s.params.FPS.Num, Den: s.params.FPS.Den}
}

// Init performs one-time setup: the surface source, the hardware frame
// context, and the encoder (spec.md §4.2 "init").
func (s *Source) Init(ctx context.Context) error {
	if err := s.surface.Init(ctx); err != nil {
		return fmt.Errorf("videosrc: surface init: %w", err)
	}
	if err := s.hwctx.Setup(s.params.Width, s.params.Height); err != nil {
		return fmt.Errorf("videosrc: hwctx setup: %w", err)
	}

	codec := astiav.FindEncoder(s.params.CodecID)
	if codec == nil {
		return fmt.Errorf("videosrc: encoder %v not found", s.params.CodecID)
	}
	encCtx := astiav.AllocCodecContext(codec)
	if encCtx == nil {
		return errors.New("videosrc: AllocCodecContext failed")
	}
	encCtx.SetWidth(s.params.Width)
	encCtx.SetHeight(s.params.Height)
	encCtx.SetTimeBase(astiav.NewRational(int(s.params.FPS.Num), int(s.params.FPS.Den)))
	encCtx.SetFramerate(astiav.NewRational(int(s.params.FPS.Den), int(s.params.FPS.Num)))
	encCtx.SetBitRate(s.params.BitRate)
	encCtx.SetPixelFormat(astiav.PixelFormatNv12)
	if s.params.GlobalHeader {
		encCtx.SetFlags(encCtx.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	if err := encCtx.Open(codec, nil); err != nil {
		encCtx.Free()
		return fmt.Errorf("videosrc: encoder open: %w", err)
	}

	s.encCtx = encCtx
	s.frame = astiav.AllocFrame()
	s.frame.SetWidth(s.params.Width)
	s.frame.SetHeight(s.params.Height)
	s.frame.SetPixelFormat(astiav.PixelFormatNv12)
	if err := s.frame.AllocBuffer(32); err != nil {
		return fmt.Errorf("videosrc: frame AllocBuffer: %w", err)
	}
	s.pkt = astiav.AllocPacket()

	s.epoch = time.Now()
	s.tickInEpoch = 0
	return nil
}

// Close releases the encoder and frame resources.
func (s *Source) Close() error {
	if s.pkt != nil {
		s.pkt.Free()
		s.pkt = nil
	}
	if s.frame != nil {
		s.frame.Free()
		s.frame = nil
	}
	if s.encCtx != nil {
		s.encCtx.Free()
		s.encCtx = nil
	}
	return s.surface.Close()
}

// Tick runs one iteration of the drift-free pacing loop (spec.md §4.2
// steps 1-5): sleep until the expected wall-clock instant for this
// tick, acquire (or reuse, on Stale) the desktop surface, send it to
// the encoder, and drain all resulting packets into ring.
func (s *Source) Tick(ctx context.Context, ring packet.RingBuffer) error {
	period := time.Duration(float64(time.Second) * float64(s.params.FPS.Num) / float64(s.params.FPS.Den))
	expected := s.epoch.Add(time.Duration(s.tickInEpoch) * period)
	if d := time.Until(expected); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.tickInEpoch++

	result, err := s.surface.Acquire(s.params.Width, s.params.Height)
	if err != nil {
		// Every acquire error is returned, and the Recorder stops on
		// any Tick error; the capability reports no separate transient
		// error kind, so no acquire failure is retried on a later tick.
		return fmt.Errorf("videosrc: acquire: %w", err)
	}

	if result == capture.Produced {
		if err := s.hwctx.Prepare(0, nil); err != nil {
			return fmt.Errorf("videosrc: prepare: %w", err)
		}
		s.lastFrameValid = true
	}
	// On Stale (including the known first-tick edge case where
	// acquisition succeeds structurally but yields no texture), the
	// previously prepared frame is reused unmodified so CFR pacing
	// holds (spec.md §4.2 step 3 and its "known edge case").
	if !s.lastFrameValid {
		return nil
	}

	pts := s.frameCounter
	s.frameCounter++
	s.frame.SetPts(pts)

	if err := s.encCtx.SendFrame(s.frame); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("videosrc: SendFrame: %w", err)
	}

	first := true
	for {
		if err := s.encCtx.ReceivePacket(s.pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return fmt.Errorf("videosrc: ReceivePacket: %w", err)
		}

		duration := int64(0)
		if first {
			duration = 1
			first = false
		}
		payload, err := s.pkt.Data().Bytes(0)
		if err != nil {
			s.pkt.Unref()
			return fmt.Errorf("videosrc: packet data: %w", err)
		}
		buf := make([]byte, len(payload))
		copy(buf, payload)

		ring.Insert(packet.Packet{
			StreamID:   0,
			PTS:        s.pkt.Pts(),
			HasPTS:     true,
			DTS:        s.pkt.Dts(),
			HasDTS:     true,
			Duration:   duration,
			IsKeyframe: s.pkt.Flags().Has(astiav.PacketFlagKey),
			Payload:    buf,
		})
		s.pkt.Unref()
	}
	return nil
}
