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

// Package audiosrc implements the audio source & encoder adapter
// (spec component C3): waits on the platform audio endpoint for the
// next buffer, resamples it into the encoder's format, and encodes it
// into packets for the owning Recorder's ring buffer, including the
// flush-and-silence procedure for endpoint gaps (spec.md §4.3a).
//
// Grounded on the teacher's audio.go (global Oto context bring-up) and
// camera.go's aSwr/aEncCtx/aEncFrame fields, which already hold a
// SoftwareResampleContext feeding an astiav AAC encoder — the same
// shape this package drives from the capture side instead of camera.go's
// decode side.
package audiosrc

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

// Params describes the AAC encoder session opened once at Init time.
type Params struct {
	SampleRate int
	Channels   int
	BitRate    int64
	CodecID    astiav.CodecID // astiav.CodecIDAac
}

// Source is a C3 audio source & encoder adapter.
type Source struct {
	endpoint capture.AudioEndpoint
	params   Params

	encCtx *astiav.CodecContext
	swr    *astiav.SoftwareResampleContext
	frame  *astiav.Frame // fixed-size encoder input frame, reused every drain
	pkt    *astiav.Packet

	endpointFormat capture.WaveFormat

	// pending holds resampled, encoder-format bytes not yet enough to
	// fill one encoder frame, one slice per channel plane (spec.md
	// §4.3 step 3's "pending-samples deque").
	pending [][]byte

	// position-based timing epoch (spec.md §4.3 step 2): the encoder's
	// pts runs off the endpoint's own high-resolution counter, not wall
	// clock, so a stalled endpoint is detected in the sample domain.
	haveEpoch    bool
	epochCounter int64
	ptsCounter   int64 // next pts to assign, in encoder sample-rate units

	// lastBufferAt bounds only the "endpoint produced nothing at all"
	// liveness case (maxSilenceGap below); it is wall-clock because
	// there is no position reading to reason about when ReadBuffer
	// itself errors. The in-stream audio gap (spec.md §4.3a) is always
	// computed from buf.Position/CounterFrequency, never from this.
	lastBufferAt time.Time
}

// New constructs a Source bound to a platform audio endpoint capability.
func New(endpoint capture.AudioEndpoint, params Params) *Source {
	return &Source{endpoint: endpoint, params: params}
}

func (s *Source) Params() Params { return s.params }

// StreamParams adapts Params into the capture package's codec-agnostic
// description, so the snapshot writer never needs to import astiav
// itself (spec.md §6's capability boundary). The configured
// Params.Channels flows straight through; no hardcoded mono path
// (spec.md §9 open question on channel count). The endpoint-reported
// channel count only sets the resampler's input layout in consumeInto.
func (s *Source) StreamParams() capture.StreamParams {
	name := ""
	if codec := astiav.FindEncoder(s.params.CodecID); codec != nil {
		name = codec.Name()
	}
	return capture.StreamParams{
		IsVideo:    false,
		CodecID:    name,
		SampleRate: s.params.SampleRate,
		Channels:   s.params.Channels,
		BitRate:    s.params.BitRate,
	}
}

// TimeBase returns the stream's muxer timebase, 1/sample_rate.
func (s *Source) TimeBase() capture.Rational {
	return capture.Rational{Num: 1, Den: int64(s.params.SampleRate)}
}

// StreamTimeBase returns the encoder's output timebase: 1/sample_rate,
// the "sample-rate-derived" rule of spec.md §3.
func (s *Source) StreamTimeBase() timebase.Rational {
	return timebase.New(1, int64(s.params.SampleRate))
}

// Init opens the platform audio endpoint and the AAC encoder, and a
// resample context converting from whatever format the endpoint
// reports into the encoder's fixed input layout (spec.md §4.3 "init").
func (s *Source) Init(ctx context.Context) error {
	format, err := s.endpoint.Init()
	if err != nil {
		return fmt.Errorf("audiosrc: endpoint init: %w", err)
	}
	s.endpointFormat = format

	codec := astiav.FindEncoder(s.params.CodecID)
	if codec == nil {
		return fmt.Errorf("audiosrc: encoder %v not found", s.params.CodecID)
	}
	encCtx := astiav.AllocCodecContext(codec)
	if encCtx == nil {
		return errors.New("audiosrc: AllocCodecContext failed")
	}
	encCtx.SetSampleRate(s.params.SampleRate)
	encCtx.SetSampleFormat(astiav.SampleFormatFltp)
	chLayout := astiav.ChannelLayoutDefault(s.params.Channels)
	encCtx.SetChannelLayout(chLayout)
	encCtx.SetBitRate(s.params.BitRate)
	encCtx.SetTimeBase(astiav.NewRational(1, s.params.SampleRate))

	if err := encCtx.Open(codec, nil); err != nil {
		encCtx.Free()
		return fmt.Errorf("audiosrc: encoder open: %w", err)
	}
	s.encCtx = encCtx

	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		return errors.New("audiosrc: AllocSoftwareResampleContext failed")
	}
	s.swr = swr

	s.frame = astiav.AllocFrame()
	s.frame.SetSampleFormat(astiav.SampleFormatFltp)
	s.frame.SetSampleRate(s.params.SampleRate)
	s.frame.SetChannelLayout(chLayout)
	s.frame.SetNbSamples(encCtx.FrameSize())
	if err := s.frame.AllocBuffer(0); err != nil {
		return fmt.Errorf("audiosrc: frame AllocBuffer: %w", err)
	}
	s.pkt = astiav.AllocPacket()
	s.pending = make([][]byte, s.params.Channels)

	s.lastBufferAt = time.Now()
	return nil
}

// Close releases encoder, resampler, and frame resources.
func (s *Source) Close() error {
	if s.pkt != nil {
		s.pkt.Free()
		s.pkt = nil
	}
	if s.frame != nil {
		s.frame.Free()
		s.frame = nil
	}
	if s.swr != nil {
		s.swr.Free()
		s.swr = nil
	}
	if s.encCtx != nil {
		s.encCtx.Free()
		s.encCtx = nil
	}
	return s.endpoint.Close()
}

// maxSilenceGap bounds the "endpoint returned nothing at all" liveness
// case: an outage this long with not even a buffer handle to read a
// position from is treated as a hard failure instead of papered over.
const maxSilenceGap = 2 * time.Second

// Tick runs one iteration of the audio consume_into algorithm
// (spec.md §4.3 steps 1-4): wait for the endpoint's event, read one
// buffer, detect a pts-domain gap from its position counter, and
// either realign via flush-and-silence (§4.3a) or fold the buffer into
// the pending-samples deque and drain every full encoder frame it now
// contains.
func (s *Source) Tick(ctx context.Context, ring packet.RingBuffer) error {
	if err := s.endpoint.WaitForEvent(200 * time.Millisecond); err != nil {
		return fmt.Errorf("audiosrc: wait for event: %w", err)
	}

	buf, err := s.endpoint.ReadBuffer()
	if err != nil {
		if errors.Is(err, capture.ErrNoMoreBuffers) {
			if gap := time.Since(s.lastBufferAt); gap > maxSilenceGap {
				return fmt.Errorf("audiosrc: endpoint silent for %s, exceeds bound: %w", gap, err)
			}
			return nil
		}
		return fmt.Errorf("audiosrc: read buffer: %w", err)
	}
	s.lastBufferAt = time.Now()

	if !s.haveEpoch {
		s.epochCounter = buf.Position
		s.haveEpoch = true
	}

	frameSize := int64(s.encCtx.FrameSize())
	newPTS := s.positionToPTS(buf.Position)
	gapSamples := newPTS - s.ptsCounter

	if buf.Discontinuity || gapSamples >= frameSize {
		if err := s.flushAndSilence(ring, gapSamples); err != nil {
			return err
		}
	}

	if err := s.consumeInto(ring, buf); err != nil {
		return err
	}
	return s.endpoint.ReleaseBuffer(buf.SampleCount)
}

// positionToPTS converts the endpoint's high-resolution counter
// position into encoder sample-rate pts units (spec.md §4.3 step 2),
// saturating at zero.
func (s *Source) positionToPTS(pos int64) int64 {
	freq := s.endpoint.CounterFrequency()
	if freq <= 0 {
		return s.ptsCounter
	}
	delta := pos - s.epochCounter
	if delta < 0 {
		delta = 0
	}
	return delta * int64(s.params.SampleRate) / freq
}

// consumeInto resamples one endpoint buffer into the encoder's
// channel-format byte planes, appends them to the pending-samples
// deque, and drains every complete encoder frame the deque now holds —
// a single endpoint buffer may fill zero, one, or several encoder
// frames depending on its size relative to encoder_frame_size (spec.md
// §4.3 "consume_into").
func (s *Source) consumeInto(ring packet.RingBuffer, buf capture.AudioBuffer) error {
	if len(buf.Data) == 0 {
		return nil
	}

	in := astiav.AllocFrame()
	defer in.Free()
	in.SetSampleFormat(endpointSampleFormat(s.endpointFormat.SampleFormat))
	in.SetSampleRate(s.endpointFormat.SampleRate)
	in.SetChannelLayout(astiav.ChannelLayoutDefault(s.endpointFormat.ChannelCount))
	in.SetNbSamples(buf.SampleCount)
	if err := in.AllocBuffer(0); err != nil {
		return fmt.Errorf("audiosrc: input frame AllocBuffer: %w", err)
	}
	plane, err := in.Data().Bytes(0)
	if err != nil {
		return fmt.Errorf("audiosrc: input frame plane: %w", err)
	}
	copy(plane, buf.Data)

	// Scratch output sized generously; ConvertFrame reports the actual
	// sample count it produced via out.NbSamples() once the call
	// returns, the same Fltp planar layout as the encoder frame.
	scratch := astiav.AllocFrame()
	defer scratch.Free()
	scratch.SetSampleFormat(astiav.SampleFormatFltp)
	scratch.SetSampleRate(s.params.SampleRate)
	scratch.SetChannelLayout(astiav.ChannelLayoutDefault(s.params.Channels))
	scratch.SetNbSamples(buf.SampleCount*2 + s.encCtx.FrameSize())
	if err := scratch.AllocBuffer(0); err != nil {
		return fmt.Errorf("audiosrc: scratch frame AllocBuffer: %w", err)
	}

	if err := s.swr.ConvertFrame(in, scratch); err != nil {
		return fmt.Errorf("audiosrc: resample: %w", err)
	}

	produced := scratch.NbSamples()
	bytesPerSample := 4 // Fltp: one float32 per sample, per channel plane
	for ch := 0; ch < s.params.Channels; ch++ {
		plane, err := scratch.Data().Bytes(ch)
		if err != nil {
			return fmt.Errorf("audiosrc: scratch plane %d: %w", ch, err)
		}
		n := produced * bytesPerSample
		if n > len(plane) {
			n = len(plane)
		}
		s.pending[ch] = append(s.pending[ch], plane[:n]...)
	}

	return s.drainPendingFrames(ring)
}

// drainPendingFrames emits one encoder frame per encoder_frame_size
// worth of pending bytes currently buffered, looping until less than a
// full frame remains (spec.md §4.3 step 4).
func (s *Source) drainPendingFrames(ring packet.RingBuffer) error {
	frameSize := s.encCtx.FrameSize()
	bytesPerSample := 4
	need := frameSize * bytesPerSample

	for s.pendingSampleCount() >= frameSize {
		if err := s.frame.MakeWritable(); err != nil {
			return fmt.Errorf("audiosrc: make frame writable: %w", err)
		}
		for ch := 0; ch < s.params.Channels; ch++ {
			dst, err := s.frame.Data().Bytes(ch)
			if err != nil {
				return fmt.Errorf("audiosrc: encoder frame plane %d: %w", ch, err)
			}
			copy(dst, s.pending[ch][:need])
			s.pending[ch] = append([]byte(nil), s.pending[ch][need:]...)
		}
		s.frame.SetPts(s.ptsCounter)
		s.ptsCounter += int64(frameSize)
		if err := s.encodeAndDrain(ring); err != nil {
			return err
		}
	}
	return nil
}

// pendingSampleCount returns how many complete samples are currently
// buffered per channel (all channel planes are kept in lockstep).
func (s *Source) pendingSampleCount() int {
	if len(s.pending) == 0 {
		return 0
	}
	return len(s.pending[0]) / 4
}

// flushAndSilence realigns the encoder's pts to wall-clock when a gap
// of at least one encoder frame is detected: the currently pending
// partial frame is zero-padded and emitted first, then the remainder
// of the gap is covered with full silent frames (spec.md §4.3a).
func (s *Source) flushAndSilence(ring packet.RingBuffer, gapSamples int64) error {
	frameSize := int64(s.encCtx.FrameSize())
	pendingBefore := int64(s.pendingSampleCount())

	if err := s.emitPaddedFrame(ring); err != nil {
		return err
	}

	remaining := gapSamples - pendingBefore
	if remaining < 0 {
		remaining = 0
	}
	for remaining >= frameSize {
		if err := s.emitSilentFrame(ring); err != nil {
			return err
		}
		remaining -= frameSize
	}
	return nil
}

// emitPaddedFrame drains whatever is currently pending (strictly less
// than one full frame), zero-filling the remainder, and emits exactly
// one frame (spec.md §4.3a step 1).
func (s *Source) emitPaddedFrame(ring packet.RingBuffer) error {
	if err := s.frame.MakeWritable(); err != nil {
		return fmt.Errorf("audiosrc: make padded frame writable: %w", err)
	}
	for ch := 0; ch < s.params.Channels; ch++ {
		dst, err := s.frame.Data().Bytes(ch)
		if err != nil {
			return fmt.Errorf("audiosrc: padded frame plane %d: %w", ch, err)
		}
		for i := range dst {
			dst[i] = 0
		}
		if ch < len(s.pending) {
			copy(dst, s.pending[ch])
			s.pending[ch] = s.pending[ch][:0]
		}
	}
	s.frame.SetPts(s.ptsCounter)
	s.ptsCounter += int64(s.encCtx.FrameSize())
	return s.encodeAndDrain(ring)
}

// emitSilentFrame synthesizes exactly one full frame of silence,
// advancing pts as if real samples had been read (spec.md §4.3a step 2).
func (s *Source) emitSilentFrame(ring packet.RingBuffer) error {
	if err := s.frame.MakeWritable(); err != nil {
		return fmt.Errorf("audiosrc: make silence frame writable: %w", err)
	}
	for ch := 0; ch < s.params.Channels; ch++ {
		dst, err := s.frame.Data().Bytes(ch)
		if err != nil {
			return fmt.Errorf("audiosrc: silent frame plane %d: %w", ch, err)
		}
		for i := range dst {
			dst[i] = 0
		}
	}
	s.frame.SetPts(s.ptsCounter)
	s.ptsCounter += int64(s.encCtx.FrameSize())
	return s.encodeAndDrain(ring)
}

func (s *Source) encodeAndDrain(ring packet.RingBuffer) error {
	if err := s.encCtx.SendFrame(s.frame); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("audiosrc: SendFrame: %w", err)
	}
	for {
		if err := s.encCtx.ReceivePacket(s.pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("audiosrc: ReceivePacket: %w", err)
		}
		payload, err := s.pkt.Data().Bytes(0)
		if err != nil {
			s.pkt.Unref()
			return fmt.Errorf("audiosrc: packet data: %w", err)
		}
		out := make([]byte, len(payload))
		copy(out, payload)

		ring.Insert(packet.Packet{
			StreamID:   1,
			PTS:        s.pkt.Pts(),
			HasPTS:     true,
			DTS:        s.pkt.Pts(),
			HasDTS:     true,
			Duration:   int64(s.pkt.Duration()),
			IsKeyframe: true, // audio packets are all independently decodable
			Payload:    out,
		})
		s.pkt.Unref()
	}
}

// endpointSampleFormat maps the endpoint's reported format name to the
// matching astiav constant. Endpoint buffers are always a single
// packed plane (spec.md §6's AudioBuffer carries one Data slice), so a
// "p"-suffixed (planar) name is treated the same as its packed form —
// this source never receives multi-plane endpoint buffers.
func endpointSampleFormat(name string) astiav.SampleFormat {
	switch name {
	case "s16", "s16p":
		return astiav.SampleFormatS16
	case "flt", "fltp":
		return astiav.SampleFormatFlt
	case "s32", "s32p":
		return astiav.SampleFormatS32
	default:
		return astiav.SampleFormatS16
	}
}
