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

package snapshot

import (
	"fmt"

	astiav "github.com/asticode/go-astiav"

	"github.com/haldis/rewind/internal/capture"
	"github.com/haldis/rewind/internal/timebase"
)

// fileMuxer is the real capture.Muxer implementation, grounded on
// video.go's startRecorder/closeRecorder pair: AllocOutputFormatContext
// + OpenIOContext + per-stream NewStream + WriteHeader/WriteInterleavedFrame/
// WriteTrailer.
type fileMuxer struct {
	oc      *astiav.FormatContext
	io      *astiav.IOContext
	streams map[int]*muxStream
	nextID  int
}

// muxStream pairs an output stream with the timebase its incoming
// packets are expressed in, so WritePacket can rescale into whatever
// timebase the muxer actually ends up using for that stream (spec.md
// §4.6 step 6: "rescale ... to the actual timebase chosen by the
// muxer, typically finer").
type muxStream struct {
	stream *astiav.Stream
	srcTB  timebase.Rational
}

// NewFileMuxer returns a capture.Muxer.
func NewFileMuxer() capture.Muxer {
	return &fileMuxer{streams: map[int]*muxStream{}}
}

func (m *fileMuxer) Open(path string, formatHint string) error {
	oc, err := astiav.AllocOutputFormatContext(nil, formatHint, path)
	if err != nil || oc == nil {
		return fmt.Errorf("snapshot: AllocOutputFormatContext: %w", err)
	}
	ioFlags := astiav.NewIOContextFlags(astiav.IOContextFlagWrite)
	pb, err := astiav.OpenIOContext(path, ioFlags, nil, nil)
	if err != nil {
		return fmt.Errorf("snapshot: OpenIOContext: %w", err)
	}
	oc.SetPb(pb)
	m.oc = oc
	m.io = pb
	return nil
}

func (m *fileMuxer) AddStream(params capture.StreamParams, tb capture.Rational) (int, error) {
	codec := astiav.FindEncoderByName(params.CodecID)
	if codec == nil {
		return 0, fmt.Errorf("snapshot: encoder %q not found", params.CodecID)
	}
	st := m.oc.NewStream(codec)
	if st == nil {
		return 0, fmt.Errorf("snapshot: NewStream failed for codec %q", params.CodecID)
	}
	cp := st.CodecParameters()
	cp.SetCodecID(codec.ID())
	if params.IsVideo {
		cp.SetMediaType(astiav.MediaTypeVideo)
		cp.SetWidth(params.Width)
		cp.SetHeight(params.Height)
	} else {
		cp.SetMediaType(astiav.MediaTypeAudio)
		cp.SetSampleRate(params.SampleRate)
		cp.SetChannelLayout(astiav.ChannelLayoutDefault(params.Channels))
	}
	cp.SetBitRate(params.BitRate)
	st.SetTimeBase(astiav.NewRational(int(tb.Num), int(tb.Den)))

	streamID := m.nextID
	m.nextID++
	m.streams[streamID] = &muxStream{stream: st, srcTB: timebase.New(tb.Num, tb.Den)}
	return streamID, nil
}

func (m *fileMuxer) WriteHeader() error {
	return m.oc.WriteHeader(nil)
}

func (m *fileMuxer) WritePacket(streamID int, pts, dts int64, hasDTS bool, duration int64, keyframe bool, payload []byte) error {
	ms, ok := m.streams[streamID]
	if !ok {
		return fmt.Errorf("snapshot: write to unknown stream %d", streamID)
	}
	st := ms.stream

	// The muxer may not have kept the timebase we requested verbatim
	// (some containers snap it to a fixed resolution); rescale against
	// whatever st.TimeBase() actually reports rather than assuming it
	// matches ms.srcTB.
	actual := st.TimeBase()
	dstTB := timebase.New(int64(actual.Num()), int64(actual.Den()))

	rescaledPTS := timebase.Rescale(pts, ms.srcTB, dstTB)
	rescaledDTS := rescaledPTS
	if hasDTS {
		rescaledDTS = timebase.Rescale(dts, ms.srcTB, dstTB)
	}
	rescaledDuration := timebase.Rescale(duration, ms.srcTB, dstTB)

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := pkt.FromData(payload); err != nil {
		return fmt.Errorf("snapshot: packet FromData: %w", err)
	}
	pkt.SetStreamIndex(st.Index())
	pkt.SetPts(rescaledPTS)
	pkt.SetDts(rescaledDTS)
	pkt.SetDuration(rescaledDuration)
	if keyframe {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}
	if err := m.oc.WriteInterleavedFrame(pkt); err != nil {
		return fmt.Errorf("snapshot: WriteInterleavedFrame: %w", err)
	}
	return nil
}

func (m *fileMuxer) WriteTrailer() error {
	return m.oc.WriteTrailer()
}

func (m *fileMuxer) Close() error {
	if m.io != nil {
		_ = m.io.Close()
	}
	if m.oc != nil {
		m.oc.Free()
	}
	return nil
}
