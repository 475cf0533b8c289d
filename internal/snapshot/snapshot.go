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

// Package snapshot implements C6: on a hotkey trigger, pull the
// current contents of every recorder's ring buffer, normalize their
// timestamps onto one shared "global zero" origin, and mux them into
// a single output file.
//
// Grounded on video.go's startRecorder/closeRecorder pair for the
// AllocOutputFormatContext/WriteHeader/WriteInterleavedFrame/
// WriteTrailer shape (see mux.go), and on original_source's
// capturer/clipping/saver.rs for get_file_name's "_001".."_999"
// collision probe and standard_save's per-stream PTS normalization.
// Unlike saver.rs's ad hoc audio offset formula `(offset - 1) * 1600`,
// which hardcodes a 48000/30 sample-to-frame ratio that breaks for any
// other sample rate or framerate, global_zero here is computed once in
// seconds across every stream (spec.md §4.6 steps 2-4) and rescaled
// into each stream's own timebase via internal/timebase.Rescale, so
// streams whose true start times genuinely differ keep that skew
// instead of each being independently snapped to its own zero.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	astiav "github.com/asticode/go-astiav"
	"github.com/hajimehoshi/oto/v2"

	"github.com/haldis/rewind/internal/capture"
	"github.com/haldis/rewind/internal/packet"
	"github.com/haldis/rewind/internal/timebase"
)

// StreamSource supplies one recorder's current snapshot and the muxer
// parameters needed to add a matching output stream.
type StreamSource struct {
	Params   capture.StreamParams
	TimeBase capture.Rational
	Ring     packet.RingBuffer
}

// Options configures one snapshot write.
type Options struct {
	OutDir    string
	BaseName  string
	Extension string // e.g. ".mp4"
	MinFrames *int64 // optional minimum retained duration passed to Ring.Snapshot
}

// Writer performs the snapshot-and-mux operation (spec.md §4.6).
type Writer struct {
	newMuxer func() capture.Muxer
	chime    *confirmationChime
}

// NewWriter constructs a Writer. If soundFile is non-empty, it is
// demuxed and decoded once up front and replayed through the shared
// oto/v2 context on every successful snapshot (spec.md §6's
// `--save-sound <path>`); an empty path disables the confirmation
// sound entirely.
func NewWriter(soundFile string) (*Writer, error) {
	w := &Writer{newMuxer: NewFileMuxer}
	if soundFile != "" {
		chime, err := newConfirmationChime(soundFile)
		if err != nil {
			return nil, fmt.Errorf("snapshot: confirmation chime: %w", err)
		}
		w.chime = chime
	}
	return w, nil
}

// nanosPerSecond is the precision global_zero is carried at between
// being computed in seconds and rescaled back into each stream's own
// timebase, via internal/timebase.Rescale.
const nanosPerSecond = 1_000_000_000

// Write pulls a snapshot from every source, computes one shared
// global_zero across ALL of them, and muxes the result to a uniquely
// named output file, probing "_001".."_999" suffixes on name
// collision (spec.md §4.6; grounded on saver.rs's get_file_name).
//
// global_zero is the minimum first_pts_seconds across every source
// (spec.md §4.6 steps 2-4): each stream's earliest packet converted to
// seconds via its own timebase, then the smallest of those. Every
// stream is then shifted by that one shared value, rescaled back into
// its own timebase — not by its own independent minimum — so genuine
// inter-stream skew (e.g. audio starting half a frame before video)
// survives instead of being erased.
func (w *Writer) Write(sources []StreamSource, opts Options) (string, error) {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create out dir: %w", err)
	}
	path, err := nextFilePath(opts.OutDir, opts.BaseName, opts.Extension, time.Now())
	if err != nil {
		return "", err
	}

	mux := w.newMuxer()
	if err := mux.Open(path, "mp4"); err != nil {
		return "", err
	}
	defer mux.Close()

	muxIDs := make([]int, len(sources))
	for i, src := range sources {
		id, err := mux.AddStream(src.Params, src.TimeBase)
		if err != nil {
			return "", err
		}
		muxIDs[i] = id
	}
	if err := mux.WriteHeader(); err != nil {
		return "", fmt.Errorf("snapshot: write header: %w", err)
	}

	streamPackets := make([][]packet.Packet, len(sources))
	streamTBs := make([]timebase.Rational, len(sources))
	globalZeroSeconds := math.Inf(1)
	for i, src := range sources {
		streamPackets[i] = src.Ring.Snapshot(opts.MinFrames)
		streamTBs[i] = timebase.New(src.TimeBase.Num, src.TimeBase.Den)
		if secs, ok := firstPTSSeconds(streamPackets[i], streamTBs[i]); ok && secs < globalZeroSeconds {
			globalZeroSeconds = secs
		}
	}
	if math.IsInf(globalZeroSeconds, 1) {
		globalZeroSeconds = 0
	}
	zeroNanos := int64(math.Round(globalZeroSeconds * nanosPerSecond))
	nanoTB := timebase.New(1, nanosPerSecond)

	for i, src := range sources {
		zero := timebase.Rescale(zeroNanos, nanoTB, streamTBs[i])
		normalize(streamPackets[i], zero)
		for _, p := range streamPackets[i] {
			if err := mux.WritePacket(muxIDs[i], p.PTS, p.DTS, p.HasDTS, p.Duration, p.IsKeyframe, p.Payload); err != nil {
				return "", fmt.Errorf("snapshot: write packet (stream %d): %w", muxIDs[i], err)
			}
		}
	}

	if err := mux.WriteTrailer(); err != nil {
		return "", fmt.Errorf("snapshot: write trailer: %w", err)
	}

	if w.chime != nil {
		w.chime.Play()
	}
	return path, nil
}

// firstPTSSeconds returns the earliest PTS in packets, converted to
// seconds via tb (spec.md §4.6 step 2), and whether packets was
// non-empty.
func firstPTSSeconds(packets []packet.Packet, tb timebase.Rational) (float64, bool) {
	if len(packets) == 0 {
		return 0, false
	}
	min := packets[0].PTS
	for _, p := range packets {
		if p.PTS < min {
			min = p.PTS
		}
	}
	return tb.Seconds(min), true
}

// normalize shifts every packet's pts/dts by -zero, where zero is the
// shared global_zero already rescaled into this stream's own timebase
// units (spec.md §4.6 step 4).
func normalize(packets []packet.Packet, zero int64) {
	for i := range packets {
		packets[i].ShiftTimestamps(zero)
	}
}

// nextFilePath builds out_dir/base_YYYYMMDD_HHMMSS.ext, probing
// "_001".."_999" suffixes if that name already exists.
func nextFilePath(outDir, base, ext string, now time.Time) (string, error) {
	stem := fmt.Sprintf("%s_%s", base, now.Format("20060102_150405"))
	candidate := filepath.Join(outDir, stem+ext)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}
	for i := 1; i <= 999; i++ {
		candidate := filepath.Join(outDir, fmt.Sprintf("%s_%03d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("snapshot: all 999 filenames for %s taken", stem)
}

// chimeSampleRate/chimeChannels is the fixed format the configured
// sound file is resampled to once at load time, matching what video.go
// hardcodes for its own oto/v2 context.
const (
	chimeSampleRate = 44100
	chimeChannels   = 1
)

// confirmationChime replays a pre-decoded PCM buffer through the
// shared oto/v2 context, grounded on audio.go's InitGlobalAudio
// context bring-up.
type confirmationChime struct {
	ctx *oto.Context
	pcm []byte
}

// newConfirmationChime demuxes and decodes soundFile once via astiav
// (the same FFmpeg bindings every other decode path in this tree
// uses, rather than adding a second, file-format-specific decode
// library), resampling its audio into s16le mono at chimeSampleRate so
// the whole clip can be handed to oto/v2 as one fixed buffer.
func newConfirmationChime(soundFile string) (*confirmationChime, error) {
	pcm, err := decodeSoundFile(soundFile)
	if err != nil {
		return nil, err
	}

	ctx, ready, err := oto.NewContext(chimeSampleRate, chimeChannels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, err
	}
	go func() { <-ready }()

	return &confirmationChime{ctx: ctx, pcm: pcm}, nil
}

// decodeSoundFile opens path, decodes its first audio stream in full,
// and resamples it to s16le mono at chimeSampleRate.
func decodeSoundFile(path string) ([]byte, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("snapshot: AllocFormatContext failed")
	}
	defer fc.Free()
	if err := fc.OpenInput(path, nil, nil); err != nil {
		return nil, fmt.Errorf("snapshot: OpenInput %s: %w", path, err)
	}
	defer fc.CloseInput()
	if err := fc.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("snapshot: FindStreamInfo: %w", err)
	}

	streamIdx := -1
	for i, st := range fc.Streams() {
		if st.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			streamIdx = i
			break
		}
	}
	if streamIdx < 0 {
		return nil, fmt.Errorf("snapshot: %s has no audio stream", path)
	}
	st := fc.Streams()[streamIdx]

	dec := astiav.FindDecoder(st.CodecParameters().CodecID())
	if dec == nil {
		return nil, fmt.Errorf("snapshot: no decoder for %s's codec", path)
	}
	decCtx := astiav.AllocCodecContext(dec)
	if decCtx == nil {
		return nil, errors.New("snapshot: AllocCodecContext failed")
	}
	defer decCtx.Free()
	if err := st.CodecParameters().ToCodecContext(decCtx); err != nil {
		return nil, fmt.Errorf("snapshot: ToCodecContext: %w", err)
	}
	if err := decCtx.Open(dec, nil); err != nil {
		return nil, fmt.Errorf("snapshot: decoder open: %w", err)
	}

	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		return nil, errors.New("snapshot: AllocSoftwareResampleContext failed")
	}
	defer swr.Free()

	outChLayout := astiav.ChannelLayoutDefault(chimeChannels)
	out := astiav.AllocFrame()
	defer out.Free()
	out.SetSampleFormat(astiav.SampleFormatS16)
	out.SetSampleRate(chimeSampleRate)
	out.SetChannelLayout(outChLayout)

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	frame := astiav.AllocFrame()
	defer frame.Free()

	var pcm []byte
	for {
		if err := fc.ReadFrame(pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return nil, fmt.Errorf("snapshot: ReadFrame: %w", err)
		}
		if pkt.StreamIndex() != streamIdx {
			pkt.Unref()
			continue
		}
		if err := decCtx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
			pkt.Unref()
			return nil, fmt.Errorf("snapshot: SendPacket: %w", err)
		}
		pkt.Unref()

		for {
			if err := decCtx.ReceiveFrame(frame); err != nil {
				if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
					break
				}
				return nil, fmt.Errorf("snapshot: ReceiveFrame: %w", err)
			}
			// out.Unref below resets every field of out, so its output
			// format is set again for each decoded frame.
			out.SetSampleFormat(astiav.SampleFormatS16)
			out.SetSampleRate(chimeSampleRate)
			out.SetChannelLayout(outChLayout)
			out.SetNbSamples(frame.NbSamples()*chimeSampleRate/frame.SampleRate() + 32)
			if err := out.AllocBuffer(0); err != nil {
				return nil, fmt.Errorf("snapshot: out AllocBuffer: %w", err)
			}
			if err := swr.ConvertFrame(frame, out); err != nil {
				return nil, fmt.Errorf("snapshot: resample: %w", err)
			}
			plane, err := out.Data().Bytes(0)
			if err != nil {
				return nil, fmt.Errorf("snapshot: out plane: %w", err)
			}
			n := out.NbSamples() * 2 // s16 mono: 2 bytes/sample
			if n > len(plane) {
				n = len(plane)
			}
			pcm = append(pcm, plane[:n]...)
			out.Unref()
		}
	}
	return pcm, nil
}

func (c *confirmationChime) Play() {
	p := c.ctx.NewPlayer(bytes.NewReader(c.pcm))
	p.Play()
	go func() {
		for p.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		_ = p.Close()
	}()
}
