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

package playback

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/hajimehoshi/oto/v2"

	"github.com/haldis/rewind/internal/capture"
)

// otoSink is a capture.AudioSink backed by an io.Pipe feeding an
// oto/v2 Player, grounded on video.go's aPipeW/aPlayer pair (its own
// io.Pipe-to-oto.NewPlayer playback path) and on audio.go's
// InitGlobalAudio for context bring-up.
type otoSink struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player oto.Player
	pw     *io.PipeWriter
	volume float32
}

// NewOtoSink opens an oto/v2 context at sampleRate/channels and wires
// an io.Pipe into it, returning a capture.AudioSink the orchestrator's
// audio callback writes interleaved float samples to.
func NewOtoSink(sampleRate, channels int) (capture.AudioSink, error) {
	ctx, ready, err := oto.NewContext(sampleRate, channels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, err
	}
	go func() { <-ready }()

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	player.Play()

	return &otoSink{ctx: ctx, player: player, pw: pw, volume: 1.0}, nil
}

// Write converts interleaved float32 samples to signed 16-bit PCM,
// applies volume, and writes them to the backing pipe.
func (s *otoSink) Write(samples []float32) error {
	s.mu.Lock()
	vol := s.volume
	s.mu.Unlock()

	buf := make([]byte, len(samples)*2)
	for i, v := range samples {
		v *= vol
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(v*32767)))
	}
	_, err := s.pw.Write(buf)
	return err
}

func (s *otoSink) SetVolume(v float32) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *otoSink) Close() error {
	_ = s.pw.Close()
	return s.player.Close()
}
