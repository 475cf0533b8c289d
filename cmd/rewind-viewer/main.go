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

// Command rewind-viewer plays back a clip written by rewind: it opens
// the file, demuxes it, and drives one C7 scheduler per stream (C8).
//
// Grounded on the teacher's main.go for flag parsing and log setup,
// and on video.go's playback-side io.Pipe/oto.Player wiring, carried
// here as internal/playback's otoSink.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haldis/rewind/internal/playback"
)

func main() {
	path := flag.String("file", "", "clip file to play back")
	seconds := flag.Float64("seek", -1, "seek to this position (seconds) before playing")
	maxBuffered := flag.Duration("max-buffered", 2*time.Second, "per-stream scheduler buffer bound")
	sampleRate := flag.Int("sample-rate", 48000, "audio sink sample rate")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *path == "" {
		log.Fatal("rewind-viewer: -file is required")
	}

	sink, err := playback.NewOtoSink(*sampleRate, 2)
	if err != nil {
		log.Fatalf("audio sink: %v", err)
	}
	defer sink.Close()

	orch := playback.New(sink, *maxBuffered)
	if err := orch.Open(*path); err != nil {
		log.Fatalf("open %s: %v", *path, err)
	}
	defer orch.Close()

	if *seconds >= 0 {
		orch.Seek(*seconds)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("rewind-viewer: shutting down")
		cancel()
	}()

	if err := orch.Run(ctx); err != nil {
		log.Fatalf("playback: %v", err)
	}
}
