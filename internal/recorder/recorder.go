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

// Package recorder implements C5: a Recorder wraps one source+encoder
// adapter (video or audio) around a ring buffer and a worker
// goroutine, matching the stop/done channel and atomic-flag shape
// camera.go uses for its own decode loop lifecycle (CamWindow.stop,
// CamWindow.done, CamWindow.recording atomic.Bool).
package recorder

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/haldis/rewind/internal/packet"
)

// Source is implemented by videosrc.Source and audiosrc.Source: one
// tick's worth of acquire-encode-drain work (spec.md §4.2 / §4.3).
type Source interface {
	Init(ctx context.Context) error
	Tick(ctx context.Context, ring packet.RingBuffer) error
	Close() error
}

// Recorder owns one Source, its ring buffer, and a worker goroutine.
// Exactly one Recorder exists per source for the lifetime of the
// capture session (spec.md §4.5 invariant).
type Recorder struct {
	name   string
	source Source
	ring   packet.RingBuffer

	running atomic.Bool
	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	lastErr atomic.Value // error
}

// New constructs a Recorder. name is used only for logging.
func New(name string, source Source, ring packet.RingBuffer) *Recorder {
	return &Recorder{
		name:   name,
		source: source,
		ring:   ring,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Ring returns the backing ring buffer, read by the snapshot step.
func (r *Recorder) Ring() packet.RingBuffer { return r.ring }

// Start launches the worker goroutine. It returns once the source's
// one-time Init has completed, so a caller can detect startup failures
// synchronously instead of only discovering them via Err() later.
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.source.Init(ctx); err != nil {
		return err
	}
	r.running.Store(true)
	r.started.Store(true)
	go r.worker(ctx)
	return nil
}

func (r *Recorder) worker(ctx context.Context) {
	defer close(r.done)
	defer r.running.Store(false)
	defer func() {
		if err := r.source.Close(); err != nil {
			log.Printf("recorder[%s]: close: %v", r.name, err)
		}
	}()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := r.source.Tick(ctx, r.ring); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("recorder[%s]: tick error: %v", r.name, err)
			r.lastErr.Store(err)
			return
		}
	}
}

// Stop signals the worker to exit and blocks until it has. Calling
// Stop more than once is safe.
func (r *Recorder) Stop() {
	if !r.started.Load() {
		return
	}
	if !r.running.CompareAndSwap(true, false) {
		<-r.done
		return
	}
	close(r.stop)
	<-r.done
}

// Running reports whether the worker goroutine is currently active.
func (r *Recorder) Running() bool { return r.running.Load() }

// Err returns the error that stopped the worker, if any.
func (r *Recorder) Err() error {
	v := r.lastErr.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}
