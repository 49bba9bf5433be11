/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * camcore
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of camcore.
 *
 * camcore is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * camcore is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with camcore.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package processor glues collator output to the preview slot and the
// recording manager: it picks the canonical display frame number,
// publishes the preview frame (rendered through an optional
// PreviewRenderer, else the collated pixels as they are), and — when a
// recording is active —
// submits timing metadata to the recorder without forwarding pixels
// (the encoder gets those directly from the camera's main stream).
package processor

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
	"github.com/JoelCooperPhD/camcore/internal/collator"
)

// Recorder is the subset of the recording manager the processor
// drives: fire-and-forget metadata submission, gated on IsRecording.
type Recorder interface {
	IsRecording() bool
	SubmitFrame(meta camtypes.FrameTimingMetadata)
}

// PreviewRenderer performs the (potentially expensive) preview-path
// overlay render off the collator's scheduling thread, returning the
// bytes to publish into the display slot.
type PreviewRenderer interface {
	RenderPreview(f *camtypes.Frame) []byte
}

// displaySlot is the single thread-safe mailbox the processor
// publishes into and an external preview consumer reads from. It
// overwrites on every write — only the freshest frame is kept.
type displaySlot struct {
	mu   sync.RWMutex
	data []byte
	w, h int
	seq  uint64
}

func (s *displaySlot) set(data []byte, w, h int) {
	s.mu.Lock()
	s.data, s.w, s.h = data, w, h
	s.seq++
	s.mu.Unlock()
}

func (s *displaySlot) get() ([]byte, int, int, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.w, s.h, s.seq
}

// Source is what the processor pulls from — satisfied by *collator.Loop.
type Source interface {
	GetFrame() *collator.Emitted
}

// Loop fans each collated frame out to recording (metadata only,
// gated on whether a recording is active) and preview (rendered bytes
// published to a single-slot mailbox).
type Loop struct {
	src      Source
	recorder Recorder
	renderer PreviewRenderer
	log      *zap.SugaredLogger

	display displaySlot

	processedCount atomic.Int64
	pausedFlag     atomic.Bool

	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
}

// New builds a processor pulling from src, submitting to recorder,
// rendering preview frames with renderer.
func New(src Source, recorder Recorder, renderer PreviewRenderer, log *zap.SugaredLogger) *Loop {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loop{
		src:      src,
		recorder: recorder,
		renderer: renderer,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start spawns the processing goroutine.
func (l *Loop) Start() {
	l.startOnce.Do(func() { go l.run() })
}

// Stop signals exit and waits for the goroutine to finish.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

// Pause/Resume idle without releasing downstream resources.
func (l *Loop) Pause()  { l.pausedFlag.Store(true) }
func (l *Loop) Resume() { l.pausedFlag.Store(false) }

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		if l.pausedFlag.Load() {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		em := l.src.GetFrame()
		if em == nil {
			continue
		}
		l.handle(em)
	}
}

func (l *Loop) handle(em *collator.Emitted) {
	f := em.Frame
	if f == nil {
		return
	}

	displayIdx := f.HardwareFrameNumber
	if displayIdx == 0 && em.Seq != 0 {
		displayIdx = em.Seq
	}

	count := l.processedCount.Add(1)

	if l.recorder != nil && l.recorder.IsRecording() {
		var sensorTS *int64
		if f.Meta.HasSensorTS {
			ts := f.Meta.SensorTimestamp
			sensorTS = &ts
		}
		dropped := f.DroppedSinceLast
		meta := camtypes.FrameTimingMetadata{
			SensorTimestampNS:   sensorTS,
			DroppedSinceLast:    &dropped,
			DisplayFrameIndex:   displayIdx,
			HardwareFrameNumber: f.HardwareFrameNumber,
			SoftwareFrameIndex:  count,
		}
		l.recorder.SubmitFrame(meta)
	}

	var rendered []byte
	if l.renderer != nil {
		rendered = l.renderer.RenderPreview(f)
	} else {
		rendered = f.Pixels
	}
	l.display.set(rendered, f.Width, f.Height)
}

// GetDisplayFrame returns the latest preview-resolution frame. Per
// SPEC_FULL.md §5's Open Question decision, this returns a direct
// reference to the processor's internal buffer rather than a
// defensive copy; callers that must outlive the next processed frame
// are responsible for copying before returning.
func (l *Loop) GetDisplayFrame() ([]byte, int, int) {
	data, w, h, _ := l.display.get()
	return data, w, h
}

// ProcessedFrames returns the lifetime processed-frame counter.
func (l *Loop) ProcessedFrames() int64 { return l.processedCount.Load() }
