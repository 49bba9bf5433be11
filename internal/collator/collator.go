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

// Package collator emits frames at a configured target rate,
// independent of the camera's native capture rate, duplicating or
// skipping frames as needed and smoothing processor lag behind a
// bounded drop-oldest queue.
package collator

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
)

const queueCapacity = 10

// Source is anything the collator can poll for the latest captured
// frame — satisfied by *capture.Loop.
type Source interface {
	GetLatestFrame() *camtypes.Frame
}

// Emitted is one collator output: a frame plus whether it is a repeat
// of the previously emitted frame (the camera had nothing new this tick).
type Emitted struct {
	Frame       *camtypes.Frame
	IsDuplicate bool
	Seq         int64
}

// Loop implements FPS-decoupled collation: it samples the capture loop's latest frame at a target rate independent of the camera's own frame rate.
type Loop struct {
	src Source
	log *zap.SugaredLogger

	targetFPS float64
	interval  time.Duration

	mu    sync.Mutex
	queue []Emitted

	emittedCount   atomic.Int64
	duplicateCount atomic.Int64

	lastFrame   *camtypes.Frame
	seenAny     bool
	lastSeq     int64

	fpsMu      sync.Mutex
	fpsSamples []time.Time

	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
}

// New builds a collator reading from src, not yet started.
func New(src Source, log *zap.SugaredLogger) *Loop {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loop{
		src:  src,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start spawns the collation goroutine at targetFPS.
func (l *Loop) Start(targetFPS float64) {
	l.targetFPS = targetFPS
	l.interval = time.Duration(float64(time.Second) / targetFPS)
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop signals exit and discards any queued frames.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	l.mu.Lock()
	l.queue = nil
	l.mu.Unlock()
}

func (l *Loop) run() {
	defer close(l.done)
	nextTick := time.Now().Add(l.interval)
	for {
		wait := time.Until(nextTick)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-l.stop:
				return
			}
		}
		nextTick = nextTick.Add(l.interval)

		select {
		case <-l.stop:
			return
		default:
		}

		l.tick()
	}
}

func (l *Loop) tick() {
	f := l.src.GetLatestFrame()
	if f == nil && !l.seenAny {
		return // camera has never produced a frame yet
	}

	isDup := false
	if f == nil || f == l.lastFrame {
		if l.lastFrame == nil {
			return
		}
		isDup = true
		f = l.lastFrame
	}
	l.lastFrame = f
	l.seenAny = true

	l.lastSeq++
	em := Emitted{Frame: f, IsDuplicate: isDup, Seq: l.lastSeq}

	l.enqueue(em)
	l.emittedCount.Add(1)
	if isDup {
		l.duplicateCount.Add(1)
	}
	l.recordFPSSample(time.Now())
}

func (l *Loop) enqueue(em Emitted) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) >= queueCapacity {
		// Drop-oldest-on-full: shift the slice down by one.
		l.queue = l.queue[1:]
	}
	l.queue = append(l.queue, em)
}

// GetFrame returns the newest queued frame, discarding all older
// queued frames first. If the queue is empty it waits up to
// 2/target_fps for one to arrive; returns nil on timeout.
func (l *Loop) GetFrame() *Emitted {
	if em := l.drainNewest(); em != nil {
		return em
	}
	deadline := time.NewTimer(time.Duration(2*float64(time.Second)/l.targetFPS))
	defer deadline.Stop()
	poll := time.NewTicker(time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-deadline.C:
			return nil
		case <-poll.C:
			if em := l.drainNewest(); em != nil {
				return em
			}
		}
	}
}

func (l *Loop) drainNewest() *Emitted {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	newest := l.queue[len(l.queue)-1]
	l.queue = nil
	return &newest
}

func (l *Loop) recordFPSSample(t time.Time) {
	l.fpsMu.Lock()
	defer l.fpsMu.Unlock()
	l.fpsSamples = append(l.fpsSamples, t)
	cutoff := t.Add(-5 * time.Second)
	i := 0
	for ; i < len(l.fpsSamples); i++ {
		if l.fpsSamples[i].After(cutoff) {
			break
		}
	}
	l.fpsSamples = l.fpsSamples[i:]
}

// GetFPS is the rolling emitted-frame rate over the trailing 5s.
func (l *Loop) GetFPS() float64 {
	l.fpsMu.Lock()
	defer l.fpsMu.Unlock()
	if len(l.fpsSamples) < 2 {
		return 0
	}
	span := l.fpsSamples[len(l.fpsSamples)-1].Sub(l.fpsSamples[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(l.fpsSamples)-1) / span
}

// GetFrameCount returns the lifetime emitted-frame counter.
func (l *Loop) GetFrameCount() int64 { return l.emittedCount.Load() }

// GetDuplicateCount returns the lifetime duplicated-frame counter, a
// diagnostic for distinguishing stalled-camera duplication from real
// frame loss in status reporting.
func (l *Loop) GetDuplicateCount() int64 { return l.duplicateCount.Load() }
