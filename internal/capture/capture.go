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

// Package capture owns one camera device: it pulls frames as fast as
// the sensor delivers them, derives hardware frame numbers and drop
// counts from sensor timestamps, and publishes the latest frame into
// a single-writer/multi-reader slot for the collator to pick up.
package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
)

// ErrTimeout is returned by WaitForFrame when no new frame has been
// published before the deadline.
var ErrTimeout = errors.New("capture: wait for frame timed out")

const (
	captureRequestTimeout = 5 * time.Second
	pausedSleep           = 100 * time.Millisecond
	transientBackoff      = 100 * time.Millisecond
	hangBackoff           = time.Second
	fpsWindow             = 5 * time.Second
)

// latestFrame is the single-writer/multi-reader publication slot: a
// short lock around a pointer swap, never copying frame bytes under
// the lock.
type latestFrame struct {
	mu    sync.RWMutex
	seq   uint64
	frame *camtypes.Frame
}

func (b *latestFrame) put(f *camtypes.Frame) uint64 {
	b.mu.Lock()
	b.frame = f
	b.seq++
	seq := b.seq
	b.mu.Unlock()
	return seq
}

func (b *latestFrame) get() (uint64, *camtypes.Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq, b.frame
}

// Loop owns one camera's capture goroutine: it pulls requests from a
// Driver, detects dropped frames from hardware timestamps, and
// publishes the latest frame for readers to pull on demand.
type Loop struct {
	driver Driver
	log    *zap.SugaredLogger

	buf latestFrame

	ready chan struct{} // level-triggered, signaled on each publish

	pausedFlag atomic.Bool
	stop       chan struct{}
	done       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once

	capturedCount atomic.Int64

	// drop-detection state, touched only by the loop goroutine
	haveLastTS      bool
	lastSensorTS    int64
	expectedIntvNS  int64
	hwFrameNumber   int64

	// rolling FPS window, appended by the loop goroutine and read by
	// GetFPS, both under fpsMu
	fpsMu      sync.Mutex
	fpsSamples []time.Time
}

// New builds a capture loop around driver, not yet started.
func New(driver Driver, log *zap.SugaredLogger) *Loop {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loop{
		driver: driver,
		log:    log,
		ready:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start is idempotent; it opens the device and spawns the capture goroutine.
func (l *Loop) Start(ctx context.Context, cfg OpenConfig) error {
	var err error
	l.startOnce.Do(func() {
		if err = l.driver.Open(cfg); err != nil {
			return
		}
		go l.run(ctx, cfg)
	})
	return err
}

// Stop is idempotent: it signals the loop to exit, waits (bounded by
// the caller's context), and releases the device.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return l.driver.Close()
}

// Pause toggles an idle mode that neither captures nor spins.
func (l *Loop) Pause()  { l.pausedFlag.Store(true) }
func (l *Loop) Resume() { l.pausedFlag.Store(false) }

func (l *Loop) run(ctx context.Context, cfg OpenConfig) {
	defer close(l.done)

	expected, err := camtypes.ExpectedInterval(time.Duration(cfg.FrameDurationMicros) * time.Microsecond)
	if err == nil {
		l.expectedIntvNS = expected
	}

	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if l.pausedFlag.Load() {
			time.Sleep(pausedSleep)
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, captureRequestTimeout)
		req, err := l.driver.CaptureRequest(reqCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				l.log.Warnw("capture request timed out", "timeout", captureRequestTimeout)
				time.Sleep(hangBackoff)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			l.log.Debugw("transient capture error", "err", err)
			time.Sleep(transientBackoff)
			continue
		}

		l.handleRequest(req)
	}
}

func (l *Loop) handleRequest(req Request) {
	defer req.Release()

	pixels, w, h, stride, err := req.MakeArray(camtypes.StreamLores)
	if err != nil {
		l.log.Debugw("make_array failed", "err", err)
		return
	}
	meta := req.Metadata()

	count := l.capturedCount.Add(1)

	var expectedNS int64
	if iv, ierr := camtypes.ExpectedInterval(meta.FrameDuration); ierr == nil {
		expectedNS = iv
		l.expectedIntvNS = iv
	} else {
		expectedNS = l.expectedIntvNS
	}

	var dropped int64
	switch {
	case !meta.HasSensorTS:
		l.hwFrameNumber = count
	case !l.haveLastTS:
		l.haveLastTS = true
		l.lastSensorTS = meta.SensorTimestamp
		l.hwFrameNumber = 0
	case expectedNS > 0:
		delta := meta.SensorTimestamp - l.lastSensorTS
		intervals := camtypes.IntervalsPassed(delta, expectedNS)
		dropped = camtypes.DroppedSinceLast(intervals)
		l.hwFrameNumber += intervals
		l.lastSensorTS = meta.SensorTimestamp
	default:
		l.lastSensorTS = meta.SensorTimestamp
	}

	frame := &camtypes.Frame{
		Pixels:              pixels,
		Width:               w,
		Height:              h,
		Stride:              stride,
		Format:              camtypes.PixelFormatRGB888,
		WallClock:           time.Now(),
		Monotonic:           time.Now(),
		Meta:                meta,
		HardwareFrameNumber: l.hwFrameNumber,
		DroppedSinceLast:    dropped,
	}

	l.buf.put(frame)
	l.recordFPSSample(frame.WallClock)
	l.signalReady()
}

func (l *Loop) signalReady() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// WaitForFrame blocks until a new frame has been published since the
// caller's previous wake, or timeout elapses. The frame-ready signal
// is level-triggered: the consumer clears it (drains the channel)
// before reading the frame data, so a publish that lands between
// clearing and the next wait is never missed.
func (l *Loop) WaitForFrame(timeout time.Duration) (*camtypes.Frame, error) {
	select {
	case <-l.ready:
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
	_, f := l.buf.get()
	return f, nil
}

// GetLatestFrame is the non-blocking poll variant.
func (l *Loop) GetLatestFrame() *camtypes.Frame {
	_, f := l.buf.get()
	return f
}

func (l *Loop) recordFPSSample(t time.Time) {
	l.fpsMu.Lock()
	defer l.fpsMu.Unlock()
	l.fpsSamples = append(l.fpsSamples, t)
	cutoff := t.Add(-fpsWindow)
	i := 0
	for ; i < len(l.fpsSamples); i++ {
		if l.fpsSamples[i].After(cutoff) {
			break
		}
	}
	l.fpsSamples = l.fpsSamples[i:]
}

// GetFPS is the rolling-window measured capture rate over the last 5s.
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

// GetHardwareFPS returns the camera-reported rate derived from the
// last validated frame duration.
func (l *Loop) GetHardwareFPS() float64 {
	if l.expectedIntvNS <= 0 {
		return 0
	}
	return 1e9 / float64(l.expectedIntvNS)
}

// GetFrameCount returns the lifetime captured-frame counter.
func (l *Loop) GetFrameCount() int64 { return l.capturedCount.Load() }
