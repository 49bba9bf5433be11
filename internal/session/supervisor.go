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

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
	"github.com/JoelCooperPhD/camcore/internal/capture"
	"github.com/JoelCooperPhD/camcore/internal/handler"
	"github.com/JoelCooperPhD/camcore/internal/overlay"
)

// DefaultDiscoveryBudget bounds the wall-clock time spent probing for
// cameras at startup before deciding how many are actually available.
const DefaultDiscoveryBudget = 10 * time.Second

// DefaultRetryInterval is the fixed period between supervisor retries
// of a camera that failed to open or initialize.
const DefaultRetryInterval = 3 * time.Second

// auxShutdownBudget bounds how long System.Shutdown waits for the
// supervisor retry goroutines to exit before returning anyway.
const auxShutdownBudget = 500 * time.Millisecond

// DriverFactory opens a camera driver for a discovered hardware slot.
// Swappable so tests can substitute capture.NewSimDriver.
type DriverFactory func(camNum int) (capture.Driver, error)

// RecorderFactory builds the recording manager for one camera number.
// Swappable so tests can substitute a bare in-memory fake instead of a
// real encoder-backed manager.
type RecorderFactory func(camNum int) handler.RecordingManager

// OverlayFactory builds the overlay handler for one camera number. May
// be nil, in which case cameras run with no frame-counter overlay.
type OverlayFactory func(camNum int) *overlay.Handler

// ErrNotEnoughCameras is returned by Discover when fewer than
// MinCameras were found and AllowPartial is false.
type ErrNotEnoughCameras struct {
	Found, Required int
}

func (e *ErrNotEnoughCameras) Error() string {
	return fmt.Sprintf("session: found %d camera(s), need at least %d", e.Found, e.Required)
}

// Options configures discovery and supervision behaviour.
type Options struct {
	RequestedCameras []int
	MinCameras       int
	AllowPartial     bool
	DiscoveryBudget  time.Duration
	RetryInterval    time.Duration
	TargetFPS        float64
	Open             capture.OpenConfig
	SessionRootDir   string
}

// System owns the full set of camera handlers for one run: discovery,
// per-camera supervision (retrying cameras that did not come up), and
// command dispatch from the parent process.
type System struct {
	opts     Options
	factory  DriverFactory
	recorder RecorderFactory
	overlay  OverlayFactory
	log      *zap.SugaredLogger
	status   *StatusWriter

	mu       sync.Mutex
	handlers map[int]*handler.Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSystem builds a System ready for Discover. recorder may be nil,
// in which case cameras run without recording support (discovery and
// preview only). overlay may also be nil, in which case no camera
// gets a frame-counter overlay.
func NewSystem(opts Options, factory DriverFactory, recorder RecorderFactory, ov OverlayFactory, status *StatusWriter, log *zap.SugaredLogger) *System {
	if opts.DiscoveryBudget <= 0 {
		opts.DiscoveryBudget = DefaultDiscoveryBudget
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if recorder == nil {
		recorder = func(int) handler.RecordingManager { return noopRecorder{} }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &System{
		opts:     opts,
		factory:  factory,
		recorder: recorder,
		overlay:  ov,
		log:      log,
		status:   status,
		handlers: make(map[int]*handler.Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Discover opens a driver and initializes a handler for every
// requested camera number within the discovery budget. If fewer than
// MinCameras succeed and AllowPartial is false, all opened handlers
// are torn down and ErrNotEnoughCameras is returned; if AllowPartial
// is true, the system proceeds with whatever subset initialized.
func (s *System) Discover() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DiscoveryBudget)
	defer cancel()

	var opened []int
	for _, camNum := range s.opts.RequestedCameras {
		if ctx.Err() != nil {
			s.log.Warnw("discovery budget exhausted", "remaining_cameras", len(s.opts.RequestedCameras)-len(opened))
			break
		}
		drv, err := s.factory(camNum)
		if err != nil {
			s.log.Warnw("camera open failed during discovery", "cam_num", camNum, "err", err)
			continue
		}
		h := handler.New(handler.Config{CamNum: camNum, Open: s.opts.Open, TargetFPS: s.opts.TargetFPS}, drv, s.recorder(camNum), s.overlayFor(camNum), s.log.Named(fmt.Sprintf("cam%d", camNum)))
		if err := h.Init(s.ctx); err != nil {
			s.log.Warnw("camera init failed during discovery", "cam_num", camNum, "err", err)
			continue
		}
		s.mu.Lock()
		s.handlers[camNum] = h
		s.mu.Unlock()
		opened = append(opened, camNum)
	}

	if len(opened) < s.opts.MinCameras && !s.opts.AllowPartial {
		s.mu.Lock()
		for _, camNum := range opened {
			s.handlers[camNum].Cleanup()
			delete(s.handlers, camNum)
		}
		s.mu.Unlock()
		return &ErrNotEnoughCameras{Found: len(opened), Required: s.opts.MinCameras}
	}

	if len(opened) < len(s.opts.RequestedCameras) {
		s.log.Warnw("running with a partial camera set", "opened", opened, "requested", s.opts.RequestedCameras)
	}
	return nil
}

func (s *System) overlayFor(camNum int) *overlay.Handler {
	if s.overlay == nil {
		return nil
	}
	return s.overlay(camNum)
}

// Handlers returns a snapshot of the currently live handlers, keyed by
// camera number.
func (s *System) Handlers() map[int]*handler.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*handler.Handler, len(s.handlers))
	for k, v := range s.handlers {
		out[k] = v
	}
	return out
}

// Supervise starts a background retry loop for each requested camera
// number that is missing from the live handler set at the time of the
// call, attempting to open and initialize it on a fixed interval until
// it comes up or the context is cancelled by Shutdown. A loop ends once
// its camera is live; a camera that stops working after that is not
// detected or reopened.
func (s *System) Supervise() {
	for _, camNum := range s.opts.RequestedCameras {
		s.mu.Lock()
		_, live := s.handlers[camNum]
		s.mu.Unlock()
		if live {
			continue
		}
		s.wg.Add(1)
		go s.retryLoop(camNum)
	}
}

func (s *System) retryLoop(camNum int) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		_, live := s.handlers[camNum]
		s.mu.Unlock()
		if live {
			return
		}

		drv, err := s.factory(camNum)
		if err != nil {
			s.log.Debugw("retry: camera still unavailable", "cam_num", camNum, "err", err)
			continue
		}
		h := handler.New(handler.Config{CamNum: camNum, Open: s.opts.Open, TargetFPS: s.opts.TargetFPS}, drv, s.recorder(camNum), s.overlayFor(camNum), s.log.Named(fmt.Sprintf("cam%d", camNum)))
		if err := h.Init(s.ctx); err != nil {
			s.log.Debugw("retry: camera init failed", "cam_num", camNum, "err", err)
			continue
		}

		s.mu.Lock()
		s.handlers[camNum] = h
		s.mu.Unlock()
		if s.status != nil {
			_ = s.status.Send("camera_recovered", map[string]int{"camera_id": camNum})
		}
		return
	}
}

// ToggleCamera enables or disables one camera without affecting the
// rest of the set: disabling tears its handler down (freeing the
// hardware device) and removes it from the live set; no retry loop
// reopens it, since Supervise's loops end once their camera is live.
// Enabling opens and initializes the camera once, returning any error.
func (s *System) ToggleCamera(camNum int, enabled bool) error {
	s.mu.Lock()
	h, live := s.handlers[camNum]
	s.mu.Unlock()

	if !enabled {
		if !live {
			return nil
		}
		h.Cleanup()
		s.mu.Lock()
		delete(s.handlers, camNum)
		s.mu.Unlock()
		return nil
	}

	if live {
		return nil
	}
	drv, err := s.factory(camNum)
	if err != nil {
		return err
	}
	nh := handler.New(handler.Config{CamNum: camNum, Open: s.opts.Open, TargetFPS: s.opts.TargetFPS}, drv, s.recorder(camNum), s.overlayFor(camNum), s.log.Named(fmt.Sprintf("cam%d", camNum)))
	if err := nh.Init(s.ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.handlers[camNum] = nh
	s.mu.Unlock()
	return nil
}

// Shutdown cleans up every live handler in parallel and waits for all
// of them with no overall deadline (inside each Cleanup only the
// capture-loop stop is time-bounded), then waits up to
// auxShutdownBudget for background supervisor goroutines to notice
// cancellation and exit.
func (s *System) Shutdown() {
	s.cancel()

	s.mu.Lock()
	handlers := make([]*handler.Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.handlers = make(map[int]*handler.Handler)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h *handler.Handler) {
			defer wg.Done()
			h.Cleanup()
		}(h)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(auxShutdownBudget):
		s.log.Warnw("shutdown: auxiliary goroutines did not exit within budget", "budget", auxShutdownBudget)
	}
}

// noopRecorder stands in for every camera when NewSystem is given no
// RecorderFactory; such cameras never record.
type noopRecorder struct{}

func (noopRecorder) IsRecording() bool                                 { return false }
func (noopRecorder) StartRecording(sessionDir string) error             { return nil }
func (noopRecorder) StopRecording() error                               { return nil }
func (noopRecorder) SubmitFrame(meta camtypes.FrameTimingMetadata)      {}
func (noopRecorder) Cleanup() error                                     { return nil }
func (noopRecorder) VideoPath() string                                  { return "" }
func (noopRecorder) WrittenFrames() int64                               { return 0 }
