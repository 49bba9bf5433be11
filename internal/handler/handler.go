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

// Package handler assembles one camera's full pipeline — capture,
// collator, processor, overlay, recording manager — behind the
// Uninitialized/Active/Paused/Recording/Cleaning/Closed state machine
// that governs one camera's lifecycle.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
	"github.com/JoelCooperPhD/camcore/internal/capture"
	"github.com/JoelCooperPhD/camcore/internal/collator"
	"github.com/JoelCooperPhD/camcore/internal/overlay"
	"github.com/JoelCooperPhD/camcore/internal/processor"
)

// ErrInitialization is returned by Init on any failure; no partial
// state is left behind — already-opened resources are released first.
var ErrInitialization = errors.New("handler: camera initialization failed")

// ErrAlreadyStarting guards start_recording against overlapping starts.
var ErrAlreadyStarting = errors.New("handler: recording start already in progress")

const cleanupTaskTimeout = 2 * time.Second

// RecordingManager is the subset of *recording.Manager the handler drives.
type RecordingManager interface {
	IsRecording() bool
	StartRecording(sessionDir string) error
	StopRecording() error
	SubmitFrame(meta camtypes.FrameTimingMetadata)
	Cleanup() error
	VideoPath() string
	WrittenFrames() int64
}

// Config is one camera's pipeline configuration.
type Config struct {
	CamNum     int
	Open       capture.OpenConfig
	TargetFPS  float64
}

// Handler owns one camera's pipeline and lifecycle.
type Handler struct {
	cfg Config
	log *zap.SugaredLogger

	driver   capture.Driver
	capture  *capture.Loop
	collator *collator.Loop
	proc     *processor.Loop
	overlay  *overlay.Handler
	recorder RecordingManager

	mu          sync.Mutex
	state       camtypes.HandlerState
	startingRec bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// New builds a handler in the Uninitialized state.
func New(cfg Config, driver capture.Driver, recorder RecordingManager, ov *overlay.Handler, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{cfg: cfg, driver: driver, recorder: recorder, overlay: ov, log: log, state: camtypes.StateUninitialized}
}

// State returns the handler's current lifecycle state.
func (h *Handler) State() camtypes.HandlerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Init configures the dual-stream camera, registers the overlay
// callback, and starts the capture/collator/processor loops. On any
// failure, already-opened resources are released before the error
// propagates, leaving the handler in Uninitialized with no partial
// state.
func (h *Handler) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != camtypes.StateUninitialized {
		return fmt.Errorf("%w: handler not uninitialized", ErrInitialization)
	}

	runCtx, cancel := context.WithCancel(ctx)

	cl := capture.New(h.driver, h.log.Named("capture"))
	if err := cl.Start(runCtx, h.cfg.Open); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrInitialization, err)
	}

	if h.overlay != nil {
		h.driver.RegisterPostCallback(h.overlayCallback)
	}

	co := collator.New(cl, h.log.Named("collator"))
	co.Start(h.cfg.TargetFPS)

	pr := processor.New(co, h.recorder, nil, h.log.Named("processor"))
	pr.Start()

	h.capture = cl
	h.collator = co
	h.proc = pr
	h.ctx = runCtx
	h.cancel = cancel
	h.state = camtypes.StateActive
	return nil
}

// StartRecording delegates to the recording manager, guarding against
// overlapping starts.
func (h *Handler) StartRecording(sessionDir string) error {
	h.mu.Lock()
	if h.startingRec {
		h.mu.Unlock()
		return ErrAlreadyStarting
	}
	h.startingRec = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.startingRec = false
		h.mu.Unlock()
	}()

	if err := h.recorder.StartRecording(sessionDir); err != nil {
		return err
	}

	h.mu.Lock()
	if h.state == camtypes.StateActive {
		h.state = camtypes.StateRecording
	}
	h.mu.Unlock()
	return nil
}

// StopRecording delegates to the recording manager.
func (h *Handler) StopRecording() error {
	err := h.recorder.StopRecording()
	h.mu.Lock()
	if h.state == camtypes.StateRecording {
		h.state = camtypes.StateActive
	}
	h.mu.Unlock()
	return err
}

// Pause refuses while recording; stops capture/processor loops but
// does not release hardware.
func (h *Handler) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == camtypes.StateRecording {
		return fmt.Errorf("handler: cannot pause while recording")
	}
	if h.state != camtypes.StateActive {
		return nil
	}
	h.capture.Pause()
	h.proc.Pause()
	h.state = camtypes.StatePaused
	return nil
}

// Resume reverses Pause.
func (h *Handler) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != camtypes.StatePaused {
		return nil
	}
	h.capture.Resume()
	h.proc.Resume()
	h.state = camtypes.StateActive
	return nil
}

// Cleanup tears down the pipeline in this order: clean up the recording
// if one is active, cancel the pipeline context, stop the capture loop
// (which also closes the device) with a bounded timeout, then stop the
// collator and the processor. Any step's failure is logged and does
// not prevent subsequent steps.
func (h *Handler) Cleanup() {
	h.mu.Lock()
	if h.state == camtypes.StateClosed || h.state == camtypes.StateCleaning {
		h.mu.Unlock()
		return
	}
	h.state = camtypes.StateCleaning
	h.mu.Unlock()

	if h.recorder != nil && h.recorder.IsRecording() {
		if err := h.recorder.Cleanup(); err != nil {
			h.log.Warnw("recorder cleanup failed", "err", err)
		}
	}

	if h.cancel != nil {
		h.cancel()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cleanupTaskTimeout)
	defer stopCancel()
	if h.capture != nil {
		if err := h.capture.Stop(stopCtx); err != nil {
			h.log.Warnw("capture stop failed", "err", err)
		}
	}
	if h.collator != nil {
		h.collator.Stop()
	}
	if h.proc != nil {
		h.proc.Stop()
	}

	h.mu.Lock()
	h.state = camtypes.StateClosed
	h.mu.Unlock()
}

// overlayCallback maps a captured request's main and lores stream
// buffers into overlay.MappedBuffer views and invokes the overlay
// handler's dual-stream gated draw in place, before either stream is
// consumed by the encoder or the processor.
func (h *Handler) overlayCallback(req capture.Request) {
	main := mappedBufferFor(req, camtypes.StreamMain)
	lores := mappedBufferFor(req, camtypes.StreamLores)
	h.overlay.Callback(main, lores)
}

func mappedBufferFor(req capture.Request, stream string) *overlay.MappedBuffer {
	pixels, w, ht, stride, err := req.MakeArray(stream)
	if err != nil {
		return nil
	}
	return &overlay.MappedBuffer{Pixels: pixels, Width: w, Height: ht, Stride: stride}
}

// GetDisplayFrame exposes the current preview frame for snapshot /
// preview-bridge consumers.
func (h *Handler) GetDisplayFrame() ([]byte, int, int) {
	if h.proc == nil {
		return nil, 0, 0
	}
	return h.proc.GetDisplayFrame()
}

// Status mirrors the per-camera fields reported to the parent process
// on a status query, plus the duplicated_frames diagnostic.
type Status struct {
	CamNum          int
	Recording       bool
	CaptureFPS      float64
	CollationFPS    float64
	CapturedFrames  int64
	CollatedFrames  int64
	DuplicatedFrames int64
	RecordedFrames  int64
	Output          string
}

func (h *Handler) Status() Status {
	s := Status{CamNum: h.cfg.CamNum}
	if h.recorder != nil {
		s.Recording = h.recorder.IsRecording()
		s.RecordedFrames = h.recorder.WrittenFrames()
		s.Output = h.recorder.VideoPath()
	}
	if h.capture != nil {
		s.CaptureFPS = h.capture.GetFPS()
		s.CapturedFrames = h.capture.GetFrameCount()
	}
	if h.collator != nil {
		s.CollationFPS = h.collator.GetFPS()
		s.CollatedFrames = h.collator.GetFrameCount()
		s.DuplicatedFrames = h.collator.GetDuplicateCount()
	}
	return s
}
