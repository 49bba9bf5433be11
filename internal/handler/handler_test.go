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

package handler

import (
	"context"
	"testing"
	"time"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
	"github.com/JoelCooperPhD/camcore/internal/capture"
	"github.com/JoelCooperPhD/camcore/internal/overlay"
)

type fakeRecorder struct {
	recording bool
	written   int64
	path      string
}

func (r *fakeRecorder) IsRecording() bool { return r.recording }
func (r *fakeRecorder) StartRecording(sessionDir string) error {
	r.recording = true
	r.path = sessionDir + "/out.h264"
	return nil
}
func (r *fakeRecorder) StopRecording() error { r.recording = false; return nil }
func (r *fakeRecorder) SubmitFrame(m camtypes.FrameTimingMetadata) { r.written++ }
func (r *fakeRecorder) Cleanup() error { r.recording = false; return nil }
func (r *fakeRecorder) VideoPath() string { return r.path }
func (r *fakeRecorder) WrittenFrames() int64 { return r.written }

func testConfig() Config {
	return Config{
		CamNum:    0,
		TargetFPS: 30,
		Open: capture.OpenConfig{
			Main:                capture.StreamConfig{Width: 640, Height: 480, Format: camtypes.PixelFormatRGB888},
			Lores:               capture.StreamConfig{Width: 320, Height: 240, Format: camtypes.PixelFormatRGB888},
			FrameDurationMicros: 33333,
		},
	}
}

func TestHandlerLifecycleStateTransitions(t *testing.T) {
	drv := capture.NewSimDriver(30)
	rec := &fakeRecorder{}
	h := New(testConfig(), drv, rec, nil, nil)

	if h.State() != camtypes.StateUninitialized {
		t.Fatalf("expected Uninitialized, got %v", h.State())
	}

	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if h.State() != camtypes.StateActive {
		t.Fatalf("expected Active after init, got %v", h.State())
	}

	dir := t.TempDir()
	if err := h.StartRecording(dir); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if h.State() != camtypes.StateRecording {
		t.Fatalf("expected Recording, got %v", h.State())
	}

	if err := h.Pause(); err == nil {
		t.Fatal("expected pause to be refused while recording")
	}

	if err := h.StopRecording(); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if h.State() != camtypes.StateActive {
		t.Fatalf("expected Active after stop, got %v", h.State())
	}

	if err := h.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if h.State() != camtypes.StatePaused {
		t.Fatalf("expected Paused, got %v", h.State())
	}
	if err := h.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if h.State() != camtypes.StateActive {
		t.Fatalf("expected Active after resume, got %v", h.State())
	}

	h.Cleanup()
	if h.State() != camtypes.StateClosed {
		t.Fatalf("expected Closed after cleanup, got %v", h.State())
	}
}

func TestHandlerWiresOverlayCallbackIntoCaptureStream(t *testing.T) {
	drv := capture.NewSimDriver(200)
	rec := &fakeRecorder{}
	ov := overlay.NewHandler(overlay.Config{ShowCounter: true})
	h := New(testConfig(), drv, rec, ov, nil)

	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer h.Cleanup()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if ov.FrameCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected overlay frame counter to advance from captured frames")
}

func TestHandlerCleanupStopsActiveRecordingFirst(t *testing.T) {
	drv := capture.NewSimDriver(30)
	rec := &fakeRecorder{}
	h := New(testConfig(), drv, rec, nil, nil)
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := h.StartRecording(t.TempDir()); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.Cleanup()
	time.Sleep(10 * time.Millisecond)
	if rec.recording {
		t.Fatal("expected cleanup to stop the active recording")
	}
}
