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

package capture

import (
	"context"
	"testing"
	"time"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
)

func testOpenConfig() OpenConfig {
	return OpenConfig{
		Main:                StreamConfig{Width: 640, Height: 480, Format: camtypes.PixelFormatRGB888},
		Lores:               StreamConfig{Width: 320, Height: 240, Format: camtypes.PixelFormatRGB888},
		FrameDurationMicros: 33333, // ~30fps
	}
}

func TestCaptureLoopPublishesFrames(t *testing.T) {
	drv := NewSimDriver(30)
	loop := New(drv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loop.Start(ctx, testOpenConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = loop.Stop(stopCtx)
	}()

	f, err := loop.WaitForFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("wait for frame: %v", err)
	}
	if f == nil {
		t.Fatal("expected a frame")
	}
	if f.Width != 320 || f.Height != 240 {
		t.Fatalf("expected lores dims 320x240, got %dx%d", f.Width, f.Height)
	}
}

func TestCaptureLoopDropDetectionOnGap(t *testing.T) {
	drv := NewSimDriver(30)
	loop := New(drv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loop.Start(ctx, testOpenConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = loop.Stop(stopCtx)
	}()

	// First frame establishes the baseline timestamp (no drop reported).
	if _, err := loop.WaitForFrame(2 * time.Second); err != nil {
		t.Fatalf("wait for frame 1: %v", err)
	}

	// Inject a ~1s gap before the next captured frame; expect ~29-31 drops.
	drv.GapOnce = time.Second
	f, err := loop.WaitForFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("wait for frame 2: %v", err)
	}
	if f.DroppedSinceLast < 25 || f.DroppedSinceLast > 35 {
		t.Fatalf("expected ~29-31 dropped frames after 1s gap at 30fps, got %d", f.DroppedSinceLast)
	}
}

func TestCaptureLoopPauseResumeDoesNotAdvance(t *testing.T) {
	drv := NewSimDriver(100)
	loop := New(drv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loop.Start(ctx, testOpenConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = loop.Stop(stopCtx)
	}()

	if _, err := loop.WaitForFrame(2 * time.Second); err != nil {
		t.Fatalf("warmup wait: %v", err)
	}
	loop.Pause()
	before := loop.GetFrameCount()
	time.Sleep(300 * time.Millisecond)
	after := loop.GetFrameCount()
	if after != before {
		t.Fatalf("expected no new frames while paused, before=%d after=%d", before, after)
	}
	loop.Resume()
}
