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

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
)

// StreamConfig describes one of the two streams a Driver must expose.
type StreamConfig struct {
	Width  int
	Height int
	Format string // camtypes.PixelFormatRGB888
}

// OpenConfig is the dual-stream configuration the core requires from
// its host camera driver.
type OpenConfig struct {
	Main  StreamConfig
	Lores StreamConfig

	// FrameDurationLimits pins the camera to a fixed frame duration in
	// microseconds: controls=FrameDurationLimits=(d,d).
	FrameDurationMicros int64
}

// Request is one captured request: it lets the caller pull either
// stream's pixel buffer and the per-frame metadata, and must be
// released exactly once.
type Request interface {
	MakeArray(stream string) ([]byte, int, int, int, error) // data, width, height, stride
	Metadata() camtypes.FrameMetadata
	Release()
}

// Driver is the camera driver contract the capture loop consumes. A
// real implementation backs this with libcamera/picamera2 over cgo or
// a subprocess wrapping an external capture binary that emits raw
// frames on a pipe; SimDriver backs it with a synthetic deterministic
// generator for tests.
type Driver interface {
	Open(cfg OpenConfig) error
	// CaptureRequest blocks until a frame is available or ctx is done.
	// The caller must call Release on the returned Request.
	CaptureRequest(ctx context.Context) (Request, error)
	// RegisterPostCallback installs the overlay hook, invoked once per
	// captured frame before the processor or encoder observe it.
	RegisterPostCallback(fn func(Request))
	Close() error
}
