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

// Package encoder drives a libx264 H.264 elementary-stream encoder
// built on github.com/asticode/go-astiav. It owns only the encode
// step; muxing an elementary stream into an .mp4 container is a
// separate external-process contract handled by internal/remux.
package encoder

import (
	"fmt"
	"os"
	"sync"

	"github.com/asticode/go-astiav"
)

// Options configure one encoder instance for a single recording.
type Options struct {
	Width      int
	Height     int
	FPS        float64
	BitrateBPS int64
}

// Encoder owns one libx264 AVCodecContext writing Annex-B packets to
// an .h264 elementary-stream sink file. At most one Encoder is active
// per camera at a time; ownership starts at Start and ends at Stop.
type Encoder struct {
	mu sync.Mutex

	codecCtx *astiav.CodecContext
	swsCtx   *astiav.SoftwareScaleContext
	avFrame  *astiav.Frame
	avPacket *astiav.Packet
	sink     *os.File

	pts     int64
	started bool
}

// New returns an encoder that is not yet started; Start takes the
// options and opens it.
func New() *Encoder {
	return &Encoder{}
}

// Start opens the libx264 encoder and the output sink file: codec
// lookup, context allocation and configuration, then context open.
func (e *Encoder) Start(path string, opts Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("encoder: already started")
	}

	codec := astiav.FindEncoderByName("libx264")
	if codec == nil {
		return fmt.Errorf("encoder: libx264 not available")
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return fmt.Errorf("encoder: failed to allocate codec context")
	}

	ctx.SetWidth(opts.Width)
	ctx.SetHeight(opts.Height)
	ctx.SetTimeBase(astiav.NewRational(1, int(opts.FPS*1000)))
	ctx.SetFramerate(astiav.NewRational(int(opts.FPS*1000), 1000))
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	if opts.BitrateBPS > 0 {
		ctx.SetBitRate(opts.BitrateBPS)
	}
	ctx.SetGopSize(int(opts.FPS) * 2)

	dict := astiav.NewDictionary()
	defer dict.Free()
	dict.Set("preset", "veryfast", 0)
	dict.Set("tune", "zerolatency", 0)

	if err := ctx.Open(codec, dict); err != nil {
		ctx.Free()
		return fmt.Errorf("encoder: open codec: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		ctx.Free()
		return fmt.Errorf("encoder: create sink %s: %w", path, err)
	}

	sws, err := astiav.CreateSoftwareScaleContext(
		opts.Width, opts.Height, astiav.PixelFormatRgb24,
		opts.Width, opts.Height, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear))
	if err != nil {
		ctx.Free()
		_ = f.Close()
		return fmt.Errorf("encoder: create scaler: %w", err)
	}

	e.codecCtx = ctx
	e.swsCtx = sws
	e.avFrame = astiav.AllocFrame()
	e.avPacket = astiav.AllocPacket()
	e.sink = f
	e.started = true
	return nil
}

// EncodeRGB converts an RGB888 frame to YUV420P and feeds it to the
// encoder, writing out any resulting Annex-B packets to the sink.
func (e *Encoder) EncodeRGB(pixels []byte, width, height, stride int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return fmt.Errorf("encoder: not started")
	}

	e.avFrame.SetWidth(width)
	e.avFrame.SetHeight(height)
	e.avFrame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := e.avFrame.AllocBuffer(0); err != nil {
		return fmt.Errorf("encoder: alloc frame buffer: %w", err)
	}

	if err := e.swsCtx.ScaleFrame(rgbSourceFrame(pixels, width, height, stride), e.avFrame); err != nil {
		return fmt.Errorf("encoder: scale: %w", err)
	}

	e.avFrame.SetPts(e.pts)
	e.pts++

	if err := e.codecCtx.SendFrame(e.avFrame); err != nil {
		return fmt.Errorf("encoder: send frame: %w", err)
	}
	return e.drainPackets()
}

func (e *Encoder) drainPackets() error {
	for {
		err := e.codecCtx.ReceivePacket(e.avPacket)
		if err != nil {
			if astiav.ErrorIsOneOf(err, astiav.ErrEagain, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("encoder: receive packet: %w", err)
		}
		if _, err := e.sink.Write(e.avPacket.Data()); err != nil {
			return fmt.Errorf("encoder: write packet: %w", err)
		}
		e.avPacket.Unref()
	}
}

// Stop flushes the encoder, closes the sink, and releases resources.
// Safe to call once; subsequent calls are no-ops.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false

	_ = e.codecCtx.SendFrame(nil) // flush
	_ = e.drainPackets()

	if e.avFrame != nil {
		e.avFrame.Free()
	}
	if e.avPacket != nil {
		e.avPacket.Free()
	}
	if e.swsCtx != nil {
		e.swsCtx.Free()
	}
	if e.codecCtx != nil {
		e.codecCtx.Free()
	}
	err := e.sink.Close()
	return err
}

// rgbSourceFrame wraps a raw RGB888 buffer in a minimal astiav.Frame
// shell suitable as the scaler's source; allocation of the
// destination frame is handled by the caller.
func rgbSourceFrame(pixels []byte, width, height, stride int) *astiav.Frame {
	f := astiav.AllocFrame()
	f.SetWidth(width)
	f.SetHeight(height)
	f.SetPixelFormat(astiav.PixelFormatRgb24)
	f.SetLinesize(0, stride)
	f.SetData(0, pixels)
	return f
}
