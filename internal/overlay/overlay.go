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

// Package overlay implements the post-capture callback that stamps a
// monotonically increasing frame counter into the pixel buffers the
// camera subsystem hands back, via a direct in-place buffer mapping —
// the Go analogue of picamera2's MappedArray zero-copy view. A copy
// here would not be visible to the encoder.
package overlay

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MappedBuffer is a mutable view directly into a captured request's
// named stream. Writes through Pixels are visible to whatever
// consumes the stream next (the encoder for "main", the processor for
// "lores") because no copy is made.
type MappedBuffer struct {
	Pixels []byte
	Width  int
	Height int
	Stride int
}

// Config holds the subset of the full overlay configuration this
// callback needs to render text (margin_left, line_start_y,
// text_color_{r,g,b}) plus the show_frame_number toggle; the other
// overlay keys in internal/appconfig (font scale, thickness, outline,
// line spacing, recording info) are not read by this package.
type Config struct {
	MarginLeft  int
	LineStartY  int
	TextColorR  byte
	TextColorG  byte
	TextColorB  byte
	ShowCounter bool
}

// Handler owns the per-camera frame counter and renders it into
// whichever stream buffers are handed to Callback. It is registered
// exactly once at camera initialization and stays registered for the
// handler's lifetime.
type Handler struct {
	cfg Config

	frameCount  atomic.Int64
	mu          sync.Mutex
	isRecording bool
}

// NewHandler builds an overlay handler with the given render config.
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// SetRecording flips the gate that controls whether the "main" stream
// (encoder-visible) receives the overlay this frame; "lores" always
// receives it.
func (h *Handler) SetRecording(recording bool) {
	h.mu.Lock()
	h.isRecording = recording
	h.mu.Unlock()
}

// ResetFrameCount zeroes the counter; called by the recording manager
// at each start_recording so the overlay's "main" counter realigns
// with the frame count written to disk.
func (h *Handler) ResetFrameCount() {
	h.frameCount.Store(0)
}

// FrameCount returns the current counter value (diagnostic / test use).
func (h *Handler) FrameCount() int64 { return h.frameCount.Load() }

// Callback renders the frame counter into main (only while recording)
// and lores (always). It is meant to be wired as the driver's
// post-capture hook, invoked once per captured frame before the
// processor or encoder observe it.
func (h *Handler) Callback(main, lores *MappedBuffer) {
	n := h.frameCount.Add(1)
	if !h.cfg.ShowCounter {
		return
	}
	text := fmt.Sprintf("Frame: %d", n)

	// lores: always drawn, feeds the preview path.
	if lores != nil {
		h.drawText(lores, text)
	}

	// main: only while recording, feeds the encoder.
	h.mu.Lock()
	recording := h.isRecording
	h.mu.Unlock()
	if recording && main != nil {
		h.drawText(main, text)
	}
}

// drawText stamps ASCII text into an RGB888 buffer as a simple 5x7
// blocky bitmap font at (marginLeft, lineStartY). This keeps the
// overlay free of a heavyweight imaging/graphics dependency while
// still mutating the encoder-visible buffer in place, matching the
// "direct buffer mapping" contract; a richer renderer (e.g. one driven
// by a real font-rasterizer) can replace drawText without touching the
// gating logic above.
func (h *Handler) drawText(buf *MappedBuffer, text string) {
	x0, y0 := h.cfg.MarginLeft, h.cfg.LineStartY
	for i, r := range text {
		drawGlyph(buf, x0+i*6, y0, r, h.cfg.TextColorR, h.cfg.TextColorG, h.cfg.TextColorB)
	}
}

func drawGlyph(buf *MappedBuffer, x, y int, r rune, cr, cg, cb byte) {
	glyph, ok := font5x7[r]
	if !ok {
		return
	}
	for row := 0; row < 7; row++ {
		bits := glyph[row]
		for col := 0; col < 5; col++ {
			if bits&(1<<(4-col)) == 0 {
				continue
			}
			px, py := x+col, y+row
			setPixel(buf, px, py, cr, cg, cb)
		}
	}
}

func setPixel(buf *MappedBuffer, x, y int, r, g, b byte) {
	if x < 0 || y < 0 || x >= buf.Width || y >= buf.Height {
		return
	}
	off := y*buf.Stride + x*3
	if off+2 >= len(buf.Pixels) {
		return
	}
	buf.Pixels[off] = r
	buf.Pixels[off+1] = g
	buf.Pixels[off+2] = b
}

// font5x7 is a minimal glyph table covering the characters the
// "Frame: N" overlay text actually needs.
var font5x7 = map[rune][7]byte{
	'0': {0x0E, 0x11, 0x13, 0x15, 0x19, 0x11, 0x0E},
	'1': {0x04, 0x0C, 0x04, 0x04, 0x04, 0x04, 0x0E},
	'2': {0x0E, 0x11, 0x01, 0x02, 0x04, 0x08, 0x1F},
	'3': {0x1F, 0x02, 0x04, 0x02, 0x01, 0x11, 0x0E},
	'4': {0x02, 0x06, 0x0A, 0x12, 0x1F, 0x02, 0x02},
	'5': {0x1F, 0x10, 0x1E, 0x01, 0x01, 0x11, 0x0E},
	'6': {0x06, 0x08, 0x10, 0x1E, 0x11, 0x11, 0x0E},
	'7': {0x1F, 0x01, 0x02, 0x04, 0x08, 0x08, 0x08},
	'8': {0x0E, 0x11, 0x11, 0x0E, 0x11, 0x11, 0x0E},
	'9': {0x0E, 0x11, 0x11, 0x0F, 0x01, 0x02, 0x0C},
	'F': {0x1F, 0x10, 0x10, 0x1E, 0x10, 0x10, 0x10},
	'r': {0x00, 0x00, 0x16, 0x19, 0x10, 0x10, 0x10},
	'a': {0x00, 0x00, 0x0E, 0x01, 0x0F, 0x11, 0x0F},
	'm': {0x00, 0x00, 0x1A, 0x15, 0x15, 0x15, 0x15},
	'e': {0x00, 0x00, 0x0E, 0x11, 0x1F, 0x10, 0x0E},
	':': {0x00, 0x04, 0x00, 0x00, 0x04, 0x00, 0x00},
	' ': {0, 0, 0, 0, 0, 0, 0},
}
