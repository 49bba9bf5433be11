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

package overlay

import "testing"

func blank(w, h int) *MappedBuffer {
	return &MappedBuffer{Pixels: make([]byte, w*h*3), Width: w, Height: h, Stride: w * 3}
}

func TestOverlayLoresAlwaysDrawnMainOnlyWhileRecording(t *testing.T) {
	h := NewHandler(Config{MarginLeft: 0, LineStartY: 0, ShowCounter: true, TextColorR: 255, TextColorG: 255, TextColorB: 255})

	main, lores := blank(64, 16), blank(64, 16)
	h.Callback(main, lores)

	if !anyNonZero(lores.Pixels) {
		t.Fatal("expected lores overlay to be drawn even when not recording")
	}
	if anyNonZero(main.Pixels) {
		t.Fatal("expected main overlay NOT drawn while not recording")
	}

	main2, lores2 := blank(64, 16), blank(64, 16)
	h.SetRecording(true)
	h.Callback(main2, lores2)
	if !anyNonZero(main2.Pixels) {
		t.Fatal("expected main overlay drawn while recording")
	}
}

func TestOverlayResetAlignsWithRecordingManager(t *testing.T) {
	h := NewHandler(Config{ShowCounter: true})
	h.Callback(blank(32, 8), blank(32, 8))
	h.Callback(blank(32, 8), blank(32, 8))
	if h.FrameCount() != 2 {
		t.Fatalf("expected count 2, got %d", h.FrameCount())
	}
	h.ResetFrameCount()
	if h.FrameCount() != 0 {
		t.Fatalf("expected reset to 0, got %d", h.FrameCount())
	}
	h.Callback(blank(32, 8), blank(32, 8))
	if h.FrameCount() != 1 {
		t.Fatalf("expected 1 after reset+one callback, got %d", h.FrameCount())
	}
}

func anyNonZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return true
		}
	}
	return false
}
