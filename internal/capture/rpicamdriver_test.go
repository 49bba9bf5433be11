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

import "testing"

func TestRpicamArgsDerivesFramerateFromFrameDuration(t *testing.T) {
	args := rpicamArgs(0, StreamConfig{Width: 1920, Height: 1080}, 33333)
	found := false
	for i, a := range args {
		if a == "--framerate" && i+1 < len(args) {
			found = true
			if args[i+1] != "30" {
				t.Fatalf("expected framerate 30, got %s", args[i+1])
			}
		}
	}
	if !found {
		t.Fatal("expected --framerate flag in rpicam-vid args")
	}
}

func TestMappedBufferRequestRejectsWrongStream(t *testing.T) {
	r := &MappedBufferRequest{stream: "main", pixels: []byte{1, 2, 3}, width: 1, height: 1}
	if _, _, _, _, err := r.MakeArray("lores"); err == nil {
		t.Fatal("expected error requesting a stream this request does not carry")
	}
	data, w, h, stride, err := r.MakeArray("main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 1 || h != 1 || stride != 3 || len(data) != 3 {
		t.Fatalf("unexpected dims: w=%d h=%d stride=%d len=%d", w, h, stride, len(data))
	}
}
