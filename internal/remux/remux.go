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

// Package remux shells out to an external ffmpeg binary to repackage
// an elementary .h264 stream into an .mp4 container: "-y -r {fps} -i
// {h264_path} -c:v copy {mp4_path}", non-zero exit signals failure.
// No in-process container muxing is used for this step; stderr is
// captured and attached to the returned error.
package remux

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// Binary is the remuxer executable name; overridable for tests.
var Binary = "ffmpeg"

// ToMP4 invokes the remuxer contract exactly, returning an error (with
// stderr attached) on non-zero exit. Callers are responsible for
// deciding whether to keep the .h264 source on failure; this function
// only runs the subprocess.
func ToMP4(h264Path, mp4Path string, fps float64, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	args := []string{
		"-y",
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", h264Path,
		"-c:v", "copy",
		mp4Path,
	}
	cmd := exec.Command(Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debugw("invoking remuxer", "args", args)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("remux: %s %v: %w: %s", Binary, args, err, stderr.String())
	}
	return nil
}
