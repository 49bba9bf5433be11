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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/JoelCooperPhD/camcore/internal/workerpool"
)

// ErrUnknownCommand is reported back to the parent process for an
// unrecognized command verb; the dispatch loop itself keeps running.
type ErrUnknownCommand struct{ Command string }

func (e *ErrUnknownCommand) Error() string {
	return fmt.Sprintf("session: unknown command %q", e.Command)
}

// Dispatcher reads line-delimited JSON commands from an input stream
// and drives a System in response, reporting outcomes through a
// StatusWriter.
type Dispatcher struct {
	sys        *System
	status     *StatusWriter
	sessionDir string
	snapshots  *workerpool.Pool
}

// snapshotWorkers bounds how many take_snapshot commands can be
// JPEG-encoding concurrently; beyond that, Submit blocks the command
// loop rather than let unbounded encode goroutines pile up.
const snapshotWorkers = 2

// NewDispatcher builds a Dispatcher bound to sys. sessionDir is the
// root directory under which per-recording subdirectories and
// snapshots are written.
func NewDispatcher(sys *System, status *StatusWriter, sessionDir string) *Dispatcher {
	return &Dispatcher{sys: sys, status: status, sessionDir: sessionDir, snapshots: workerpool.New(snapshotWorkers)}
}

// Run reads one JSON command per line from r until EOF or a "quit"
// command is processed. Malformed lines and unknown commands are
// reported as errors but never stop the loop; only "quit" (or r
// reaching EOF) ends it.
func (d *Dispatcher) Run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			d.reportError(err)
			continue
		}
		if d.dispatch(cmd) {
			return
		}
	}
}

// dispatch executes one command and returns true when the loop should
// stop (a "quit" command was processed).
func (d *Dispatcher) dispatch(cmd Command) (stop bool) {
	switch cmd.Command {
	case "start_recording":
		d.startRecording(cmd)
	case "stop_recording":
		d.stopRecording(cmd)
	case "take_snapshot":
		d.takeSnapshot(cmd)
	case "get_status":
		d.getStatus()
	case "toggle_preview":
		_ = d.status.Send("preview_toggled", map[string]bool{"active": cmd.Active})
	case "toggle_camera":
		d.toggleCamera(cmd)
	case "quit":
		d.shutdown()
		return true
	default:
		d.reportError(&ErrUnknownCommand{Command: cmd.Command})
	}
	return false
}

func (d *Dispatcher) startRecording(cmd Command) {
	handlers := d.sys.Handlers()
	dir := filepath.Join(d.sessionDir, time.Now().Format("20060102_150405"))
	if cmd.CameraID != 0 || len(handlers) == 1 {
		if h, ok := handlers[cmd.CameraID]; ok {
			if err := h.StartRecording(dir); err != nil {
				d.reportError(err)
				return
			}
			_ = d.status.Send("recording_started", map[string]int{"camera_id": cmd.CameraID})
			return
		}
		d.reportError(fmt.Errorf("session: camera %d not found", cmd.CameraID))
		return
	}
	for id, h := range handlers {
		if err := h.StartRecording(dir); err != nil {
			d.reportError(fmt.Errorf("camera %d: %w", id, err))
		}
	}
	_ = d.status.Send("recording_started", nil)
}

func (d *Dispatcher) stopRecording(cmd Command) {
	for id, h := range d.sys.Handlers() {
		if cmd.CameraID != 0 && id != cmd.CameraID {
			continue
		}
		if err := h.StopRecording(); err != nil {
			d.reportError(fmt.Errorf("camera %d: %w", id, err))
		}
	}
	_ = d.status.Send("recording_stopped", nil)
}

// takeSnapshot pulls the current display frame synchronously (so the
// command always acts on the frame live at call time) but offloads
// the RGB-to-image conversion, JPEG encode, and file write onto the
// snapshot worker pool so a slow disk write never stalls the command
// loop for every other camera.
func (d *Dispatcher) takeSnapshot(cmd Command) {
	h, ok := d.sys.Handlers()[cmd.CameraID]
	if !ok {
		d.reportError(fmt.Errorf("session: camera %d not found", cmd.CameraID))
		return
	}
	pixels, w, hgt := h.GetDisplayFrame()
	if pixels == nil {
		d.reportError(fmt.Errorf("session: no preview frame available for camera %d", cmd.CameraID))
		return
	}

	camID := cmd.CameraID
	submitted := d.snapshots.Submit(context.Background(), func(ctx context.Context) {
		path, err := encodeSnapshot(d.sessionDir, camID, pixels, w, hgt)
		if err != nil {
			d.reportError(err)
			return
		}
		_ = d.status.Send("snapshot_taken", map[string]string{"path": path})
	})
	if !submitted {
		d.reportError(fmt.Errorf("session: snapshot pool closed"))
	}
}

func encodeSnapshot(sessionDir string, camID int, pixels []byte, w, hgt int) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, hgt))
	stride := w * 3
	for y := 0; y < hgt; y++ {
		for x := 0; x < w; x++ {
			si := y*stride + x*3
			if si+2 >= len(pixels) {
				continue
			}
			di := img.PixOffset(x, y)
			img.Pix[di] = pixels[si]
			img.Pix[di+1] = pixels[si+1]
			img.Pix[di+2] = pixels[si+2]
			img.Pix[di+3] = 0xff
		}
	}

	path := filepath.Join(sessionDir, fmt.Sprintf("snapshot_cam%d_%s.jpg", camID, time.Now().Format("20060102_150405")))
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		return "", err
	}
	return path, nil
}

func (d *Dispatcher) toggleCamera(cmd Command) {
	if err := d.sys.ToggleCamera(cmd.CameraID, cmd.Enabled); err != nil {
		d.reportError(err)
		return
	}
	_ = d.status.Send("camera_toggled", map[string]interface{}{"camera_id": cmd.CameraID, "enabled": cmd.Enabled})
}

func (d *Dispatcher) getStatus() {
	type camStatus struct {
		CameraID         int     `json:"camera_id"`
		Recording        bool    `json:"recording"`
		CaptureFPS       float64 `json:"capture_fps"`
		CollationFPS     float64 `json:"collation_fps"`
		CapturedFrames   int64   `json:"captured_frames"`
		CollatedFrames   int64   `json:"collated_frames"`
		DuplicatedFrames int64   `json:"duplicated_frames"`
		RecordedFrames   int64   `json:"recorded_frames"`
		Output           string  `json:"output,omitempty"`
	}
	var cams []camStatus
	for id, h := range d.sys.Handlers() {
		st := h.Status()
		cams = append(cams, camStatus{
			CameraID: id, Recording: st.Recording, CaptureFPS: st.CaptureFPS,
			CollationFPS: st.CollationFPS, CapturedFrames: st.CapturedFrames,
			CollatedFrames: st.CollatedFrames, DuplicatedFrames: st.DuplicatedFrames,
			RecordedFrames: st.RecordedFrames, Output: st.Output,
		})
	}
	_ = d.status.Send("status_report", map[string]interface{}{"cameras": cams})
}

func (d *Dispatcher) shutdown() {
	d.sys.Shutdown()
	_ = d.snapshots.Close()
	_ = d.status.Send("shutdown_complete", nil)
}

func (d *Dispatcher) reportError(err error) {
	_ = d.status.Send("error", map[string]string{"message": SanitizeErrorMessage(err)})
}
