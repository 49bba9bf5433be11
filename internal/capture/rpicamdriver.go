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
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
)

// RpicamAvailable reports whether the rpicam-vid binary this driver
// shells out to is installed, the same check a caller should make
// before attempting to build an RpicamDriver.
func RpicamAvailable() bool {
	_, err := exec.LookPath("rpicam-vid")
	return err == nil
}

// RpicamDriver drives a CSI camera by running two rpicam-vid
// subprocesses — one per stream resolution — each emitting a raw
// headerless RGB888 stream on stdout, one fixed-size frame after
// another. This is the real-hardware counterpart to SimDriver.
type RpicamDriver struct {
	camNum int
	log    *zap.SugaredLogger

	mu       sync.Mutex
	mainCmd  *exec.Cmd
	loresCmd *exec.Cmd
	cfg      OpenConfig
	callback func(Request)

	closeOnce sync.Once
	stopCh    chan struct{}
}

// NewRpicamDriver builds a driver for camera index camNum (passed to
// rpicam-vid as --camera).
func NewRpicamDriver(camNum int, log *zap.SugaredLogger) *RpicamDriver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RpicamDriver{camNum: camNum, log: log, stopCh: make(chan struct{})}
}

func rpicamArgs(camNum int, s StreamConfig, frameDurationMicros int64) []string {
	fps := 30
	if frameDurationMicros > 0 {
		fps = int(1_000_000 / frameDurationMicros)
	}
	return []string{
		"--camera", fmt.Sprintf("%d", camNum),
		"--width", fmt.Sprintf("%d", s.Width),
		"--height", fmt.Sprintf("%d", s.Height),
		"--framerate", fmt.Sprintf("%d", fps),
		"--codec", "rgb",
		"--timeout", "0",
		"--nopreview",
		"-o", "-",
	}
}

// Open starts the main and lores rpicam-vid subprocesses and begins
// reading raw frames from both in background goroutines.
func (d *RpicamDriver) Open(cfg OpenConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg

	mainCmd := exec.Command("rpicam-vid", rpicamArgs(d.camNum, cfg.Main, cfg.FrameDurationMicros)...)
	mainOut, err := mainCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("rpicam: main stdout pipe: %w", err)
	}
	mainErr, _ := mainCmd.StderrPipe()
	if err := mainCmd.Start(); err != nil {
		return fmt.Errorf("rpicam: main start: %w", err)
	}
	d.mainCmd = mainCmd
	go d.logStderr("main", mainErr)
	go d.readStream(camtypes.StreamMain, mainOut, cfg.Main)

	loresCmd := exec.Command("rpicam-vid", rpicamArgs(d.camNum, cfg.Lores, cfg.FrameDurationMicros)...)
	loresOut, err := loresCmd.StdoutPipe()
	if err != nil {
		_ = mainCmd.Process.Kill()
		return fmt.Errorf("rpicam: lores stdout pipe: %w", err)
	}
	loresErr, _ := loresCmd.StderrPipe()
	if err := loresCmd.Start(); err != nil {
		_ = mainCmd.Process.Kill()
		return fmt.Errorf("rpicam: lores start: %w", err)
	}
	d.loresCmd = loresCmd
	go d.logStderr("lores", loresErr)
	go d.readStream(camtypes.StreamLores, loresOut, cfg.Lores)

	return nil
}

func (d *RpicamDriver) logStderr(stream string, r io.Reader) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		d.log.Debugw("rpicam-vid", "stream", stream, "line", scanner.Text())
	}
}

// readStream pulls fixed-size RGB888 frames from an rpicam-vid
// subprocess's stdout and pushes them to the current request, if any,
// via the registered post-capture callback.
func (d *RpicamDriver) readStream(stream string, r io.Reader, s StreamConfig) {
	frameSize := s.Width * s.Height * 3
	buf := make([]byte, frameSize)
	reader := bufio.NewReaderSize(r, frameSize*2)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		if _, err := io.ReadFull(reader, buf); err != nil {
			if err != io.EOF {
				d.log.Debugw("rpicam stream closed", "stream", stream, "err", err)
			}
			return
		}

		frame := make([]byte, frameSize)
		copy(frame, buf)
		mb := &MappedBufferRequest{
			stream: stream,
			pixels: frame,
			width:  s.Width,
			height: s.Height,
		}

		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()
		if cb != nil {
			cb(mb)
		}
	}
}

// CaptureRequest is unused by RpicamDriver: frames arrive continuously
// on the subprocess stdout pipes and are delivered through the
// registered post-capture callback rather than pulled on demand. The
// capture loop instead calls RegisterPostCallback and reads frames
// published from there; CaptureRequest always blocks until ctx is
// done, since there is no synchronous "give me one frame" operation
// for a live subprocess stream.
func (d *RpicamDriver) CaptureRequest(ctx context.Context) (Request, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// RegisterPostCallback wires fn to receive every frame read from
// either stream's subprocess as it arrives.
func (d *RpicamDriver) RegisterPostCallback(fn func(Request)) {
	d.mu.Lock()
	d.callback = fn
	d.mu.Unlock()
}

// Close stops both subprocesses and waits for their readers to exit.
func (d *RpicamDriver) Close() error {
	d.closeOnce.Do(func() { close(d.stopCh) })

	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	if d.mainCmd != nil && d.mainCmd.Process != nil {
		if err := d.mainCmd.Process.Kill(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = d.mainCmd.Wait()
	}
	if d.loresCmd != nil && d.loresCmd.Process != nil {
		if err := d.loresCmd.Process.Kill(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = d.loresCmd.Wait()
	}
	return firstErr
}

// MappedBufferRequest is the Request implementation RpicamDriver hands
// to the registered post-capture callback: a single stream's raw
// pixels for one captured frame, with no hardware frame-duration
// metadata (rpicam-vid's raw stdout mode carries no per-frame
// timestamps, unlike the libcamera request metadata the simulated and
// in-process drivers expose).
type MappedBufferRequest struct {
	stream string
	pixels []byte
	width  int
	height int
}

func (r *MappedBufferRequest) MakeArray(stream string) ([]byte, int, int, int, error) {
	if stream != r.stream {
		return nil, 0, 0, 0, fmt.Errorf("rpicam: stream %q not available on this request", stream)
	}
	return r.pixels, r.width, r.height, r.width * 3, nil
}

// Metadata reports no sensor timestamp: rpicam-vid's raw stdout mode
// carries no per-frame hardware timing, so the capture loop falls
// back to capture-count-based sequencing for this driver.
func (r *MappedBufferRequest) Metadata() camtypes.FrameMetadata {
	return camtypes.FrameMetadata{HasSensorTS: false}
}

func (r *MappedBufferRequest) Release() {}
