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

// Package recording owns the encoder lifecycle, output file naming,
// and the CSV writer thread for one camera's recordings, and performs
// the post-recording remux into an .mp4 container.
package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
	csvlog "github.com/JoelCooperPhD/camcore/internal/recording/csv"
)

// ErrEncoderStartFailed is returned when the encoder fails to open;
// the manager rolls back any partially-opened state before returning
// it.
var (
	ErrEncoderStartFailed = errors.New("recording: encoder start failed")
)

// Encoder is the hardware-encoder contract the manager drives.
type Encoder interface {
	Start(path string, opts EncoderOptions) error
	EncodeRGB(pixels []byte, width, height, stride int) error
	Stop() error
}

// EncoderOptions mirrors encoder.Options without importing the astiav
// binding into this package's public surface.
type EncoderOptions struct {
	Width      int
	Height     int
	FPS        float64
	BitrateBPS int64
}

// OverlayResetter is the overlay handler's frame-counter reset hook,
// invoked at each start_recording so the main-stream counter realigns
// with the frame count written to disk.
type OverlayResetter interface {
	ResetFrameCount()
	SetRecording(bool)
}

// Options configures one camera's recording manager.
type Options struct {
	CameraID          int
	Width             int
	Height            int
	FPS               float64
	BitrateBPS        int64
	EnableCSVLogging  bool
	AutoRemux         bool
	RemuxFunc         func(h264Path, mp4Path string, fps float64, log *zap.SugaredLogger) error
}

// Manager owns one camera's recording lifecycle: starting and
// stopping the encoder and CSV writer together, and the optional
// post-recording remux.
type Manager struct {
	opts     Options
	encoder  Encoder
	overlay  OverlayResetter
	log      *zap.SugaredLogger

	mu         sync.Mutex
	recording  atomic.Bool
	writtenFrames int64
	videoPath  string
	csvWriter  *csvlog.Writer
	generation int64
}

// New builds a recording manager for one camera.
func New(opts Options, enc Encoder, overlay OverlayResetter, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{opts: opts, encoder: enc, overlay: overlay, log: log}
}

// IsRecording reports whether a recording is currently active.
func (m *Manager) IsRecording() bool { return m.recording.Load() }

// VideoPath returns the current (or last) output video path.
func (m *Manager) VideoPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoPath
}

// WrittenFrames returns the lifetime written-frame counter for the
// current (or most recent) recording.
func (m *Manager) WrittenFrames() int64 { return atomic.LoadInt64(&m.writtenFrames) }

// StartRecording transitions Idle -> Recording. Idempotent: a second
// call while already recording is a no-op.
func (m *Manager) StartRecording(sessionDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recording.Load() {
		return nil
	}

	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return fmt.Errorf("recording: session dir: %w", err)
	}

	m.generation++
	ts := time.Now().Format("20060102_150405")
	base := fmt.Sprintf("cam%d_%dx%d_%.1ffps_%s", m.opts.CameraID, m.opts.Width, m.opts.Height, m.opts.FPS, ts)
	h264Path := filepath.Join(sessionDir, base+".h264")
	csvPath := filepath.Join(sessionDir, base+"_frame_timing.csv")

	atomic.StoreInt64(&m.writtenFrames, 0)
	if m.overlay != nil {
		m.overlay.ResetFrameCount()
		m.overlay.SetRecording(true)
	}

	var writer *csvlog.Writer
	if m.opts.EnableCSVLogging {
		w, err := csvlog.Open(csvPath, m.log)
		if err != nil {
			return fmt.Errorf("recording: csv open: %w", err)
		}
		writer = w
	}

	if err := m.encoder.Start(h264Path, EncoderOptions{
		Width: m.opts.Width, Height: m.opts.Height, FPS: m.opts.FPS, BitrateBPS: m.opts.BitrateBPS,
	}); err != nil {
		// Rollback: encoder start failed, unwind the CSV writer we
		// just opened (and its file) and stay in Active (not Recording).
		if writer != nil {
			writer.Stop()
			_ = os.Remove(csvPath)
		}
		if m.overlay != nil {
			m.overlay.SetRecording(false)
		}
		return fmt.Errorf("%w: %v", ErrEncoderStartFailed, err)
	}

	m.videoPath = h264Path
	m.csvWriter = writer
	m.recording.Store(true)
	return nil
}

// StopRecording transitions Recording -> Idle. Idempotent.
func (m *Manager) StopRecording() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording.Load() {
		return nil
	}
	m.recording.Store(false)
	if m.overlay != nil {
		m.overlay.SetRecording(false)
	}

	// Stop the encoder first — releases the camera's main stream.
	if err := m.encoder.Stop(); err != nil {
		m.log.Warnw("encoder stop failed", "err", err)
	}

	if m.csvWriter != nil {
		m.csvWriter.Stop()
		m.csvWriter = nil
	}

	if m.opts.AutoRemux && m.videoPath != "" {
		mp4Path := replaceExt(m.videoPath, ".mp4")
		remuxFn := m.opts.RemuxFunc
		if remuxFn == nil {
			m.log.Warnw("auto remux enabled but no remux function configured")
		} else if err := remuxFn(m.videoPath, mp4Path, m.opts.FPS, m.log); err != nil {
			m.log.Warnw("remux failed, keeping h264", "err", err)
		} else {
			_ = os.Remove(m.videoPath)
			m.videoPath = mp4Path
		}
	}

	return nil
}

// SubmitFrame is called by the processor with metadata only — the
// encoder obtains pixels directly from the camera's main stream, so
// this never receives pixel data.
func (m *Manager) SubmitFrame(meta camtypes.FrameTimingMetadata) {
	if !m.recording.Load() {
		return
	}
	n := atomic.AddInt64(&m.writtenFrames, 1)

	frameNumber := meta.DisplayFrameIndex
	if frameNumber == 0 {
		frameNumber = n
	}

	m.mu.Lock()
	writer := m.csvWriter
	enabled := m.opts.EnableCSVLogging
	m.mu.Unlock()

	if !enabled || writer == nil {
		return
	}
	writer.LogFrame(frameNumber, meta)
}

// Cleanup is equivalent to StopRecording with extra defensive logging,
// used by the handler's teardown path.
func (m *Manager) Cleanup() error {
	if m.recording.Load() {
		m.log.Infow("cleanup: stopping active recording")
	}
	return m.StopRecording()
}

func replaceExt(path, newExt string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + newExt
}
