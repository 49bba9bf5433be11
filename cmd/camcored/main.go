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

// Command camcored is the headless multi-camera capture/recording
// worker: it is spawned once per run by a parent process (typically a
// GUI or orchestrator), reads one line-delimited JSON command per line
// on stdin, and reports status on stdout. All camera discovery,
// supervision, recording and preview serving happens in this process.
package main

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JoelCooperPhD/camcore/internal/appconfig"
	"github.com/JoelCooperPhD/camcore/internal/camtypes"
	"github.com/JoelCooperPhD/camcore/internal/capture"
	"github.com/JoelCooperPhD/camcore/internal/handler"
	"github.com/JoelCooperPhD/camcore/internal/logging"
	"github.com/JoelCooperPhD/camcore/internal/metrics"
	"github.com/JoelCooperPhD/camcore/internal/overlay"
	"github.com/JoelCooperPhD/camcore/internal/previewbridge"
	"github.com/JoelCooperPhD/camcore/internal/recording"
	"github.com/JoelCooperPhD/camcore/internal/recording/encoder"
	"github.com/JoelCooperPhD/camcore/internal/remux"
	"github.com/JoelCooperPhD/camcore/internal/session"
)

var version = "dev"
var build = "unknown"

func main() {
	flags := appconfig.NewFlagSet("camcored")
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	configPath, _ := flags.GetString("config")
	cfg, err := appconfig.Load(configPath, flags)
	if err != nil {
		os.Exit(1)
	}

	sessionDir := filepath.Join(cfg.OutputDir, cfg.SessionPrefix)
	log, err := logging.New(logging.Options{
		LogDir:        filepath.Join(sessionDir, "logs"),
		ConsoleOutput: cfg.ConsoleOutput,
		Debug:         mustBool(flags, "debug"),
	})
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()
	log.Infow("starting camcored", "version", version, "build", build)

	metricsReg := metrics.NewRegistry()
	status := session.NewStatusWriter(os.Stdout)

	open := capture.OpenConfig{
		Main:                capture.StreamConfig{Width: cfg.ResolutionWidth, Height: cfg.ResolutionHeight, Format: camtypes.PixelFormatRGB888},
		Lores:               capture.StreamConfig{Width: cfg.PreviewWidth, Height: cfg.PreviewHeight, Format: camtypes.PixelFormatRGB888},
		FrameDurationMicros: int64(1_000_000 / cfg.TargetFPS),
	}

	driverFactory := func(camNum int) (capture.Driver, error) {
		if capture.RpicamAvailable() {
			return capture.NewRpicamDriver(camNum, log.Named("rpicam")), nil
		}
		return capture.NewSimDriver(cfg.TargetFPS), nil
	}

	// One overlay handler per camera, shared by the camera handler
	// (which draws it) and the recording manager (which gates and
	// resets it).
	var overlaysMu sync.Mutex
	overlays := make(map[int]*overlay.Handler)
	overlayFactory := func(camNum int) *overlay.Handler {
		overlaysMu.Lock()
		defer overlaysMu.Unlock()
		if ov, ok := overlays[camNum]; ok {
			return ov
		}
		ov := overlay.NewHandler(overlay.Config{
			MarginLeft:  cfg.MarginLeft,
			LineStartY:  cfg.LineStartY,
			TextColorR:  byte(cfg.TextColorR),
			TextColorG:  byte(cfg.TextColorG),
			TextColorB:  byte(cfg.TextColorB),
			ShowCounter: cfg.ShowFrameNumber,
		})
		overlays[camNum] = ov
		return ov
	}

	recorderFactory := func(camNum int) handler.RecordingManager {
		return recording.New(recording.Options{
			CameraID:         camNum,
			Width:            cfg.ResolutionWidth,
			Height:           cfg.ResolutionHeight,
			FPS:              cfg.TargetFPS,
			BitrateBPS:       8_000_000,
			EnableCSVLogging: cfg.EnableCSVTimingLog,
			AutoRemux:        !cfg.DisableMP4Convert,
			RemuxFunc:        remux.ToMP4,
		}, &encoderAdapter{enc: encoder.New()}, overlayFactory(camNum), log.Named("recorder"))
	}

	sys := session.NewSystem(session.Options{
		RequestedCameras: discoverCameraNumbers(),
		MinCameras:       cfg.MinCameras,
		AllowPartial:     cfg.AllowPartial,
		DiscoveryBudget:  time.Duration(cfg.DiscoveryTimeout * float64(time.Second)),
		RetryInterval:    time.Duration(cfg.DiscoveryRetry * float64(time.Second)),
		TargetFPS:        cfg.TargetFPS,
		Open:             open,
		SessionRootDir:   sessionDir,
	}, driverFactory, recorderFactory, overlayFactory, status, log.Named("session"))

	if err := sys.Discover(); err != nil {
		log.Errorw("camera discovery failed", "err", err)
		os.Exit(1)
	}
	sys.Supervise()

	if cfg.ShowPreview {
		sources := make(map[int]previewbridge.FrameSource)
		for camNum, h := range sys.Handlers() {
			sources[camNum] = h
		}
		bridge := previewbridge.New(sources, log.Named("preview"))
		mux := http.NewServeMux()
		mux.Handle("/", bridge.Router())
		mux.Handle("/metrics", metricsReg.Handler())
		go func() {
			if err := http.ListenAndServe("127.0.0.1:8990", mux); err != nil {
				log.Warnw("preview/metrics server exited", "err", err)
			}
		}()
	}

	go reportFPS(sys, metricsReg)

	dispatcher := session.NewDispatcher(sys, status, sessionDir)
	dispatcher.Run(os.Stdin)

	sys.Shutdown()
}

// reportFPS periodically copies each live camera's capture/collation
// FPS and recording state into the Prometheus registry for scraping.
func reportFPS(sys *session.System, reg *metrics.Registry) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for camNum, h := range sys.Handlers() {
			st := h.Status()
			id := strconv.Itoa(camNum)
			reg.SetCaptureFPS(id, st.CaptureFPS)
			reg.SetCollationFPS(id, st.CollationFPS)
			reg.SetRecording(id, st.Recording)
		}
	}
}

// discoverCameraNumbers returns the fixed candidate camera indices
// 0 through 3; it does not inspect any device. driverFactory returns
// a driver without error for every index, so each candidate index is
// handed on to the session.
func discoverCameraNumbers() []int {
	return []int{0, 1, 2, 3}
}

func mustBool(flags interface{ GetBool(string) (bool, error) }, name string) bool {
	v, _ := flags.GetBool(name)
	return v
}

// encoderAdapter satisfies recording.Encoder over a concrete
// *encoder.Encoder: the two packages each declare their own Options
// struct (recording.EncoderOptions, encoder.Options) so that
// internal/recording never has to import the astiav-backed encoder
// package directly, so this is the one place that bridges them.
type encoderAdapter struct {
	enc *encoder.Encoder
}

func (a *encoderAdapter) Start(path string, opts recording.EncoderOptions) error {
	return a.enc.Start(path, encoder.Options{
		Width:      opts.Width,
		Height:     opts.Height,
		FPS:        opts.FPS,
		BitrateBPS: opts.BitrateBPS,
	})
}

func (a *encoderAdapter) EncodeRGB(pixels []byte, width, height, stride int) error {
	return a.enc.EncodeRGB(pixels, width, height, stride)
}

func (a *encoderAdapter) Stop() error { return a.enc.Stop() }
