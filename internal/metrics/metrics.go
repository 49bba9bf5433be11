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

// Package metrics exposes per-camera pipeline health as Prometheus
// gauges, scraped over a plain net/http handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated prometheus.Registry so tests can build
// disposable instances without colliding with the global default
// registry's duplicate-registration panics.
type Registry struct {
	reg *prometheus.Registry

	captureFPS     *prometheus.GaugeVec
	collationFPS   *prometheus.GaugeVec
	hardwareDrops  *prometheus.CounterVec
	recordingState *prometheus.GaugeVec
}

// NewRegistry builds and registers all camcore gauges/counters.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.captureFPS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camcore_capture_fps",
		Help: "Measured capture-loop frame rate per camera.",
	}, []string{"camera_id"})

	r.collationFPS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camcore_collation_fps",
		Help: "Measured collator emission rate per camera.",
	}, []string{"camera_id"})

	r.hardwareDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_hardware_drops_total",
		Help: "Cumulative frames dropped at the hardware/capture boundary per camera.",
	}, []string{"camera_id"})

	r.recordingState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camcore_recording_state",
		Help: "1 while a camera is actively recording, 0 otherwise.",
	}, []string{"camera_id"})

	r.reg.MustRegister(r.captureFPS, r.collationFPS, r.hardwareDrops, r.recordingState)
	return r
}

// SetCaptureFPS records the current capture-loop rate for a camera.
func (r *Registry) SetCaptureFPS(cameraID string, fps float64) {
	r.captureFPS.WithLabelValues(cameraID).Set(fps)
}

// SetCollationFPS records the current collator emission rate.
func (r *Registry) SetCollationFPS(cameraID string, fps float64) {
	r.collationFPS.WithLabelValues(cameraID).Set(fps)
}

// AddHardwareDrops increments the cumulative hardware-drop counter.
func (r *Registry) AddHardwareDrops(cameraID string, n int64) {
	if n <= 0 {
		return
	}
	r.hardwareDrops.WithLabelValues(cameraID).Add(float64(n))
}

// SetRecording flips the recording-state gauge.
func (r *Registry) SetRecording(cameraID string, recording bool) {
	v := 0.0
	if recording {
		v = 1.0
	}
	r.recordingState.WithLabelValues(cameraID).Set(v)
}

// Handler returns the /metrics scrape endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
