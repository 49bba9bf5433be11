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
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/JoelCooperPhD/camcore/internal/capture"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	factory := func(camNum int) (capture.Driver, error) {
		return capture.NewSimDriver(30), nil
	}
	sys := NewSystem(Options{
		RequestedCameras: []int{0},
		MinCameras:       1,
		AllowPartial:     true,
		TargetFPS:        30,
		Open:             testOpenConfig(),
	}, factory, nil, nil, nil, nil)
	if err := sys.Discover(); err != nil {
		t.Fatalf("discover: %v", err)
	}
	return sys
}

func statusLines(buf *bytes.Buffer) []map[string]interface{} {
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func TestDispatchStartAndStopRecording(t *testing.T) {
	sys := newTestSystem(t)
	var buf bytes.Buffer
	status := NewStatusWriter(&buf)
	d := NewDispatcher(sys, status, t.TempDir())

	input := "{\"command\":\"start_recording\",\"camera_id\":0}\n{\"command\":\"stop_recording\",\"camera_id\":0}\n{\"command\":\"quit\"}\n"
	d.Run(strings.NewReader(input))

	lines := statusLines(&buf)
	var sawStart, sawStop, sawShutdown bool
	for _, l := range lines {
		switch l["status"] {
		case "recording_started":
			sawStart = true
		case "recording_stopped":
			sawStop = true
		case "shutdown_complete":
			sawShutdown = true
		}
	}
	if !sawStart || !sawStop || !sawShutdown {
		t.Fatalf("expected start/stop/shutdown statuses, got %+v", lines)
	}
}

func TestDispatchGetStatusReportsLiveCameras(t *testing.T) {
	sys := newTestSystem(t)
	var buf bytes.Buffer
	status := NewStatusWriter(&buf)
	d := NewDispatcher(sys, status, t.TempDir())

	d.Run(strings.NewReader("{\"command\":\"get_status\"}\n{\"command\":\"quit\"}\n"))

	lines := statusLines(&buf)
	found := false
	for _, l := range lines {
		if l["status"] == "status_report" {
			found = true
			data, _ := l["data"].(map[string]interface{})
			cams, _ := data["cameras"].([]interface{})
			if len(cams) != 1 {
				t.Fatalf("expected 1 camera in status, got %d", len(cams))
			}
		}
	}
	if !found {
		t.Fatal("expected a status response")
	}
}

func TestDispatchUnknownCommandReportsErrorAndContinues(t *testing.T) {
	sys := newTestSystem(t)
	var buf bytes.Buffer
	status := NewStatusWriter(&buf)
	d := NewDispatcher(sys, status, t.TempDir())

	d.Run(strings.NewReader("{\"command\":\"frobnicate\"}\n{\"command\":\"quit\"}\n"))

	lines := statusLines(&buf)
	var sawError, sawShutdown bool
	for _, l := range lines {
		switch l["status"] {
		case "error":
			sawError = true
		case "shutdown_complete":
			sawShutdown = true
		}
	}
	if !sawError || !sawShutdown {
		t.Fatalf("expected error then shutdown_complete, got %+v", lines)
	}
}

func TestDispatchToggleCamera(t *testing.T) {
	sys := newTestSystem(t)
	var buf bytes.Buffer
	status := NewStatusWriter(&buf)
	d := NewDispatcher(sys, status, t.TempDir())

	d.Run(strings.NewReader("{\"command\":\"toggle_camera\",\"camera_id\":0,\"enabled\":false}\n{\"command\":\"quit\"}\n"))

	if len(sys.Handlers()) != 0 {
		t.Fatal("expected camera 0 disabled")
	}
	lines := statusLines(&buf)
	found := false
	for _, l := range lines {
		if l["status"] == "camera_toggled" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected camera_toggled status")
	}
}
