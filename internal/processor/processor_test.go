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

package processor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
	"github.com/JoelCooperPhD/camcore/internal/collator"
)

type queueSource struct {
	mu    sync.Mutex
	items []*collator.Emitted
}

func (s *queueSource) push(em *collator.Emitted) {
	s.mu.Lock()
	s.items = append(s.items, em)
	s.mu.Unlock()
}

func (s *queueSource) GetFrame() *collator.Emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil
	}
	em := s.items[0]
	s.items = s.items[1:]
	return em
}

type fakeRecorder struct {
	recording atomic.Bool
	mu        sync.Mutex
	received  []camtypes.FrameTimingMetadata
}

func (r *fakeRecorder) IsRecording() bool { return r.recording.Load() }
func (r *fakeRecorder) SubmitFrame(m camtypes.FrameTimingMetadata) {
	r.mu.Lock()
	r.received = append(r.received, m)
	r.mu.Unlock()
}

func TestProcessorSubmitsOnlyWhenRecording(t *testing.T) {
	src := &queueSource{}
	rec := &fakeRecorder{}
	p := New(src, rec, nil, nil)
	p.Start()
	defer p.Stop()

	src.push(&collator.Emitted{Frame: &camtypes.Frame{HardwareFrameNumber: 1, Pixels: []byte{1, 2, 3}}})
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	n := len(rec.received)
	rec.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no submissions while not recording, got %d", n)
	}

	rec.recording.Store(true)
	src.push(&collator.Emitted{Frame: &camtypes.Frame{HardwareFrameNumber: 2, Pixels: []byte{1, 2, 3}}})
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	n = len(rec.received)
	rec.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one submission while recording, got %d", n)
	}
	if rec.received[0].DisplayFrameIndex != 2 {
		t.Fatalf("expected display index 2, got %d", rec.received[0].DisplayFrameIndex)
	}
}

func TestProcessorPublishesDisplayFrame(t *testing.T) {
	src := &queueSource{}
	rec := &fakeRecorder{}
	p := New(src, rec, nil, nil)
	p.Start()
	defer p.Stop()

	src.push(&collator.Emitted{Frame: &camtypes.Frame{Pixels: []byte{9, 9, 9}, Width: 1, Height: 1}})
	time.Sleep(50 * time.Millisecond)

	data, w, h := p.GetDisplayFrame()
	if w != 1 || h != 1 || len(data) != 3 {
		t.Fatalf("unexpected display frame: %v %dx%d", data, w, h)
	}
}
