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

// Package csv implements the asynchronous frame-timing log writer: a
// bounded queue drained by a dedicated goroutine so that a slow disk
// never stalls the video path, with an out-of-band drop accumulator
// that survives entries dropped under queue back-pressure.
package csv

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
)

const (
	queueCapacity = 300
	flushInterval = 60
	pollTimeout   = 500 * time.Millisecond
)

const header = "frame_number,write_time_unix,sensor_timestamp_ns,dropped_since_last,total_hardware_drops\n"

type entry struct {
	frameNumber int64
	writeTime   time.Time
	meta        camtypes.FrameTimingMetadata
}

// sentinel is pushed to signal the writer goroutine to exit.
var sentinel = &entry{}

// Writer asynchronously appends one row per recorded frame to a
// frame-timing CSV file.
type Writer struct {
	log *zap.SugaredLogger

	file *os.File
	buf  *bufio.Writer

	queue    chan *entry
	done     chan struct{}
	stopOnce sync.Once

	rowsSinceFlush int

	dropsMu            sync.Mutex
	accumulatedDrops   int64
	totalHardwareDrops int64
}

// Open creates (or appends to) path with an 8 KiB buffer, writes the
// header if the file is new, and spawns the writer goroutine.
func Open(path string, log *zap.SugaredLogger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", path, err)
	}

	w := &Writer{
		log:   log,
		file:  f,
		buf:   bufio.NewWriterSize(f, 8192),
		queue: make(chan *entry, queueCapacity),
		done:  make(chan struct{}),
	}
	if isNew {
		if _, err := w.buf.WriteString(header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		_ = w.buf.Flush()
	}

	go w.loop()
	return w, nil
}

// LogFrame accumulates drops and enqueues a row. On queue-full the
// entry is silently dropped so a stalled CSV writer never blocks or
// slows down video recording; the drops it carried are not lost,
// they stay in accumulatedDrops until the next accepted row.
func (w *Writer) LogFrame(frameNumber int64, meta camtypes.FrameTimingMetadata) {
	if meta.DroppedSinceLast != nil && *meta.DroppedSinceLast > 0 {
		w.dropsMu.Lock()
		w.accumulatedDrops += *meta.DroppedSinceLast
		w.totalHardwareDrops += *meta.DroppedSinceLast
		w.dropsMu.Unlock()
	}

	e := &entry{frameNumber: frameNumber, writeTime: time.Now(), meta: meta}
	select {
	case w.queue <- e:
	default:
		w.log.Debugw("csv queue full, dropping row", "frame_number", frameNumber)
	}
}

// Stop enqueues the sentinel, waits up to 5s for the writer goroutine
// to drain and exit, then flushes and closes the file.
func (w *Writer) Stop() {
	deadline := time.Now().Add(5 * time.Second)
	w.stopOnce.Do(func() {
		select {
		case w.queue <- sentinel:
		case <-time.After(time.Until(deadline)):
			// Queue stayed full for the whole stop budget; the writer
			// goroutine never sees the sentinel.
		}
	})

	select {
	case <-w.done:
	case <-time.After(time.Until(deadline)):
		w.log.Warnw("csv writer did not stop within timeout")
	}

	_ = w.buf.Flush()
	_ = w.file.Close()
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case e := <-w.queue:
			if e == sentinel {
				_ = w.buf.Flush()
				return
			}
			w.writeEntry(e)
		case <-time.After(pollTimeout):
		}
	}
}

func (w *Writer) writeEntry(e *entry) {
	w.dropsMu.Lock()
	dropped := e.meta.DroppedSinceLast
	if w.accumulatedDrops > 0 {
		acc := w.accumulatedDrops
		dropped = &acc
		w.accumulatedDrops = 0
	}
	total := w.totalHardwareDrops
	w.dropsMu.Unlock()

	sensorField := ""
	if e.meta.SensorTimestampNS != nil {
		sensorField = fmt.Sprintf("%d", *e.meta.SensorTimestampNS)
	}
	droppedField := ""
	if dropped != nil {
		droppedField = fmt.Sprintf("%d", *dropped)
	}

	row := fmt.Sprintf("%d,%.6f,%s,%s,%d\n",
		e.frameNumber, float64(e.writeTime.UnixNano())/1e9, sensorField, droppedField, total)

	if _, err := w.buf.WriteString(row); err != nil {
		w.log.Warnw("csv write failed", "err", err)
		return
	}
	w.rowsSinceFlush++
	if w.rowsSinceFlush >= flushInterval {
		if err := w.buf.Flush(); err != nil {
			w.log.Warnw("csv flush failed", "err", err)
		}
		w.rowsSinceFlush = 0
	}
}
