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
	"context"
	"sync"
	"time"

	"github.com/JoelCooperPhD/camcore/internal/camtypes"
)

// SimDriver is a deterministic synthetic camera used by tests: it
// emits frames at a configured rate with an injectable timestamp-gap
// fault, so capture drop-detection and collator convergence can be
// exercised without real hardware.
type SimDriver struct {
	mu       sync.Mutex
	cfg      OpenConfig
	rate     time.Duration
	callback func(Request)
	seq      int64
	closed   bool

	// GapOnce, if non-zero, injects a one-time sensor timestamp jump
	// of this duration on the next captured frame (used by S4).
	GapOnce time.Duration
}

// NewSimDriver builds a driver that reports frames at 1/fps intervals.
func NewSimDriver(fps float64) *SimDriver {
	return &SimDriver{rate: time.Duration(float64(time.Second) / fps)}
}

func (d *SimDriver) Open(cfg OpenConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	return nil
}

func (d *SimDriver) RegisterPostCallback(fn func(Request)) {
	d.mu.Lock()
	d.callback = fn
	d.mu.Unlock()
}

func (d *SimDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) CaptureRequest(ctx context.Context) (Request, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, context.Canceled
	}
	rate := d.rate
	cb := d.callback
	d.mu.Unlock()

	select {
	case <-time.After(rate):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	d.mu.Lock()
	d.seq++
	seq := d.seq
	gap := d.GapOnce
	d.GapOnce = 0
	d.mu.Unlock()

	now := time.Now()
	tsOffset := gap
	req := &simRequest{
		cfg:       d.cfg,
		seq:       seq,
		captured:  now,
		sensorTS:  now.Add(tsOffset).UnixNano(),
		frameDur:  rate,
	}
	if cb != nil {
		cb(req)
	}
	return req, nil
}

type simRequest struct {
	cfg      OpenConfig
	seq      int64
	captured time.Time
	sensorTS int64
	frameDur time.Duration
}

func (r *simRequest) MakeArray(stream string) ([]byte, int, int, int, error) {
	sc := r.cfg.Lores
	if stream == camtypes.StreamMain {
		sc = r.cfg.Main
	}
	size := sc.Width * sc.Height * 3
	buf := make([]byte, size)
	return buf, sc.Width, sc.Height, sc.Width * 3, nil
}

func (r *simRequest) Metadata() camtypes.FrameMetadata {
	return camtypes.FrameMetadata{
		FrameDuration:   r.frameDur,
		SensorTimestamp: r.sensorTS,
		HasSensorTS:     true,
		CaptureFrameIdx: r.seq,
	}
}

func (r *simRequest) Release() {}
