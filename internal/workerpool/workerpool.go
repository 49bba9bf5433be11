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

// Package workerpool offloads blocking work (in this module, the
// session dispatcher's snapshot encode and file write) from goroutines
// that must stay responsive, bounding concurrency to a fixed worker
// count. The pool's context cancel is registered on an astikit.Closer,
// so Close releases any Submit still waiting for a slot and then waits
// for in-flight tasks to finish.
package workerpool

import (
	"context"
	"sync"

	"github.com/asticode/go-astikit"
)

// Pool runs submitted tasks on a bounded number of goroutines.
type Pool struct {
	sem    chan struct{}
	closer *astikit.Closer
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	ctx    context.Context
}

// New builds a pool that runs at most size tasks concurrently.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		sem:    make(chan struct{}, size),
		closer: astikit.NewCloser(),
		ctx:    ctx,
	}
	p.closer.Add(func() error {
		cancel()
		return nil
	})
	return p
}

// Submit runs fn on a pooled goroutine once a slot is free, or returns
// immediately with false if the pool has been closed or ctx is
// cancelled first.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	case <-p.ctx.Done():
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		fn(ctx)
	}()
	return true
}

// Close stops accepting new tasks, cancels the pool's internal
// context (unblocking any Submit calls waiting on a free slot), and
// waits for in-flight tasks to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.closer.Close()
	p.wg.Wait()
	return err
}
