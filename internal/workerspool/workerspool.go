// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements the soft-limited goroutine pool shared by all parallel loops
// of an engine.
//
// The limit is soft: a task blocked waiting for other tasks can declare itself asleep
// (WorkerIsAsleep), temporarily lending its slot, so nested parallel loops don't starve.
package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool of workers. The zero value is not usable, create it with New.
type Pool struct {
	// maxParallelism is a soft target: 0 disables parallelism, negative means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases.
	numRunning int

	// extraParallelism is the number of slots lent by sleeping workers.
	extraParallelism atomic.Int32

	// numStarted counts tasks ever started in a separate goroutine.
	numStarted atomic.Int64
}

// New returns a Pool with maxParallelism set to runtime.NumCPU().
func New() *Pool {
	p := &Pool{maxParallelism: runtime.NumCPU()}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// IsEnabled returns whether parallelism is enabled (maxParallelism != 0).
func (p *Pool) IsEnabled() bool {
	return p.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (p *Pool) IsUnlimited() bool {
	return p.maxParallelism < 0
}

// MaxParallelism returns the soft target on the number of tasks running in parallel.
// 0 means parallelism is disabled, -1 means it is unlimited.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// SetMaxParallelism sets the soft target on parallelism. Negative values are normalized to -1.
//
// It must be called before any task is started: changing it while tasks are running is not safe.
func (p *Pool) SetMaxParallelism(maxParallelism int) {
	if maxParallelism < 0 {
		maxParallelism = -1
	}
	p.maxParallelism = maxParallelism
}

// goroutineToParallelismRatio is how many goroutines are allowed per unit of parallelism.
const goroutineToParallelismRatio = 2

// lockedIsFull returns whether all slots are in use. It must be called with p.mu locked.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism == 0 {
		return true
	} else if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= goroutineToParallelismRatio*p.maxParallelism+int(p.extraParallelism.Load())
}

// lockedStart runs task in a new goroutine, accounting for it in numRunning.
// It must be called with p.mu locked.
func (p *Pool) lockedStart(task func()) {
	p.numRunning++
	p.numStarted.Add(1)
	go func() {
		defer p.finished()
		task()
	}()
}

func (p *Pool) finished() {
	p.mu.Lock()
	p.numRunning--
	p.cond.Signal()
	p.mu.Unlock()
}

// WaitToStart blocks until a slot is available and then starts task in a new goroutine.
//
// If parallelism is disabled, task runs inline and WaitToStart returns only after it finishes.
// Callers relying on concurrency between tasks would deadlock in that case, so they should check
// IsEnabled first.
func (p *Pool) WaitToStart(task func()) {
	if p.IsUnlimited() {
		p.numStarted.Add(1)
		go task()
		return
	} else if !p.IsEnabled() {
		task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.lockedStart(task)
}

// StartIfAvailable starts task in a new goroutine if a slot is available, and returns true.
// Otherwise it returns false immediately and task is not run: the caller usually runs it inline.
//
// Synchronizing with the end of task is the caller's responsibility.
func (p *Pool) StartIfAvailable(task func()) bool {
	if p.IsUnlimited() {
		p.numStarted.Add(1)
		go task()
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lockedIsFull() {
		return false
	}
	p.lockedStart(task)
	return true
}

// Saturate runs one copy of task per unit of parallelism, all concurrently, and waits for them
// to finish. With parallelism disabled task runs once inline. With unlimited parallelism it runs
// runtime.NumCPU() copies.
func (p *Pool) Saturate(task func()) {
	if !p.IsEnabled() {
		task()
		return
	}
	numTasks := p.maxParallelism
	if p.IsUnlimited() {
		numTasks = runtime.NumCPU()
	}
	var wg sync.WaitGroup
	wg.Add(numTasks)
	for range numTasks {
		p.WaitToStart(func() {
			defer wg.Done()
			task()
		})
	}
	wg.Wait()
}

// WorkerIsAsleep tells the pool that the calling worker is going to block waiting for other
// workers, lending its slot. Call WorkerRestarted once it is running again.
func (p *Pool) WorkerIsAsleep() {
	p.extraParallelism.Add(1)
	p.mu.Lock()
	p.cond.Signal()
	p.mu.Unlock()
}

// WorkerRestarted reclaims the slot lent by a previous WorkerIsAsleep.
func (p *Pool) WorkerRestarted() {
	p.extraParallelism.Add(-1)
}

// NumLent returns the number of slots currently lent by sleeping workers.
func (p *Pool) NumLent() int {
	return int(p.extraParallelism.Load())
}

// NumRunning returns the number of tasks currently running in their own goroutine.
// Tasks started with unlimited parallelism are not tracked.
func (p *Pool) NumRunning() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numRunning
}

// NumStarted returns the number of tasks ever started in a separate goroutine.
func (p *Pool) NumStarted() int64 {
	return p.numStarted.Load()
}
