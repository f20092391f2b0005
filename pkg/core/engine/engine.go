// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package engine wires the execution core together: the workers pool and tiler, the memory ledger,
// the operations registry and the device, all configured by an environment.Environment.
//
// Typical usage:
//
//	eng, err := engine.New(environment.Default())
//	if err != nil { ... }
//	if err = eng.Initialize(kernels.Register); err != nil { ... }
//	defer func() { _ = eng.Shutdown() }()
//
//	ctx := eng.NewContext().SetInputs(x, y).SetIArgs(0)
//	status, err := eng.Exec("stack", ctx)
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/opcore/internal/workerspool"
	"github.com/gomlx/opcore/pkg/core/device"
	"github.com/gomlx/opcore/pkg/core/environment"
	"github.com/gomlx/opcore/pkg/core/memory"
	"github.com/gomlx/opcore/pkg/core/ops"
	"github.com/gomlx/opcore/pkg/core/tiling"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrShutdown is returned when using an engine after Shutdown.
var ErrShutdown = errors.New("engine is shut down")

// Engine owns the shared state used to execute operations. It is safe for concurrent use, but each
// ops.Context must be used by one execution at a time.
type Engine struct {
	env *environment.Environment

	pool      *workerspool.Pool
	tiler     *tiling.Tiler
	ledger    *memory.Ledger
	allocator *memory.Allocator
	registry  *ops.Registry
	caps      device.Capabilities
	platform  string

	numExecutions, numFailures atomic.Int64

	muShutdown sync.Mutex
	isShutdown bool
}

// New creates an engine configured by env, which is copied. It fails if env is invalid or if its
// device is not available.
func New(env *environment.Environment) (*Engine, error) {
	if env == nil {
		env = environment.Default()
	}
	env = env.Clone()
	if err := env.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid environment")
	}
	caps, err := device.Probe(env.Device)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		env:      env,
		pool:     workerspool.New(),
		ledger:   memory.NewLedger(),
		registry: ops.NewRegistry(),
		caps:     caps,
		platform: env.Device,
	}
	if e.platform == "" {
		e.platform = device.HostProbeName
	}
	e.pool.SetMaxParallelism(env.MaxThreads)
	e.tiler = tiling.New(e.pool, env.ElementwiseThreshold)
	if err = e.ledger.SetLimit(memory.MemoryTypeHost, env.MaxHostMemory); err != nil {
		return nil, err
	}
	if err = e.ledger.SetLimit(memory.MemoryTypeDevice, env.MaxDeviceMemory); err != nil {
		return nil, err
	}
	e.allocator = memory.NewAllocator(e.ledger, env.DetectLeaks)
	if env.Verbose {
		klog.Infof("engine created on %q with %s", caps.Name(), env)
	}
	return e, nil
}

// Initialize registers the operations of each registrar and seals the registry.
func (e *Engine) Initialize(registrars ...ops.Registrar) error {
	if e.IsShutdown() {
		return errors.WithStack(ErrShutdown)
	}
	if err := e.registry.Initialize(registrars...); err != nil {
		return errors.WithMessage(err, "initializing engine")
	}
	if e.env.Verbose {
		klog.Infof("engine initialized with %d operations: %q", e.registry.Len(), e.registry.Names())
	}
	return nil
}

// Environment returns a copy of the engine configuration.
func (e *Engine) Environment() *environment.Environment { return e.env.Clone() }

// Registry of operations.
func (e *Engine) Registry() *ops.Registry { return e.registry }

// Ledger that records all the allocations made by contexts of this engine.
func (e *Engine) Ledger() *memory.Ledger { return e.ledger }

// Allocator used by contexts of this engine.
func (e *Engine) Allocator() *memory.Allocator { return e.allocator }

// Tiler used by kernels for parallel loops.
func (e *Engine) Tiler() *tiling.Tiler { return e.tiler }

// Capabilities of the device the engine was created for.
func (e *Engine) Capabilities() device.Capabilities { return e.caps }

// Resolve returns the operation registered under name (canonical name or synonym).
func (e *Engine) Resolve(name string) (*ops.Operation, error) {
	return e.registry.Resolve(name)
}

// Platform is the name of the device probe the engine runs on, used to select platform helpers.
func (e *Engine) Platform() string { return e.platform }

// NewContext returns an empty context bound to the engine's tiler and allocator, using the
// platform helpers registered for the engine's device.
func (e *Engine) NewContext() *ops.Context {
	return ops.NewContext(e.tiler, e.allocator).SetPlatform(e.registry, e.platform)
}

// Exec resolves the operation name and executes it on ctx.
//
// The returned Status is ops.StatusOK if and only if the error is nil.
func (e *Engine) Exec(name string, ctx *ops.Context) (ops.Status, error) {
	if e.IsShutdown() {
		return ops.StatusUnknownOperation, errors.Wrapf(ErrShutdown, "executing %q", name)
	}
	op, err := e.registry.Resolve(name)
	if err != nil {
		return ops.StatusOf(err), err
	}
	e.numExecutions.Add(1)
	err = op.Execute(ctx)
	if err != nil {
		e.numFailures.Add(1)
		if e.env.Debug {
			klog.Infof("%q (resolved from %q) failed: %v", op.Name(), name, err)
		}
		return ops.StatusOf(err), err
	}
	if e.env.Debug {
		klog.Infof("%q (resolved from %q) executed on %s", op.Name(), name, ctx)
	}
	return ops.StatusOK, nil
}

// Stats returns the number of executions attempted by Exec and how many of them failed.
func (e *Engine) Stats() (numExecutions, numFailures int64) {
	return e.numExecutions.Load(), e.numFailures.Load()
}

// IsShutdown returns whether Shutdown was called.
func (e *Engine) IsShutdown() bool {
	e.muShutdown.Lock()
	defer e.muShutdown.Unlock()
	return e.isShutdown
}

// Shutdown empties the registry. Calling it more than once returns ErrShutdown.
//
// If leak detection is enabled and allocations are still live, it returns a *memory.LeakError
// listing them. The ledger is left as is, so the caller can inspect it.
func (e *Engine) Shutdown() error {
	e.muShutdown.Lock()
	if e.isShutdown {
		e.muShutdown.Unlock()
		return errors.WithStack(ErrShutdown)
	}
	e.isShutdown = true
	e.muShutdown.Unlock()

	e.registry.Shutdown()
	numExecutions, numFailures := e.Stats()
	if e.env.Verbose {
		klog.Infof("engine shutdown after %d executions (%d failed)\n%s", numExecutions, numFailures, e.ledger.Report())
	}
	if !e.env.DetectLeaks {
		return nil
	}
	if err := memory.CheckLeaks(e.ledger); err != nil {
		klog.Warningf("engine shutdown: %v", err)
		return err
	}
	return nil
}
