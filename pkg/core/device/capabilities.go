// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Version of a device runtime or of its math library.
type Version struct {
	Major, Minor, Patch int
}

// String implements fmt.Stringer.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Capabilities is the query interface to the device an engine executes on.
//
// Builds without an accelerator use HostCapabilities, so call sites never need conditional compilation.
type Capabilities interface {
	// Name of the device, e.g. "host".
	Name() string

	// Version of the device runtime. The zero Version means "not applicable".
	Version() Version

	// IsAccelerator returns false for the host.
	IsAccelerator() bool

	// NumDevices available. The host reports 1.
	NumDevices() int
}

// HostCapabilities is the no-op Capabilities for CPU-only execution.
type HostCapabilities struct{}

// Compile-time check.
var _ Capabilities = HostCapabilities{}

func (HostCapabilities) Name() string        { return HostProbeName }
func (HostCapabilities) Version() Version    { return Version{} }
func (HostCapabilities) IsAccelerator() bool { return false }
func (HostCapabilities) NumDevices() int     { return 1 }

// HostProbeName is always registered.
const HostProbeName = "host"

// ProbeFn checks whether a device is available and returns its Capabilities.
type ProbeFn func() (Capabilities, error)

var (
	muProbes         sync.Mutex
	registeredProbes = map[string]ProbeFn{
		HostProbeName: func() (Capabilities, error) { return HostCapabilities{}, nil },
	}
)

// RegisterProbe makes a device probe available by name. Call it during package initialization.
func RegisterProbe(name string, probe ProbeFn) {
	muProbes.Lock()
	defer muProbes.Unlock()
	registeredProbes[name] = probe
}

// Probes returns the names of the registered probes, sorted.
func Probes() []string {
	muProbes.Lock()
	defer muProbes.Unlock()
	return slices.Sorted(maps.Keys(registeredProbes))
}

// Probe runs the probe registered under name. An empty name is the same as HostProbeName.
func Probe(name string) (Capabilities, error) {
	if name == "" {
		name = HostProbeName
	}
	muProbes.Lock()
	probe, found := registeredProbes[name]
	muProbes.Unlock()
	if !found {
		return nil, errors.Errorf("unknown device %q, registered devices are %q", name, Probes())
	}
	caps, err := probe()
	if err != nil {
		return nil, errors.WithMessagef(err, "device %q not available", name)
	}
	klog.V(1).Infof("device %q: %s v%s, %d device(s)", name, caps.Name(), caps.Version(), caps.NumDevices())
	return caps, nil
}
