// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import "fmt"

// Affinity tells where an execution runs, and where the memory it allocates lives:
// either the host (Host) or the accelerator with the given index (>= 0).
type Affinity int

// Host affinity: execution and memory on the CPU.
const Host Affinity = -1

// Accelerator returns the affinity for the accelerator with the given index.
func Accelerator(index int) Affinity {
	if index < 0 {
		return Host
	}
	return Affinity(index)
}

// IsHost returns whether the affinity is the host.
func (a Affinity) IsHost() bool { return a < 0 }

// Index of the accelerator, or -1 for the host.
func (a Affinity) Index() int {
	if a.IsHost() {
		return -1
	}
	return int(a)
}

// String implements fmt.Stringer.
func (a Affinity) String() string {
	if a.IsHost() {
		return "host"
	}
	return fmt.Sprintf("device:%d", int(a))
}
