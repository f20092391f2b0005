// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package environment holds the process-wide configuration of the execution core: verbosity,
// parallelism, memory limits and the device to use.
//
// Settings are given as a list of "key=value" separated by ";", e.g.:
//
//	"max_threads=4;max_host_memory=1_000_000_000;detect_leaks=true"
//
// The sources, lowest to highest precedence, are: Default(), the environment variable
// OPCORE_CONFIG and the settings given explicitly (typically a command-line flag).
// See Parse for the details of the format.
package environment

import (
	"fmt"
	"strings"
)

// ConfigEnvVar is the environment variable read by FromEnv.
const ConfigEnvVar = "OPCORE_CONFIG"

// Unlimited is the value of MaxThreads and memory limits meaning no limit.
const Unlimited = -1

// Environment configures an engine. The zero value is not valid, use Default.
type Environment struct {
	// Verbose enables informational logging of the engine lifecycle.
	Verbose bool

	// Debug enables logging of every execution.
	Debug bool

	// DetectLeaks captures a stack trace on every allocation, and makes the engine shutdown fail if
	// allocations are still live.
	DetectLeaks bool

	// MaxThreads is the maximum number of parallel workers: 0 disables parallelism and -1 (Unlimited)
	// uses as many as needed.
	MaxThreads int

	// ElementwiseThreshold is the minimum number of elements per partition of a parallel loop.
	ElementwiseThreshold int

	// MaxHostMemory and MaxDeviceMemory limit the live bytes of each memory type. -1 (Unlimited) for no limit.
	MaxHostMemory, MaxDeviceMemory int64

	// Device is the name of the device whose capabilities are probed. "host" by default.
	Device string
}

// DefaultElementwiseThreshold is the default minimum number of elements per partition.
const DefaultElementwiseThreshold = 1024

// Default returns the default environment.
func Default() *Environment {
	return &Environment{
		MaxThreads:           Unlimited,
		ElementwiseThreshold: DefaultElementwiseThreshold,
		MaxHostMemory:        Unlimited,
		MaxDeviceMemory:      Unlimited,
		Device:               "host",
	}
}

// Clone returns a copy of the environment.
func (env *Environment) Clone() *Environment {
	c := *env
	return &c
}

// String pretty-prints all settings, one per line.
func (env *Environment) String() string {
	var parts []string
	for _, s := range allSettings {
		parts = append(parts, fmt.Sprintf("\t%q: (%s) %s", s.key, s.kind, s.get(env)))
	}
	return "Environment:\n" + strings.Join(parts, "\n")
}

// Settings returns the canonical settings string, which Parse reads back into an equal environment.
func (env *Environment) Settings() string {
	parts := make([]string, len(allSettings))
	for ii, s := range allSettings {
		parts[ii] = s.key + "=" + s.get(env)
	}
	return strings.Join(parts, ";")
}

// Keys returns the known setting keys, in canonical order.
func Keys() []string {
	keys := make([]string, len(allSettings))
	for ii, s := range allSettings {
		keys[ii] = s.key
	}
	return keys
}
