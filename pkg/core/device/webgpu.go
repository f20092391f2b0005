// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build webgpu

package device

import (
	"fmt"
	"strings"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
)

// WebGPUProbeName is the probe registered when built with the "webgpu" tag.
const WebGPUProbeName = "webgpu"

func init() {
	RegisterProbe(WebGPUProbeName, probeWebGPU)
}

type webGPUCapabilities struct {
	name string
}

func (c webGPUCapabilities) Name() string        { return c.name }
func (c webGPUCapabilities) Version() Version    { return Version{} }
func (c webGPUCapabilities) IsAccelerator() bool { return true }
func (c webGPUCapabilities) NumDevices() int     { return 1 }

// probeWebGPU requests the default adapter. WebGPU has no adapter enumeration, so at most one
// device is reported.
func probeWebGPU() (caps Capabilities, err error) {
	// Loading the native library may still panic on some platforms.
	defer func() {
		if r := recover(); r != nil {
			caps = nil
			err = errors.Errorf("webgpu native library not available: %v", r)
		}
	}()
	if err = wgpu.Init(); err != nil {
		return nil, errors.Wrap(err, "webgpu native library not available")
	}
	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, errors.Wrap(err, "webgpu: failed to create instance")
	}
	defer instance.Release()
	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "webgpu: no adapter available")
	}
	defer adapter.Release()
	info, err := adapter.GetInfo()
	if err != nil {
		return nil, errors.Wrap(err, "webgpu: failed to query adapter")
	}
	return webGPUCapabilities{name: adapterName(info)}, nil
}

// adapterName describes the adapter as "webgpu (<device>, <vendor>)", omitting empty parts.
func adapterName(info *wgpu.AdapterInfoGo) string {
	var parts []string
	for _, part := range []string{info.Device, info.Vendor} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return WebGPUProbeName
	}
	return fmt.Sprintf("%s (%s)", WebGPUProbeName, strings.Join(parts, ", "))
}
