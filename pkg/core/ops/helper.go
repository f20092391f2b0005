// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Helper is an alternative implementation of a KindCustom or KindBoolean operation for one
// platform (the name of a device probe, e.g. "host" or "webgpu"). The dispatch uses it instead of
// the operation's own kernel when the context runs on that platform and IsUsable accepts it.
//
// Inputs are validated and outputs allocated as usual before the helper runs. For KindBoolean
// operations the helper writes the scalar Bool output itself.
type Helper struct {
	// Op is the name (or synonym) of the operation the helper implements.
	Op string

	// Platform is the device probe name the helper is for.
	Platform string

	// IsUsable reports whether the helper can handle the given context, e.g. for the dtypes or
	// shapes it was written for. If nil, the helper is always used.
	IsUsable func(ctx *Context) bool

	// Kernel replaces the operation's kernel.
	Kernel KernelFn
}

type helperKey struct {
	hash     uint64
	platform string
}

// RegisterHelper adds a platform helper for an already registered operation. It fails with
// ErrUnknownOperation if the operation is not registered, and with ErrDuplicateName if the
// operation already has a helper for that platform.
func (r *Registry) RegisterHelper(helper *Helper) error {
	if helper == nil || helper.Kernel == nil || helper.Platform == "" {
		return errors.New("a helper requires a platform and a kernel")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errors.Wrapf(ErrRegistrySealed, "cannot register %q helper for %q", helper.Platform, helper.Op)
	}
	op, found := r.byName[helper.Op]
	if !found {
		return errors.Wrapf(ErrUnknownOperation, "cannot register %q helper for unknown operation %q", helper.Platform, helper.Op)
	}
	if op.desc.Kind == KindList {
		return errors.Errorf("list operation %q cannot have platform helpers", op.Name())
	}
	key := helperKey{op.Hash(), helper.Platform}
	if _, found := r.helpers[key]; found {
		return errors.Wrapf(ErrDuplicateName, "operation %q already has a %q helper", op.Name(), helper.Platform)
	}
	r.helpers[key] = helper
	klog.V(2).Infof("registered %q helper for %q", helper.Platform, op.Name())
	return nil
}

// Helper returns the helper registered for the operation with the given hash (see HashName of its
// canonical name) and platform, or nil.
func (r *Registry) Helper(hash uint64, platform string) *Helper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.helpers[helperKey{hash, platform}]
}

// NumHelpers returns the number of registered platform helpers.
func (r *Registry) NumHelpers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.helpers)
}

// selectKernel returns the kernel to run for ctx: the platform helper if the context has one
// usable, or the operation's own kernel otherwise.
func (op *Operation) selectKernel(ctx *Context) KernelFn {
	if ctx.helpers == nil || !ctx.useHelpers {
		return op.kernel
	}
	helper := ctx.helpers.Helper(op.Hash(), ctx.platform)
	if helper == nil || (helper.IsUsable != nil && !helper.IsUsable(ctx)) {
		return op.kernel
	}
	if klog.V(3).Enabled() {
		klog.Infof("operation %q: using %q helper", op.Name(), ctx.platform)
	}
	ctx.usedHelper = true
	return helper.Kernel
}
