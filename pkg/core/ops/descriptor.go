// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/gopjrt/dtypes"
)

// Kind of operation: it defines how outputs are produced.
type Kind int

//go:generate enumer -type=Kind -trimprefix=Kind descriptor.go

const (
	// KindCustom operations write into output slots that are allocated (or validated) by the dispatch,
	// based on the operation's shape function.
	KindCustom Kind = iota

	// KindList operations return a variable number of freshly created tensors, which the dispatch
	// commits as the context's outputs.
	KindList

	// KindBoolean operations evaluate a condition on their inputs. Their only output is a scalar
	// Bool, see Operation.Verify.
	KindBoolean
)

// Descriptor is the static contract of an operation. It is immutable once the operation is built.
type Descriptor struct {
	// Name is the canonical name, unique in a Registry.
	Name string

	// Synonyms are alternative names that resolve to the same operation.
	Synonyms []string

	// MinInputs and MinOutputs are the minimum number of inputs and output slots.
	MinInputs, MinOutputs int

	// ConfigurableInputs allows more than MinInputs inputs. If false, exactly MinInputs are required.
	ConfigurableInputs bool

	// InplaceAllowed allows executing with the inputs as outputs.
	InplaceAllowed bool

	Kind Kind

	// MinTArgs and MinIArgs are the minimum number of float and integer scalar arguments.
	MinTArgs, MinIArgs int

	// AllowedInputTypes and AllowedOutputTypes restrict the dtypes accepted. Empty means any dtype.
	AllowedInputTypes, AllowedOutputTypes []dtypes.DType
}

// Names returns the canonical name followed by the synonyms.
func (d *Descriptor) Names() []string {
	return append([]string{d.Name}, d.Synonyms...)
}

// Hash returns the 64-bit hash of the operation name, used to resolve operations by a numeric id.
func (d *Descriptor) Hash() uint64 {
	return HashName(d.Name)
}

// HashName returns the hash used to identify an operation with the given name.
func HashName(name string) uint64 {
	return xxhash.Sum64String(name)
}

// AcceptsInputType returns whether dtype is accepted for inputs.
func (d *Descriptor) AcceptsInputType(dtype dtypes.DType) bool {
	return len(d.AllowedInputTypes) == 0 || slices.Contains(d.AllowedInputTypes, dtype)
}

// AcceptsOutputType returns whether dtype is accepted for outputs.
func (d *Descriptor) AcceptsOutputType(dtype dtypes.DType) bool {
	return len(d.AllowedOutputTypes) == 0 || slices.Contains(d.AllowedOutputTypes, dtype)
}

// clone returns a deep copy.
func (d *Descriptor) clone() Descriptor {
	c := *d
	c.Synonyms = slices.Clone(d.Synonyms)
	c.AllowedInputTypes = slices.Clone(d.AllowedInputTypes)
	c.AllowedOutputTypes = slices.Clone(d.AllowedOutputTypes)
	return c
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s(", d.Name)
	if d.ConfigurableInputs {
		_, _ = fmt.Fprintf(&sb, "inputs>=%d", d.MinInputs)
	} else {
		_, _ = fmt.Fprintf(&sb, "inputs=%d", d.MinInputs)
	}
	_, _ = fmt.Fprintf(&sb, ", outputs>=%d", d.MinOutputs)
	if d.MinTArgs > 0 {
		_, _ = fmt.Fprintf(&sb, ", targs>=%d", d.MinTArgs)
	}
	if d.MinIArgs > 0 {
		_, _ = fmt.Fprintf(&sb, ", iargs>=%d", d.MinIArgs)
	}
	if d.InplaceAllowed {
		sb.WriteString(", inplace")
	}
	if d.Kind != KindCustom {
		_, _ = fmt.Fprintf(&sb, ", kind=%s", d.Kind)
	}
	sb.WriteString(")")
	if len(d.Synonyms) > 0 {
		_, _ = fmt.Fprintf(&sb, " aka %q", d.Synonyms)
	}
	return sb.String()
}
