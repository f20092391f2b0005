// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package memory implements the allocation ledger: an audit trail of the live host and device
// allocations, used to detect leaks, double-frees and untracked frees.
//
// The Ledger only observes: it never allocates or frees anything. The Allocator sits in front of
// the real allocation calls and reports every event to the Ledger.
package memory

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// MemoryType tells where an allocation lives.
type MemoryType int

//go:generate enumer -type=MemoryType -trimprefix=MemoryType ledger.go

const (
	MemoryTypeHost MemoryType = iota
	MemoryTypeDevice
)

// numMemoryTypes is used to size per-type counters.
const numMemoryTypes = int(MemoryTypeDevice) + 1

// Handle is the pointer identity of an allocation. It is unique among the live allocations of
// the same MemoryType.
type Handle int64

// Entry records one live allocation. It is immutable after construction.
type Entry struct {
	MemoryType MemoryType
	Handle     Handle
	NumBytes   int64

	// StackTrace of the acquisition. It may be empty if stack traces are not being captured.
	StackTrace string
}

// String implements fmt.Stringer.
func (e Entry) String() string {
	return fmt.Sprintf("%s allocation #%d (%s)", e.MemoryType, e.Handle, humanize.Bytes(uint64(max(e.NumBytes, 0))))
}

var (
	// ErrDuplicateAllocation is returned when recording a handle that already has a live entry.
	ErrDuplicateAllocation = errors.New("duplicate allocation")

	// ErrUnknownAllocation is returned when releasing a handle that has no live entry:
	// a double-free or an untracked allocation.
	ErrUnknownAllocation = errors.New("unknown allocation")

	// ErrLimitExceeded is returned when an allocation would take the live bytes of a MemoryType
	// over its limit.
	ErrLimitExceeded = errors.New("memory limit exceeded")
)

type ledgerKey struct {
	memType MemoryType
	handle  Handle
}

// Ledger holds the live allocations. It is safe for concurrent use.
type Ledger struct {
	mu         sync.Mutex
	entries    map[ledgerKey]Entry
	totalBytes [numMemoryTypes]int64
	peakBytes  [numMemoryTypes]int64
	limits     [numMemoryTypes]int64
}

// NewLedger returns an empty Ledger with no limits.
func NewLedger() *Ledger {
	l := &Ledger{entries: make(map[ledgerKey]Entry)}
	for ii := range l.limits {
		l.limits[ii] = -1
	}
	return l
}

func checkMemoryType(memType MemoryType) error {
	if !memType.IsAMemoryType() {
		return errors.Errorf("invalid memory type %d", int(memType))
	}
	return nil
}

// SetLimit sets the maximum live bytes for memType. A negative limit means unlimited.
// It doesn't affect allocations already recorded.
func (l *Ledger) SetLimit(memType MemoryType, numBytes int64) error {
	if err := checkMemoryType(memType); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if numBytes < 0 {
		numBytes = -1
	}
	l.limits[memType] = numBytes
	return nil
}

// Limit returns the limit for memType, or -1 if unlimited. It returns 0 for an invalid memType.
func (l *Ledger) Limit(memType MemoryType) int64 {
	if checkMemoryType(memType) != nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits[memType]
}

// RecordAllocation inserts a new live entry.
//
// It fails with ErrDuplicateAllocation if handle already has a live entry of memType, and with
// ErrLimitExceeded if the limit for memType would be exceeded. Nothing is recorded on failure.
func (l *Ledger) RecordAllocation(memType MemoryType, handle Handle, numBytes int64, stackTrace string) error {
	if err := checkMemoryType(memType); err != nil {
		return err
	}
	if numBytes < 0 {
		return errors.Errorf("cannot record %s allocation #%d with negative size %d", memType, handle, numBytes)
	}
	key := ledgerKey{memType, handle}
	l.mu.Lock()
	defer l.mu.Unlock()
	if previous, found := l.entries[key]; found {
		return errors.Wrapf(ErrDuplicateAllocation, "%s allocation #%d of %d bytes already live with %d bytes",
			memType, handle, numBytes, previous.NumBytes)
	}
	newTotal := l.totalBytes[memType] + numBytes
	if limit := l.limits[memType]; limit >= 0 && newTotal > limit {
		return errors.Wrapf(ErrLimitExceeded, "%s allocation #%d of %s would take live memory to %s, limit is %s",
			memType, handle, humanize.Bytes(uint64(numBytes)), humanize.Bytes(uint64(newTotal)), humanize.Bytes(uint64(limit)))
	}
	l.entries[key] = Entry{MemoryType: memType, Handle: handle, NumBytes: numBytes, StackTrace: stackTrace}
	l.totalBytes[memType] = newTotal
	l.peakBytes[memType] = max(l.peakBytes[memType], newTotal)
	return nil
}

// RecordDeallocation removes the live entry for handle.
// It fails with ErrUnknownAllocation if there is no such entry.
func (l *Ledger) RecordDeallocation(memType MemoryType, handle Handle) error {
	if err := checkMemoryType(memType); err != nil {
		return err
	}
	key := ledgerKey{memType, handle}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, found := l.entries[key]
	if !found {
		return errors.Wrapf(ErrUnknownAllocation, "%s allocation #%d is not live (double-free or untracked allocation)",
			memType, handle)
	}
	delete(l.entries, key)
	l.totalBytes[memType] -= entry.NumBytes
	return nil
}

// Lookup returns the live entry for handle, if any.
func (l *Ledger) Lookup(memType MemoryType, handle Handle) (entry Entry, found bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, found = l.entries[ledgerKey{memType, handle}]
	return
}

// Snapshot returns all live entries, ordered by MemoryType and then Handle.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	entries := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		entries = append(entries, entry)
	}
	l.mu.Unlock()
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(a.MemoryType, b.MemoryType); c != 0 {
			return c
		}
		return cmp.Compare(a.Handle, b.Handle)
	})
	return entries
}

// TotalBytes returns the sum of the NumBytes of the live entries of memType, 0 for an invalid memType.
func (l *Ledger) TotalBytes(memType MemoryType) int64 {
	if checkMemoryType(memType) != nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalBytes[memType]
}

// PeakBytes returns the highest TotalBytes seen for memType since creation or the last Reset,
// 0 for an invalid memType.
func (l *Ledger) PeakBytes(memType MemoryType) int64 {
	if checkMemoryType(memType) != nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peakBytes[memType]
}

// NumLive returns the number of live entries of memType.
func (l *Ledger) NumLive(memType MemoryType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for key := range l.entries {
		if key.memType == memType {
			count++
		}
	}
	return count
}

// Len returns the number of live entries of all types.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset drops all entries and counters. Limits are preserved.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.entries)
	l.totalBytes = [numMemoryTypes]int64{}
	l.peakBytes = [numMemoryTypes]int64{}
}

// Report returns a human-readable summary of the live entries, including their stack traces.
func (l *Ledger) Report() string {
	entries := l.Snapshot()
	var sb strings.Builder
	for _, memType := range MemoryTypeValues() {
		_, _ = fmt.Fprintf(&sb, "%s: %d live allocation(s), %s (peak %s)\n", memType, l.NumLive(memType),
			humanize.Bytes(uint64(l.TotalBytes(memType))), humanize.Bytes(uint64(l.PeakBytes(memType))))
	}
	for _, entry := range entries {
		_, _ = fmt.Fprintf(&sb, "- %s\n", entry)
		if entry.StackTrace != "" {
			for _, line := range strings.Split(strings.TrimSpace(entry.StackTrace), "\n") {
				_, _ = fmt.Fprintf(&sb, "\t%s\n", line)
			}
		}
	}
	return sb.String()
}

// LeakError is returned by CheckLeaks when there are live entries left.
type LeakError struct {
	Entries []Entry
}

// Error implements the error interface.
func (e *LeakError) Error() string {
	var counts [numMemoryTypes]int
	var bytes [numMemoryTypes]int64
	for _, entry := range e.Entries {
		counts[entry.MemoryType]++
		bytes[entry.MemoryType] += entry.NumBytes
	}
	parts := make([]string, 0, numMemoryTypes)
	for _, memType := range MemoryTypeValues() {
		if counts[memType] == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s allocation(s) (%s)", counts[memType], memType,
			humanize.Bytes(uint64(bytes[memType]))))
	}
	return "memory leaked: " + strings.Join(parts, ", ")
}

// CheckLeaks returns a *LeakError if the ledger has any live entry, nil otherwise.
// It is typically called at teardown.
func CheckLeaks(l *Ledger) error {
	entries := l.Snapshot()
	if len(entries) == 0 {
		return nil
	}
	return &LeakError{Entries: entries}
}
