// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// opcore_bench executes an operation repeatedly and reports its timing and memory usage.
//
// Example:
//
//	opcore_bench --op=stack --size=1_000_000 --iterations=200 --settings="max_threads=8;detect_leaks=true"
//
// The settings can also be given with $OPCORE_CONFIG. If leak detection is enabled and allocations
// are still live at the end, they are listed and the program exits with code 1.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opcore/pkg/core/engine"
	"github.com/gomlx/opcore/pkg/core/environment"
	"github.com/gomlx/opcore/pkg/core/memory"
	"github.com/gomlx/opcore/pkg/core/ops"
	"github.com/gomlx/opcore/pkg/core/tensors"
	"github.com/gomlx/opcore/pkg/kernels"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagOp         = flag.String("op", "iota", "Operation to benchmark, by name or synonym. See --list.")
	flagSize       = flag.String("size", "1_000_000", "Number of elements of the inputs (or output) of the operation. \"_\" can be used as separator.")
	flagIterations = flag.Int("iterations", 100, "Number of executions.")
	flagKeep       = flag.Bool("keep", false, "Don't release the outputs of the last execution: with detect_leaks=true it demonstrates the leak report.")
	flagList       = flag.Bool("list", false, "List the registered operations and exit.")
	flagSettings   = environment.CreateSettingsFlag(nil, "settings")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	env := must.M1(environment.Load(*flagSettings))
	eng := must.M1(engine.New(env))
	must.M(eng.Initialize(kernels.Register))

	if *flagList {
		listOperations(eng)
		must.M(eng.Shutdown())
		return
	}

	size := must.M1(strconv.Atoi(strings.ReplaceAll(*flagSize, "_", "")))
	if size <= 0 || *flagIterations <= 0 {
		klog.Errorf("--size and --iterations must be positive")
		os.Exit(1)
	}
	op := must.M1(eng.Resolve(*flagOp))
	runID := uuid.New()
	klog.V(1).Infof("run %s: %q x%d, size=%d, environment %s", runID, op.Name(), *flagIterations, size, env.Settings())

	durations, err := benchmark(eng, op, size, *flagIterations)
	if err != nil {
		klog.Errorf("run %s failed: %+v", runID, err)
		os.Exit(1)
	}
	report(eng, op, size, durations)

	if err = eng.Shutdown(); err != nil {
		var leakErr *memory.LeakError
		if errors.As(err, &leakErr) {
			reportLeaks(leakErr)
		} else {
			klog.Errorf("shutdown failed: %+v", err)
		}
		os.Exit(1)
	}
}

// newBenchContext creates the context for one execution of op, with inputs of about size elements.
func newBenchContext(eng *engine.Engine, op *ops.Operation, size int) (*ops.Context, error) {
	ctx := eng.NewContext()
	switch op.Name() {
	case "iota":
		ctx.SetIArgs(int64(size)).SetDArgs(dtypes.Float32)
	case "eye":
		ctx.SetIArgs(int64(math.Sqrt(float64(size))))
	case "scalar_add":
		ctx.SetInputs(tensors.FromFlat(make([]float32, size), size)).SetTArgs(1)
	case "stack":
		ctx.SetInputs(tensors.FromFlat(make([]float32, size), size), tensors.FromFlat(make([]float32, size), size))
	case "unstack":
		rows := min(size, 16)
		ctx.SetInputs(tensors.FromFlat(make([]float32, rows*(size/rows)), rows, size/rows))
	case "is_non_decreasing", "is_strictly_increasing":
		sorted := make([]float32, size)
		for ii := range sorted {
			sorted[ii] = float32(ii)
		}
		ctx.SetInputs(tensors.FromFlat(sorted, size))
	default:
		return nil, errors.Errorf("don't know how to create inputs for %q", op.Name())
	}
	if op.Kind() != ops.KindList {
		ctx.SetNumOutputs(op.Descriptor().MinOutputs)
	}
	return ctx, nil
}

// benchmark executes op iterations times, and returns the duration of each execution.
func benchmark(eng *engine.Engine, op *ops.Operation, size, iterations int) ([]time.Duration, error) {
	term := termenv.NewOutput(os.Stdout)
	term.HideCursor()
	defer term.ShowCursor()
	bar := progressbar.NewOptions(iterations,
		progressbar.OptionSetDescription(fmt.Sprintf("[bold]%s[reset]", op.Name())),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("execs"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stdout),
	)

	durations := make([]time.Duration, 0, iterations)
	for ii := range iterations {
		ctx, err := newBenchContext(eng, op, size)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if _, err = eng.Exec(op.Name(), ctx); err != nil {
			return nil, errors.WithMessagef(err, "iteration %d", ii)
		}
		durations = append(durations, time.Since(start))
		if !(*flagKeep && ii == iterations-1) {
			if err = ctx.Release(); err != nil {
				return nil, err
			}
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println()
	return durations, nil
}

func report(eng *engine.Engine, op *ops.Operation, size int, durations []time.Duration) {
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	ledger := eng.Ledger()
	numAllocated, _ := eng.Allocator().Stats()
	numExecutions, numFailures := eng.Stats()

	fmt.Println(titleStyle.Render("Benchmark"))
	table := newTable([]string{"Metric", "Value"}, lipgloss.Right, lipgloss.Left)
	table.Row(false, "operation", op.String())
	table.Row(false, "size", humanize.Comma(int64(size)))
	table.Row(false, "executions", humanize.Comma(numExecutions))
	table.Row(numFailures > 0, "failures", humanize.Comma(numFailures))
	table.Row(false, "median", formatDuration(sorted[len(sorted)/2]))
	table.Row(false, "mean", formatDuration(total/time.Duration(len(durations))))
	table.Row(false, "min / max", formatDuration(sorted[0])+" / "+formatDuration(sorted[len(sorted)-1]))
	table.Row(false, "allocations", humanize.Comma(numAllocated))
	for _, memType := range memory.MemoryTypeValues() {
		table.Row(false, "peak "+memType.String()+" memory", humanize.Bytes(uint64(ledger.PeakBytes(memType))))
	}
	table.Row(false, "parallel partitions", strconv.Itoa(eng.Tiler().MaxPartitions()))
	fmt.Println(table.Render())
}

func reportLeaks(leakErr *memory.LeakError) {
	fmt.Println(titleStyle.Render("Memory leaks"))
	table := newTable([]string{"Type", "Handle", "Bytes", "Allocated at"}, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Left)
	for _, entry := range leakErr.Entries {
		table.Row(true, entry.MemoryType.String(), strconv.FormatInt(int64(entry.Handle), 10),
			humanize.Bytes(uint64(entry.NumBytes)), firstFrames(entry.StackTrace, 3))
	}
	fmt.Println(table.Render())
	fmt.Println(leakErr.Error())
}

// firstFrames returns the first n frames (function and location lines) of a stack trace.
func firstFrames(stackTrace string, n int) string {
	if stackTrace == "" {
		return "(not captured)"
	}
	lines := strings.Split(strings.TrimSpace(stackTrace), "\n")
	return strings.Join(lines[:min(len(lines), 2*n)], "\n")
}

func listOperations(eng *engine.Engine) {
	fmt.Println(titleStyle.Render("Operations"))
	table := newTable([]string{"Name", "Synonyms", "Definition"}, lipgloss.Left)
	for _, name := range eng.Registry().Names() {
		op := must.M1(eng.Resolve(name))
		synonyms := must.M1(eng.Registry().Synonyms(name))
		table.Row(false, name, strings.Join(synonyms, ", "), op.String())
	}
	fmt.Println(table.Render())
}
