// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstFailure(t *testing.T) {
	var f FirstFailure[error]
	assert.False(t, f.Failed())
	_, failed := f.Load()
	assert.False(t, failed)

	var wg sync.WaitGroup
	var numKept sync.Map
	for ii := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Store(errors.Errorf("failure #%d", ii)) {
				numKept.Store(ii, true)
			}
		}()
	}
	wg.Wait()
	kept := 0
	numKept.Range(func(_, _ any) bool { kept++; return true })
	assert.Equal(t, 1, kept)
	assert.Equal(t, 19, f.NumDropped())
	err, failed := f.Load()
	require.True(t, failed)
	assert.Contains(t, err.Error(), "failure #")
}
