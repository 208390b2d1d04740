// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_RoundTrip(t *testing.T) {
	s := New("az-key-123")
	require.True(t, s.IsSet())

	plain, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "az-key-123", plain)

	// Revealing twice must yield the same value.
	again, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, plain, again)
}

func TestSecret_Empty(t *testing.T) {
	s := New("")
	assert.False(t, s.IsSet())

	_, err := s.Reveal()
	assert.ErrorIs(t, err, ErrNotSet)
}

func TestSecret_NilReceiver(t *testing.T) {
	var s *Secret
	assert.False(t, s.IsSet())
	_, err := s.Reveal()
	assert.ErrorIs(t, err, ErrNotSet)
}

func TestSecret_StringRedacts(t *testing.T) {
	assert.Equal(t, "[REDACTED]", New("hunter2").String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", New("hunter2")))
	assert.Equal(t, "", New("").String())
}

func TestSecret_ConcurrentReveal(t *testing.T) {
	s := New("shared")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Reveal()
			assert.NoError(t, err)
			assert.Equal(t, "shared", v)
		}()
	}
	wg.Wait()
}
