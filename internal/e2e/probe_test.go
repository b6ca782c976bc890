// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package e2e

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForHTTP(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The first answers come from a backend that is still starting.
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, WaitForHTTP(t.Context(), srv.URL, http.StatusUnauthorized, 5*time.Second))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitForHTTPTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	err := WaitForHTTP(t.Context(), srv.URL, http.StatusOK, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorContains(t, err, "got status 502")
}

func TestEventually(t *testing.T) {
	attempts := 0
	err := Eventually(t.Context(), 5*time.Second, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry(t *testing.T) {
	attempts := 0
	err := Retry(t.Context(), 3, func(context.Context) error {
		attempts++
		return errors.New("login failed")
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "login failed")
	assert.Equal(t, 3, attempts)
}
