// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package e2e

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

const pollInterval = 500 * time.Millisecond

var ErrTimeout = errors.New("timed out")

// WaitForHTTP polls url until it answers with status or timeout passes.
// Self-signed certificates are accepted.
func WaitForHTTP(ctx context.Context, url string, status int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // test fixtures use self-signed certs
		},
	}

	return Eventually(ctx, timeout, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != status {
			return fmt.Errorf("%s: got status %d, want %d", url, resp.StatusCode, status)
		}
		return nil
	})
}

// Eventually retries fn at a fixed interval until it succeeds or timeout
// passes. The last error is returned, wrapped with ErrTimeout.
func Eventually(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last error
	err := retry.Do(
		func() error {
			last = fn(ctx)
			return last
		},
		retry.Context(ctx),
		retry.Attempts(uint(2*timeout/pollInterval)+1),
		retry.Delay(pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		if last == nil {
			last = ctx.Err()
		}
		return fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, last)
	}
	return err
}

// Retry runs fn up to attempts times, logging each failure. It is used for
// steps that are known to be flaky right after a fixture starts.
func Retry(ctx context.Context, attempts uint, fn func(context.Context) error) error {
	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Msg("Retrying e2e step")
		}),
	)
}
