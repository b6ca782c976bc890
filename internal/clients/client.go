// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package clients owns the live backend connections and keeps a torrent
// registry per instance in sync with them.
package clients

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/backend/qbittorrent"
	"github.com/electorrent/electorrent/internal/backend/transmission"
)

// NewBackend builds the backend client for cfg.Kind.
func NewBackend(cfg backend.Config) (backend.Client, error) {
	switch cfg.Kind {
	case backend.KindQBittorrent:
		return qbittorrent.New(cfg), nil
	case backend.KindTransmission:
		return transmission.New(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownKind, cfg.Kind)
	}
}

// Client is a logged-in backend bound to an instance, with health state.
type Client struct {
	backend.Client
	instanceID int
	name       string

	healthMu        sync.RWMutex
	lastHealthCheck time.Time
	isHealthy       bool
	version         string
}

func newClient(instanceID int, name string, bc backend.Client) *Client {
	return &Client{Client: bc, instanceID: instanceID, name: name}
}

func (c *Client) GetInstanceID() int {
	return c.instanceID
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) GetLastHealthCheck() time.Time {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.lastHealthCheck
}

func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.isHealthy
}

// BackendVersion is the version seen by the last successful health check.
func (c *Client) BackendVersion() string {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.version
}

func (c *Client) updateHealthStatus(healthy bool, version string) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
	if version != "" {
		c.version = version
	}
}

// HealthCheck asks the backend for its version, logging in again once when
// the session has expired.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.IsHealthy() && time.Since(c.GetLastHealthCheck()) < minHealthCheckInterval {
		return nil
	}

	version, err := c.Version(ctx)
	if errors.Is(err, backend.ErrUnauthorized) {
		if err = c.Login(ctx); err == nil {
			version, err = c.Version(ctx)
		}
	}
	if err != nil {
		c.updateHealthStatus(false, "")
		return errors.Wrap(err, "health check failed")
	}

	c.updateHealthStatus(true, version)
	return nil
}
