// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package clients

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/models"
)

var (
	ErrClientNotFound   = errors.New("backend client not found")
	ErrPoolClosed       = errors.New("client pool is closed")
	ErrInstanceDisabled = errors.New("instance is disabled")
	ErrInBackoff        = errors.New("instance is in backoff period")
)

const (
	healthCheckInterval    = 30 * time.Second
	healthCheckTimeout     = 10 * time.Second
	minHealthCheckInterval = 20 * time.Second

	initialBackoff = 10 * time.Second
	maxBackoff     = 1 * time.Minute

	// Backends that ban the IP after failed logins get a much longer pause.
	banInitialBackoff = 5 * time.Minute
	banMaxBackoff     = 1 * time.Hour

	labelCacheTTL = 30 * time.Second
)

// BackendFactory builds an unauthenticated backend client.
type BackendFactory func(backend.Config) (backend.Client, error)

type failureInfo struct {
	nextRetry time.Time
	attempts  int
	lastError error
}

// Pool holds one logged-in client per instance and backs off instances that
// keep failing.
type Pool struct {
	clients        map[int]*Client
	instanceStore  *models.InstanceStore
	errorStore     *models.InstanceErrorStore
	factory        BackendFactory
	requestTimeout time.Duration
	labelCache     *ttlcache.Cache[int, []string]

	mu             sync.RWMutex
	creationMu     sync.Mutex
	creationLocks  map[int]*sync.Mutex
	closed         bool
	healthTicker   *time.Ticker
	stopHealth     chan struct{}
	failureTracker map[int]*failureInfo
	decryptLogged  map[int]bool
}

func NewPool(instanceStore *models.InstanceStore, errorStore *models.InstanceErrorStore, requestTimeout time.Duration) *Pool {
	p := &Pool{
		clients:        make(map[int]*Client),
		instanceStore:  instanceStore,
		errorStore:     errorStore,
		factory:        NewBackend,
		requestTimeout: requestTimeout,
		labelCache:     ttlcache.New(ttlcache.Options[int, []string]{}.SetDefaultTTL(labelCacheTTL)),
		creationLocks:  make(map[int]*sync.Mutex),
		healthTicker:   time.NewTicker(healthCheckInterval),
		stopHealth:     make(chan struct{}),
		failureTracker: make(map[int]*failureInfo),
		decryptLogged:  make(map[int]bool),
	}

	go p.healthCheckLoop()

	return p
}

// SetBackendFactory replaces how clients are built. Existing clients are kept.
func (p *Pool) SetBackendFactory(factory BackendFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factory = factory
}

// SetRequestTimeout applies to clients created afterwards.
func (p *Pool) SetRequestTimeout(timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestTimeout = timeout
}

func (p *Pool) getInstanceLock(instanceID int) *sync.Mutex {
	p.creationMu.Lock()
	defer p.creationMu.Unlock()

	if lock, ok := p.creationLocks[instanceID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	p.creationLocks[instanceID] = lock
	return lock
}

// GetClientOffline returns the pooled client without connecting.
func (p *Pool) GetClientOffline(instanceID int) (*Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	client, ok := p.clients[instanceID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return client, nil
}

// GetClient returns a healthy client for the instance, logging in on first use.
func (p *Pool) GetClient(ctx context.Context, instanceID int) (*Client, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	client, ok := p.clients[instanceID]
	p.mu.RUnlock()

	if ok {
		if client.IsHealthy() {
			return client, nil
		}
		if p.isInBackoff(instanceID) {
			return nil, errors.Wrapf(ErrInBackoff, "instance %d", instanceID)
		}
		if err := client.HealthCheck(ctx); err != nil {
			p.trackFailure(instanceID, err)
			return nil, err
		}
		p.ResetFailureTracking(instanceID)
		return client, nil
	}

	return p.createClient(ctx, instanceID)
}

func (p *Pool) createClient(ctx context.Context, instanceID int) (*Client, error) {
	lock := p.getInstanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	if p.isInBackoff(instanceID) {
		return nil, errors.Wrapf(ErrInBackoff, "instance %d", instanceID)
	}

	// Another caller may have connected while we waited.
	p.mu.RLock()
	if client, ok := p.clients[instanceID]; ok && client.IsHealthy() {
		p.mu.RUnlock()
		return client, nil
	}
	factory := p.factory
	timeout := p.requestTimeout
	p.mu.RUnlock()

	instance, err := p.instanceStore.Get(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	if !instance.IsActive {
		return nil, ErrInstanceDisabled
	}

	cfg, err := p.instanceStore.BackendConfig(instance, timeout)
	if err != nil {
		if p.shouldLogDecryptionError(instanceID) {
			log.Error().Err(err).Int("instanceID", instanceID).Str("instanceName", instance.Name).
				Msg("Failed to decrypt credentials, likely after a sessionSecret change. Re-enter the password to reconnect")
		}
		p.trackFailure(instanceID, err)
		return nil, err
	}

	bc, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := bc.Login(ctx); err != nil {
		p.trackFailure(instanceID, err)
		return nil, errors.Wrap(err, "login failed")
	}

	client := newClient(instanceID, instance.Name, bc)
	if err := client.HealthCheck(ctx); err != nil {
		p.trackFailure(instanceID, err)
		return nil, err
	}

	p.mu.Lock()
	p.clients[instanceID] = client
	p.mu.Unlock()
	p.ResetFailureTracking(instanceID)

	log.Info().
		Int("instanceID", instanceID).
		Str("instanceName", instance.Name).
		Str("kind", string(instance.Kind)).
		Str("version", client.BackendVersion()).
		Msg("Connected to backend")

	return client, nil
}

// RemoveClient drops the pooled client, e.g. after the instance was edited.
func (p *Pool) RemoveClient(instanceID int) {
	lock := p.getInstanceLock(instanceID)
	lock.Lock()

	p.mu.Lock()
	delete(p.clients, instanceID)
	delete(p.failureTracker, instanceID)
	delete(p.decryptLogged, instanceID)
	p.mu.Unlock()
	p.labelCache.Delete(instanceID)

	lock.Unlock()

	p.creationMu.Lock()
	delete(p.creationLocks, instanceID)
	p.creationMu.Unlock()

	log.Debug().Int("instanceID", instanceID).Msg("Removed client from pool")
}

// Labels returns the backend's labels, cached briefly.
func (p *Pool) Labels(ctx context.Context, instanceID int) ([]string, error) {
	if labels, ok := p.labelCache.Get(instanceID); ok {
		return labels, nil
	}

	client, err := p.GetClient(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	labels, err := client.Labels(ctx)
	if err != nil {
		return nil, err
	}
	p.labelCache.Set(instanceID, labels, ttlcache.DefaultTTL)
	return labels, nil
}

// InvalidateLabels forgets cached labels after a label was assigned.
func (p *Pool) InvalidateLabels(instanceID int) {
	p.labelCache.Delete(instanceID)
}

func (p *Pool) healthCheckLoop() {
	for {
		select {
		case <-p.healthTicker.C:
			p.performHealthChecks()
		case <-p.stopHealth:
			return
		}
	}
}

func (p *Pool) performHealthChecks() {
	p.mu.RLock()
	clients := make([]*Client, 0, len(p.clients))
	for _, client := range p.clients {
		clients = append(clients, client)
	}
	p.mu.RUnlock()

	for _, client := range clients {
		instanceID := client.GetInstanceID()

		if time.Since(client.GetLastHealthCheck()) < minHealthCheckInterval || p.isInBackoff(instanceID) {
			continue
		}

		go func(client *Client) {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()

			if err := client.HealthCheck(ctx); err != nil {
				log.Warn().Err(err).Int("instanceID", instanceID).Msg("Health check failed")
				p.trackFailure(instanceID, err)
				return
			}
			p.ResetFailureTracking(instanceID)
		}(client)
	}
}

// MarkUnhealthy forces the next GetClient to re-check the backend.
func (p *Pool) MarkUnhealthy(instanceID int, err error) {
	p.mu.RLock()
	client, ok := p.clients[instanceID]
	p.mu.RUnlock()
	if ok {
		client.updateHealthStatus(false, "")
	}
	p.trackFailure(instanceID, err)
}

// LastError is the most recent connection failure, nil while healthy.
func (p *Pool) LastError(instanceID int) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if info, ok := p.failureTracker[instanceID]; ok {
		return info.lastError
	}
	return nil
}

// Close stops health checks and forgets every client.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopHealth)
	p.healthTicker.Stop()
	p.clients = make(map[int]*Client)
	p.failureTracker = make(map[int]*failureInfo)
	p.mu.Unlock()

	p.labelCache.Close()

	log.Info().Msg("Client pool closed")
	return nil
}

func (p *Pool) isInBackoff(instanceID int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.failureTracker[instanceID]
	return ok && time.Now().Before(info.nextRetry)
}

func (p *Pool) trackFailure(instanceID int, err error) {
	p.mu.Lock()
	info, ok := p.failureTracker[instanceID]
	if !ok {
		info = &failureInfo{}
		p.failureTracker[instanceID] = info
	}
	info.attempts++
	info.lastError = err

	var backoff time.Duration
	if isBanError(err) {
		backoff = calculateBackoff(info.attempts, banInitialBackoff, banMaxBackoff)
		log.Warn().Int("instanceID", instanceID).Int("attempts", info.attempts).Dur("backoff", backoff).Msg("Backend refused login, applying extended backoff")
	} else {
		backoff = calculateBackoff(info.attempts, initialBackoff, maxBackoff)
		log.Debug().Int("instanceID", instanceID).Int("attempts", info.attempts).Dur("backoff", backoff).Msg("Connection failure, applying backoff")
	}
	info.nextRetry = time.Now().Add(backoff)
	p.mu.Unlock()

	if p.errorStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if recordErr := p.errorStore.RecordError(ctx, instanceID, err); recordErr != nil {
		log.Error().Err(recordErr).Int("instanceID", instanceID).Msg("Failed to record instance error")
	}
}

// ResetFailureTracking clears backoff after a success or an explicit user
// action such as saving the instance.
func (p *Pool) ResetFailureTracking(instanceID int) {
	p.mu.Lock()
	_, hadFailures := p.failureTracker[instanceID]
	delete(p.failureTracker, instanceID)
	delete(p.decryptLogged, instanceID)
	p.mu.Unlock()

	if p.errorStore == nil || !hadFailures {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.errorStore.ClearErrors(ctx, instanceID); err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to clear instance errors")
	}
}

func calculateBackoff(attempts int, initial, limit time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		return limit
	}
	return min(time.Duration(1<<(attempts-1))*initial, limit)
}

func isBanError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, backend.ErrUnauthorized) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "banned") ||
		strings.Contains(msg, "too many failed login attempts") ||
		strings.Contains(msg, "rate limit")
}

func (p *Pool) shouldLogDecryptionError(instanceID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.decryptLogged[instanceID] {
		return false
	}
	p.decryptLogged[instanceID] = true
	return true
}
