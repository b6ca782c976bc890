// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package clients

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/models"
	"github.com/electorrent/electorrent/internal/torrent"
)

// ConnectionStatus is what the settings page shows for an instance.
type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusConnected  ConnectionStatus = "connected"
	StatusError      ConnectionStatus = "error"
	StatusDisabled   ConnectionStatus = "disabled"
)

// Bounds the number of instances polled at once.
const maxConcurrentPolls = 8

// InstanceState is the last known connection state of an instance.
type InstanceState struct {
	InstanceID   int              `json:"instanceId"`
	Name         string           `json:"name"`
	Kind         backend.Kind     `json:"kind"`
	Status       ConnectionStatus `json:"status"`
	LastError    string           `json:"lastError,omitempty"`
	LastSync     time.Time        `json:"lastSync,omitzero"`
	Version      string           `json:"version,omitempty"`
	TorrentCount int              `json:"torrentCount"`
}

// SyncManager polls every active instance and keeps one torrent.Registry per
// instance current.
type SyncManager struct {
	pool          *Pool
	instanceStore *models.InstanceStore

	mu         sync.RWMutex
	interval   time.Duration
	registries map[int]*torrent.Registry
	states     map[int]*InstanceState
	reset      chan struct{}
}

func NewSyncManager(pool *Pool, instanceStore *models.InstanceStore, interval time.Duration) *SyncManager {
	return &SyncManager{
		pool:          pool,
		instanceStore: instanceStore,
		interval:      interval,
		registries:    make(map[int]*torrent.Registry),
		states:        make(map[int]*InstanceState),
		reset:         make(chan struct{}, 1),
	}
}

// SetInterval changes the poll interval of a running Start loop.
func (sm *SyncManager) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}

	sm.mu.Lock()
	changed := sm.interval != interval
	sm.interval = interval
	sm.mu.Unlock()

	if changed {
		select {
		case sm.reset <- struct{}{}:
		default:
		}
	}
}

func (sm *SyncManager) Interval() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.interval
}

// Start polls until ctx is cancelled.
func (sm *SyncManager) Start(ctx context.Context) {
	ticker := time.NewTicker(sm.Interval())
	defer ticker.Stop()

	log.Info().Dur("interval", sm.Interval()).Msg("Starting torrent sync")

	sm.SyncAll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Torrent sync stopped")
			return
		case <-sm.reset:
			ticker.Reset(sm.Interval())
			log.Info().Dur("interval", sm.Interval()).Msg("Poll interval changed")
		case <-ticker.C:
			sm.SyncAll(ctx)
		}
	}
}

// SyncAll polls every active instance in parallel. Failures are recorded per
// instance and never abort the other polls.
func (sm *SyncManager) SyncAll(ctx context.Context) {
	instances, err := sm.instanceStore.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list instances for sync")
		return
	}

	known := make(map[int]struct{}, len(instances))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)

	for _, instance := range instances {
		known[instance.ID] = struct{}{}

		if !instance.IsActive {
			sm.setState(instance, func(s *InstanceState) {
				s.Status = StatusDisabled
				s.LastError = ""
			})
			continue
		}

		g.Go(func() error {
			if err := sm.sync(gctx, instance); err != nil {
				log.Debug().Err(err).Int("instanceID", instance.ID).Msg("Sync failed")
			}
			return nil
		})
	}

	_ = g.Wait()

	sm.forgetMissing(known)
}

// SyncInstance polls one instance now.
func (sm *SyncManager) SyncInstance(ctx context.Context, instanceID int) error {
	instance, err := sm.instanceStore.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if !instance.IsActive {
		return ErrInstanceDisabled
	}
	return sm.sync(ctx, instance)
}

func (sm *SyncManager) sync(ctx context.Context, instance *models.Instance) error {
	client, err := sm.pool.GetClient(ctx, instance.ID)
	if err != nil {
		sm.setState(instance, func(s *InstanceState) {
			s.Status = StatusError
			s.LastError = err.Error()
		})
		return err
	}

	fields, err := client.Torrents(ctx)
	if err != nil {
		sm.pool.MarkUnhealthy(instance.ID, err)
		sm.setState(instance, func(s *InstanceState) {
			s.Status = StatusError
			s.LastError = err.Error()
		})
		return fmt.Errorf("poll instance %d: %w", instance.ID, err)
	}

	registry := sm.Registry(instance.ID)
	res := registry.Apply(fields)

	sm.setState(instance, func(s *InstanceState) {
		s.Status = StatusConnected
		s.LastError = ""
		s.LastSync = time.Now()
		s.Version = client.BackendVersion()
		s.TorrentCount = registry.Len()
	})

	if res.Added > 0 || res.Removed > 0 {
		log.Debug().
			Int("instanceID", instance.ID).
			Int("added", res.Added).
			Int("updated", res.Updated).
			Int("removed", res.Removed).
			Msg("Applied torrent snapshot")
	}
	return nil
}

func (sm *SyncManager) setState(instance *models.Instance, update func(*InstanceState)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state, ok := sm.states[instance.ID]
	if !ok {
		state = &InstanceState{InstanceID: instance.ID, Status: StatusConnecting}
		sm.states[instance.ID] = state
	}
	state.Name = instance.Name
	state.Kind = instance.Kind
	update(state)
}

func (sm *SyncManager) forgetMissing(known map[int]struct{}) {
	sm.mu.Lock()
	var gone []int
	for id := range sm.states {
		if _, ok := known[id]; !ok {
			gone = append(gone, id)
		}
	}
	sm.mu.Unlock()

	for _, id := range gone {
		sm.Forget(id)
	}
}

// Forget drops all state for an instance, e.g. after it was deleted or edited.
func (sm *SyncManager) Forget(instanceID int) {
	sm.mu.Lock()
	delete(sm.registries, instanceID)
	delete(sm.states, instanceID)
	sm.mu.Unlock()

	sm.pool.RemoveClient(instanceID)
}

// Registry returns the instance's registry, creating an empty one.
func (sm *SyncManager) Registry(instanceID int) *torrent.Registry {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	r, ok := sm.registries[instanceID]
	if !ok {
		r = torrent.NewRegistry()
		sm.registries[instanceID] = r
	}
	return r
}

// State returns a copy of the instance's connection state.
func (sm *SyncManager) State(instanceID int) InstanceState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if s, ok := sm.states[instanceID]; ok {
		return *s
	}
	return InstanceState{InstanceID: instanceID, Status: StatusConnecting}
}

// States returns every known instance state ordered by id.
func (sm *SyncManager) States() []InstanceState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]InstanceState, 0, len(sm.states))
	for _, s := range sm.states {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b InstanceState) int { return a.InstanceID - b.InstanceID })
	return out
}

// Torrents returns the registry contents, polling first when the instance has
// never been synced.
func (sm *SyncManager) Torrents(ctx context.Context, instanceID int) ([]torrent.Torrent, error) {
	if sm.State(instanceID).LastSync.IsZero() {
		if err := sm.SyncInstance(ctx, instanceID); err != nil {
			return nil, err
		}
	}
	return sm.Registry(instanceID).List(), nil
}

// Torrent looks up a single record.
func (sm *SyncManager) Torrent(ctx context.Context, instanceID int, hash string) (torrent.Torrent, error) {
	torrents, err := sm.Torrents(ctx, instanceID)
	if err != nil {
		return torrent.Torrent{}, err
	}
	for _, t := range torrents {
		if t.Hash == hash {
			return t, nil
		}
	}
	return torrent.Torrent{}, backend.ErrTorrentNotFound
}

// Do runs an action against the instance's backend and refreshes the
// registry so callers observe its effect.
func (sm *SyncManager) Do(ctx context.Context, instanceID int, action func(context.Context, *Client) error) error {
	client, err := sm.pool.GetClient(ctx, instanceID)
	if err != nil {
		return err
	}

	if err := action(ctx, client); err != nil {
		return err
	}

	if err := sm.SyncInstance(ctx, instanceID); err != nil {
		log.Warn().Err(err).Int("instanceID", instanceID).Msg("Failed to refresh after action")
	}
	return nil
}

func (sm *SyncManager) AddFile(ctx context.Context, instanceID int, data []byte, opts backend.AddOptions) error {
	return sm.Do(ctx, instanceID, func(ctx context.Context, c *Client) error {
		if err := opts.Validate(c.UploadOptions()); err != nil {
			return err
		}
		if opts.Label != "" {
			defer sm.pool.InvalidateLabels(instanceID)
		}
		return c.AddFile(ctx, data, opts)
	})
}

func (sm *SyncManager) AddMagnet(ctx context.Context, instanceID int, uri string, opts backend.AddOptions) error {
	return sm.Do(ctx, instanceID, func(ctx context.Context, c *Client) error {
		if !backend.HasFeature(c.Features(), backend.FeatureMagnetLinks) {
			return fmt.Errorf("%w: magnet links", backend.ErrUnsupported)
		}
		if err := opts.Validate(c.UploadOptions()); err != nil {
			return err
		}
		if opts.Label != "" {
			defer sm.pool.InvalidateLabels(instanceID)
		}
		return c.AddMagnet(ctx, uri, opts)
	})
}

func (sm *SyncManager) Stop(ctx context.Context, instanceID int, hashes []string) error {
	return sm.Do(ctx, instanceID, func(ctx context.Context, c *Client) error {
		return c.Stop(ctx, hashes)
	})
}

func (sm *SyncManager) Resume(ctx context.Context, instanceID int, hashes []string) error {
	return sm.Do(ctx, instanceID, func(ctx context.Context, c *Client) error {
		return c.Resume(ctx, hashes)
	})
}

func (sm *SyncManager) Delete(ctx context.Context, instanceID int, hashes []string, deleteData bool) error {
	return sm.Do(ctx, instanceID, func(ctx context.Context, c *Client) error {
		return c.Delete(ctx, hashes, deleteData)
	})
}

func (sm *SyncManager) SetLabel(ctx context.Context, instanceID int, hashes []string, label string) error {
	return sm.Do(ctx, instanceID, func(ctx context.Context, c *Client) error {
		if !backend.HasFeature(c.Features(), backend.FeatureLabels) {
			return fmt.Errorf("%w: labels", backend.ErrUnsupported)
		}
		defer sm.pool.InvalidateLabels(instanceID)
		return c.SetLabel(ctx, hashes, label)
	})
}

// SetFlags updates the UI selection and star flags of a record. Nil leaves a
// flag unchanged. The flags are local and survive later polls.
func (sm *SyncManager) SetFlags(ctx context.Context, instanceID int, hash string, selected, starred *bool) error {
	if _, err := sm.Torrent(ctx, instanceID, hash); err != nil {
		return err
	}

	registry := sm.Registry(instanceID)
	if selected != nil && !registry.SetSelected(hash, *selected) {
		return backend.ErrTorrentNotFound
	}
	if starred != nil && !registry.SetStarred(hash, *starred) {
		return backend.ErrTorrentNotFound
	}
	return nil
}

// Labels merges the backend's label list with labels seen on torrents.
func (sm *SyncManager) Labels(ctx context.Context, instanceID int) ([]string, error) {
	labels, err := sm.pool.Labels(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	merged := slices.Clone(labels)
	for label := range torrent.LabelCounts(sm.Registry(instanceID).List()) {
		if !slices.Contains(merged, label) {
			merged = append(merged, label)
		}
	}
	slices.Sort(merged)
	return merged, nil
}

// Capabilities reports what the instance's backend supports.
func (sm *SyncManager) Capabilities(ctx context.Context, instanceID int) ([]backend.Feature, backend.UploadOptions, error) {
	client, err := sm.pool.GetClient(ctx, instanceID)
	if err != nil {
		return nil, backend.UploadOptions{}, err
	}
	return client.Features(), client.UploadOptions(), nil
}

// LoadTrackers fetches the tracker list of one torrent and stores it on the
// registry record.
func (sm *SyncManager) LoadTrackers(ctx context.Context, instanceID int, hash string) (torrent.Torrent, error) {
	client, err := sm.pool.GetClient(ctx, instanceID)
	if err != nil {
		return torrent.Torrent{}, err
	}

	trackers, err := client.Trackers(ctx, hash)
	if err != nil {
		return torrent.Torrent{}, fmt.Errorf("load trackers for %s: %w", hash, err)
	}

	registry := sm.Registry(instanceID)
	if !registry.Merge(hash, torrent.Update{Props: &torrent.Props{Trackers: strings.Join(trackers, "\r\n")}}) {
		return torrent.Torrent{}, backend.ErrTorrentNotFound
	}
	t, _ := registry.Get(hash)
	return t, nil
}

// TrackerDomains counts torrents per tracker domain, loading tracker lists
// that have not been fetched yet.
func (sm *SyncManager) TrackerDomains(ctx context.Context, instanceID int) (map[string]int, error) {
	torrents, err := sm.Torrents(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)
	for _, t := range torrents {
		if t.Props != nil {
			continue
		}
		g.Go(func() error {
			if _, err := sm.LoadTrackers(gctx, instanceID, t.Hash); err != nil && !errors.Is(err, backend.ErrTorrentNotFound) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return torrent.TrackerDomains(sm.Registry(instanceID).List()), nil
}
