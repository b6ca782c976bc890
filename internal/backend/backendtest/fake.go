// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/torrent"
)

// State is the fake's own status representation.
type State string

const (
	StateDownloading State = "downloading"
	StateSeeding     State = "seeding"
	StateStopped     State = "stopped"
	StateQueued      State = "queued"
	StateError       State = "error"
)

// Status implements torrent.Status for the fake.
type Status struct {
	State    State
	Complete bool
}

func (s Status) IsStatusError() bool       { return s.State == StateError }
func (s Status) IsStatusPaused() bool      { return false }
func (s Status) IsStatusQueued() bool      { return s.State == StateQueued }
func (s Status) IsStatusCompleted() bool   { return s.Complete }
func (s Status) IsStatusDownloading() bool { return s.State == StateDownloading }
func (s Status) IsStatusSeeding() bool     { return s.State == StateSeeding }
func (s Status) IsStatusStopped() bool     { return s.State == StateStopped }

var ErrLoginFailed = errors.New("fake: login failed")

// Backend is a concurrency-safe in-memory backend.Client.
type Backend struct {
	mu        sync.Mutex
	torrents  map[string]*torrent.Fields
	labels    []string
	features  []backend.Feature
	upload    backend.UploadOptions
	version   string
	loginErr  error
	pollErr   error
	logins    int
	polls     int
	trackers  map[string][]string
	lastAdded backend.AddOptions
}

var _ backend.Client = (*Backend)(nil)

// New returns a fake supporting every feature and upload option.
func New() *Backend {
	return &Backend{
		torrents: make(map[string]*torrent.Fields),
		trackers: make(map[string][]string),
		features: backend.AllFeatures(),
		upload:   backend.UploadOptions{Category: true, StartTorrent: true, RenameTorrent: true, SaveLocation: true},
		version:  "1.0.0",
	}
}

func (b *Backend) Kind() backend.Kind { return "fake" }

func (b *Backend) Login(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logins++
	return b.loginErr
}

func (b *Backend) Version(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pollErr != nil {
		return "", b.pollErr
	}
	return b.version, nil
}

func (b *Backend) Features() []backend.Feature {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.features)
}

func (b *Backend) UploadOptions() backend.UploadOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upload
}

// SetFeatures replaces the advertised features.
func (b *Backend) SetFeatures(features ...backend.Feature) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.features = features
}

func (b *Backend) SetUploadOptions(opts backend.UploadOptions) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upload = opts
}

// SetLoginError makes Login fail with err until cleared with nil.
func (b *Backend) SetLoginError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginErr = err
}

// SetPollError makes Torrents and Version fail with err until cleared
// with nil, as an unreachable backend would.
func (b *Backend) SetPollError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pollErr = err
}

func (b *Backend) Logins() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logins
}

func (b *Backend) Polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

// LastAddOptions returns the options of the most recent add.
func (b *Backend) LastAddOptions() backend.AddOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAdded
}

// Put inserts or replaces a torrent.
func (b *Backend) Put(f torrent.Fields) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f.Status == nil {
		f.Status = Status{State: StateDownloading}
	}
	b.torrents[f.Hash] = &f
}

// SetTrackers sets the tracker list reported for hash.
func (b *Backend) SetTrackers(hash string, trackers ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trackers[hash] = trackers
}

func (b *Backend) Torrents(context.Context) ([]torrent.Fields, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.polls++
	if b.pollErr != nil {
		return nil, b.pollErr
	}

	hashes := make([]string, 0, len(b.torrents))
	for h := range b.torrents {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	out := make([]torrent.Fields, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, *b.torrents[h])
	}
	return out, nil
}

func (b *Backend) Trackers(_ context.Context, hash string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.torrents[hash]; !ok {
		return nil, backend.ErrTorrentNotFound
	}
	return slices.Clone(b.trackers[hash]), nil
}

// AddFile registers a torrent named after the payload's sha1.
func (b *Backend) AddFile(_ context.Context, data []byte, opts backend.AddOptions) error {
	sum := sha1.Sum(data)
	return b.add(hex.EncodeToString(sum[:]), "upload-"+hex.EncodeToString(sum[:4]), opts)
}

// AddMagnet registers the torrent named by the magnet's btih and dn.
func (b *Backend) AddMagnet(_ context.Context, uri string, opts backend.AddOptions) error {
	const prefix = "magnet:?xt=urn:btih:"
	if !strings.HasPrefix(uri, prefix) {
		return errors.New("fake: not a magnet link")
	}
	rest := strings.TrimPrefix(uri, prefix)
	hash, query, _ := strings.Cut(rest, "&")

	name := hash
	for _, part := range strings.Split(query, "&") {
		if v, ok := strings.CutPrefix(part, "dn="); ok {
			name = v
		}
	}
	return b.add(strings.ToLower(hash), name, opts)
}

func (b *Backend) add(hash, name string, opts backend.AddOptions) error {
	if err := opts.Validate(b.UploadOptions()); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastAdded = opts
	f := torrent.Fields{
		Hash:              hash,
		Name:              name,
		Label:             opts.Label,
		SavePath:          "/downloads",
		TorrentQueueOrder: torrent.Int64(torrent.QueueNone),
		Status:            Status{State: StateDownloading},
	}
	if opts.Name != "" {
		f.Name = opts.Name
	}
	if opts.SaveLocation != "" {
		f.SavePath = opts.SaveLocation
	}
	if opts.Start != nil && !*opts.Start {
		f.Status = Status{State: StateStopped}
	}
	if opts.Label != "" && !slices.Contains(b.labels, opts.Label) {
		b.labels = append(b.labels, opts.Label)
	}
	b.torrents[hash] = &f
	return nil
}

func (b *Backend) setState(hashes []string, state State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range hashes {
		f, ok := b.torrents[h]
		if !ok {
			return backend.ErrTorrentNotFound
		}
		complete := false
		if s, ok := f.Status.(Status); ok {
			complete = s.Complete
		}
		if state == StateDownloading && complete {
			state = StateSeeding
		}
		f.Status = Status{State: state, Complete: complete}
	}
	return nil
}

func (b *Backend) Stop(_ context.Context, hashes []string) error {
	return b.setState(hashes, StateStopped)
}

func (b *Backend) Resume(_ context.Context, hashes []string) error {
	return b.setState(hashes, StateDownloading)
}

func (b *Backend) Delete(_ context.Context, hashes []string, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range hashes {
		delete(b.torrents, h)
	}
	return nil
}

func (b *Backend) SetLabel(_ context.Context, hashes []string, label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !backend.HasFeature(b.features, backend.FeatureLabels) {
		return backend.ErrUnsupported
	}
	for _, h := range hashes {
		f, ok := b.torrents[h]
		if !ok {
			return backend.ErrTorrentNotFound
		}
		f.Label = label
	}
	if label != "" && !slices.Contains(b.labels, label) {
		b.labels = append(b.labels, label)
	}
	return nil
}

func (b *Backend) Labels(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := slices.Clone(b.labels)
	slices.Sort(out)
	return out, nil
}
