// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent implements the qBittorrent WebUI backend.
package qbittorrent

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/torrent"
)

var (
	renameTorrentMinVersion = semver.MustParse("2.0.0")
	savePathMinVersion      = semver.MustParse("2.0.0")
	stopEndpointMinVersion  = semver.MustParse("2.11.0")
)

// infiniteETA is what qBittorrent reports when no ETA can be computed.
const infiniteETA = 8640000

const defaultTimeout = 60 * time.Second

type Client struct {
	api  *qbt.Client
	host string

	mu                    sync.RWMutex
	webAPIVersion         string
	supportsRenameTorrent bool
	supportsSavePath      bool
	supportsStopEndpoint  bool
}

var _ backend.Client = (*Client)(nil)

// New builds an unauthenticated client. Call Login before anything else.
func New(cfg backend.Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	qcfg := qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       int(timeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
	}
	if cfg.BasicUsername != nil && *cfg.BasicUsername != "" {
		qcfg.BasicUser = *cfg.BasicUsername
		if cfg.BasicPassword != nil {
			qcfg.BasicPass = *cfg.BasicPassword
		}
	}

	return &Client{
		api:  qbt.NewClient(qcfg),
		host: cfg.Host,
	}
}

func (c *Client) Kind() backend.Kind {
	return backend.KindQBittorrent
}

// Login authenticates and refreshes the version-gated capabilities.
func (c *Client) Login(ctx context.Context) error {
	if err := c.api.LoginCtx(ctx); err != nil {
		return fmt.Errorf("failed to login to qBittorrent: %w", err)
	}
	return c.RefreshCapabilities(ctx)
}

// RefreshCapabilities fetches the WebAPI version and recalculates the
// feature flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("web API version is empty")
	}

	c.mu.Lock()
	previous := c.webAPIVersion
	c.applyCapabilitiesLocked(version)
	c.mu.Unlock()

	if previous != version {
		log.Debug().
			Str("host", c.host).
			Str("webAPIVersion", version).
			Bool("supportsRenameTorrent", c.SupportsRenameTorrent()).
			Bool("supportsStopEndpoint", c.supportsStop()).
			Msg("Refreshed qBittorrent capabilities")
	}

	return nil
}

func (c *Client) applyCapabilitiesLocked(version string) {
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().
			Str("host", c.host).
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return
	}

	c.supportsRenameTorrent = !v.LessThan(renameTorrentMinVersion)
	c.supportsSavePath = !v.LessThan(savePathMinVersion)
	c.supportsStopEndpoint = !v.LessThan(stopEndpointMinVersion)
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsRenameTorrent() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsRenameTorrent
}

func (c *Client) supportsStop() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsStopEndpoint
}

func (c *Client) Version(ctx context.Context) (string, error) {
	v, err := c.api.GetAppVersionCtx(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.TrimSpace(v), "v"), nil
}

func (c *Client) Features() []backend.Feature {
	return backend.AllFeatures()
}

func (c *Client) UploadOptions() backend.UploadOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return backend.UploadOptions{
		Category:      true,
		StartTorrent:  true,
		RenameTorrent: c.supportsRenameTorrent,
		SaveLocation:  c.supportsSavePath,
	}
}

func (c *Client) Torrents(ctx context.Context) ([]torrent.Fields, error) {
	list, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get torrents: %w", err)
	}

	out := make([]torrent.Fields, 0, len(list))
	for _, t := range list {
		out = append(out, ConvertTorrent(t))
	}
	return out, nil
}

// ConvertTorrent maps a qBittorrent torrent onto the raw view-model fields.
func ConvertTorrent(t qbt.Torrent) torrent.Fields {
	f := torrent.Fields{
		Hash:           t.Hash,
		Name:           t.Name,
		Size:           int64(t.Size),
		Percent:        perMille(float64(t.Progress)),
		Downloaded:     int64(t.Downloaded),
		Uploaded:       int64(t.Uploaded),
		Ratio:          perMille(float64(t.Ratio)),
		UploadSpeed:    int64(t.UpSpeed),
		DownloadSpeed:  int64(t.DlSpeed),
		Label:          t.Category,
		PeersConnected: torrent.Int64(int64(t.NumLeechs)),
		PeersInSwarm:   torrent.Int64(int64(t.NumIncomplete)),
		SeedsConnected: torrent.Int64(int64(t.NumSeeds)),
		SeedsInSwarm:   torrent.Int64(int64(t.NumComplete)),
		DateAdded:      int64(t.AddedOn),
		DateCompleted:  max(int64(t.CompletionOn), 0),
		SavePath:       t.SavePath,
		Status:         State{State: t.State, Progress: float64(t.Progress)},
	}

	if eta := int64(t.ETA); eta >= 0 && eta < infiniteETA {
		f.ETA = torrent.Int64(eta)
	}

	queue := int64(t.Priority)
	if queue <= 0 {
		queue = torrent.QueueNone
	}
	f.TorrentQueueOrder = torrent.Int64(queue)

	// t.Tracker is only the working announce URL. The full list is loaded
	// through Trackers and must survive later polls.
	return f
}

func perMille(v float64) int64 {
	return int64(math.Round(v * 1000))
}

// Trackers lists the announce URLs of one torrent, skipping the DHT, PeX and
// LSD pseudo trackers.
func (c *Client) Trackers(ctx context.Context, hash string) ([]string, error) {
	trackers, err := c.api.GetTorrentTrackersCtx(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get torrent trackers: %w", err)
	}

	var out []string
	for _, tr := range trackers {
		if tr.Url == "" || strings.HasPrefix(tr.Url, "**") {
			continue
		}
		out = append(out, tr.Url)
	}
	return out, nil
}

func (c *Client) AddFile(ctx context.Context, data []byte, opts backend.AddOptions) error {
	options, err := c.addOptions(ctx, opts)
	if err != nil {
		return err
	}
	if err := c.api.AddTorrentFromMemoryCtx(ctx, data, options); err != nil {
		return fmt.Errorf("failed to add torrent: %w", err)
	}
	return nil
}

func (c *Client) AddMagnet(ctx context.Context, uri string, opts backend.AddOptions) error {
	options, err := c.addOptions(ctx, opts)
	if err != nil {
		return err
	}
	if err := c.api.AddTorrentFromUrlCtx(ctx, uri, options); err != nil {
		return fmt.Errorf("failed to add magnet: %w", err)
	}
	return nil
}

func (c *Client) addOptions(ctx context.Context, opts backend.AddOptions) (map[string]string, error) {
	if err := opts.Validate(c.UploadOptions()); err != nil {
		return nil, err
	}

	options := make(map[string]string)
	if opts.Label != "" {
		if err := c.ensureCategory(ctx, opts.Label); err != nil {
			return nil, err
		}
		options["category"] = opts.Label
	}
	if opts.Start != nil {
		stopped := strconv.FormatBool(!*opts.Start)
		// qBittorrent 5 reads "stopped", older releases "paused".
		options["stopped"] = stopped
		options["paused"] = stopped
	}
	if opts.Name != "" {
		options["rename"] = opts.Name
	}
	if opts.SaveLocation != "" {
		options["savepath"] = opts.SaveLocation
		options["autoTMM"] = "false"
	}
	return options, nil
}

func (c *Client) Stop(ctx context.Context, hashes []string) error {
	if c.supportsStop() {
		return c.api.StopCtx(ctx, hashes)
	}
	return c.api.PauseCtx(ctx, hashes)
}

func (c *Client) Resume(ctx context.Context, hashes []string) error {
	return c.api.ResumeCtx(ctx, hashes)
}

func (c *Client) Delete(ctx context.Context, hashes []string, deleteData bool) error {
	return c.api.DeleteTorrentsCtx(ctx, hashes, deleteData)
}

// SetLabel assigns the category, creating it first when needed. An empty
// label removes the category.
func (c *Client) SetLabel(ctx context.Context, hashes []string, label string) error {
	if err := c.ensureCategory(ctx, label); err != nil {
		return err
	}
	if err := c.api.SetCategoryCtx(ctx, hashes, label); err != nil {
		return fmt.Errorf("failed to set category: %w", err)
	}
	return nil
}

func (c *Client) Labels(ctx context.Context) ([]string, error) {
	categories, err := c.api.GetCategoriesCtx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}

	labels := make([]string, 0, len(categories))
	for name := range categories {
		labels = append(labels, name)
	}
	slices.Sort(labels)
	return labels, nil
}

func (c *Client) ensureCategory(ctx context.Context, label string) error {
	if label == "" {
		return nil
	}

	labels, err := c.Labels(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(labels, label) {
		return nil
	}

	if err := c.api.CreateCategoryCtx(ctx, label, ""); err != nil {
		return fmt.Errorf("failed to create category %q: %w", label, err)
	}

	log.Debug().Str("host", c.host).Str("category", label).Msg("Created qBittorrent category")
	return nil
}
