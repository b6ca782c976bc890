// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transmission implements the Transmission JSON-RPC backend.
package transmission

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/torrent"
)

var (
	labelsMinRPCVersion = version.Must(version.NewVersion("16"))
	renameMinRPCVersion = version.Must(version.NewVersion("15"))
)

var torrentFields = []string{
	"hashString", "name", "totalSize", "percentDone", "leftUntilDone",
	"downloadedEver", "uploadedEver", "uploadRatio", "rateUpload", "rateDownload",
	"eta", "labels", "peersConnected", "peersSendingToUs", "trackerStats",
	"queuePosition", "errorString", "error", "status", "addedDate", "doneDate",
	"downloadDir", "trackers",
}

type trackerInfo struct {
	Announce string `json:"announce"`
}

type trackerStat struct {
	SeederCount  int64 `json:"seederCount"`
	LeecherCount int64 `json:"leecherCount"`
}

type rpcTorrent struct {
	HashString       string        `json:"hashString"`
	Name             string        `json:"name"`
	TotalSize        int64         `json:"totalSize"`
	PercentDone      float64       `json:"percentDone"`
	LeftUntilDone    int64         `json:"leftUntilDone"`
	DownloadedEver   int64         `json:"downloadedEver"`
	UploadedEver     int64         `json:"uploadedEver"`
	UploadRatio      float64       `json:"uploadRatio"`
	RateUpload       int64         `json:"rateUpload"`
	RateDownload     int64         `json:"rateDownload"`
	ETA              int64         `json:"eta"`
	Labels           []string      `json:"labels"`
	PeersConnected   int64         `json:"peersConnected"`
	PeersSendingToUs int64         `json:"peersSendingToUs"`
	TrackerStats     []trackerStat `json:"trackerStats"`
	QueuePosition    int64         `json:"queuePosition"`
	ErrorString      string        `json:"errorString"`
	Error            int           `json:"error"`
	Status           int           `json:"status"`
	AddedDate        int64         `json:"addedDate"`
	DoneDate         int64         `json:"doneDate"`
	DownloadDir      string        `json:"downloadDir"`
	Trackers         []trackerInfo `json:"trackers"`
}

type addedTorrent struct {
	HashString string `json:"hashString"`
	Name       string `json:"name"`
}

type Client struct {
	rpc  *rpcClient
	host string

	mu             sync.RWMutex
	version        string
	rpcVersion     int
	supportsLabels bool
	supportsRename bool
}

var _ backend.Client = (*Client)(nil)

func New(cfg backend.Config) *Client {
	return &Client{
		rpc:  newRPCClient(cfg),
		host: cfg.Host,
	}
}

func (c *Client) Kind() backend.Kind {
	return backend.KindTransmission
}

// Login fetches the session, which both validates the credentials and
// negotiates the session id.
func (c *Client) Login(ctx context.Context) error {
	var session struct {
		Version    string `json:"version"`
		RPCVersion int    `json:"rpc-version"`
	}
	if err := c.rpc.call(ctx, "session-get", map[string]any{"fields": []string{"version", "rpc-version"}}, &session); err != nil {
		return fmt.Errorf("failed to login to Transmission: %w", err)
	}

	c.mu.Lock()
	c.applyCapabilitiesLocked(session.Version, session.RPCVersion)
	c.mu.Unlock()

	log.Debug().
		Str("host", c.host).
		Str("version", session.Version).
		Int("rpcVersion", session.RPCVersion).
		Msg("Connected to Transmission")

	return nil
}

func (c *Client) applyCapabilitiesLocked(appVersion string, rpcVersion int) {
	// "4.0.5 (a6fe2a64aa)"
	if fields := strings.Fields(appVersion); len(fields) > 0 {
		c.version = fields[0]
	}
	c.rpcVersion = rpcVersion

	v, err := version.NewVersion(strconv.Itoa(rpcVersion))
	if err != nil {
		return
	}
	c.supportsLabels = v.GreaterThanOrEqual(labelsMinRPCVersion)
	c.supportsRename = v.GreaterThanOrEqual(renameMinRPCVersion)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	c.mu.RLock()
	v := c.version
	c.mu.RUnlock()

	if v != "" {
		return v, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version, nil
}

func (c *Client) Features() []backend.Feature {
	c.mu.RLock()
	defer c.mu.RUnlock()

	features := []backend.Feature{backend.FeatureMagnetLinks, backend.FeatureAdvancedUploadOptions}
	if c.supportsLabels {
		features = append(features, backend.FeatureLabels)
	}
	return features
}

func (c *Client) UploadOptions() backend.UploadOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return backend.UploadOptions{
		Category:      c.supportsLabels,
		StartTorrent:  true,
		RenameTorrent: c.supportsRename,
		SaveLocation:  true,
	}
}

func (c *Client) getTorrents(ctx context.Context, ids []string, fields []string) ([]rpcTorrent, error) {
	args := map[string]any{"fields": fields}
	if len(ids) > 0 {
		args["ids"] = ids
	}

	var out struct {
		Torrents []rpcTorrent `json:"torrents"`
	}
	if err := c.rpc.call(ctx, "torrent-get", args, &out); err != nil {
		return nil, err
	}
	return out.Torrents, nil
}

func (c *Client) Torrents(ctx context.Context) ([]torrent.Fields, error) {
	list, err := c.getTorrents(ctx, nil, torrentFields)
	if err != nil {
		return nil, fmt.Errorf("failed to get torrents: %w", err)
	}

	out := make([]torrent.Fields, 0, len(list))
	for _, t := range list {
		out = append(out, convertTorrent(t))
	}
	return out, nil
}

func convertTorrent(t rpcTorrent) torrent.Fields {
	status := Status{Code: t.Status, Error: t.Error, LeftUntilDone: t.LeftUntilDone, PercentDone: t.PercentDone}

	f := torrent.Fields{
		Hash:           t.HashString,
		Name:           t.Name,
		Size:           t.TotalSize,
		Percent:        int64(math.Round(t.PercentDone * 1000)),
		Downloaded:     t.DownloadedEver,
		Uploaded:       t.UploadedEver,
		Ratio:          int64(math.Round(max(t.UploadRatio, 0) * 1000)),
		UploadSpeed:    t.RateUpload,
		DownloadSpeed:  t.RateDownload,
		PeersConnected: torrent.Int64(t.PeersConnected),
		SeedsConnected: torrent.Int64(t.PeersSendingToUs),
		StatusMessage:  t.ErrorString,
		DateAdded:      t.AddedDate,
		DateCompleted:  t.DoneDate,
		SavePath:       t.DownloadDir,
		Status:         status,
	}

	if len(t.Labels) > 0 {
		f.Label = t.Labels[0]
	}
	if t.ETA >= 0 {
		f.ETA = torrent.Int64(t.ETA)
	}

	queue := torrent.QueueNone
	if status.IsStatusQueued() {
		queue = t.QueuePosition
	}
	f.TorrentQueueOrder = torrent.Int64(queue)

	if len(t.TrackerStats) > 0 {
		var seeders, leechers int64
		for _, ts := range t.TrackerStats {
			seeders = max(seeders, ts.SeederCount)
			leechers = max(leechers, ts.LeecherCount)
		}
		f.SeedsInSwarm = torrent.Int64(seeders)
		f.PeersInSwarm = torrent.Int64(leechers)
	}

	if len(t.Trackers) > 0 {
		announces := make([]string, 0, len(t.Trackers))
		for _, tr := range t.Trackers {
			announces = append(announces, tr.Announce)
		}
		f.Props = &torrent.Props{Trackers: strings.Join(announces, "\r\n")}
	}

	return f
}

func (c *Client) Trackers(ctx context.Context, hash string) ([]string, error) {
	list, err := c.getTorrents(ctx, []string{hash}, []string{"hashString", "trackers"})
	if err != nil {
		return nil, fmt.Errorf("failed to get torrent trackers: %w", err)
	}
	if len(list) == 0 {
		return nil, backend.ErrTorrentNotFound
	}

	out := make([]string, 0, len(list[0].Trackers))
	for _, tr := range list[0].Trackers {
		out = append(out, tr.Announce)
	}
	return out, nil
}

func (c *Client) AddFile(ctx context.Context, data []byte, opts backend.AddOptions) error {
	return c.add(ctx, map[string]any{"metainfo": base64.StdEncoding.EncodeToString(data)}, opts)
}

func (c *Client) AddMagnet(ctx context.Context, uri string, opts backend.AddOptions) error {
	return c.add(ctx, map[string]any{"filename": uri}, opts)
}

func (c *Client) add(ctx context.Context, args map[string]any, opts backend.AddOptions) error {
	if err := opts.Validate(c.UploadOptions()); err != nil {
		return err
	}

	if opts.Start != nil {
		args["paused"] = !*opts.Start
	}
	if opts.SaveLocation != "" {
		args["download-dir"] = opts.SaveLocation
	}

	var out struct {
		Added     *addedTorrent `json:"torrent-added"`
		Duplicate *addedTorrent `json:"torrent-duplicate"`
	}
	if err := c.rpc.call(ctx, "torrent-add", args, &out); err != nil {
		return fmt.Errorf("failed to add torrent: %w", err)
	}

	added := out.Added
	if added == nil {
		added = out.Duplicate
	}
	if added == nil {
		return nil
	}

	if opts.Label != "" {
		if err := c.SetLabel(ctx, []string{added.HashString}, opts.Label); err != nil {
			return err
		}
	}
	if opts.Name != "" && opts.Name != added.Name {
		rename := map[string]any{"ids": []string{added.HashString}, "path": added.Name, "name": opts.Name}
		if err := c.rpc.call(ctx, "torrent-rename-path", rename, nil); err != nil {
			return fmt.Errorf("failed to rename torrent: %w", err)
		}
	}

	return nil
}

func (c *Client) Stop(ctx context.Context, hashes []string) error {
	return c.rpc.call(ctx, "torrent-stop", map[string]any{"ids": hashes}, nil)
}

func (c *Client) Resume(ctx context.Context, hashes []string) error {
	return c.rpc.call(ctx, "torrent-start", map[string]any{"ids": hashes}, nil)
}

func (c *Client) Delete(ctx context.Context, hashes []string, deleteData bool) error {
	return c.rpc.call(ctx, "torrent-remove", map[string]any{"ids": hashes, "delete-local-data": deleteData}, nil)
}

// SetLabel replaces the torrents' labels with label, or clears them when
// label is empty.
func (c *Client) SetLabel(ctx context.Context, hashes []string, label string) error {
	c.mu.RLock()
	supported := c.supportsLabels
	c.mu.RUnlock()
	if !supported {
		return fmt.Errorf("%w: labels", backend.ErrUnsupported)
	}

	labels := []string{}
	if label != "" {
		labels = append(labels, label)
	}
	if err := c.rpc.call(ctx, "torrent-set", map[string]any{"ids": hashes, "labels": labels}, nil); err != nil {
		return fmt.Errorf("failed to set labels: %w", err)
	}
	return nil
}

// Labels collects every label in use; Transmission keeps no separate list.
func (c *Client) Labels(ctx context.Context) ([]string, error) {
	list, err := c.getTorrents(ctx, nil, []string{"hashString", "labels"})
	if err != nil {
		return nil, fmt.Errorf("failed to get labels: %w", err)
	}

	var labels []string
	for _, t := range list {
		for _, l := range t.Labels {
			if l != "" && !slices.Contains(labels, l) {
				labels = append(labels, l)
			}
		}
	}
	slices.Sort(labels)
	return labels, nil
}
