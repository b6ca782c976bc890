// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/models"
	"github.com/electorrent/electorrent/internal/torrent"
)

// TorrentCollector reports the registry of every instance at scrape time.
// It never contacts a backend.
type TorrentCollector struct {
	syncManager   *clients.SyncManager
	instanceStore *models.InstanceStore

	torrentsDesc                 *prometheus.Desc
	downloadSpeedDesc            *prometheus.Desc
	uploadSpeedDesc              *prometheus.Desc
	instanceConnectionStatusDesc *prometheus.Desc
	lastSyncDesc                 *prometheus.Desc
	scrapeErrorsDesc             *prometheus.Desc
}

func NewTorrentCollector(syncManager *clients.SyncManager, instanceStore *models.InstanceStore) *TorrentCollector {
	instanceLabels := []string{"instance_id", "instance_name"}

	return &TorrentCollector{
		syncManager:   syncManager,
		instanceStore: instanceStore,

		torrentsDesc: prometheus.NewDesc(
			"electorrent_torrents",
			"Number of torrents by instance and state filter",
			append(instanceLabels, "state"),
			nil,
		),
		downloadSpeedDesc: prometheus.NewDesc(
			"electorrent_download_speed_bytes_per_second",
			"Sum of torrent download speeds by instance",
			instanceLabels,
			nil,
		),
		uploadSpeedDesc: prometheus.NewDesc(
			"electorrent_upload_speed_bytes_per_second",
			"Sum of torrent upload speeds by instance",
			instanceLabels,
			nil,
		),
		instanceConnectionStatusDesc: prometheus.NewDesc(
			"electorrent_instance_connection_status",
			"Connection status of the instance (1=connected, 0=not connected)",
			instanceLabels,
			nil,
		),
		lastSyncDesc: prometheus.NewDesc(
			"electorrent_instance_last_sync_timestamp_seconds",
			"Unix time of the last successful poll",
			instanceLabels,
			nil,
		),
		scrapeErrorsDesc: prometheus.NewDesc(
			"electorrent_scrape_errors_total",
			"Scrape errors by type",
			[]string{"type"},
			nil,
		),
	}
}

func (c *TorrentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.torrentsDesc
	ch <- c.downloadSpeedDesc
	ch <- c.uploadSpeedDesc
	ch <- c.instanceConnectionStatusDesc
	ch <- c.lastSyncDesc
	ch <- c.scrapeErrorsDesc
}

func (c *TorrentCollector) Collect(ch chan<- prometheus.Metric) {
	if c.syncManager == nil || c.instanceStore == nil {
		log.Debug().Msg("Metrics dependencies missing, skipping collection")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instances, err := c.instanceStore.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list instances for metrics")
		ch <- prometheus.MustNewConstMetric(c.scrapeErrorsDesc, prometheus.CounterValue, 1, "instances")
		return
	}

	for _, instance := range instances {
		id := strconv.Itoa(instance.ID)
		state := c.syncManager.State(instance.ID)

		connected := 0.0
		if instance.IsActive && state.Status == clients.StatusConnected {
			connected = 1
		}
		ch <- prometheus.MustNewConstMetric(c.instanceConnectionStatusDesc, prometheus.GaugeValue, connected, id, instance.Name)

		if state.LastSync.IsZero() {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.lastSyncDesc, prometheus.GaugeValue, float64(state.LastSync.Unix()), id, instance.Name)

		torrents := c.syncManager.Registry(instance.ID).List()

		var download, upload int64
		counts := make(map[torrent.StateFilter]int, len(torrent.StateFilters()))
		for i := range torrents {
			t := &torrents[i]
			download += t.DownloadSpeed
			upload += t.UploadSpeed
			for _, f := range torrent.StateFilters() {
				if f.Matches(t) {
					counts[f]++
				}
			}
		}

		for _, f := range torrent.StateFilters() {
			ch <- prometheus.MustNewConstMetric(c.torrentsDesc, prometheus.GaugeValue, float64(counts[f]), id, instance.Name, string(f))
		}
		ch <- prometheus.MustNewConstMetric(c.downloadSpeedDesc, prometheus.GaugeValue, float64(download), id, instance.Name)
		ch <- prometheus.MustNewConstMetric(c.uploadSpeedDesc, prometheus.GaugeValue, float64(upload), id, instance.Name)
	}
}
