// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/backend/backendtest"
	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/database"
	"github.com/electorrent/electorrent/internal/models"
	"github.com/electorrent/electorrent/internal/torrent"
)

func newCollectorEnv(t *testing.T) (*TorrentCollector, *clients.SyncManager, *models.InstanceStore) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	instances, err := models.NewInstanceStore(db.Conn(), make([]byte, 32))
	require.NoError(t, err)

	seedbox, err := instances.Create(t.Context(), models.InstanceParams{Name: "seedbox", Kind: backend.KindQBittorrent, Host: "http://seedbox:8080"})
	require.NoError(t, err)
	off, err := instances.Create(t.Context(), models.InstanceParams{Name: "off", Kind: backend.KindTransmission, Host: "http://off:9091"})
	require.NoError(t, err)
	_, err = instances.SetActiveState(t.Context(), off.ID, false)
	require.NoError(t, err)

	fake := backendtest.New()
	fake.Put(torrent.Fields{
		Hash:          "a",
		Name:          "Downloading.Thing",
		DownloadSpeed: 100,
		UploadSpeed:   10,
		Status:        backendtest.Status{State: backendtest.StateDownloading},
	})
	fake.Put(torrent.Fields{
		Hash:        "b",
		Name:        "Seeding.Thing",
		UploadSpeed: 50,
		Status:      backendtest.Status{State: backendtest.StateSeeding, Complete: true},
	})

	pool := clients.NewPool(instances, models.NewInstanceErrorStore(db.Conn()), time.Second)
	pool.SetBackendFactory(func(cfg backend.Config) (backend.Client, error) {
		return fake, nil
	})
	t.Cleanup(func() { pool.Close() })

	sm := clients.NewSyncManager(pool, instances, time.Minute)
	require.NoError(t, sm.SyncInstance(t.Context(), seedbox.ID))

	return NewTorrentCollector(sm, instances), sm, instances
}

func TestTorrentCollector(t *testing.T) {
	collector, _, _ := newCollectorEnv(t)

	expected := `
# HELP electorrent_instance_connection_status Connection status of the instance (1=connected, 0=not connected)
# TYPE electorrent_instance_connection_status gauge
electorrent_instance_connection_status{instance_id="1",instance_name="seedbox"} 1
electorrent_instance_connection_status{instance_id="2",instance_name="off"} 0
# HELP electorrent_download_speed_bytes_per_second Sum of torrent download speeds by instance
# TYPE electorrent_download_speed_bytes_per_second gauge
electorrent_download_speed_bytes_per_second{instance_id="1",instance_name="seedbox"} 100
# HELP electorrent_upload_speed_bytes_per_second Sum of torrent upload speeds by instance
# TYPE electorrent_upload_speed_bytes_per_second gauge
electorrent_upload_speed_bytes_per_second{instance_id="1",instance_name="seedbox"} 60
# HELP electorrent_torrents Number of torrents by instance and state filter
# TYPE electorrent_torrents gauge
electorrent_torrents{instance_id="1",instance_name="seedbox",state="all"} 2
electorrent_torrents{instance_id="1",instance_name="seedbox",state="completed"} 1
electorrent_torrents{instance_id="1",instance_name="seedbox",state="downloading"} 1
electorrent_torrents{instance_id="1",instance_name="seedbox",state="error"} 0
electorrent_torrents{instance_id="1",instance_name="seedbox",state="paused"} 0
electorrent_torrents{instance_id="1",instance_name="seedbox",state="queued"} 0
electorrent_torrents{instance_id="1",instance_name="seedbox",state="seeding"} 1
electorrent_torrents{instance_id="1",instance_name="seedbox",state="stopped"} 0
`

	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"electorrent_instance_connection_status",
		"electorrent_download_speed_bytes_per_second",
		"electorrent_upload_speed_bytes_per_second",
		"electorrent_torrents",
	)
	assert.NoError(t, err)

	// One last-sync sample for the polled instance only.
	assert.Equal(t, 1, testutil.CollectAndCount(collector, "electorrent_instance_last_sync_timestamp_seconds"))
}

func TestTorrentCollectorDescribe(t *testing.T) {
	collector := NewTorrentCollector(nil, nil)

	descs := make(chan *prometheus.Desc, 10)
	collector.Describe(descs)
	close(descs)

	var count int
	for range descs {
		count++
	}
	assert.Equal(t, 6, count)
}

func TestTorrentCollectorWithNilDependencies(t *testing.T) {
	collector := NewTorrentCollector(nil, nil)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	assert.Equal(t, 0, testutil.CollectAndCount(registry))
}

func TestManagerRegistryIsolation(t *testing.T) {
	first := NewManager(nil, nil)
	second := NewManager(nil, nil)

	assert.NotSame(t, first.GetRegistry(), second.GetRegistry())
	assert.NotSame(t, first.torrentCollector, second.torrentCollector)
}

func TestParseBasicAuthUsers(t *testing.T) {
	users := parseBasicAuthUsers(" prom:$2a$hash1 , grafana:$2a$hash2,broken,:nouser,")
	assert.Len(t, users, 2)
	assert.Equal(t, []byte("$2a$hash1"), users["prom"])
	assert.Equal(t, []byte("$2a$hash2"), users["grafana"])

	assert.Empty(t, parseBasicAuthUsers(""))
}

func TestMetricsServerBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	server := NewMetricsServer(NewManager(nil, nil), "127.0.0.1", 0, "prom:"+string(hash))

	tests := []struct {
		name     string
		user     string
		password string
		status   int
	}{
		{name: "no credentials", status: http.StatusUnauthorized},
		{name: "wrong password", user: "prom", password: "hunter3", status: http.StatusUnauthorized},
		{name: "unknown user", user: "grafana", password: "hunter2", status: http.StatusUnauthorized},
		{name: "valid", user: "prom", password: "hunter2", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.password)
			}
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), "go_goroutines")
			} else {
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestMetricsServerWithoutAuth(t *testing.T) {
	server := NewMetricsServer(NewManager(nil, nil), "127.0.0.1", 0, "")

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
