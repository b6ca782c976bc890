// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package e2e

import (
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/clients"
)

// closedPort returns a port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestAppRestartKeepsInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a server")
	}

	app, err := NewApp(AppOptions{DataDir: t.TempDir(), PollInterval: 200 * time.Millisecond, RequestTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, app.Start(t.Context()))
	t.Cleanup(func() { _ = app.Stop() })
	assert.True(t, app.Running())

	opts := Options{
		Client:  backend.KindQBittorrent,
		Fixture: "qbittorrent",
		Host:    "127.0.0.1",
		Port:    closedPort(t),
		Timeout: 5 * time.Second,
	}.WithDefaults()
	d := NewDriver(app, opts)

	require.NoError(t, d.Login(t.Context(), LoginOptions{}))
	require.NotZero(t, d.InstanceID())

	test, err := d.TestConnection(t.Context())
	require.NoError(t, err)
	assert.False(t, test.Connected)

	require.NoError(t, d.SettingsPageIsVisible(t.Context(), 5*time.Second))
	require.NoError(t, d.SettingsPageConnectionIsVisible(t.Context()))
	assert.Error(t, d.CertificateModalIsVisible(t.Context()))

	firstID := d.InstanceID()
	require.NoError(t, app.Restart(t.Context()))
	assert.True(t, app.Running())

	// Logging in again reuses the stored instance.
	require.NoError(t, d.Login(t.Context(), LoginOptions{}))
	assert.Equal(t, firstID, d.InstanceID())

	status, err := d.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "e2e-qbittorrent-latest", status.Name)
	assert.NotEqual(t, clients.StatusConnected, status.Status)

	require.NoError(t, app.Stop())
	assert.False(t, app.Running())
	require.NoError(t, app.Stop())

	_, err = d.Status(t.Context())
	assert.ErrorIs(t, err, ErrAppNotRunning)
}

func TestDriverTorrentNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a server")
	}

	app, err := NewApp(AppOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, app.Start(t.Context()))
	t.Cleanup(func() { _ = app.Stop() })

	d := NewDriver(app, Options{Client: backend.KindTransmission}.WithDefaults())
	d.instanceID = 999

	_, err = d.Torrent("ABC").View(t.Context())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "abc", d.Torrent("ABC").Hash)
	assert.Equal(t, "/instances/999/torrents/abc/stop", d.Torrent("abc").path("/stop"))
	assert.Equal(t, "/instances/"+strconv.Itoa(999), d.instancePath(""))
}
