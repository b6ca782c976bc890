// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transmission

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/torrent"
)

type fakeRPC struct {
	mu      sync.Mutex
	methods []string
	bodies  []map[string]any
}

func (f *fakeRPC) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(sessionIDHeader) != "sess-1" {
			w.Header().Set(sessionIDHeader, "sess-1")
			w.WriteHeader(http.StatusConflict)
			return
		}
		user, pass, _ := r.BasicAuth()
		if user != "admin" || pass != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req struct {
			Method    string         `json:"method"`
			Arguments map[string]any `json:"arguments"`
		}
		require.NoError(t, json.Unmarshal(raw, &req))

		f.mu.Lock()
		f.methods = append(f.methods, req.Method)
		f.bodies = append(f.bodies, req.Arguments)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "session-get":
			_, _ = w.Write([]byte(`{"result":"success","arguments":{"version":"4.0.5 (a6fe2a64aa)","rpc-version":17}}`))
		case "torrent-get":
			_, _ = w.Write([]byte(`{"result":"success","arguments":{"torrents":[
				{"hashString":"abc","name":"First","totalSize":100,"percentDone":0.5,"leftUntilDone":50,"status":4,"eta":30,
				 "labels":["tv"],"peersConnected":2,"peersSendingToUs":1,"queuePosition":3,
				 "trackerStats":[{"seederCount":5,"leecherCount":7}],
				 "trackers":[{"announce":"udp://a.example:80"},{"announce":"http://b.example/announce"}]},
				{"hashString":"def","name":"Second","percentDone":1,"leftUntilDone":0,"status":0,"eta":-1,"labels":["movies","tv"],"queuePosition":0,"error":3,"errorString":"No data found!"}
			]}}`))
		case "torrent-add":
			_, _ = w.Write([]byte(`{"result":"success","arguments":{"torrent-added":{"hashString":"new","name":"orig"}}}`))
		default:
			_, _ = w.Write([]byte(`{"result":"success","arguments":{}}`))
		}
	}
}

func newTestClient(t *testing.T) (*Client, *fakeRPC) {
	t.Helper()

	fake := &fakeRPC{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c := New(backend.Config{Host: srv.URL, Username: "admin", Password: "admin", Timeout: 5 * time.Second})
	return c, fake
}

func TestRPCEndpoint(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{host: "http://localhost:9091", want: "http://localhost:9091/transmission/rpc"},
		{host: "http://localhost:9091/", want: "http://localhost:9091/transmission/rpc"},
		{host: "localhost:9091", want: "http://localhost:9091/transmission/rpc"},
		{host: "https://proxy.example/transmission/rpc", want: "https://proxy.example/transmission/rpc"},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, rpcEndpoint(tt.host))
		})
	}
}

func TestLoginNegotiatesSession(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx))

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4.0.5", v)
	assert.True(t, backend.HasFeature(c.Features(), backend.FeatureLabels))
	assert.Equal(t, backend.UploadOptions{Category: true, StartTorrent: true, RenameTorrent: true, SaveLocation: true}, c.UploadOptions())
	assert.Equal(t, []string{"session-get"}, fake.methods)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	fake := &fakeRPC{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(backend.Config{Host: srv.URL, Username: "admin", Password: "wrong"})
	err := c.Login(context.Background())
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
}

func TestTorrents(t *testing.T) {
	c, _ := newTestClient(t)

	list, err := c.Torrents(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	first := torrent.New(list[0])
	assert.Equal(t, int64(500), first.Percent)
	assert.Equal(t, "tv", first.Label)
	assert.Equal(t, "1 of 5", first.SeedsText())
	assert.Equal(t, "2 of 7", first.PeersText())
	assert.Equal(t, "*", first.QueueStr(), "downloading torrents are not queued")
	assert.Equal(t, "30", first.EtaText())
	assert.Equal(t, torrent.TextDownloading, first.StatusText())
	assert.Equal(t, "udp://a.example:80\r\nhttp://b.example/announce", first.Props.Trackers)

	second := torrent.New(list[1])
	assert.Nil(t, second.ETA)
	assert.Equal(t, "", second.SeedsText())
	assert.Equal(t, torrent.TextStopped, second.ManualStatusText())
	assert.Equal(t, "No data found", second.StatusText())
	assert.Equal(t, torrent.ColorError, second.StatusColor())
}

func TestLabels(t *testing.T) {
	c, _ := newTestClient(t)

	labels, err := c.Labels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"movies", "tv"}, labels)
}

func TestAddWithOptions(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	start := false
	err := c.AddMagnet(ctx, "magnet:?xt=urn:btih:new", backend.AddOptions{
		Label:        "mylabel#1",
		Start:        &start,
		Name:         "my awesome torrent",
		SaveLocation: "/tmp/custom",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"session-get", "torrent-add", "torrent-set", "torrent-rename-path"}, fake.methods)

	add := fake.bodies[1]
	assert.Equal(t, "magnet:?xt=urn:btih:new", add["filename"])
	assert.Equal(t, true, add["paused"])
	assert.Equal(t, "/tmp/custom", add["download-dir"])

	set := fake.bodies[2]
	assert.Equal(t, []any{"mylabel#1"}, set["labels"])

	rename := fake.bodies[3]
	assert.Equal(t, "orig", rename["path"])
	assert.Equal(t, "my awesome torrent", rename["name"])
}

func TestLabelsUnsupportedOnOldDaemons(t *testing.T) {
	c, _ := newTestClient(t)
	c.mu.Lock()
	c.applyCapabilitiesLocked("2.94 (d8e60ee44f)", 15)
	c.mu.Unlock()

	assert.False(t, backend.HasFeature(c.Features(), backend.FeatureLabels))
	err := c.SetLabel(context.Background(), []string{"abc"}, "tv")
	assert.ErrorIs(t, err, backend.ErrUnsupported)

	err = c.AddFile(context.Background(), []byte("d4:infod4:name1:xee"), backend.AddOptions{Label: "tv"})
	assert.ErrorIs(t, err, backend.ErrUnsupported)
}
