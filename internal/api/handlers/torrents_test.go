// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/backend/backendtest"
	"github.com/electorrent/electorrent/internal/torrent"
)

func seedLibrary(t *testing.T, env *handlerEnv) int {
	t.Helper()

	instance, fake := env.addInstance(t, "library")
	fake.Put(fields("aaa", "Ubuntu.22.04.Desktop", 300, backendtest.StateDownloading, "linux"))
	fake.Put(fields("bbb", "Big.Buck.Bunny.1080p", 100, backendtest.StateSeeding, "movies"))
	fake.Put(fields("ccc", "Another.Movie.2020", 200, backendtest.StateStopped, "movies"))
	fake.SetTrackers("aaa", "udp://tracker.example.org:1337/announce")
	return instance.ID
}

func hashes(views []torrent.View) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Hash
	}
	return out
}

func TestListTorrents(t *testing.T) {
	env := newHandlerEnv(t)
	id := seedLibrary(t, env)
	base := fmt.Sprintf("/api/instances/%d/torrents", id)

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{name: "default newest first", query: "", expected: []string{"aaa", "ccc", "bbb"}},
		{name: "downloading", query: "filter=downloading", expected: []string{"aaa"}},
		{name: "stopped", query: "filter=Stopped", expected: []string{"ccc"}},
		{name: "completed", query: "filter=completed", expected: []string{"bbb"}},
		{name: "label", query: "label=movies", expected: []string{"ccc", "bbb"}},
		{name: "size ascending", query: "sort=size&order=asc", expected: []string{"bbb", "ccc", "aaa"}},
		{name: "size natural order", query: "sort=size", expected: []string{"aaa", "ccc", "bbb"}},
		{name: "name", query: "sort=decodedName", expected: []string{"ccc", "bbb", "aaa"}},
		{name: "name descending", query: "sort=decodedName&order=desc", expected: []string{"aaa", "bbb", "ccc"}},
		{name: "expression", query: "expr=" + url.QueryEscape(`Size >= 200 && Label == "movies"`), expected: []string{"ccc"}},
		{name: "search", query: "search=bunny", expected: []string{"bbb"}},
		{name: "no match", query: "filter=error", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, base+"?"+tt.query, nil, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			resp := decode[TorrentListResponse](t, w)
			assert.Equal(t, tt.expected, hashes(resp.Torrents))
			assert.Equal(t, len(tt.expected), resp.Total)
			assert.Equal(t, 3, resp.Counts[torrent.StateAll])
		})
	}
}

func TestListTorrentsSidebarCounts(t *testing.T) {
	env := newHandlerEnv(t)
	id := seedLibrary(t, env)

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/instances/%d/torrents?filter=downloading", id), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[TorrentListResponse](t, w)
	assert.Equal(t, map[torrent.StateFilter]int{
		torrent.StateAll:         3,
		torrent.StateDownloading: 1,
		torrent.StateSeeding:     1,
		torrent.StateCompleted:   1,
		torrent.StatePaused:      0,
		torrent.StateStopped:     1,
		torrent.StateQueued:      0,
		torrent.StateError:       0,
	}, resp.Counts)
	assert.Equal(t, map[string]int{"linux": 1, "movies": 2}, resp.Labels)

	view := resp.Torrents[0]
	assert.Equal(t, "Ubuntu 22 04 Desktop", *view.DecodedName)
	assert.Equal(t, "Downloading", view.State)
	assert.Equal(t, "*", view.QueueStr)
}

func TestListTorrentsRejectsBadQuery(t *testing.T) {
	env := newHandlerEnv(t)
	id := seedLibrary(t, env)
	base := fmt.Sprintf("/api/instances/%d/torrents", id)

	for _, query := range []string{
		"filter=sideways",
		"sort=selected",
		"order=up",
		"expr=" + url.QueryEscape("Size >"),
	} {
		t.Run(query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, base+"?"+query, nil, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	w := env.do(t, http.MethodGet, "/api/instances/abc/torrents", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/instances/999/torrents", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTorrentsETag(t *testing.T) {
	env := newHandlerEnv(t)
	id := seedLibrary(t, env)
	path := fmt.Sprintf("/api/instances/%d/torrents", id)

	first := env.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := env.do(t, http.MethodGet, path, nil, http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.Bytes())

	other := env.do(t, http.MethodGet, path+"?filter=seeding", nil, http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusOK, other.Code)
	assert.NotEqual(t, etag, other.Header().Get("ETag"))
}

func TestAddTorrentFile(t *testing.T) {
	env := newHandlerEnv(t)
	instance, fake := env.addInstance(t, "uploads")
	path := fmt.Sprintf("/api/instances/%d/torrents", instance.ID)

	data := torrentFile(t, "upload.bin")
	body, header := multipartBody(t, map[string]string{"label": "mylabel#1", "start": "false"}, data)

	w := env.do(t, http.MethodPost, path, body, header)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, "mylabel#1", fake.LastAddOptions().Label)
	require.NotNil(t, fake.LastAddOptions().Start)
	assert.False(t, *fake.LastAddOptions().Start)

	sum := sha1.Sum(data)
	hash := hex.EncodeToString(sum[:])

	w = env.do(t, http.MethodGet, path+"/"+hash, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[torrent.View](t, w)
	assert.Equal(t, "mylabel#1", view.Label)
	assert.Equal(t, "Stopped", view.State)
}

func TestAddTorrentMagnet(t *testing.T) {
	env := newHandlerEnv(t)
	instance, _ := env.addInstance(t, "magnets")
	path := fmt.Sprintf("/api/instances/%d/torrents", instance.ID)

	body, header := multipartBody(t, map[string]string{
		"urls": "magnet:?xt=urn:btih:ABCDEF0123&dn=Some.Show.S01E02\nmagnet:?xt=urn:btih:FEDCBA3210",
	})
	w := env.do(t, http.MethodPost, path, body, header)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, path+"?filter=downloading", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[TorrentListResponse](t, w)
	assert.ElementsMatch(t, []string{"abcdef0123", "fedcba3210"}, hashes(resp.Torrents))
}

func TestAddTorrentValidation(t *testing.T) {
	env := newHandlerEnv(t)
	instance, fake := env.addInstance(t, "strict")
	path := fmt.Sprintf("/api/instances/%d/torrents", instance.ID)

	tests := []struct {
		name     string
		fields   map[string]string
		files    [][]byte
		setup    func()
		status   int
		contains string
	}{
		{
			name:     "nothing to add",
			status:   http.StatusBadRequest,
			contains: "Either torrent files or magnet links are required",
		},
		{
			name:     "not a torrent",
			files:    [][]byte{[]byte("definitely not bencode")},
			status:   http.StatusBadRequest,
			contains: "not a valid torrent file",
		},
		{
			name:     "http url",
			fields:   map[string]string{"urls": "http://example.com/a.torrent"},
			status:   http.StatusBadRequest,
			contains: "Only magnet links are supported",
		},
		{
			name:     "bad start flag",
			fields:   map[string]string{"urls": "magnet:?xt=urn:btih:abc", "start": "maybe"},
			status:   http.StatusBadRequest,
			contains: "invalid start value",
		},
		{
			name:   "option not enabled",
			fields: map[string]string{"name": "my awesome torrent"},
			files:  [][]byte{torrentFile(t, "x.bin")},
			setup: func() {
				fake.SetUploadOptions(backend.UploadOptions{Category: true})
			},
			status:   http.StatusUnprocessableEntity,
			contains: "rename on upload",
		},
		{
			name:   "magnets not supported",
			fields: map[string]string{"urls": "magnet:?xt=urn:btih:abc"},
			setup: func() {
				fake.SetFeatures(backend.FeatureLabels)
			},
			status:   http.StatusUnprocessableEntity,
			contains: "magnet links",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			body, header := multipartBody(t, tt.fields, tt.files...)
			w := env.do(t, http.MethodPost, path, body, header)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}
}

func TestTorrentActions(t *testing.T) {
	env := newHandlerEnv(t)
	id := seedLibrary(t, env)
	path := fmt.Sprintf("/api/instances/%d/torrents/aaa", id)

	w := env.do(t, http.MethodPost, path+"/stop", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Stopped", decode[torrent.View](t, w).State)

	w = env.do(t, http.MethodPost, path+"/resume", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Downloading", decode[torrent.View](t, w).State)

	w = env.doJSON(t, http.MethodPut, path+"/label", SetLabelRequest{Label: "testlabel123"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "testlabel123", decode[torrent.View](t, w).Label)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/instances/%d/labels", id), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	labels := decode[LabelsResponse](t, w)
	assert.Equal(t, 1, labels.Counts["testlabel123"])
	assert.Equal(t, 2, labels.Counts["movies"])
	assert.Contains(t, labels.Labels, "testlabel123")

	w = env.do(t, http.MethodGet, strings.TrimSuffix(path, "aaa")+"AAA", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code, "hash lookups are case insensitive")

	w = env.do(t, http.MethodDelete, path+"?deleteFiles=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, path+"/stop", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTorrentFlags(t *testing.T) {
	env := newHandlerEnv(t)
	id := seedLibrary(t, env)
	path := fmt.Sprintf("/api/instances/%d/torrents/bbb", id)

	w := env.doJSON(t, http.MethodPut, path+"/flags", map[string]bool{"selected": true, "starred": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[torrent.View](t, w)
	assert.True(t, view.Selected)
	assert.True(t, view.IsStarred)

	w = env.doJSON(t, http.MethodPut, path+"/flags", map[string]bool{"selected": false})
	require.Equal(t, http.StatusOK, w.Code)
	view = decode[torrent.View](t, w)
	assert.False(t, view.Selected)
	assert.True(t, view.IsStarred, "omitted flags are unchanged")

	// Flags are local and survive a backend action that re-polls.
	w = env.do(t, http.MethodPost, path+"/stop", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[torrent.View](t, w).IsStarred)

	w = env.doJSON(t, http.MethodPut, path+"/flags", map[string]bool{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.doJSON(t, http.MethodPut, fmt.Sprintf("/api/instances/%d/torrents/zzz/flags", id), map[string]bool{"starred": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTorrentRelease(t *testing.T) {
	env := newHandlerEnv(t)
	instance, fake := env.addInstance(t, "releases")
	fake.Put(fields("ddd", "The.Show.S01E02.1080p.WEB-DL.x264-GRP", 100, backendtest.StateSeeding, ""))

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/instances/%d/torrents/ddd", instance.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	release := decode[torrent.View](t, w).Release
	assert.Equal(t, "GRP", release.Group)
	assert.Equal(t, "1080p", release.Resolution)
	assert.Equal(t, 1, release.Series)
	assert.Equal(t, 2, release.Episode)
}

func TestTorrentMagnet(t *testing.T) {
	env := newHandlerEnv(t)
	id := seedLibrary(t, env)
	path := fmt.Sprintf("/api/instances/%d/torrents/aaa/magnet", id)

	w := env.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "magnet:?xt=urn:btih:aaa", decode[MagnetResponse](t, w).Magnet)

	w = env.do(t, http.MethodGet, path+"?long=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t,
		"magnet:?xt=urn:btih:aaa&dn=Ubuntu.22.04.Desktop&xl=300&tr=udp%3A%2F%2Ftracker.example.org%3A1337%2Fannounce",
		decode[MagnetResponse](t, w).Magnet)
}

func TestListColumns(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.do(t, http.MethodGet, "/api/columns", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	columns := decode[[]torrent.Column](t, w)
	assert.Equal(t, torrent.Columns(), columns)
}
