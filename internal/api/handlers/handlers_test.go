// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/backend/backendtest"
	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/database"
	"github.com/electorrent/electorrent/internal/models"
	"github.com/electorrent/electorrent/internal/torrent"
)

type handlerEnv struct {
	router    chi.Router
	instances *models.InstanceStore
	errors    *models.InstanceErrorStore
	pool      *clients.Pool
	syncer    *clients.SyncManager

	mu    sync.Mutex
	fakes map[string]*backendtest.Backend
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "electorrent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	instances, err := models.NewInstanceStore(db.Conn(), make([]byte, 32))
	require.NoError(t, err)
	errorStore := models.NewInstanceErrorStore(db.Conn())

	env := &handlerEnv{
		instances: instances,
		errors:    errorStore,
		pool:      clients.NewPool(instances, errorStore, time.Second),
		fakes:     make(map[string]*backendtest.Backend),
	}
	env.pool.SetBackendFactory(func(cfg backend.Config) (backend.Client, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		fake, ok := env.fakes[cfg.Host]
		if !ok {
			return nil, fmt.Errorf("dial tcp %s: connection refused", cfg.Host)
		}
		return fake, nil
	})
	t.Cleanup(func() { env.pool.Close() })
	env.syncer = clients.NewSyncManager(env.pool, instances, time.Second)

	exprFilter := torrent.NewExprFilter()
	t.Cleanup(exprFilter.Close)

	instancesHandler := NewInstancesHandler(instances, errorStore, env.pool, env.syncer)
	torrentsHandler := NewTorrentsHandler(env.syncer, exprFilter)

	r := chi.NewRouter()
	r.Get("/api/columns", ListColumns)
	r.Route("/api/instances", func(r chi.Router) {
		r.Get("/", instancesHandler.ListInstances)
		r.Post("/", instancesHandler.CreateInstance)
		r.Route("/{instanceID}", func(r chi.Router) {
			r.Put("/", instancesHandler.UpdateInstance)
			r.Delete("/", instancesHandler.DeleteInstance)
			r.Get("/status", instancesHandler.GetInstanceStatus)
			r.Put("/status", instancesHandler.UpdateInstanceStatus)
			r.Post("/test", instancesHandler.TestConnection)
			r.Get("/capabilities", instancesHandler.GetInstanceCapabilities)
			r.Get("/labels", instancesHandler.GetLabels)
			r.Get("/trackers", instancesHandler.GetTrackers)
			r.Get("/torrents", torrentsHandler.ListTorrents)
			r.Post("/torrents", torrentsHandler.AddTorrent)
			r.Route("/torrents/{hash}", func(r chi.Router) {
				r.Get("/", torrentsHandler.GetTorrent)
				r.Delete("/", torrentsHandler.DeleteTorrent)
				r.Post("/stop", torrentsHandler.StopTorrent)
				r.Post("/resume", torrentsHandler.ResumeTorrent)
				r.Put("/label", torrentsHandler.SetTorrentLabel)
				r.Get("/magnet", torrentsHandler.GetTorrentMagnet)
			})
		})
	})
	env.router = r

	return env
}

// addInstance stores an instance backed by a fresh fake.
func (e *handlerEnv) addInstance(t *testing.T, name string) (*models.Instance, *backendtest.Backend) {
	t.Helper()

	instance, err := e.instances.Create(t.Context(), models.InstanceParams{
		Name: name,
		Kind: backend.KindTransmission,
		Host: "http://" + name + ":9091",
	})
	require.NoError(t, err)

	fake := backendtest.New()
	e.mu.Lock()
	e.fakes[instance.Host] = fake
	e.mu.Unlock()
	return instance, fake
}

func (e *handlerEnv) do(t *testing.T, method, path string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *handlerEnv) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return e.do(t, method, path, body, nil)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// multipartBody builds an upload form. Files are keyed "torrent".
func multipartBody(t *testing.T, fields map[string]string, files ...[]byte) (io.Reader, http.Header) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	for i, data := range files {
		part, err := writer.CreateFormFile("torrent", fmt.Sprintf("file%d.torrent", i))
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	header := http.Header{}
	header.Set("Content-Type", writer.FormDataContentType())
	return body, header
}

// torrentFile returns a minimal single-file metainfo.
func torrentFile(t *testing.T, name string) []byte {
	t.Helper()

	info := metainfo.Info{
		Name:        name,
		PieceLength: 16 * 1024,
		Length:      1,
		Pieces:      make([]byte, 20),
	}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	mi := metainfo.MetaInfo{
		AnnounceList: [][]string{{"http://tracker:6969/announce"}},
		InfoBytes:    infoBytes,
	}
	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))
	return buf.Bytes()
}

func fields(hash, name string, size int64, state backendtest.State, label string) torrent.Fields {
	return torrent.Fields{
		Hash:              hash,
		Name:              name,
		Size:              size,
		Label:             label,
		DateAdded:         size,
		TorrentQueueOrder: torrent.Int64(torrent.QueueNone),
		Status:            backendtest.Status{State: state, Complete: state == backendtest.StateSeeding},
	}
}
