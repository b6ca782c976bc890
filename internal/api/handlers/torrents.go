// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/torrent"
)

const addTorrentMaxFormMemory int64 = 64 << 20

type TorrentsHandler struct {
	syncManager *clients.SyncManager
	exprFilter  *torrent.ExprFilter
}

func NewTorrentsHandler(syncManager *clients.SyncManager, exprFilter *torrent.ExprFilter) *TorrentsHandler {
	return &TorrentsHandler{syncManager: syncManager, exprFilter: exprFilter}
}

// TorrentListResponse carries the filtered page plus the sidebar counts,
// which are computed over every torrent of the instance.
type TorrentListResponse struct {
	Torrents []torrent.View              `json:"torrents"`
	Total    int                         `json:"total"`
	Counts   map[torrent.StateFilter]int `json:"counts"`
	Labels   map[string]int              `json:"labels"`
}

type SetLabelRequest struct {
	Label string `json:"label"`
}

type SetFlagsRequest struct {
	Selected *bool `json:"selected,omitempty"`
	Starred  *bool `json:"starred,omitempty"`
}

type MagnetResponse struct {
	Magnet string `json:"magnet"`
}

type listQuery struct {
	state  torrent.StateFilter
	label  string
	search string
	expr   string
	sort   string
	order  string
}

// truncateExpr truncates long filter expressions for cleaner logging
func truncateExpr(expr string, maxLen int) string {
	if len(expr) <= maxLen {
		return expr
	}
	return expr[:maxLen-3] + "..."
}

func parseListQuery(r *http.Request) (listQuery, error) {
	q := r.URL.Query()

	state, err := torrent.ParseStateFilter(q.Get("filter"))
	if err != nil {
		return listQuery{}, err
	}

	lq := listQuery{
		state:  state,
		label:  q.Get("label"),
		search: strings.TrimSpace(q.Get("search")),
		expr:   strings.TrimSpace(q.Get("expr")),
		sort:   q.Get("sort"),
		order:  strings.ToLower(q.Get("order")),
	}

	if lq.sort == "" {
		lq.sort = torrent.AttrDateAdded
	}
	if !torrent.IsSortable(lq.sort) {
		return listQuery{}, fmt.Errorf("unknown sort attribute %q", lq.sort)
	}
	switch lq.order {
	case "", "asc", "desc":
	default:
		return listQuery{}, fmt.Errorf("order must be asc or desc, got %q", lq.order)
	}

	return lq, nil
}

func stateCounts(torrents []torrent.Torrent) map[torrent.StateFilter]int {
	counts := make(map[torrent.StateFilter]int, len(torrent.StateFilters()))
	for _, f := range torrent.StateFilters() {
		counts[f] = 0
	}
	for i := range torrents {
		for _, f := range torrent.StateFilters() {
			if f.Matches(&torrents[i]) {
				counts[f]++
			}
		}
	}
	return counts
}

// ListTorrents returns the instance's torrents as view-models. Query
// parameters: filter, label, search, expr, sort and order.
func (h *TorrentsHandler) ListTorrents(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	lq, err := parseListQuery(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	logEvent := log.Debug().
		Int("instanceID", instanceID).
		Str("filter", string(lq.state)).
		Str("sort", lq.sort).
		Str("order", lq.order).
		Str("search", lq.search)
	if lq.expr != "" {
		logEvent = logEvent.Str("expr", truncateExpr(lq.expr, 150))
	}
	logEvent.Msg("Torrent list request parameters")

	all, err := h.syncManager.Torrents(r.Context(), instanceID)
	if err != nil {
		respondClientError(w, err, instanceID, "torrents:list")
		return
	}

	matched := make([]torrent.Torrent, 0, len(all))
	for i := range all {
		t := &all[i]
		if !lq.state.Matches(t) {
			continue
		}
		if lq.label != "" && t.Label != lq.label {
			continue
		}
		matched = append(matched, *t)
	}

	if lq.expr != "" {
		program, err := h.exprFilter.Compile(lq.expr)
		if err != nil {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		matched = slices.DeleteFunc(matched, func(t torrent.Torrent) bool {
			ok, err := torrent.Match(program, &t)
			return err != nil || !ok
		})
	}

	if lq.search != "" {
		// Search orders by relevance.
		matched = torrent.Search(matched, lq.search)
	} else {
		compare := torrent.Sort(lq.sort)
		reverse := (lq.order == "asc" && !torrent.Ascending(lq.sort)) || (lq.order == "desc" && torrent.Ascending(lq.sort))
		slices.SortStableFunc(matched, func(a, b torrent.Torrent) int {
			if reverse {
				return compare(&b, &a)
			}
			return compare(&a, &b)
		})
	}

	respondWithETag(w, r, TorrentListResponse{
		Torrents: torrent.Views(matched),
		Total:    len(matched),
		Counts:   stateCounts(all),
		Labels:   torrent.LabelCounts(all),
	})
}

// respondWithETag answers 304 when the client already holds this exact body.
func respondWithETag(w http.ResponseWriter, r *http.Request, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		RespondError(w, http.StatusInternalServerError, "Failed to encode response")
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n'))
}

// parseAddOptions reads the upload options from the form. Absent fields keep
// the backend defaults.
func parseAddOptions(r *http.Request) (backend.AddOptions, error) {
	opts := backend.AddOptions{
		Label:        strings.TrimSpace(r.FormValue("label")),
		Name:         strings.TrimSpace(r.FormValue("name")),
		SaveLocation: strings.TrimSpace(r.FormValue("saveLocation")),
	}
	if start := r.FormValue("start"); start != "" {
		v, err := strconv.ParseBool(start)
		if err != nil {
			return opts, fmt.Errorf("invalid start value %q", start)
		}
		opts.Start = &v
	}
	return opts, nil
}

// validateTorrentFile rejects payloads that are not bencoded metainfo before
// they reach the backend.
func validateTorrentFile(data []byte) (metainfo.Hash, string, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return metainfo.Hash{}, "", err
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return metainfo.Hash{}, "", err
	}
	return mi.HashInfoBytes(), info.Name, nil
}

// AddTorrent accepts multipart "torrent" files or newline/comma separated
// magnet links in "urls", plus the label, start, name and saveLocation
// options.
func (h *TorrentsHandler) AddTorrent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(addTorrentMaxFormMemory); err != nil {
		if errors.Is(err, multipart.ErrMessageTooLarge) {
			RespondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeded %d MB limit", addTorrentMaxFormMemory>>20))
			return
		}
		RespondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	opts, err := parseAddOptions(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var files [][]byte
	if r.MultipartForm != nil {
		for _, fileHeader := range r.MultipartForm.File["torrent"] {
			data, err := readFormFile(fileHeader)
			if err != nil {
				log.Warn().Err(err).Str("filename", fileHeader.Filename).Msg("Failed to read torrent file")
				RespondError(w, http.StatusBadRequest, "Failed to read "+fileHeader.Filename)
				return
			}

			infoHash, name, err := validateTorrentFile(data)
			if err != nil {
				RespondError(w, http.StatusBadRequest, fmt.Sprintf("%s is not a valid torrent file", fileHeader.Filename))
				return
			}
			log.Debug().Int("instanceID", instanceID).Str("hash", infoHash.HexString()).Str("name", name).Msg("Uploading torrent file")
			files = append(files, data)
		}
	}

	var magnets []string
	if len(files) == 0 {
		urls := strings.ReplaceAll(r.FormValue("urls"), "\n", ",")
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u == "" {
				continue
			}
			if !strings.HasPrefix(u, "magnet:") {
				RespondError(w, http.StatusBadRequest, "Only magnet links are supported")
				return
			}
			magnets = append(magnets, u)
		}
	}

	if len(files) == 0 && len(magnets) == 0 {
		RespondError(w, http.StatusBadRequest, "Either torrent files or magnet links are required")
		return
	}

	for _, data := range files {
		if err := h.syncManager.AddFile(ctx, instanceID, data, opts); err != nil {
			respondClientError(w, err, instanceID, "torrents:add")
			return
		}
	}
	for _, magnet := range magnets {
		if err := h.syncManager.AddMagnet(ctx, instanceID, magnet, opts); err != nil {
			respondClientError(w, err, instanceID, "torrents:addMagnet")
			return
		}
	}

	RespondJSON(w, http.StatusCreated, map[string]any{
		"message": "Torrents added successfully",
		"added":   len(files) + len(magnets),
	})
}

func readFormFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func torrentHash(r *http.Request) string {
	return strings.ToLower(chi.URLParam(r, "hash"))
}

// respondTorrent writes the current view of one torrent.
func (h *TorrentsHandler) respondTorrent(w http.ResponseWriter, r *http.Request, instanceID int, hash string, action string) {
	t, err := h.syncManager.Torrent(r.Context(), instanceID, hash)
	if err != nil {
		respondClientError(w, err, instanceID, action)
		return
	}
	RespondJSON(w, http.StatusOK, t.View())
}

func (h *TorrentsHandler) GetTorrent(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}
	h.respondTorrent(w, r, instanceID, torrentHash(r), "torrents:get")
}

// DeleteTorrent removes a torrent, with its data when deleteFiles=true.
func (h *TorrentsHandler) DeleteTorrent(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	deleteFiles, _ := strconv.ParseBool(r.URL.Query().Get("deleteFiles"))
	hash := torrentHash(r)

	if _, err := h.syncManager.Torrent(r.Context(), instanceID, hash); err != nil {
		respondClientError(w, err, instanceID, "torrents:delete")
		return
	}
	if err := h.syncManager.Delete(r.Context(), instanceID, []string{hash}, deleteFiles); err != nil {
		respondClientError(w, err, instanceID, "torrents:delete")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"message": "Torrent deleted successfully"})
}

func (h *TorrentsHandler) StopTorrent(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	hash := torrentHash(r)
	if err := h.syncManager.Stop(r.Context(), instanceID, []string{hash}); err != nil {
		respondClientError(w, err, instanceID, "torrents:stop")
		return
	}
	h.respondTorrent(w, r, instanceID, hash, "torrents:stop")
}

func (h *TorrentsHandler) ResumeTorrent(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	hash := torrentHash(r)
	if err := h.syncManager.Resume(r.Context(), instanceID, []string{hash}); err != nil {
		respondClientError(w, err, instanceID, "torrents:resume")
		return
	}
	h.respondTorrent(w, r, instanceID, hash, "torrents:resume")
}

// SetTorrentLabel assigns a new or existing label. An empty label removes it.
func (h *TorrentsHandler) SetTorrentLabel(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req SetLabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hash := torrentHash(r)
	if err := h.syncManager.SetLabel(r.Context(), instanceID, []string{hash}, strings.TrimSpace(req.Label)); err != nil {
		respondClientError(w, err, instanceID, "torrents:setLabel")
		return
	}
	h.respondTorrent(w, r, instanceID, hash, "torrents:setLabel")
}

// SetTorrentFlags toggles the selection and star flags of a torrent.
func (h *TorrentsHandler) SetTorrentFlags(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req SetFlagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Selected == nil && req.Starred == nil {
		RespondError(w, http.StatusBadRequest, "No flags to update")
		return
	}

	hash := torrentHash(r)
	if err := h.syncManager.SetFlags(r.Context(), instanceID, hash, req.Selected, req.Starred); err != nil {
		respondClientError(w, err, instanceID, "torrents:setFlags")
		return
	}
	h.respondTorrent(w, r, instanceID, hash, "torrents:setFlags")
}

// GetTorrentMagnet returns the magnet link. With long=true the name, size and
// trackers are included, fetching the tracker list from the backend.
func (h *TorrentsHandler) GetTorrentMagnet(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	long, _ := strconv.ParseBool(r.URL.Query().Get("long"))
	hash := torrentHash(r)

	t, err := h.syncManager.Torrent(r.Context(), instanceID, hash)
	if err != nil {
		respondClientError(w, err, instanceID, "torrents:magnet")
		return
	}

	if long && t.Props == nil {
		if loaded, err := h.syncManager.LoadTrackers(r.Context(), instanceID, hash); err != nil {
			log.Warn().Err(err).Int("instanceID", instanceID).Str("hash", hash).Msg("Failed to load trackers for magnet link")
		} else {
			t = loaded
		}
	}

	RespondJSON(w, http.StatusOK, MagnetResponse{Magnet: t.MagnetURI(long)})
}

// ListColumns returns the torrent table columns in display order.
func ListColumns(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, torrent.Columns())
}
