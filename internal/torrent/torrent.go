// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrent holds the backend-agnostic torrent view-model: raw backend
// fields, derived display names, status decision trees and display formatters.
package torrent

import (
	"math"
	"strconv"
)

// QueueNone is the queue order reported for torrents that are not queued.
const QueueNone int64 = -1

// Props carries optional per-torrent properties that are fetched lazily.
type Props struct {
	// Trackers is a "\r\n" separated tracker announce list.
	Trackers string `json:"trackers,omitempty"`
}

// Fields is the raw field set a backend reports for one torrent.
// Pointer fields are nil when the backend did not report them.
type Fields struct {
	Hash              string
	Name              string
	Size              int64
	Percent           int64 // per-mille
	Downloaded        int64
	Uploaded          int64
	Ratio             int64 // per-mille
	UploadSpeed       int64
	DownloadSpeed     int64
	ETA               *int64
	Label             string
	PeersConnected    *int64
	PeersInSwarm      *int64
	SeedsConnected    *int64
	SeedsInSwarm      *int64
	TorrentQueueOrder *int64
	StatusMessage     string
	DateAdded         int64
	DateCompleted     int64
	SavePath          string
	Props             *Props
	Status            Status
}

// Torrent is the view-model for a single torrent.
type Torrent struct {
	Fields

	DecodedName *string
	CleanedName *string

	Selected  bool
	IsStarred bool
}

// New builds a torrent from the raw backend fields and derives its names.
func New(f Fields) *Torrent {
	t := &Torrent{Fields: f}
	t.Recompute()
	return t
}

// Recompute refreshes the derived names from the current raw name.
func (t *Torrent) Recompute() {
	t.DecodedName = decodeName(t.Name)
	if t.DecodedName == nil {
		t.CleanedName = nil
		return
	}
	t.CleanedName = cleanName(*t.DecodedName)
}

// Clone returns a shallow copy. Pointer fields are shared; they are replaced,
// never written through, by Update.
func (t *Torrent) Clone() Torrent {
	return *t
}

// QueueStr returns "*" for unqueued torrents, otherwise the queue position.
func (t *Torrent) QueueStr() string {
	if t.TorrentQueueOrder == nil {
		return ""
	}
	if *t.TorrentQueueOrder == QueueNone {
		return "*"
	}
	return strconv.FormatInt(*t.TorrentQueueOrder, 10)
}

// PercentStr renders the per-mille progress as a whole percentage.
func (t *Torrent) PercentStr() string {
	return strconv.FormatFloat(roundHalfUp(float64(t.Percent)/10), 'f', 0, 64) + "%"
}

// SeedsText returns "X of Y" when both seed counts are known.
func (t *Torrent) SeedsText() string {
	return pairText(t.SeedsConnected, t.SeedsInSwarm)
}

// PeersText returns "X of Y" when both peer counts are known.
func (t *Torrent) PeersText() string {
	return pairText(t.PeersConnected, t.PeersInSwarm)
}

func (t *Torrent) QueueText() string {
	if t.TorrentQueueOrder == nil || *t.TorrentQueueOrder < 0 {
		return ""
	}
	return strconv.FormatInt(*t.TorrentQueueOrder, 10)
}

func (t *Torrent) EtaText() string {
	if t.ETA == nil || *t.ETA <= 0 {
		return ""
	}
	return strconv.FormatInt(*t.ETA, 10)
}

func pairText(connected, total *int64) string {
	if connected == nil || total == nil {
		return ""
	}
	return strconv.FormatInt(*connected, 10) + " of " + strconv.FormatInt(*total, 10)
}

// roundHalfUp matches Number.prototype.toFixed(0): ties go towards +Inf.
func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

// Int64 returns a pointer to v, for building Fields and Update values.
func Int64(v int64) *int64 {
	return &v
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}
