// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/electorrent/electorrent/internal/torrent"
)

// completionProgressThreshold absorbs float rounding in the reported progress.
const completionProgressThreshold = 0.9999

// State interprets a qBittorrent torrent state. qBittorrent 5 renamed the
// paused states to stopped; both spellings are reported as stopped.
type State struct {
	State    qbt.TorrentState `json:"state"`
	Progress float64          `json:"progress"`
}

var _ torrent.Status = State{}

func (s State) IsStatusError() bool {
	return s.State == qbt.TorrentStateError || s.State == qbt.TorrentStateMissingFiles
}

func (s State) IsStatusPaused() bool {
	return false
}

func (s State) IsStatusStopped() bool {
	switch s.State {
	case qbt.TorrentStatePausedDl, qbt.TorrentStatePausedUp,
		qbt.TorrentStateStoppedDl, qbt.TorrentStateStoppedUp:
		return true
	}
	return false
}

func (s State) IsStatusQueued() bool {
	return s.State == qbt.TorrentStateQueuedDl || s.State == qbt.TorrentStateQueuedUp
}

func (s State) IsStatusCompleted() bool {
	return s.Progress >= completionProgressThreshold
}

func (s State) IsStatusDownloading() bool {
	switch s.State {
	case qbt.TorrentStateDownloading, qbt.TorrentStateStalledDl,
		qbt.TorrentStateMetaDl, qbt.TorrentStateForcedDl,
		qbt.TorrentStateAllocating, qbt.TorrentStateCheckingDl:
		return true
	}
	return false
}

func (s State) IsStatusSeeding() bool {
	switch s.State {
	case qbt.TorrentStateUploading, qbt.TorrentStateStalledUp, qbt.TorrentStateForcedUp:
		return true
	}
	return false
}
