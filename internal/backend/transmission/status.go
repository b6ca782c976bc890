// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transmission

import (
	"github.com/electorrent/electorrent/internal/torrent"
)

// Transmission torrent status codes.
const (
	StatusStopped      = 0
	StatusCheckWait    = 1
	StatusCheck        = 2
	StatusDownloadWait = 3
	StatusDownload     = 4
	StatusSeedWait     = 5
	StatusSeed         = 6
)

// Status interprets the numeric Transmission status together with its error
// flag and completion.
type Status struct {
	Code          int     `json:"status"`
	Error         int     `json:"error"`
	LeftUntilDone int64   `json:"leftUntilDone"`
	PercentDone   float64 `json:"percentDone"`
}

var _ torrent.Status = Status{}

func (s Status) IsStatusError() bool {
	return s.Error != 0
}

// IsStatusPaused is always false; Transmission only knows stopped torrents.
func (s Status) IsStatusPaused() bool {
	return false
}

func (s Status) IsStatusStopped() bool {
	return s.Code == StatusStopped
}

func (s Status) IsStatusQueued() bool {
	return s.Code == StatusDownloadWait || s.Code == StatusSeedWait || s.Code == StatusCheckWait
}

func (s Status) IsStatusCompleted() bool {
	return s.LeftUntilDone == 0 && s.PercentDone >= 1
}

func (s Status) IsStatusDownloading() bool {
	return s.Code == StatusDownload
}

func (s Status) IsStatusSeeding() bool {
	return s.Code == StatusSeed
}
