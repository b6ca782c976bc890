// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"github.com/moistari/rls"
)

// Release is the subset of parsed scene/p2p release metadata shown next to a
// torrent.
type Release struct {
	Type       string `json:"type"`
	Title      string `json:"title,omitempty"`
	Year       int    `json:"year,omitempty"`
	Series     int    `json:"series,omitempty"`
	Episode    int    `json:"episode,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Source     string `json:"source,omitempty"`
	Group      string `json:"group,omitempty"`
}

// Release parses the raw torrent name.
func (t *Torrent) Release() Release {
	r := rls.ParseString(t.Name)
	return Release{
		Type:       r.Type.String(),
		Title:      r.Title,
		Year:       r.Year,
		Series:     r.Series,
		Episode:    r.Episode,
		Resolution: r.Resolution,
		Source:     r.Source,
		Group:      r.Group,
	}
}
