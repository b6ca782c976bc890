// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

// View is the JSON shape served to front ends: raw fields plus everything
// derived from them, so clients never re-implement the status trees.
type View struct {
	Hash              string  `json:"hash"`
	Name              string  `json:"name"`
	DecodedName       *string `json:"decodedName"`
	CleanedName       *string `json:"cleanedName"`
	Size              int64   `json:"size"`
	Percent           int64   `json:"percent"`
	PercentStr        string  `json:"percentStr"`
	Downloaded        int64   `json:"downloaded"`
	Uploaded          int64   `json:"uploaded"`
	Ratio             int64   `json:"ratio"`
	UploadSpeed       int64   `json:"uploadSpeed"`
	DownloadSpeed     int64   `json:"downloadSpeed"`
	ETA               *int64  `json:"eta"`
	Label             string  `json:"label"`
	PeersConnected    *int64  `json:"peersConnected"`
	PeersInSwarm      *int64  `json:"peersInSwarm"`
	SeedsConnected    *int64  `json:"seedsConnected"`
	SeedsInSwarm      *int64  `json:"seedsInSwarm"`
	TorrentQueueOrder *int64  `json:"torrentQueueOrder"`
	QueueStr          string  `json:"queueStr"`
	StatusMessage     string  `json:"statusMessage"`
	DateAdded         int64   `json:"dateAdded"`
	DateCompleted     int64   `json:"dateCompleted"`
	SavePath          string  `json:"savePath"`

	Trackers []string `json:"trackers,omitempty"`
	Release  Release  `json:"release"`

	StatusColor string `json:"statusColor"`
	StatusText  string `json:"statusText"`
	State       string `json:"state"`
	SeedsText   string `json:"seedsText"`
	PeersText   string `json:"peersText"`
	QueueText   string `json:"queueText"`
	EtaText     string `json:"etaText"`
	Magnet      string `json:"magnet"`

	Selected  bool `json:"selected"`
	IsStarred bool `json:"isStarred"`
}

// View renders t for the API. The Status must be set.
func (t *Torrent) View() View {
	return View{
		Hash:              t.Hash,
		Name:              t.Name,
		DecodedName:       t.DecodedName,
		CleanedName:       t.CleanedName,
		Size:              t.Size,
		Percent:           t.Percent,
		PercentStr:        t.PercentStr(),
		Downloaded:        t.Downloaded,
		Uploaded:          t.Uploaded,
		Ratio:             t.Ratio,
		UploadSpeed:       t.UploadSpeed,
		DownloadSpeed:     t.DownloadSpeed,
		ETA:               t.ETA,
		Label:             t.Label,
		PeersConnected:    t.PeersConnected,
		PeersInSwarm:      t.PeersInSwarm,
		SeedsConnected:    t.SeedsConnected,
		SeedsInSwarm:      t.SeedsInSwarm,
		TorrentQueueOrder: t.TorrentQueueOrder,
		QueueStr:          t.QueueStr(),
		StatusMessage:     t.StatusMessage,
		DateAdded:         t.DateAdded,
		DateCompleted:     t.DateCompleted,
		SavePath:          t.SavePath,
		Trackers:          t.TrackerList(),
		Release:           t.Release(),
		StatusColor:       t.StatusColor(),
		StatusText:        t.StatusText(),
		State:             t.ManualStatusText(),
		SeedsText:         t.SeedsText(),
		PeersText:         t.PeersText(),
		QueueText:         t.QueueText(),
		EtaText:           t.EtaText(),
		Magnet:            t.MagnetURI(false),
		Selected:          t.Selected,
		IsStarred:         t.IsStarred,
	}
}

// Views renders a list of torrents.
func Views(torrents []Torrent) []View {
	out := make([]View, len(torrents))
	for i := range torrents {
		out[i] = torrents[i].View()
	}
	return out
}
