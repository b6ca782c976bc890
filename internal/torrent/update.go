// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

// Update is a partial set of torrent fields. A nil field means the value was
// not reported and leaves the target untouched.
type Update struct {
	Name              *string
	Size              *int64
	Percent           *int64
	Downloaded        *int64
	Uploaded          *int64
	Ratio             *int64
	UploadSpeed       *int64
	DownloadSpeed     *int64
	ETA               *int64
	Label             *string
	PeersConnected    *int64
	PeersInSwarm      *int64
	SeedsConnected    *int64
	SeedsInSwarm      *int64
	TorrentQueueOrder *int64
	StatusMessage     *string
	DateAdded         *int64
	DateCompleted     *int64
	SavePath          *string
	Props             *Props
	Status            Status
	DecodedName       *string
	CleanedName       *string
}

// Update merges every defined field of u into t. Selection and star flags
// are never touched and derived names are not recomputed.
func (t *Torrent) Update(u Update) {
	setString(&t.Name, u.Name)
	setInt(&t.Size, u.Size)
	setInt(&t.Percent, u.Percent)
	setInt(&t.Downloaded, u.Downloaded)
	setInt(&t.Uploaded, u.Uploaded)
	setInt(&t.Ratio, u.Ratio)
	setInt(&t.UploadSpeed, u.UploadSpeed)
	setInt(&t.DownloadSpeed, u.DownloadSpeed)
	setOptional(&t.ETA, u.ETA)
	setString(&t.Label, u.Label)
	setOptional(&t.PeersConnected, u.PeersConnected)
	setOptional(&t.PeersInSwarm, u.PeersInSwarm)
	setOptional(&t.SeedsConnected, u.SeedsConnected)
	setOptional(&t.SeedsInSwarm, u.SeedsInSwarm)
	setOptional(&t.TorrentQueueOrder, u.TorrentQueueOrder)
	setString(&t.StatusMessage, u.StatusMessage)
	setInt(&t.DateAdded, u.DateAdded)
	setInt(&t.DateCompleted, u.DateCompleted)
	setString(&t.SavePath, u.SavePath)
	if u.Props != nil {
		t.Props = u.Props
	}
	if u.Status != nil {
		t.Status = u.Status
	}
	if u.DecodedName != nil {
		t.DecodedName = u.DecodedName
	}
	if u.CleanedName != nil {
		t.CleanedName = u.CleanedName
	}
}

// Patch describes t as an Update carrying every field t defines. Merging a
// freshly polled torrent into the existing record goes through Patch.
func (t *Torrent) Patch() Update {
	return Update{
		Name:              &t.Name,
		Size:              &t.Size,
		Percent:           &t.Percent,
		Downloaded:        &t.Downloaded,
		Uploaded:          &t.Uploaded,
		Ratio:             &t.Ratio,
		UploadSpeed:       &t.UploadSpeed,
		DownloadSpeed:     &t.DownloadSpeed,
		ETA:               t.ETA,
		Label:             &t.Label,
		PeersConnected:    t.PeersConnected,
		PeersInSwarm:      t.PeersInSwarm,
		SeedsConnected:    t.SeedsConnected,
		SeedsInSwarm:      t.SeedsInSwarm,
		TorrentQueueOrder: t.TorrentQueueOrder,
		StatusMessage:     &t.StatusMessage,
		DateAdded:         &t.DateAdded,
		DateCompleted:     &t.DateCompleted,
		SavePath:          &t.SavePath,
		Props:             t.Props,
		Status:            t.Status,
		DecodedName:       t.DecodedName,
		CleanedName:       t.CleanedName,
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func setOptional(dst **int64, src *int64) {
	if src != nil {
		v := *src
		*dst = &v
	}
}
