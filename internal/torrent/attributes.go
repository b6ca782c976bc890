// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

// Attribute names understood by Value, Sort and the column descriptors.
const (
	AttrHash              = "hash"
	AttrName              = "name"
	AttrDecodedName       = "decodedName"
	AttrCleanedName       = "cleanedName"
	AttrSize              = "size"
	AttrPercent           = "percent"
	AttrDownloaded        = "downloaded"
	AttrUploaded          = "uploaded"
	AttrRatio             = "ratio"
	AttrUploadSpeed       = "uploadSpeed"
	AttrDownloadSpeed     = "downloadSpeed"
	AttrETA               = "eta"
	AttrLabel             = "label"
	AttrPeersConnected    = "peersConnected"
	AttrPeersInSwarm      = "peersInSwarm"
	AttrSeedsConnected    = "seedsConnected"
	AttrSeedsInSwarm      = "seedsInSwarm"
	AttrTorrentQueueOrder = "torrentQueueOrder"
	AttrStatusMessage     = "statusMessage"
	AttrDateAdded         = "dateAdded"
	AttrDateCompleted     = "dateCompleted"
	AttrSavePath          = "savePath"
	AttrPeersText         = "peersText"
	AttrSeedsText         = "seedsText"
	AttrQueueText         = "queueText"
	AttrEtaText           = "etaText"
)

// Value returns the attribute's current value: a string, an int64, or nil
// when the attribute is unknown or was not reported.
func (t *Torrent) Value(attribute string) any {
	switch attribute {
	case AttrHash:
		return t.Hash
	case AttrName:
		return t.Name
	case AttrDecodedName:
		return deref(t.DecodedName)
	case AttrCleanedName:
		return deref(t.CleanedName)
	case AttrSize:
		return t.Size
	case AttrPercent:
		return t.Percent
	case AttrDownloaded:
		return t.Downloaded
	case AttrUploaded:
		return t.Uploaded
	case AttrRatio:
		return t.Ratio
	case AttrUploadSpeed:
		return t.UploadSpeed
	case AttrDownloadSpeed:
		return t.DownloadSpeed
	case AttrETA:
		return optional(t.ETA)
	case AttrLabel:
		return t.Label
	case AttrPeersConnected:
		return optional(t.PeersConnected)
	case AttrPeersInSwarm:
		return optional(t.PeersInSwarm)
	case AttrSeedsConnected:
		return optional(t.SeedsConnected)
	case AttrSeedsInSwarm:
		return optional(t.SeedsInSwarm)
	case AttrTorrentQueueOrder:
		return optional(t.TorrentQueueOrder)
	case AttrStatusMessage:
		return t.StatusMessage
	case AttrDateAdded:
		return t.DateAdded
	case AttrDateCompleted:
		return t.DateCompleted
	case AttrSavePath:
		return t.SavePath
	case AttrPeersText:
		return t.PeersText()
	case AttrSeedsText:
		return t.SeedsText()
	case AttrQueueText:
		return t.QueueText()
	case AttrEtaText:
		return t.EtaText()
	}
	return nil
}

// IsSortable reports whether Sort understands attribute.
func IsSortable(attribute string) bool {
	switch attribute {
	case AttrHash, AttrName, AttrDecodedName, AttrCleanedName, AttrSize, AttrPercent,
		AttrDownloaded, AttrUploaded, AttrRatio, AttrUploadSpeed, AttrDownloadSpeed,
		AttrETA, AttrLabel, AttrPeersConnected, AttrPeersInSwarm, AttrSeedsConnected,
		AttrSeedsInSwarm, AttrTorrentQueueOrder, AttrStatusMessage, AttrDateAdded,
		AttrDateCompleted, AttrSavePath, AttrPeersText, AttrSeedsText, AttrQueueText, AttrEtaText:
		return true
	}
	return false
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optional(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
