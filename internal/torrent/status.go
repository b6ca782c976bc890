// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNotImplemented is wrapped by the panic raised from a status predicate a
// backend variant did not provide.
var ErrNotImplemented = errors.New("not implemented")

// Status interprets a backend's raw status representation. Every backend
// variant must implement all seven predicates.
type Status interface {
	IsStatusError() bool
	IsStatusPaused() bool
	IsStatusQueued() bool
	IsStatusCompleted() bool
	IsStatusDownloading() bool
	IsStatusSeeding() bool
	IsStatusStopped() bool
}

// Unimplemented is the base status. Backend variants embed it and override
// the predicates; any predicate left alone panics when called.
type Unimplemented struct{}

func notImplemented(predicate string) {
	panic(fmt.Errorf("%s %w", predicate, ErrNotImplemented))
}

func (Unimplemented) IsStatusError() bool       { notImplemented("isStatusError"); return false }
func (Unimplemented) IsStatusPaused() bool      { notImplemented("isStatusPaused"); return false }
func (Unimplemented) IsStatusQueued() bool      { notImplemented("isStatusQueued"); return false }
func (Unimplemented) IsStatusCompleted() bool   { notImplemented("isStatusCompleted"); return false }
func (Unimplemented) IsStatusDownloading() bool { notImplemented("isStatusDownloading"); return false }
func (Unimplemented) IsStatusSeeding() bool     { notImplemented("isStatusSeeding"); return false }
func (Unimplemented) IsStatusStopped() bool     { notImplemented("isStatusStopped"); return false }

var _ Status = Unimplemented{}

// Status colors.
const (
	ColorGrey     = "grey"
	ColorOrange   = "orange"
	ColorBlue     = "blue"
	ColorError    = "error"
	ColorSuccess  = "success"
	ColorDisabled = "disabled"
)

// Manual status texts.
const (
	TextPaused      = "Paused"
	TextStopped     = "Stopped"
	TextSeeding     = "Seeding"
	TextDownloading = "Downloading"
	TextError       = "Error"
	TextFinished    = "Finished"
	TextUnknown     = "Unknown"
)

var statusMessageRe = regexp.MustCompile(`[^a-zA-Z(): ]`)

func (t *Torrent) status() Status {
	if t.Status == nil {
		return Unimplemented{}
	}
	return t.Status
}

func (t *Torrent) IsStatusError() bool       { return t.status().IsStatusError() }
func (t *Torrent) IsStatusPaused() bool      { return t.status().IsStatusPaused() }
func (t *Torrent) IsStatusQueued() bool      { return t.status().IsStatusQueued() }
func (t *Torrent) IsStatusCompleted() bool   { return t.status().IsStatusCompleted() }
func (t *Torrent) IsStatusDownloading() bool { return t.status().IsStatusDownloading() }
func (t *Torrent) IsStatusSeeding() bool     { return t.status().IsStatusSeeding() }
func (t *Torrent) IsStatusStopped() bool     { return t.status().IsStatusStopped() }

// StatusColor evaluates paused, seeding, downloading, error and completed in
// that order.
func (t *Torrent) StatusColor() string {
	switch {
	case t.IsStatusPaused():
		return ColorGrey
	case t.IsStatusSeeding():
		return ColorOrange
	case t.IsStatusDownloading():
		return ColorBlue
	case t.IsStatusError():
		return ColorError
	case t.IsStatusCompleted():
		return ColorSuccess
	default:
		return ColorDisabled
	}
}

// ManualStatusText is like StatusColor but checks stopped before seeding.
func (t *Torrent) ManualStatusText() string {
	switch {
	case t.IsStatusPaused():
		return TextPaused
	case t.IsStatusStopped():
		return TextStopped
	case t.IsStatusSeeding():
		return TextSeeding
	case t.IsStatusDownloading():
		return TextDownloading
	case t.IsStatusError():
		return TextError
	case t.IsStatusCompleted():
		return TextFinished
	default:
		return TextUnknown
	}
}

// StatusText prefers the backend's own status message, stripped down to
// letters, parentheses, colons and spaces.
func (t *Torrent) StatusText() string {
	if t.StatusMessage == "" {
		return t.ManualStatusText()
	}
	return statusMessageRe.ReplaceAllString(t.StatusMessage, "")
}
