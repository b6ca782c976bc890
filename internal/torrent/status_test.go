// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	err, paused, queued, completed, downloading, seeding, stopped bool
}

func (s fakeStatus) IsStatusError() bool       { return s.err }
func (s fakeStatus) IsStatusPaused() bool      { return s.paused }
func (s fakeStatus) IsStatusQueued() bool      { return s.queued }
func (s fakeStatus) IsStatusCompleted() bool   { return s.completed }
func (s fakeStatus) IsStatusDownloading() bool { return s.downloading }
func (s fakeStatus) IsStatusSeeding() bool     { return s.seeding }
func (s fakeStatus) IsStatusStopped() bool     { return s.stopped }

// pausedOnly overrides a single predicate and inherits the panicking rest.
type pausedOnly struct {
	Unimplemented
	paused bool
}

func (s pausedOnly) IsStatusPaused() bool { return s.paused }

func TestStatusColor(t *testing.T) {
	tests := []struct {
		name   string
		status fakeStatus
		want   string
	}{
		{name: "paused wins over seeding", status: fakeStatus{paused: true, seeding: true}, want: ColorGrey},
		{name: "seeding", status: fakeStatus{seeding: true, completed: true}, want: ColorOrange},
		{name: "downloading", status: fakeStatus{downloading: true, err: true}, want: ColorBlue},
		{name: "error", status: fakeStatus{err: true, completed: true}, want: ColorError},
		{name: "completed", status: fakeStatus{completed: true}, want: ColorSuccess},
		{name: "stopped has no color of its own", status: fakeStatus{stopped: true}, want: ColorDisabled},
		{name: "nothing", status: fakeStatus{}, want: ColorDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tor := New(Fields{Status: tt.status})
			assert.Equal(t, tt.want, tor.StatusColor())
		})
	}
}

func TestManualStatusText(t *testing.T) {
	tests := []struct {
		name   string
		status fakeStatus
		want   string
	}{
		{name: "paused first", status: fakeStatus{paused: true, stopped: true}, want: TextPaused},
		{name: "stopped before seeding", status: fakeStatus{stopped: true, seeding: true}, want: TextStopped},
		{name: "seeding", status: fakeStatus{seeding: true, downloading: true}, want: TextSeeding},
		{name: "downloading", status: fakeStatus{downloading: true}, want: TextDownloading},
		{name: "error", status: fakeStatus{err: true}, want: TextError},
		{name: "completed", status: fakeStatus{completed: true}, want: TextFinished},
		{name: "queued alone is unknown", status: fakeStatus{queued: true}, want: TextUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tor := New(Fields{Status: tt.status})
			assert.Equal(t, tt.want, tor.ManualStatusText())
		})
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{name: "falls back to manual text", message: "", want: TextSeeding},
		{name: "strips punctuation and digits", message: "Error: tracker-down (x)!", want: "Error: trackerdown (x)"},
		{name: "keeps spaces", message: "Downloading [F] 50%", want: "Downloading F "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tor := New(Fields{StatusMessage: tt.message, Status: fakeStatus{seeding: true}})
			assert.Equal(t, tt.want, tor.StatusText())
		})
	}
}

func TestUnimplementedPredicatesPanic(t *testing.T) {
	tor := New(Fields{})

	predicates := map[string]func() bool{
		"isStatusError":       tor.IsStatusError,
		"isStatusPaused":      tor.IsStatusPaused,
		"isStatusQueued":      tor.IsStatusQueued,
		"isStatusCompleted":   tor.IsStatusCompleted,
		"isStatusDownloading": tor.IsStatusDownloading,
		"isStatusSeeding":     tor.IsStatusSeeding,
		"isStatusStopped":     tor.IsStatusStopped,
	}

	for name, fn := range predicates {
		t.Run(name, func(t *testing.T) {
			assert.PanicsWithError(t, name+" not implemented", func() { fn() })
		})
	}
}

func TestPartialStatusFailsFast(t *testing.T) {
	tor := New(Fields{Status: pausedOnly{paused: true}})
	assert.Equal(t, ColorGrey, tor.StatusColor(), "paused short-circuits before any missing predicate")

	tor.Status = pausedOnly{paused: false}

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		tor.StatusColor()
	}()

	err, ok := recovered.(error)
	require.True(t, ok)
	assert.True(t, errors.Is(err, ErrNotImplemented))
}
