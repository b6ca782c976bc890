// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryApply(t *testing.T) {
	r := NewRegistry()

	res := r.Apply([]Fields{
		{Hash: "a", Name: "First", Label: "movies"},
		{Hash: "b", Name: "Second"},
		{Hash: "", Name: "ignored"},
	})
	assert.Equal(t, ApplyResult{Added: 2}, res)
	assert.Equal(t, 2, r.Len())

	require.True(t, r.SetSelected("a", true))
	require.True(t, r.SetStarred("a", true))
	assert.False(t, r.SetSelected("missing", true))

	res = r.Apply([]Fields{
		{Hash: "a", Name: "First", Label: "tv", ETA: Int64(12)},
		{Hash: "c", Name: "Third"},
	})
	assert.Equal(t, ApplyResult{Added: 1, Updated: 1, Removed: 1}, res)

	a, ok := r.Get("a")
	require.True(t, ok)
	assert.True(t, a.Selected)
	assert.True(t, a.IsStarred)
	assert.Equal(t, "tv", a.Label)
	assert.Equal(t, int64(12), *a.ETA)

	_, ok = r.Get("b")
	assert.False(t, ok)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Hash)
	assert.Equal(t, "c", list[1].Hash)
}

func TestRegistryApplyKeepsUnreportedOptionals(t *testing.T) {
	r := NewRegistry()
	r.Apply([]Fields{{Hash: "a", SeedsConnected: Int64(3), SeedsInSwarm: Int64(10)}})
	r.Apply([]Fields{{Hash: "a", SeedsConnected: Int64(4)}})

	a, _ := r.Get("a")
	assert.Equal(t, "4 of 10", a.SeedsText())
}

func TestRegistryMerge(t *testing.T) {
	r := NewRegistry()
	r.Apply([]Fields{{Hash: "a", Label: "old"}})

	assert.True(t, r.Merge("a", Update{Label: String("new")}))
	assert.False(t, r.Merge("zzz", Update{Label: String("new")}))

	a, _ := r.Get("a")
	assert.Equal(t, "new", a.Label)
}

func TestRegistryApplyKeepsLoadedTrackers(t *testing.T) {
	snapshot := []Fields{{Hash: "a", Name: "Some.Name", Size: 10}}

	r := NewRegistry()
	r.Apply(snapshot)
	require.True(t, r.Merge("a", Update{Props: &Props{Trackers: "http://a/announce\r\nhttp://b/announce\r\nudp://c:1"}}))
	r.Apply(snapshot)

	a, ok := r.Get("a")
	require.True(t, ok)
	magnet := a.MagnetURI(true)
	assert.Equal(t, 3, strings.Count(magnet, "&tr="))
	assert.Contains(t, magnet, "&tr=udp%3A%2F%2Fc%3A1")
	assert.Equal(t, []string{"http://a/announce", "http://b/announce", "udp://c:1"}, a.TrackerList())
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Apply([]Fields{{Hash: "a", Label: "x"}})

	a, _ := r.Get("a")
	a.Label = "mutated"

	again, _ := r.Get("a")
	assert.Equal(t, "x", again.Label)
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry()
	r.Apply([]Fields{{Hash: "a"}, {Hash: "b"}})
	r.Reset()

	assert.Zero(t, r.Len())
	assert.Empty(t, r.List())
}
