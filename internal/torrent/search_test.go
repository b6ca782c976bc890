// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchFixture() []Torrent {
	return []Torrent{
		*New(Fields{Hash: "aaa", Name: "The.Show.S01E02.[GRP]", Label: "tv"}),
		*New(Fields{Hash: "bbb", Name: "Another.Film.2019", Label: "movies"}),
		*New(Fields{Hash: "ccc", Name: "Documentary_Nature", Label: "docs"}),
	}
}

func hashesOf(list []Torrent) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.Hash
	}
	return out
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "empty query keeps everything", query: "  ", want: []string{"aaa", "bbb", "ccc"}},
		{name: "substring of decoded name", query: "the show", want: []string{"aaa"}},
		{name: "label", query: "movies", want: []string{"bbb"}},
		{name: "hash", query: "CCC", want: []string{"ccc"}},
		{name: "words in any order", query: "film another", want: []string{"bbb"}},
		{name: "fuzzy on cleaned name", query: "documentry", want: []string{"ccc"}},
		{name: "no match", query: "zzzz", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hashesOf(Search(searchFixture(), tt.query)))
		})
	}
}

func TestTrackerDomain(t *testing.T) {
	tests := []struct {
		announce string
		want     string
	}{
		{announce: "https://tracker.example.co.uk:443/announce", want: "example.co.uk"},
		{announce: "udp://open.tracker.org:1337", want: "tracker.org"},
		{announce: "http://localhost:6969/announce", want: "localhost"},
		{announce: "", want: ""},
		{announce: "not a url", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.announce, func(t *testing.T) {
			assert.Equal(t, tt.want, TrackerDomain(tt.announce))
		})
	}
}

func TestTrackerDomainsAndLabels(t *testing.T) {
	list := []Torrent{
		*New(Fields{Hash: "a", Label: "tv", Props: &Props{Trackers: "https://a.example.com/ann\r\nhttps://b.example.com/ann"}}),
		*New(Fields{Hash: "b", Label: "tv", Props: &Props{Trackers: "udp://other.net:80"}}),
		*New(Fields{Hash: "c"}),
	}

	assert.Equal(t, map[string]int{"example.com": 1, "other.net": 1}, TrackerDomains(list))
	assert.Equal(t, map[string]int{"tv": 2}, LabelCounts(list))
}

func TestRelease(t *testing.T) {
	tor := New(Fields{Name: "The.Show.S01E02.1080p.WEB-DL.x264-GRP"})
	rel := tor.Release()

	assert.Equal(t, 1, rel.Series)
	assert.Equal(t, 2, rel.Episode)
	assert.Equal(t, "1080p", rel.Resolution)
}

func TestView(t *testing.T) {
	tor := New(Fields{
		Hash:              "abc",
		Name:              "Some.Name",
		Percent:           1000,
		TorrentQueueOrder: Int64(-1),
		Status:            fakeStatus{seeding: true, completed: true},
	})
	tor.Selected = true

	v := tor.View()
	require.NotNil(t, v.DecodedName)
	assert.Equal(t, "Some Name", *v.DecodedName)
	assert.Equal(t, "100%", v.PercentStr)
	assert.Equal(t, "*", v.QueueStr)
	assert.Equal(t, "", v.QueueText)
	assert.Equal(t, ColorOrange, v.StatusColor)
	assert.Equal(t, TextSeeding, v.State)
	assert.Equal(t, "magnet:?xt=urn:btih:abc", v.Magnet)
	assert.True(t, v.Selected)
}

func TestViewRelease(t *testing.T) {
	tor := New(Fields{
		Hash:   "abc",
		Name:   "The.Show.S01E02.1080p.WEB-DL.x264-GRP",
		Status: fakeStatus{downloading: true},
	})

	v := tor.View()
	assert.Equal(t, 1, v.Release.Series)
	assert.Equal(t, 2, v.Release.Episode)
	assert.Equal(t, "1080p", v.Release.Resolution)
	assert.Equal(t, "GRP", v.Release.Group)
}
