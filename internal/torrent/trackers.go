// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// TrackerList splits Props.Trackers into its non-empty lines.
func (t *Torrent) TrackerList() []string {
	if t.Props == nil || t.Props.Trackers == "" {
		return nil
	}

	var out []string
	for _, line := range strings.Split(t.Props.Trackers, "\r\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// TrackerDomain reduces an announce URL to its registrable domain, e.g.
// "https://tracker.example.co.uk:443/announce" becomes "example.co.uk".
func TrackerDomain(announce string) string {
	u, err := url.Parse(strings.TrimSpace(announce))
	if err != nil || u.Hostname() == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// TrackerDomains counts torrents per tracker domain.
func TrackerDomains(torrents []Torrent) map[string]int {
	counts := make(map[string]int)
	for i := range torrents {
		seen := make(map[string]struct{})
		for _, tracker := range torrents[i].TrackerList() {
			domain := TrackerDomain(tracker)
			if domain == "" {
				continue
			}
			if _, dup := seen[domain]; dup {
				continue
			}
			seen[domain] = struct{}{}
			counts[domain]++
		}
	}
	return counts
}

// LabelCounts counts torrents per non-empty label.
func LabelCounts(torrents []Torrent) map[string]int {
	counts := make(map[string]int)
	for i := range torrents {
		if torrents[i].Label != "" {
			counts[torrents[i].Label]++
		}
	}
	return counts
}
