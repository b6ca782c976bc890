// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"slices"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// maxFuzzyRank drops fuzzy matches whose edit distance makes them noise.
const maxFuzzyRank = 10

type searchMatch struct {
	torrent Torrent
	score   int
}

// Search returns the torrents matching query, best matches first. Exact
// substring hits on the decoded name or label rank above fuzzy hits on the
// cleaned name.
func Search(torrents []Torrent, query string) []Torrent {
	query = strings.TrimSpace(query)
	if query == "" {
		return torrents
	}

	needle := strings.ToLower(query)
	words := strings.Fields(needle)
	matches := make([]searchMatch, 0, len(torrents))

	for _, t := range torrents {
		decoded := strings.ToLower(textValue(t.Value(AttrDecodedName)))
		label := strings.ToLower(t.Label)

		if strings.Contains(decoded, needle) || strings.Contains(label, needle) || strings.EqualFold(t.Hash, query) {
			matches = append(matches, searchMatch{torrent: t, score: 0})
			continue
		}

		if len(words) > 1 && containsAll(decoded+" "+label, words) {
			matches = append(matches, searchMatch{torrent: t, score: 1})
			continue
		}

		cleaned := textValue(t.Value(AttrCleanedName))
		if cleaned != "" && fuzzy.MatchNormalizedFold(needle, cleaned) {
			if rank := fuzzy.RankMatchNormalizedFold(needle, cleaned); rank >= 0 && rank < maxFuzzyRank {
				matches = append(matches, searchMatch{torrent: t, score: 2 + rank})
			}
		}
	}

	slices.SortStableFunc(matches, func(a, b searchMatch) int {
		return a.score - b.score
	})

	out := make([]Torrent, len(matches))
	for i, m := range matches {
		out[i] = m.torrent
	}
	return out
}

func containsAll(haystack string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}
