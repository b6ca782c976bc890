// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"cmp"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Compare orders two torrents, returning a negative number when a sorts
// before b.
type Compare func(a, b *Torrent) int

// Sort returns the comparator used for a column attribute. Name and label are
// compared alphabetically; everything else numerically with the largest
// value first.
//
// The returned comparator owns a collator and must not be shared between
// goroutines.
func Sort(attribute string) Compare {
	if Ascending(attribute) {
		return alphabetical(attribute)
	}
	return numerical(attribute)
}

// Ascending reports whether Sort orders attribute smallest first.
func Ascending(attribute string) bool {
	return attribute == AttrDecodedName || attribute == AttrLabel
}

func alphabetical(attribute string) Compare {
	collator := collate.New(language.Und)
	return func(a, b *Torrent) int {
		return collator.CompareString(
			strings.ToLower(textValue(a.Value(attribute))),
			strings.ToLower(textValue(b.Value(attribute))),
		)
	}
}

func numerical(attribute string) Compare {
	return func(a, b *Torrent) int {
		return cmp.Compare(numberValue(b.Value(attribute)), numberValue(a.Value(attribute)))
	}
}

func textValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	}
	return ""
}

func numberValue(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return 0
}
