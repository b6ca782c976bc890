// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"regexp"
	"strings"
)

var (
	nameSeparatorRe = regexp.MustCompile(`[._]`)
	bracketTagRe    = regexp.MustCompile(`(\[[^\]]*\])(.*)$`)

	episodeMarkerRe = regexp.MustCompile(`s?([0-9]{1,2})[x|e|-]([0-9]{1,2})`)
	releaseTagRe    = regexp.MustCompile(`(bdrip|brrip|cam|dttrip|dvdrip|dvdscr|dvd|fs|hdtv|hdtvrip|hq|pdtv|satrip|dvbrip|r5|r6|ts|tc|tvrip|vhsrip|vhsscr|ws|aac|ac3|dd|dsp|dts|lc|ld|md|mp3|xvid|720p|1080p|fs|internal|limited|proper|stv|subbed|tma|tnz|silent|tls|gbm|fsh|rev|trl|upz|unrated|webrip|ws|mkv|avi|mov|mp4|mp3|iso|x264|x265|h264|h265)`)
)

// decodeName turns separators into spaces and moves the first bracketed tag
// (usually the release group) behind the rest of the name.
func decodeName(name string) *string {
	if name == "" {
		return nil
	}

	decoded := nameSeparatorRe.ReplaceAllString(name, " ")

	if loc := bracketTagRe.FindStringSubmatchIndex(decoded); loc != nil {
		head := decoded[:loc[0]] + decoded[loc[4]:loc[5]]
		tag := decoded[loc[2]:loc[3]]
		if strings.HasSuffix(head, " ") {
			decoded = head + tag
		} else {
			decoded = head + " " + tag
		}
	}

	decoded = strings.TrimSpace(decoded)
	return &decoded
}

// cleanName produces a lowercase, tag-free form of a decoded name used for
// fuzzy matching. Lossy.
func cleanName(decoded string) *string {
	if decoded == "" {
		return nil
	}

	cleaned := strings.ToLower(decoded)
	if loc := episodeMarkerRe.FindStringIndex(cleaned); loc != nil {
		cleaned = cleaned[:loc[0]] + cleaned[loc[1]:]
	}
	cleaned = releaseTagRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	return &cleaned
}
