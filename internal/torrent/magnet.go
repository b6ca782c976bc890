// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"strconv"
	"strings"
)

const magnetPrefix = "magnet:?xt=urn:btih:"

// MagnetURI builds a magnet link from the torrent hash. The long form adds the
// display name, the exact length and one tracker parameter per known tracker.
func (t *Torrent) MagnetURI(long bool) string {
	var b strings.Builder
	b.WriteString(magnetPrefix)
	b.WriteString(t.Hash)

	if !long {
		return b.String()
	}

	b.WriteString("&dn=")
	b.WriteString(EncodeURIComponent(t.Name))
	b.WriteString("&xl=")
	b.WriteString(EncodeURIComponent(strconv.FormatInt(t.Size, 10)))

	if t.Props != nil && t.Props.Trackers != "" {
		for _, tracker := range strings.Split(t.Props.Trackers, "\r\n") {
			if tracker == "" {
				continue
			}
			b.WriteString("&tr=")
			b.WriteString(EncodeURIComponent(tracker))
		}
	}

	return b.String()
}

const upperHex = "0123456789ABCDEF"

// EncodeURIComponent percent-encodes s the way browsers do for URI
// components: only A-Z a-z 0-9 and - _ . ! ~ * ' ( ) are left as is.
func EncodeURIComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&15])
	}
	return b.String()
}

func isUnreservedComponent(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
