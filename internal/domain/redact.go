// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

const redactedPrefix = "<redacted"

// RedactString masks a secret for API responses while keeping its presence
// visible.
func RedactString(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

// IsRedactedString reports whether s is a value produced by RedactString, so
// updates that echo it back can keep the stored secret.
func IsRedactedString(s string) bool {
	return strings.HasPrefix(s, redactedPrefix)
}
