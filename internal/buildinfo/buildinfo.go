// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package buildinfo carries the version stamped in at link time.
package buildinfo

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X github.com/electorrent/electorrent/internal/buildinfo.Version=..."
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// String renders a single version line for the CLI.
func String() string {
	s := fmt.Sprintf("electorrent %s", Version)
	if Commit != "" {
		s += fmt.Sprintf(" (%s)", Commit)
	}
	if Date != "" {
		s += " built " + Date
	}
	return s + fmt.Sprintf(" %s/%s", runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent to backends that log client names.
func UserAgent() string {
	return "electorrent/" + Version
}
