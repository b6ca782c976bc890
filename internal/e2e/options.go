// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package e2e runs the acceptance suite against real backends in docker
// compose fixtures, driving an in-process electorrent server over its API.
package e2e

import (
	"fmt"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/electorrent/electorrent/internal/backend"
)

// Feature is an optional capability a suite may declare unsupported.
type Feature string

const (
	FeatureMagnetLinks           Feature = "magnetLinks"
	FeatureLabels                Feature = "labels"
	FeatureAdvancedUploadOptions Feature = "advancedUploadOptions"
)

// Options describe the backend under test and how to reach it.
type Options struct {
	Client  backend.Kind
	Fixture string
	Version string

	Username string
	Password string
	Host     string
	Port     int
	// ProxyPort is the backend port nginx forwards to. Zero means Port.
	ProxyPort int

	AcceptHTTPStatus int
	Timeout          time.Duration

	StopLabel     string
	DownloadLabel string

	UnsupportedFeatures []Feature
}

// WithDefaults returns a copy with every zero value filled in.
func (o Options) WithDefaults() Options {
	if o.Username == "" {
		o.Username = "admin"
	}
	if o.Password == "" {
		o.Password = "admin"
	}
	if o.Version == "" {
		o.Version = "latest"
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = 8080
	}
	if o.AcceptHTTPStatus == 0 {
		o.AcceptHTTPStatus = 200
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.StopLabel == "" {
		o.StopLabel = "Stopped"
	}
	if o.DownloadLabel == "" {
		o.DownloadLabel = "Downloading"
	}
	return o
}

// Supports reports whether f is not listed as unsupported.
func (o Options) Supports(f Feature) bool {
	return !slices.Contains(o.UnsupportedFeatures, f)
}

// ProxyTarget is the port nginx forwards TLS traffic to.
func (o Options) ProxyTarget() int {
	if o.ProxyPort != 0 {
		return o.ProxyPort
	}
	return o.Port
}

// BackendURL is the plain http address of the backend on the host.
func (o Options) BackendURL() string {
	return fmt.Sprintf("http://%s:%d", o.Host, o.Port)
}

// Name identifies the suite, e.g. "qbittorrent-4.6.7".
func (o Options) Name() string {
	return fmt.Sprintf("%s-%s", o.Client, o.Version)
}

// RequireFeature skips the calling test, and with it every nested subtest,
// when f is unsupported. Call it first in a group.
func RequireFeature(t testing.TB, opts Options, f Feature) {
	t.Helper()
	if !opts.Supports(f) {
		t.Skipf("%s does not support %s", opts.Name(), f)
	}
}

// RequireUploadOption skips a single test when the backend does not enable
// the named upload option.
func RequireUploadOption(t testing.TB, enabled bool, option string) {
	t.Helper()
	if !enabled {
		t.Skipf("upload option %s is not enabled", option)
	}
}

// cleanupEnabled reports whether compose stacks are torn down after a run.
func cleanupEnabled() bool {
	return os.Getenv("MOCHA_DOCKER_CLEANUP") != "" || os.Getenv("E2E_DOCKER_CLEANUP") != ""
}
