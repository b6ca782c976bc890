// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backend defines the contract every torrent client backend
// implements. Backends report raw torrent.Fields and a torrent.Status
// variant; all display logic stays in the torrent package.
package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/electorrent/electorrent/internal/torrent"
)

var (
	ErrUnsupported     = errors.New("operation not supported by backend")
	ErrUnknownKind     = errors.New("unknown backend kind")
	ErrTorrentNotFound = errors.New("torrent not found")
	ErrUnauthorized    = errors.New("backend rejected credentials")
)

// Kind names a backend implementation.
type Kind string

const (
	KindQBittorrent  Kind = "qbittorrent"
	KindTransmission Kind = "transmission"
)

// Kinds lists every supported backend.
func Kinds() []Kind {
	return []Kind{KindQBittorrent, KindTransmission}
}

func (k Kind) Valid() bool {
	return slices.Contains(Kinds(), k)
}

// Feature is an optional capability a backend may lack.
type Feature string

const (
	FeatureMagnetLinks           Feature = "magnetLinks"
	FeatureLabels                Feature = "labels"
	FeatureAdvancedUploadOptions Feature = "advancedUploadOptions"
)

// AllFeatures lists every known feature.
func AllFeatures() []Feature {
	return []Feature{FeatureMagnetLinks, FeatureLabels, FeatureAdvancedUploadOptions}
}

// HasFeature reports whether f is in features.
func HasFeature(features []Feature, f Feature) bool {
	return slices.Contains(features, f)
}

// UploadOptions flags which add-time overrides a backend honours.
type UploadOptions struct {
	Category      bool `json:"category"`
	StartTorrent  bool `json:"startTorrent"`
	RenameTorrent bool `json:"renameTorrent"`
	SaveLocation  bool `json:"saveLocation"`
}

// AddOptions are the add-time overrides. Zero values leave the backend
// default in place.
type AddOptions struct {
	Label        string `json:"label,omitempty"`
	Start        *bool  `json:"start,omitempty"`
	Name         string `json:"name,omitempty"`
	SaveLocation string `json:"saveLocation,omitempty"`
}

// Validate rejects options the backend cannot honour instead of silently
// dropping them.
func (o AddOptions) Validate(supported UploadOptions) error {
	switch {
	case o.Label != "" && !supported.Category:
		return fmt.Errorf("%w: label on upload", ErrUnsupported)
	case o.Start != nil && !supported.StartTorrent:
		return fmt.Errorf("%w: start state on upload", ErrUnsupported)
	case o.Name != "" && !supported.RenameTorrent:
		return fmt.Errorf("%w: rename on upload", ErrUnsupported)
	case o.SaveLocation != "" && !supported.SaveLocation:
		return fmt.Errorf("%w: save location on upload", ErrUnsupported)
	}
	return nil
}

// Config describes how to reach one backend instance.
type Config struct {
	Kind          Kind
	Host          string
	Username      string
	Password      string
	BasicUsername *string
	BasicPassword *string
	TLSSkipVerify bool
	Timeout       time.Duration
}

// Client is implemented by every backend.
type Client interface {
	Kind() Kind
	Login(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	Features() []Feature
	UploadOptions() UploadOptions

	Torrents(ctx context.Context) ([]torrent.Fields, error)
	Trackers(ctx context.Context, hash string) ([]string, error)

	AddFile(ctx context.Context, data []byte, opts AddOptions) error
	AddMagnet(ctx context.Context, uri string, opts AddOptions) error
	Stop(ctx context.Context, hashes []string) error
	Resume(ctx context.Context, hashes []string) error
	Delete(ctx context.Context, hashes []string, deleteData bool) error

	SetLabel(ctx context.Context, hashes []string, label string) error
	Labels(ctx context.Context) ([]string, error)
}
