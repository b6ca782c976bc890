// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"github.com/electorrent/electorrent/internal/backend"
)

// InstanceCapabilitiesResponse describes supported features for an instance.
type InstanceCapabilitiesResponse struct {
	SupportsMagnetLinks           bool                  `json:"supportsMagnetLinks"`
	SupportsLabels                bool                  `json:"supportsLabels"`
	SupportsAdvancedUploadOptions bool                  `json:"supportsAdvancedUploadOptions"`
	UploadOptions                 backend.UploadOptions `json:"uploadOptions"`
	Version                       string                `json:"version,omitempty"`
}

// NewInstanceCapabilitiesResponse creates a response payload from a backend's
// advertised features.
func NewInstanceCapabilitiesResponse(features []backend.Feature, upload backend.UploadOptions, version string) InstanceCapabilitiesResponse {
	return InstanceCapabilitiesResponse{
		SupportsMagnetLinks:           backend.HasFeature(features, backend.FeatureMagnetLinks),
		SupportsLabels:                backend.HasFeature(features, backend.FeatureLabels),
		SupportsAdvancedUploadOptions: backend.HasFeature(features, backend.FeatureAdvancedUploadOptions),
		UploadOptions:                 upload,
		Version:                       version,
	}
}
