// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/models"
)

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
	})
}

func parseInstanceID(w http.ResponseWriter, r *http.Request) (int, bool) {
	instanceID, err := strconv.Atoi(chi.URLParam(r, "instanceID"))
	if err != nil || instanceID <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid instance ID")
		return 0, false
	}
	return instanceID, true
}

func respondIfInstanceDisabled(w http.ResponseWriter, err error, instanceID int, action string) bool {
	if !errors.Is(err, clients.ErrInstanceDisabled) {
		return false
	}
	log.Debug().Int("instanceID", instanceID).Str("action", action).Msg("Request for disabled instance")
	RespondError(w, http.StatusConflict, "Instance is disabled")
	return true
}

// respondClientError maps pool and backend failures onto HTTP statuses.
func respondClientError(w http.ResponseWriter, err error, instanceID int, action string) {
	if respondIfInstanceDisabled(w, err, instanceID, action) {
		return
	}

	switch {
	case errors.Is(err, models.ErrInstanceNotFound):
		RespondError(w, http.StatusNotFound, "Instance not found")
	case errors.Is(err, backend.ErrTorrentNotFound):
		RespondError(w, http.StatusNotFound, "Torrent not found")
	case errors.Is(err, backend.ErrUnsupported):
		RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, clients.ErrInBackoff), errors.Is(err, backend.ErrUnauthorized):
		RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Int("instanceID", instanceID).Str("action", action).Msg("Backend request failed")
		RespondError(w, http.StatusBadGateway, "Backend request failed")
	}
}
