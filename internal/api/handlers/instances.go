// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/models"
	"github.com/electorrent/electorrent/internal/torrent"
)

type InstancesHandler struct {
	instanceStore *models.InstanceStore
	errorStore    *models.InstanceErrorStore
	clientPool    *clients.Pool
	syncManager   *clients.SyncManager
}

func NewInstancesHandler(instanceStore *models.InstanceStore, errorStore *models.InstanceErrorStore, clientPool *clients.Pool, syncManager *clients.SyncManager) *InstancesHandler {
	return &InstancesHandler{
		instanceStore: instanceStore,
		errorStore:    errorStore,
		clientPool:    clientPool,
		syncManager:   syncManager,
	}
}

// InstanceRequest is the body of create and update calls. On update an empty
// or redacted password keeps the stored one, and a present but empty basic
// auth field clears it.
type InstanceRequest struct {
	Name          string       `json:"name"`
	Kind          backend.Kind `json:"kind"`
	Host          string       `json:"host"`
	Username      string       `json:"username"`
	Password      string       `json:"password"`
	BasicUsername *string      `json:"basicUsername,omitempty"`
	BasicPassword *string      `json:"basicPassword,omitempty"`
	TLSSkipVerify *bool        `json:"tlsSkipVerify,omitempty"`
}

func (req InstanceRequest) params() models.InstanceParams {
	return models.InstanceParams{
		Name:          req.Name,
		Kind:          req.Kind,
		Host:          req.Host,
		Username:      req.Username,
		Password:      req.Password,
		BasicUsername: req.BasicUsername,
		BasicPassword: req.BasicPassword,
		TLSSkipVerify: req.TLSSkipVerify,
	}
}

// InstanceResponse is an instance with its connection state. Secrets are
// never included.
type InstanceResponse struct {
	ID               int                      `json:"id"`
	Name             string                   `json:"name"`
	Kind             backend.Kind             `json:"kind"`
	Host             string                   `json:"host"`
	Username         string                   `json:"username"`
	BasicUsername    *string                  `json:"basicUsername,omitempty"`
	TLSSkipVerify    bool                     `json:"tlsSkipVerify"`
	SortOrder        int                      `json:"sortOrder"`
	IsActive         bool                     `json:"isActive"`
	Connected        bool                     `json:"connected"`
	ConnectionStatus clients.ConnectionStatus `json:"connectionStatus"`
	LastError        string                   `json:"lastError,omitempty"`
	RecentErrors     []models.InstanceError   `json:"recentErrors,omitempty"`
}

// InstanceStatusResponse backs the settings page connection error.
type InstanceStatusResponse struct {
	clients.InstanceState
	Connected    bool                   `json:"connected"`
	RecentErrors []models.InstanceError `json:"recentErrors"`
}

type UpdateInstanceStatusRequest struct {
	IsActive bool `json:"isActive"`
}

type TestConnectionResponse struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type DeleteInstanceResponse struct {
	Message string `json:"message"`
}

// LabelsResponse lists an instance's labels with the number of torrents
// carrying each one.
type LabelsResponse struct {
	Labels []string       `json:"labels"`
	Counts map[string]int `json:"counts"`
}

type TrackersResponse struct {
	Domains map[string]int `json:"domains"`
}

func (h *InstancesHandler) buildInstanceResponse(ctx context.Context, instance *models.Instance) InstanceResponse {
	state := h.syncManager.State(instance.ID)

	client, _ := h.clientPool.GetClientOffline(instance.ID)
	healthy := instance.IsActive && client != nil && client.IsHealthy()

	response := InstanceResponse{
		ID:               instance.ID,
		Name:             instance.Name,
		Kind:             instance.Kind,
		Host:             instance.Host,
		Username:         instance.Username,
		BasicUsername:    instance.BasicUsername,
		TLSSkipVerify:    instance.TLSSkipVerify,
		SortOrder:        instance.SortOrder,
		IsActive:         instance.IsActive,
		Connected:        healthy,
		ConnectionStatus: state.Status,
		LastError:        state.LastError,
	}
	if !instance.IsActive {
		response.ConnectionStatus = clients.StatusDisabled
		response.LastError = ""
	}

	if instance.IsActive && !healthy {
		recentErrors, err := h.errorStore.GetRecentErrors(ctx, instance.ID, 5)
		if err != nil {
			log.Error().Err(err).Int("instanceID", instance.ID).Msg("Failed to get recent errors")
		} else {
			response.RecentErrors = recentErrors
		}
	}

	return response
}

// connectAsync logs in to a new or edited instance in the background so the
// request returns right away.
func (h *InstancesHandler) connectAsync(instanceID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.syncManager.SyncInstance(ctx, instanceID); err != nil {
		log.Warn().Err(err).Int("instanceID", instanceID).Msg("Initial connection failed")
		return
	}
	log.Debug().Int("instanceID", instanceID).Msg("Instance connected")
}

func respondInstanceStoreError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, models.ErrInstanceNotFound):
		RespondError(w, http.StatusNotFound, "Instance not found")
	case errors.Is(err, models.ErrInvalidInstance), errors.Is(err, backend.ErrUnknownKind):
		RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("action", action).Msg("Instance store failure")
		RespondError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

// ListInstances returns all instances
func (h *InstancesHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.instanceStore.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list instances")
		RespondError(w, http.StatusInternalServerError, "Failed to list instances")
		return
	}

	response := make([]InstanceResponse, 0, len(instances))
	for _, instance := range instances {
		response = append(response, h.buildInstanceResponse(r.Context(), instance))
	}

	RespondJSON(w, http.StatusOK, response)
}

// CreateInstance stores a new instance. The kind defaults to qBittorrent.
func (h *InstancesHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req InstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" || req.Host == "" {
		RespondError(w, http.StatusBadRequest, "Name and host are required")
		return
	}
	if req.Kind == "" {
		req.Kind = backend.KindQBittorrent
	}

	instance, err := h.instanceStore.Create(r.Context(), req.params())
	if err != nil {
		respondInstanceStoreError(w, err, "create instance")
		return
	}

	go h.connectAsync(instance.ID)

	RespondJSON(w, http.StatusCreated, h.buildInstanceResponse(r.Context(), instance))
}

// UpdateInstance edits an instance and drops its pooled connection.
func (h *InstancesHandler) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req InstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" || req.Host == "" {
		RespondError(w, http.StatusBadRequest, "Name and host are required")
		return
	}

	instance, err := h.instanceStore.Update(r.Context(), instanceID, req.params())
	if err != nil {
		respondInstanceStoreError(w, err, "update instance")
		return
	}

	// The registry may belong to a different backend now.
	h.syncManager.Forget(instanceID)
	if instance.IsActive {
		go h.connectAsync(instance.ID)
	}

	RespondJSON(w, http.StatusOK, h.buildInstanceResponse(r.Context(), instance))
}

func (h *InstancesHandler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	if err := h.instanceStore.Delete(r.Context(), instanceID); err != nil {
		respondInstanceStoreError(w, err, "delete instance")
		return
	}

	h.syncManager.Forget(instanceID)

	RespondJSON(w, http.StatusOK, DeleteInstanceResponse{Message: "Instance deleted successfully"})
}

// UpdateInstanceStatus toggles whether an instance is polled.
func (h *InstancesHandler) UpdateInstanceStatus(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req UpdateInstanceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	instance, err := h.instanceStore.SetActiveState(r.Context(), instanceID, req.IsActive)
	if err != nil {
		respondInstanceStoreError(w, err, "update instance status")
		return
	}

	if req.IsActive {
		h.clientPool.ResetFailureTracking(instanceID)
		go h.connectAsync(instanceID)
	} else {
		h.syncManager.Forget(instanceID)
	}

	RespondJSON(w, http.StatusOK, h.buildInstanceResponse(r.Context(), instance))
}

// GetInstanceStatus returns the last sync state and recent connection errors.
func (h *InstancesHandler) GetInstanceStatus(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.instanceStore.Get(r.Context(), instanceID)
	if err != nil {
		respondInstanceStoreError(w, err, "get instance")
		return
	}

	state := h.syncManager.State(instanceID)
	state.Name = instance.Name
	state.Kind = instance.Kind
	if !instance.IsActive {
		state.Status = clients.StatusDisabled
	}

	recentErrors, err := h.errorStore.GetRecentErrors(r.Context(), instanceID, 0)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("Failed to get recent errors")
		recentErrors = []models.InstanceError{}
	}

	RespondJSON(w, http.StatusOK, InstanceStatusResponse{
		InstanceState: state,
		Connected:     state.Status == clients.StatusConnected,
		RecentErrors:  recentErrors,
	})
}

// TestConnection connects to the instance now, bypassing any backoff.
func (h *InstancesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	h.clientPool.ResetFailureTracking(instanceID)

	if err := h.syncManager.SyncInstance(r.Context(), instanceID); err != nil {
		response := TestConnectionResponse{Connected: false, Error: err.Error()}
		if errors.Is(err, clients.ErrInstanceDisabled) {
			response.Message = "Instance is disabled"
		}
		RespondJSON(w, http.StatusOK, response)
		return
	}

	RespondJSON(w, http.StatusOK, TestConnectionResponse{Connected: true, Message: "Connection successful"})
}

// GetInstanceCapabilities reports the backend's features and upload options.
func (h *InstancesHandler) GetInstanceCapabilities(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	features, upload, err := h.syncManager.Capabilities(ctx, instanceID)
	if err != nil {
		respondClientError(w, err, instanceID, "instances:getCapabilities")
		return
	}

	var version string
	if client, err := h.clientPool.GetClientOffline(instanceID); err == nil {
		version = client.BackendVersion()
	}

	RespondJSON(w, http.StatusOK, NewInstanceCapabilitiesResponse(features, upload, version))
}

func (h *InstancesHandler) GetLabels(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	labels, err := h.syncManager.Labels(r.Context(), instanceID)
	if err != nil {
		respondClientError(w, err, instanceID, "instances:getLabels")
		return
	}
	if labels == nil {
		labels = []string{}
	}

	counts := torrent.LabelCounts(h.syncManager.Registry(instanceID).List())
	for _, label := range labels {
		if _, ok := counts[label]; !ok {
			counts[label] = 0
		}
	}

	RespondJSON(w, http.StatusOK, LabelsResponse{Labels: labels, Counts: counts})
}

// GetTrackers groups the instance's torrents by tracker domain.
func (h *InstancesHandler) GetTrackers(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	domains, err := h.syncManager.TrackerDomains(ctx, instanceID)
	if err != nil {
		respondClientError(w, err, instanceID, "instances:getTrackers")
		return
	}

	RespondJSON(w, http.StatusOK, TrackersResponse{Domains: domains})
}
