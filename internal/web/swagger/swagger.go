// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package swagger serves the embedded OpenAPI document and a Swagger UI page.
package swagger

import (
	_ "embed"
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiYAML []byte

//go:embed index.html
var swaggerHTML string

type Handler struct {
	spec    map[string]any
	baseURL string
}

// NewHandler parses the embedded document. baseURL is the prefix the API is
// mounted under.
func NewHandler(baseURL string) (*Handler, error) {
	if len(openapiYAML) == 0 {
		return nil, nil
	}

	var spec map[string]any
	if err := yaml.Unmarshal(openapiYAML, &spec); err != nil {
		return nil, err
	}

	return &Handler{
		spec:    spec,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// RegisterRoutes adds /docs and /openapi.json to the API router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/docs", h.ServeSwaggerUI)
	r.Get("/openapi.json", h.ServeOpenAPISpec)
}

func (h *Handler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(strings.ReplaceAll(swaggerHTML, "{{OPENAPI_URL}}", h.baseURL+"/api/openapi.json")))
}

func GetOpenAPISpec() ([]byte, error) {
	if len(openapiYAML) == 0 {
		return nil, nil
	}
	return openapiYAML, nil
}

// ServeOpenAPISpec returns the document as JSON with the requesting host
// listed first under servers.
func (h *Handler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := maps.Clone(h.spec)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	servers := []any{
		map[string]any{
			"url":         scheme + "://" + r.Host + h.baseURL,
			"description": "Current server",
		},
	}
	if existing, ok := spec["servers"].([]any); ok {
		servers = append(servers, existing...)
	}
	spec["servers"] = servers

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
