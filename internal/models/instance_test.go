// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "electorrent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T) (*InstanceStore, *database.DB) {
	t.Helper()
	db := newTestDB(t)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	store, err := NewInstanceStore(db.Conn(), key)
	require.NoError(t, err)
	return store, db
}

func ptr[T any](v T) *T { return &v }

func TestHostValidation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "url with port", input: "http://localhost:8080", expected: "http://localhost:8080"},
		{name: "https with path", input: "https://example.com:9091/transmission/rpc", expected: "https://example.com:9091/transmission/rpc"},
		{name: "bare host and port", input: "localhost:9091", expected: "http://localhost:9091"},
		{name: "whitespace", input: "  http://localhost:8080  ", expected: "http://localhost:8080"},
		{name: "ipv6", input: "[2001:db8::1]:8080", expected: "http://[2001:db8::1]:8080"},
		{name: "bare hostname", input: "localhost", expected: "http://localhost"},
		{name: "ftp scheme", input: "ftp://localhost:8080", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "scheme only", input: "http://", wantErr: true},
		{name: "javascript", input: "javascript:alert(1)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateAndNormalizeHost(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInstance)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestInstanceStoreLifecycle(t *testing.T) {
	ctx := t.Context()
	store, _ := newTestStore(t)

	created, err := store.Create(ctx, InstanceParams{
		Name:     "seedbox",
		Kind:     backend.KindQBittorrent,
		Host:     "localhost:8080",
		Username: "admin",
		Password: "adminadmin",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", created.Host)
	assert.Equal(t, backend.KindQBittorrent, created.Kind)
	assert.True(t, created.IsActive)
	assert.Equal(t, 0, created.SortOrder)
	assert.NotEqual(t, "adminadmin", created.PasswordEncrypted)

	password, err := store.GetDecryptedPassword(created)
	require.NoError(t, err)
	assert.Equal(t, "adminadmin", password)

	second, err := store.Create(ctx, InstanceParams{
		Name:          "daemon",
		Kind:          backend.KindTransmission,
		Host:          "https://tr.example.com/transmission/rpc",
		BasicUsername: ptr("proxy"),
		BasicPassword: ptr("secret"),
		TLSSkipVerify: ptr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, second.SortOrder)
	assert.Equal(t, "", second.Username)
	require.NotNil(t, second.BasicUsername)
	assert.Equal(t, "proxy", *second.BasicUsername)
	assert.True(t, second.TLSSkipVerify)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "seedbox", list[0].Name)

	byName, err := store.GetByName(ctx, "DAEMON")
	require.NoError(t, err)
	assert.Equal(t, second.ID, byName.ID)

	updated, err := store.Update(ctx, created.ID, InstanceParams{
		Name:          "seedbox-renamed",
		Host:          "http://localhost:8081",
		Username:      "admin",
		TLSSkipVerify: ptr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "seedbox-renamed", updated.Name)
	assert.Equal(t, backend.KindQBittorrent, updated.Kind)
	assert.True(t, updated.TLSSkipVerify)

	// Empty password on update keeps the stored one.
	password, err = store.GetDecryptedPassword(updated)
	require.NoError(t, err)
	assert.Equal(t, "adminadmin", password)

	cleared, err := store.Update(ctx, second.ID, InstanceParams{
		Name:          "daemon",
		Host:          second.Host,
		BasicUsername: ptr(""),
		BasicPassword: ptr(""),
	})
	require.NoError(t, err)
	assert.Nil(t, cleared.BasicUsername)
	assert.Nil(t, cleared.BasicPasswordEncrypted)

	disabled, err := store.SetActiveState(ctx, created.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.IsActive)

	require.NoError(t, store.Delete(ctx, created.ID))
	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	assert.ErrorIs(t, store.Delete(ctx, created.ID), ErrInstanceNotFound)
}

func TestInstanceStoreRejectsUnknownKind(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Create(t.Context(), InstanceParams{Name: "x", Kind: "deluge", Host: "localhost"})
	assert.ErrorIs(t, err, backend.ErrUnknownKind)
}

func TestBackendConfig(t *testing.T) {
	ctx := t.Context()
	store, _ := newTestStore(t)

	instance, err := store.Create(ctx, InstanceParams{
		Name:          "proxied",
		Kind:          backend.KindTransmission,
		Host:          "localhost:9091",
		Username:      "admin",
		Password:      "admin",
		BasicUsername: ptr("nginx"),
		BasicPassword: ptr("hunter2"),
	})
	require.NoError(t, err)

	cfg, err := store.BackendConfig(instance, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, backend.KindTransmission, cfg.Kind)
	assert.Equal(t, "admin", cfg.Password)
	require.NotNil(t, cfg.BasicPassword)
	assert.Equal(t, "hunter2", *cfg.BasicPassword)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	// A different key cannot decrypt the stored secrets.
	other, err := NewInstanceStore(nil, make([]byte, 32))
	require.NoError(t, err)
	_, err = other.BackendConfig(instance, time.Second)
	assert.ErrorContains(t, err, "failed to decrypt password")
}

func TestInstanceJSONRedactsSecrets(t *testing.T) {
	instance := Instance{
		ID:                     3,
		Name:                   "box",
		Kind:                   backend.KindQBittorrent,
		Host:                   "http://box:8080",
		PasswordEncrypted:      "ciphertext",
		BasicPasswordEncrypted: ptr("basic-ciphertext"),
	}

	data, err := json.Marshal(instance)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ciphertext")
	assert.Contains(t, string(data), `"password":"<redacted>"`)

	var decoded Instance
	decoded.PasswordEncrypted = "kept"
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "kept", decoded.PasswordEncrypted)
	assert.Equal(t, backend.KindQBittorrent, decoded.Kind)
}

func TestInstanceErrorStore(t *testing.T) {
	ctx := t.Context()
	store, db := newTestStore(t)
	errorStore := NewInstanceErrorStore(db.Conn())

	instance, err := store.Create(ctx, InstanceParams{Name: "a", Kind: backend.KindQBittorrent, Host: "localhost"})
	require.NoError(t, err)

	require.NoError(t, errorStore.RecordError(ctx, instance.ID, fmt.Errorf("login: %w", backend.ErrUnauthorized)))
	// Same message within a minute is skipped.
	require.NoError(t, errorStore.RecordError(ctx, instance.ID, fmt.Errorf("login: %w", backend.ErrUnauthorized)))

	for i := range maxErrorsPerInstance + 2 {
		require.NoError(t, errorStore.RecordError(ctx, instance.ID, fmt.Errorf("dial tcp: connection refused #%d", i)))
	}

	recent, err := errorStore.GetRecentErrors(ctx, instance.ID, 0)
	require.NoError(t, err)
	require.Len(t, recent, maxErrorsPerInstance)
	assert.Equal(t, "connection", recent[0].ErrorType)
	assert.Contains(t, recent[0].ErrorMessage, fmt.Sprintf("#%d", maxErrorsPerInstance+1))

	require.NoError(t, errorStore.ClearErrors(ctx, instance.ID))
	recent, err = errorStore.GetRecentErrors(ctx, instance.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)

	// Deleting the instance cascades.
	require.NoError(t, errorStore.RecordError(ctx, instance.ID, errors.New("boom")))
	require.NoError(t, store.Delete(ctx, instance.ID))
	recent, err = errorStore.GetRecentErrors(ctx, instance.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{err: backend.ErrUnauthorized, expected: "authentication"},
		{err: errors.New("cipher: message authentication failed"), expected: "decryption"},
		{err: errors.New("context deadline exceeded"), expected: "connection"},
		{err: errors.New("something odd"), expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyError(tt.err))
		})
	}
}
