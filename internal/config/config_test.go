// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electorrent/electorrent/internal/domain"
)

func writeConfig(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDatabasePathResolution(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tmpDir string) (configPath string, envDataDir string, expectedDBPath string)
	}{
		{
			name: "default_next_to_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := writeConfig(t, filepath.Join(tmpDir, "config.toml"), "sessionSecret = \"s\"\n")
				return configPath, "", filepath.Join(tmpDir, "electorrent.db")
			},
		},
		{
			name: "data_dir_in_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				dataDir := filepath.Join(tmpDir, "data")
				content := fmt.Sprintf("sessionSecret = \"s\"\ndataDir = %q\n", dataDir)
				configPath := writeConfig(t, filepath.Join(tmpDir, "config.toml"), content)
				return configPath, "", filepath.Join(dataDir, "electorrent.db")
			},
		},
		{
			name: "env_overrides_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				envDataDir := filepath.Join(tmpDir, "env-data")
				content := fmt.Sprintf("sessionSecret = \"s\"\ndataDir = %q\n", filepath.Join(tmpDir, "config-data"))
				configPath := writeConfig(t, filepath.Join(tmpDir, "config.toml"), content)
				return configPath, envDataDir, filepath.Join(envDataDir, "electorrent.db")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath, envValue, expectedDBPath := tt.prepare(t, tmpDir)
			if envValue != "" {
				t.Setenv(envPrefix+"DATA_DIR", envValue)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, filepath.Clean(expectedDBPath), filepath.Clean(cfg.GetDatabasePath()))
		})
	}
}

func TestNewWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := New(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.Equal(t, 7580, cfg.Config.Port)
	assert.Equal(t, 2*time.Second, cfg.Config.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Config.RequestTimeout)
	assert.Len(t, cfg.Config.SessionSecret, encryptionKeySize*2)
	assert.Equal(t, "dev", cfg.Config.Version)

	// A second load keeps the generated secret.
	again, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Config.SessionSecret, again.Config.SessionSecret)
}

func TestPollIntervalClamped(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{name: "too_small", value: "10ms", expected: minimumPollInterval},
		{name: "allowed", value: "5s", expected: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := fmt.Sprintf("sessionSecret = \"s\"\npollInterval = %q\n", tt.value)
			configPath := writeConfig(t, filepath.Join(t.TempDir(), "config.toml"), content)

			cfg, err := New(configPath)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.Config.PollInterval)
		})
	}
}

func TestGenerateSecureTokenHexOutput(t *testing.T) {
	for _, length := range []int{32, 8} {
		t.Run(fmt.Sprintf("%d_bytes", length), func(t *testing.T) {
			token, err := generateSecureToken(length)
			require.NoError(t, err)

			assert.Len(t, token, length*2)
			_, err = hex.DecodeString(token)
			require.NoError(t, err)
		})
	}
}

func TestGetEncryptionKey(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{name: "truncates_long_secret", secret: strings.Repeat("a", encryptionKeySize+8)},
		{name: "pads_short_secret", secret: "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &AppConfig{Config: &domain.Config{SessionSecret: tt.secret}}

			key := cfg.GetEncryptionKey()
			require.Len(t, key, encryptionKeySize)

			if len(tt.secret) >= encryptionKeySize {
				assert.Equal(t, []byte(tt.secret[:encryptionKeySize]), key)
			} else {
				expected := make([]byte, encryptionKeySize)
				copy(expected, []byte(tt.secret))
				assert.Equal(t, expected, key)
			}
		})
	}
}

func TestConfigPathResolution(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		setupFile      bool
		fileIsDir      bool
		expectedSuffix string
	}{
		{name: "toml_extension", input: "custom.toml", expectedSuffix: "custom.toml"},
		{name: "uppercase_extension", input: "CONFIG.TOML", expectedSuffix: "CONFIG.TOML"},
		{name: "missing_directory", input: "config", expectedSuffix: "config.toml"},
		{name: "existing_file", input: "configfile", setupFile: true, expectedSuffix: "configfile"},
		{name: "existing_directory", input: "configdir", setupFile: true, fileIsDir: true, expectedSuffix: "config.toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputPath := filepath.Join(t.TempDir(), tt.input)

			if tt.setupFile {
				if tt.fileIsDir {
					require.NoError(t, os.MkdirAll(inputPath, 0o755))
				} else {
					require.NoError(t, os.WriteFile(inputPath, []byte("x"), 0o644))
				}
			}

			c := &AppConfig{}
			result := c.resolveConfigPath(inputPath)
			assert.True(t, strings.HasSuffix(result, tt.expectedSuffix), "%s should end with %s", result, tt.expectedSuffix)
		})
	}
}

func TestBindOrReadFromFile(t *testing.T) {
	tests := []struct {
		name          string
		envValue      string
		fileValue     string
		expectedValue string
	}{
		{name: "file_only", fileValue: "key-from-file\n", expectedValue: "key-from-file"},
		{name: "env_only", envValue: "key-from-env", expectedValue: "key-from-env"},
		{name: "file_wins", envValue: "key-from-env", fileValue: "key-from-file", expectedValue: "key-from-file"},
		{name: "neither", expectedValue: "from-config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			envVar := envPrefix + "SESSION_SECRET"

			if tt.envValue != "" {
				t.Setenv(envVar, tt.envValue)
			}
			if tt.fileValue != "" {
				keyFile := writeConfig(t, filepath.Join(tmpDir, "key.txt"), tt.fileValue)
				t.Setenv(envVar+"_FILE", keyFile)
			}

			configPath := writeConfig(t, filepath.Join(tmpDir, "config.toml"), "sessionSecret = \"from-config\"\n")
			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedValue, cfg.Config.SessionSecret)
		})
	}
}

func TestReloadListenersReceiveCopy(t *testing.T) {
	c := &AppConfig{Config: &domain.Config{Port: 1}}

	var got *domain.Config
	c.RegisterReloadListener(func(cfg *domain.Config) {
		got = cfg
		cfg.Port = 99
	})

	c.notifyListeners()

	require.NotNil(t, got)
	assert.Equal(t, 99, got.Port)
	assert.Equal(t, 1, c.Config.Port)
}

func TestIsDevBuild(t *testing.T) {
	assert.True(t, isDevBuild(""))
	assert.True(t, isDevBuild("dev"))
	assert.True(t, isDevBuild("1.2.0-dev"))
	assert.False(t, isDevBuild("1.2.0"))
}
