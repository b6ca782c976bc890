// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/torrent"
)

const (
	trackerAnnounce = "http://opentracker:6969/announce"
	tlsProxyPort    = 8443
	slowTorrentName = "slow.bin"
	slowTorrentMiB  = 64
)

// Suite runs every scenario against one backend fixture.
type Suite struct {
	Options Options
	// FixturesDir holds opentracker, nginx and the backend fixture dirs.
	FixturesDir string
}

type suiteEnv struct {
	opts      Options
	fixtures  string
	sharedDir string
	tracker   *Service
	backend   *Service
}

func cleanupService(t *testing.T, s *Service) {
	t.Cleanup(func() {
		if err := s.Down(context.Background()); err != nil {
			t.Logf("compose down: %v", err)
		}
	})
}

func upService(t *testing.T, dir string, env map[string]string, serviceName string, waits ...PortWait) *Service {
	t.Helper()

	svc, err := NewService(dir, env, serviceName)
	require.NoError(t, err)
	for _, w := range waits {
		svc.WaitForPort(w)
	}
	require.NoError(t, svc.Up(t.Context()))
	cleanupService(t, svc)
	return svc
}

// Run starts the fixtures in order and runs the scenarios as nested
// subtests. Parent fixtures stay up until all nested tests are done.
func (s Suite) Run(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e suite skipped in short mode")
	}

	opts := s.Options.WithDefaults()
	env := &suiteEnv{
		opts:      opts,
		fixtures:  s.FixturesDir,
		sharedDir: filepath.Join(s.FixturesDir, "opentracker", "data", "shared"),
	}

	t.Run("given "+opts.Name()+" service is running", func(t *testing.T) {
		env.tracker = upService(t, filepath.Join(env.fixtures, "opentracker"), nil, "peer",
			PortWait{Service: "opentracker", Port: "6969/tcp"})
		env.backend = upService(t, filepath.Join(env.fixtures, opts.Fixture), map[string]string{
			"VERSION": opts.Version,
		}, "")

		require.NoError(t, WaitForHTTP(t.Context(), opts.BackendURL(), opts.AcceptHTTPStatus, 20*time.Second))

		t.Run("given tls reverse proxy is running", env.runTLS)
		t.Run("given application is running", env.runLoggedIn)
		t.Run("given advanced upload options are supported", env.runAdvancedUpload)
	})
}

func (e *suiteEnv) startApp(t *testing.T) (*App, *Driver) {
	t.Helper()

	app, err := NewApp(AppOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, app.Start(t.Context()))
	t.Cleanup(func() {
		if err := app.Stop(); err != nil {
			t.Logf("stop application: %v", err)
		}
	})

	return app, NewDriver(app, e.opts)
}

func (e *suiteEnv) login(t *testing.T, d *Driver, login LoginOptions) {
	t.Helper()
	require.NoError(t, Retry(t.Context(), 3, func(ctx context.Context) error {
		if err := d.Login(ctx, login); err != nil {
			return err
		}
		if login.HTTPS {
			return nil
		}
		return d.TorrentsPageIsVisible(ctx)
	}))
}

func (e *suiteEnv) slowTorrent(t *testing.T) *TorrentFile {
	t.Helper()

	path := filepath.Join(e.sharedDir, slowTorrentName+".torrent")
	if _, err := os.Stat(path); err == nil {
		file, err := LoadTorrentFile(path)
		require.NoError(t, err)
		return file
	}

	file, err := CreateTorrentFile(e.sharedDir, TorrentFileOptions{
		Name:     slowTorrentName,
		SizeMiB:  slowTorrentMiB,
		Announce: trackerAnnounce,
	})
	require.NoError(t, err)
	return file
}

func (e *suiteEnv) runTLS(t *testing.T) {
	upService(t, filepath.Join(e.fixtures, "nginx"), map[string]string{
		// The backend service must be named after its fixture dir.
		"PROXY_HOST": filepath.Base(e.opts.Fixture),
		"PROXY_PORT": strconv.Itoa(e.opts.ProxyTarget()),
	}, "", PortWait{Service: "nginx", Port: nat.Port(fmt.Sprintf("%d/tcp", tlsProxyPort))})

	t.Run("given application is running", func(t *testing.T) {
		_, d := e.startApp(t)

		t.Run("user is logging in with https", func(t *testing.T) {
			e.login(t, d, LoginOptions{HTTPS: true, Port: tlsProxyPort})
			require.NoError(t, d.CertificateModalIsVisible(t.Context()))
		})

		t.Run("self signed certificate is accepted", func(t *testing.T) {
			require.NoError(t, d.AcceptCertificate(t.Context()))
			require.NoError(t, d.TorrentsPageIsVisible(t.Context()))
		})
	})
}

func (e *suiteEnv) runLoggedIn(t *testing.T) {
	app, d := e.startApp(t)

	t.Run("given user is logged in", func(t *testing.T) {
		e.login(t, d, LoginOptions{})

		t.Run("automatically connect when restarting app", func(t *testing.T) {
			require.NoError(t, app.Restart(t.Context()))
			require.NoError(t, d.TorrentsPageIsVisible(t.Context()))
		})

		t.Run("show settings when connection error after restarting app", func(t *testing.T) {
			ctx, cancel := context.WithTimeout(t.Context(), 25*time.Second)
			defer cancel()

			require.NoError(t, e.backend.Pause(ctx))
			unpaused := false
			t.Cleanup(func() {
				if !unpaused {
					_ = e.backend.Unpause(context.Background())
				}
			})

			require.NoError(t, app.Restart(ctx))
			require.NoError(t, d.SettingsPageIsVisible(ctx, 10*time.Second))
			require.NoError(t, d.SettingsPageConnectionIsVisible(ctx))

			require.NoError(t, e.backend.Unpause(ctx))
			unpaused = true

			require.NoError(t, app.Restart(ctx))
			require.NoError(t, d.TorrentsPageIsVisible(ctx))
		})

		t.Run("when a magnet link is uploaded", func(t *testing.T) {
			RequireFeature(t, e.opts, FeatureMagnetLinks)

			file := e.slowTorrent(t)
			tor, err := d.UploadMagnetLink(t.Context(), file)
			require.NoError(t, err)
			t.Cleanup(func() {
				if ok, _ := tor.IsExisting(context.Background()); ok {
					_ = tor.Delete(context.Background())
				}
			})

			t.Run("torrent should be visible in table", func(t *testing.T) {
				require.NoError(t, tor.WaitForExist(t.Context(), e.opts.Timeout))
			})

			t.Run("torrent should begin downloading", func(t *testing.T) {
				require.NoError(t, tor.WaitForState(t.Context(), e.opts.DownloadLabel, e.opts.Timeout))
			})
		})

		t.Run("given new torrent is uploaded", func(t *testing.T) {
			file := e.slowTorrent(t)
			tor, err := d.UploadTorrent(t.Context(), file, backend.AddOptions{})
			require.NoError(t, err)
			t.Cleanup(func() {
				_ = tor.Delete(context.Background())
			})

			e.runTorrentLifecycle(t, tor)
		})
	})
}

func (e *suiteEnv) runTorrentLifecycle(t *testing.T, tor *Torrent) {
	t.Run("torrent should be visible in table", func(t *testing.T) {
		require.NoError(t, tor.WaitForExist(t.Context(), e.opts.Timeout))
	})

	t.Run("wait for download to begin", func(t *testing.T) {
		require.NoError(t, tor.WaitForState(t.Context(), e.opts.DownloadLabel, e.opts.Timeout))
	})

	t.Run("torrent should be in downloading tab", func(t *testing.T) {
		require.NoError(t, tor.CheckInState(t.Context(), torrent.StateAll, torrent.StateDownloading))
	})

	t.Run("torrent is stopped and resumed", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 25*time.Second)
		defer cancel()

		require.NoError(t, tor.Stop(ctx))
		require.NoError(t, tor.WaitForState(ctx, e.opts.StopLabel, e.opts.Timeout))
		require.NoError(t, tor.CheckInState(ctx, torrent.StateAll, torrent.StateStopped))

		require.NoError(t, tor.Resume(ctx))
		require.NoError(t, tor.WaitForState(ctx, e.opts.DownloadLabel, e.opts.Timeout))
		require.NoError(t, tor.CheckInState(ctx, torrent.StateAll, torrent.StateDownloading))
	})

	t.Run("given labels are supported", func(t *testing.T) {
		RequireFeature(t, e.opts, FeatureLabels)
		d := tor.driver

		t.Run("apply new label", func(t *testing.T) {
			const label = "testlabel123"
			require.NoError(t, tor.NewLabel(t.Context(), label))
			require.NoError(t, d.WaitForLabelInDropdown(t.Context(), label))

			labels, err := d.SidebarLabels(t.Context())
			require.NoError(t, err)
			require.Len(t, labels, 1)
		})

		t.Run("apply another new label", func(t *testing.T) {
			const label = "someotherlabel123"
			require.NoError(t, tor.NewLabel(t.Context(), label))
			require.NoError(t, d.WaitForLabelInDropdown(t.Context(), label))
			require.NoError(t, tor.CheckInFilterLabel(t.Context(), label))

			labels, err := d.SidebarLabels(t.Context())
			require.NoError(t, err)
			require.Len(t, labels, 2)
		})

		t.Run("change back to previous label", func(t *testing.T) {
			const label = "testlabel123"
			require.NoError(t, tor.ChangeLabel(t.Context(), label))
			require.NoError(t, tor.CheckInFilterLabel(t.Context(), label))
		})
	})
}

func (e *suiteEnv) runAdvancedUpload(t *testing.T) {
	RequireFeature(t, e.opts, FeatureAdvancedUploadOptions)

	t.Run("given application is running", func(t *testing.T) {
		_, d := e.startApp(t)

		t.Run("given user is logged in", func(t *testing.T) {
			e.login(t, d, LoginOptions{})

			caps, err := d.Capabilities(t.Context())
			require.NoError(t, err)
			enabled := caps.UploadOptions

			freshTorrent := func(t *testing.T) *TorrentFile {
				t.Helper()
				file, err := CreateTorrentFile(e.sharedDir, TorrentFileOptions{SizeMiB: 1, Announce: trackerAnnounce})
				require.NoError(t, err)
				t.Cleanup(func() {
					_ = os.Remove(file.Path)
					_ = os.Remove(file.DataPath)
				})
				return file
			}

			t.Run("torrent uploaded with default options", func(t *testing.T) {
				tor, err := d.UploadTorrent(t.Context(), freshTorrent(t), backend.AddOptions{})
				require.NoError(t, err)
				require.NoError(t, tor.WaitForExist(t.Context(), e.opts.Timeout))
				require.NoError(t, tor.WaitForState(t.Context(), e.opts.DownloadLabel, e.opts.Timeout))
				require.NoError(t, tor.Delete(t.Context()))
			})

			t.Run("torrent uploaded with preexisting label", func(t *testing.T) {
				RequireUploadOption(t, enabled.Category, "category")
				const labelName = "mylabel#1"
				file := freshTorrent(t)

				tor, err := d.UploadTorrent(t.Context(), file, backend.AddOptions{})
				require.NoError(t, err)
				require.NoError(t, tor.WaitForExist(t.Context(), e.opts.Timeout))
				require.NoError(t, tor.NewLabel(t.Context(), labelName))
				require.NoError(t, tor.Delete(t.Context()))

				tor, err = d.UploadTorrent(t.Context(), file, backend.AddOptions{Label: labelName})
				require.NoError(t, err)
				require.NoError(t, tor.WaitForExist(t.Context(), e.opts.Timeout))
				label, err := tor.Label(t.Context())
				require.NoError(t, err)
				require.Equal(t, labelName, label)
				require.NoError(t, tor.Delete(t.Context()))
			})

			t.Run("torrent uploaded in stopped state", func(t *testing.T) {
				RequireUploadOption(t, enabled.StartTorrent, "startTorrent")
				start := false

				tor, err := d.UploadTorrent(t.Context(), freshTorrent(t), backend.AddOptions{Start: &start})
				require.NoError(t, err)
				require.NoError(t, tor.WaitForExist(t.Context(), e.opts.Timeout))
				require.NoError(t, tor.WaitForState(t.Context(), e.opts.StopLabel, e.opts.Timeout))
				require.NoError(t, tor.Delete(t.Context()))
			})

			t.Run("torrent uploaded with name", func(t *testing.T) {
				RequireUploadOption(t, enabled.RenameTorrent, "renameTorrent")
				const torrentName = "my awesome torrent"

				tor, err := d.UploadTorrent(t.Context(), freshTorrent(t), backend.AddOptions{Name: torrentName})
				require.NoError(t, err)
				require.NoError(t, tor.WaitForExist(t.Context(), e.opts.Timeout))
				require.NoError(t, Eventually(t.Context(), e.opts.Timeout, func(ctx context.Context) error {
					name, err := tor.Column(ctx, torrent.AttrDecodedName)
					if err != nil {
						return err
					}
					if name != torrentName {
						return fmt.Errorf("decodedName is %q, want %q", name, torrentName)
					}
					return nil
				}))
				require.NoError(t, tor.Delete(t.Context()))
			})

			t.Run("torrent uploaded with save location", func(t *testing.T) {
				RequireUploadOption(t, enabled.SaveLocation, "saveLocation")
				ctx, cancel := context.WithTimeout(t.Context(), 300*time.Second)
				defer cancel()

				const saveLocation = "/tmp/custom/save/location"
				require.NoError(t, e.backend.Exec(ctx, "rm", "-rf", saveLocation))
				require.NoError(t, e.backend.Exec(ctx, "test", "!", "-e", saveLocation))

				tor, err := d.UploadTorrent(ctx, freshTorrent(t), backend.AddOptions{SaveLocation: saveLocation})
				require.NoError(t, err)
				require.NoError(t, tor.WaitForExist(ctx, 20*time.Second))
				require.NoError(t, tor.WaitForState(ctx, "Seeding", 120*time.Second))
				require.NoError(t, e.backend.WaitForExec(ctx, 20*time.Second, "test", "-e", saveLocation))
				require.NoError(t, tor.Delete(ctx))
			})
		})
	})
}
