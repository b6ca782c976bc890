// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/electorrent/electorrent/internal/api/handlers"
	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/torrent"
)

// APIError is a non-2xx answer from the application.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

// LoginOptions select how the application reaches the backend.
type LoginOptions struct {
	HTTPS bool
	// Port overrides Options.Port, e.g. 8443 for the TLS proxy.
	Port int
}

// Driver acts on the application the way a user of the UI would, through
// the HTTP API only.
type Driver struct {
	app     *App
	opts    Options
	client  *http.Client
	timeout time.Duration

	instanceID int
}

func NewDriver(app *App, opts Options) *Driver {
	return &Driver{
		app:     app,
		opts:    opts,
		client:  &http.Client{Timeout: 30 * time.Second},
		timeout: opts.Timeout,
	}
}

func (d *Driver) InstanceID() int {
	return d.instanceID
}

func (d *Driver) instanceName() string {
	return "e2e-" + d.opts.Name()
}

func (d *Driver) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	if !d.app.Running() {
		return ErrAppNotRunning
	}

	req, err := http.NewRequestWithContext(ctx, method, d.app.URL()+"/api"+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &payload)
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (d *Driver) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	return d.do(ctx, method, path, body, "application/json", out)
}

func (d *Driver) instancePath(suffix string) string {
	return "/instances/" + strconv.Itoa(d.instanceID) + suffix
}

// Login stores the backend as an instance, or updates the one from an
// earlier login, and tests the connection. It does not require the
// connection to succeed: a TLS login ends at the certificate prompt.
func (d *Driver) Login(ctx context.Context, login LoginOptions) error {
	port := d.opts.Port
	if login.Port != 0 {
		port = login.Port
	}
	scheme := "http"
	if login.HTTPS {
		scheme = "https"
	}

	req := handlers.InstanceRequest{
		Name:          d.instanceName(),
		Kind:          d.opts.Client,
		Host:          fmt.Sprintf("%s://%s:%d", scheme, d.opts.Host, port),
		Username:      d.opts.Username,
		Password:      d.opts.Password,
		TLSSkipVerify: new(bool),
	}

	var instances []handlers.InstanceResponse
	if err := d.doJSON(ctx, http.MethodGet, "/instances", nil, &instances); err != nil {
		return err
	}

	var instance handlers.InstanceResponse
	existing := slices.IndexFunc(instances, func(i handlers.InstanceResponse) bool { return i.Name == req.Name })
	if existing >= 0 {
		d.instanceID = instances[existing].ID
		if err := d.doJSON(ctx, http.MethodPut, d.instancePath(""), req, &instance); err != nil {
			return err
		}
	} else if err := d.doJSON(ctx, http.MethodPost, "/instances", req, &instance); err != nil {
		return err
	}

	d.instanceID = instance.ID

	_, err := d.TestConnection(ctx)
	return err
}

func (d *Driver) TestConnection(ctx context.Context) (handlers.TestConnectionResponse, error) {
	var resp handlers.TestConnectionResponse
	err := d.doJSON(ctx, http.MethodPost, d.instancePath("/test"), nil, &resp)
	return resp, err
}

func (d *Driver) Status(ctx context.Context) (handlers.InstanceStatusResponse, error) {
	var resp handlers.InstanceStatusResponse
	err := d.doJSON(ctx, http.MethodGet, d.instancePath("/status"), nil, &resp)
	return resp, err
}

// TorrentsPageIsVisible waits until the instance is connected and its
// torrent list loads.
func (d *Driver) TorrentsPageIsVisible(ctx context.Context) error {
	return Eventually(ctx, d.timeout, func(ctx context.Context) error {
		status, err := d.Status(ctx)
		if err != nil {
			return err
		}
		if status.Status != clients.StatusConnected {
			return fmt.Errorf("instance is %s: %s", status.Status, status.LastError)
		}
		_, err = d.List(ctx, nil)
		return err
	})
}

// SettingsPageIsVisible waits until the instance reports a connection error,
// which is when the UI falls back to the settings page.
func (d *Driver) SettingsPageIsVisible(ctx context.Context, timeout time.Duration) error {
	return Eventually(ctx, timeout, func(ctx context.Context) error {
		status, err := d.Status(ctx)
		if err != nil {
			return err
		}
		if status.Status != clients.StatusError {
			return fmt.Errorf("instance is %s", status.Status)
		}
		return nil
	})
}

// SettingsPageConnectionIsVisible checks that the connection error has a
// message to show.
func (d *Driver) SettingsPageConnectionIsVisible(ctx context.Context) error {
	status, err := d.Status(ctx)
	if err != nil {
		return err
	}
	if status.LastError == "" && len(status.RecentErrors) == 0 {
		return errors.New("no connection error is reported")
	}
	return nil
}

// CertificateModalIsVisible waits for the connection to fail on an untrusted
// certificate.
func (d *Driver) CertificateModalIsVisible(ctx context.Context) error {
	return Eventually(ctx, d.timeout, func(ctx context.Context) error {
		status, err := d.Status(ctx)
		if err != nil {
			return err
		}
		if isCertificateError(status.LastError) {
			return nil
		}
		for _, e := range status.RecentErrors {
			if isCertificateError(e.ErrorMessage) {
				return nil
			}
		}
		return fmt.Errorf("no certificate error, status %s: %s", status.Status, status.LastError)
	})
}

func isCertificateError(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "certificate") || strings.Contains(msg, "x509")
}

// AcceptCertificate trusts the backend's certificate and reconnects.
func (d *Driver) AcceptCertificate(ctx context.Context) error {
	var instances []handlers.InstanceResponse
	if err := d.doJSON(ctx, http.MethodGet, "/instances", nil, &instances); err != nil {
		return err
	}
	i := slices.IndexFunc(instances, func(i handlers.InstanceResponse) bool { return i.ID == d.instanceID })
	if i < 0 {
		return fmt.Errorf("instance %d not found", d.instanceID)
	}

	skip := true
	req := handlers.InstanceRequest{
		Name:          instances[i].Name,
		Kind:          instances[i].Kind,
		Host:          instances[i].Host,
		Username:      instances[i].Username,
		TLSSkipVerify: &skip,
	}
	if err := d.doJSON(ctx, http.MethodPut, d.instancePath(""), req, nil); err != nil {
		return err
	}

	_, err := d.TestConnection(ctx)
	return err
}

// List returns the torrent list for the given query.
func (d *Driver) List(ctx context.Context, query url.Values) (handlers.TorrentListResponse, error) {
	path := d.instancePath("/torrents")
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp handlers.TorrentListResponse
	err := d.doJSON(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// UploadTorrent posts a .torrent file with the given upload options.
func (d *Driver) UploadTorrent(ctx context.Context, file *TorrentFile, opts backend.AddOptions) (*Torrent, error) {
	data, err := file.Bytes()
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("torrent", filepath.Base(file.Path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writeAddOptions(writer, opts); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	if err := d.do(ctx, http.MethodPost, d.instancePath("/torrents"), &body, writer.FormDataContentType(), nil); err != nil {
		return nil, err
	}
	return d.Torrent(file.Hash), nil
}

// UploadMagnetLink adds the torrent by its magnet link.
func (d *Driver) UploadMagnetLink(ctx context.Context, file *TorrentFile) (*Torrent, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("urls", file.Magnet()); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	if err := d.do(ctx, http.MethodPost, d.instancePath("/torrents"), &body, writer.FormDataContentType(), nil); err != nil {
		return nil, err
	}
	return d.Torrent(file.Hash), nil
}

func writeAddOptions(w *multipart.Writer, opts backend.AddOptions) error {
	fields := map[string]string{
		"label":        opts.Label,
		"name":         opts.Name,
		"saveLocation": opts.SaveLocation,
	}
	if opts.Start != nil {
		fields["start"] = strconv.FormatBool(*opts.Start)
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Labels returns the sidebar labels with their counts.
func (d *Driver) Labels(ctx context.Context) (handlers.LabelsResponse, error) {
	var resp handlers.LabelsResponse
	err := d.doJSON(ctx, http.MethodGet, d.instancePath("/labels"), nil, &resp)
	return resp, err
}

// WaitForLabelInDropdown waits until label is offered for assignment.
func (d *Driver) WaitForLabelInDropdown(ctx context.Context, label string) error {
	return Eventually(ctx, d.timeout, func(ctx context.Context) error {
		labels, err := d.Labels(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(labels.Labels, label) {
			return fmt.Errorf("label %q not in %v", label, labels.Labels)
		}
		return nil
	})
}

// SidebarLabels returns the labels the sidebar lists.
func (d *Driver) SidebarLabels(ctx context.Context) ([]string, error) {
	labels, err := d.Labels(ctx)
	if err != nil {
		return nil, err
	}
	return labels.Labels, nil
}

// Torrent is a handle on one torrent of the logged in instance.
func (d *Driver) Torrent(hash string) *Torrent {
	return &Torrent{driver: d, Hash: strings.ToLower(hash)}
}

// Torrent mirrors the per-row actions of the torrent table.
type Torrent struct {
	driver *Driver
	Hash   string
}

func (t *Torrent) path(suffix string) string {
	return t.driver.instancePath("/torrents/" + t.Hash + suffix)
}

// View fetches the torrent's current view-model.
func (t *Torrent) View(ctx context.Context) (torrent.View, error) {
	var view torrent.View
	err := t.driver.doJSON(ctx, http.MethodGet, t.path(""), nil, &view)
	return view, err
}

func (t *Torrent) IsExisting(ctx context.Context) (bool, error) {
	_, err := t.View(ctx)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (t *Torrent) WaitForExist(ctx context.Context, timeout time.Duration) error {
	return Eventually(ctx, timeout, func(ctx context.Context) error {
		ok, err := t.IsExisting(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("torrent %s does not exist", t.Hash)
		}
		return nil
	})
}

func (t *Torrent) WaitForGone(ctx context.Context, timeout time.Duration) error {
	return Eventually(ctx, timeout, func(ctx context.Context) error {
		ok, err := t.IsExisting(ctx)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("torrent %s still exists", t.Hash)
		}
		return nil
	})
}

// WaitForState waits until the state column reads state.
func (t *Torrent) WaitForState(ctx context.Context, state string, timeout time.Duration) error {
	return Eventually(ctx, timeout, func(ctx context.Context) error {
		view, err := t.View(ctx)
		if err != nil {
			return err
		}
		if view.State != state {
			return fmt.Errorf("torrent %s is %q, want %q", t.Hash, view.State, state)
		}
		return nil
	})
}

// CheckInState verifies the torrent is listed under every given filter.
func (t *Torrent) CheckInState(ctx context.Context, filters ...torrent.StateFilter) error {
	for _, f := range filters {
		if err := t.checkListed(ctx, url.Values{"filter": {string(f)}}); err != nil {
			return fmt.Errorf("filter %s: %w", f, err)
		}
	}
	return nil
}

// CheckInFilterLabel verifies the torrent is listed under label.
func (t *Torrent) CheckInFilterLabel(ctx context.Context, label string) error {
	return t.checkListed(ctx, url.Values{"label": {label}})
}

func (t *Torrent) checkListed(ctx context.Context, query url.Values) error {
	return Eventually(ctx, t.driver.timeout, func(ctx context.Context) error {
		list, err := t.driver.List(ctx, query)
		if err != nil {
			return err
		}
		for _, v := range list.Torrents {
			if v.Hash == t.Hash {
				return nil
			}
		}
		return fmt.Errorf("torrent %s not listed", t.Hash)
	})
}

func (t *Torrent) Stop(ctx context.Context) error {
	return t.driver.doJSON(ctx, http.MethodPost, t.path("/stop"), nil, nil)
}

func (t *Torrent) Resume(ctx context.Context) error {
	return t.driver.doJSON(ctx, http.MethodPost, t.path("/resume"), nil, nil)
}

// Delete removes the torrent with its data and waits for it to disappear.
func (t *Torrent) Delete(ctx context.Context) error {
	if err := t.driver.doJSON(ctx, http.MethodDelete, t.path("?deleteFiles=true"), nil, nil); err != nil {
		return err
	}
	return t.WaitForGone(ctx, t.driver.timeout)
}

// NewLabel creates label by assigning it.
func (t *Torrent) NewLabel(ctx context.Context, label string) error {
	return t.ChangeLabel(ctx, label)
}

// ChangeLabel assigns an existing label and waits for it to show.
func (t *Torrent) ChangeLabel(ctx context.Context, label string) error {
	if err := t.driver.doJSON(ctx, http.MethodPut, t.path("/label"), handlers.SetLabelRequest{Label: label}, nil); err != nil {
		return err
	}
	return Eventually(ctx, t.driver.timeout, func(ctx context.Context) error {
		got, err := t.Label(ctx)
		if err != nil {
			return err
		}
		if got != label {
			return fmt.Errorf("label is %q, want %q", got, label)
		}
		return nil
	})
}

func (t *Torrent) Label(ctx context.Context) (string, error) {
	view, err := t.View(ctx)
	return view.Label, err
}

// Column returns the display value of a column attribute.
func (t *Torrent) Column(ctx context.Context, attribute string) (string, error) {
	var row map[string]any
	if err := t.driver.doJSON(ctx, http.MethodGet, t.path(""), nil, &row); err != nil {
		return "", err
	}
	value, ok := row[attribute]
	if !ok {
		return "", fmt.Errorf("unknown column %q", attribute)
	}
	if value == nil {
		return "", nil
	}
	return fmt.Sprint(value), nil
}

// Capabilities reports what the backend supports.
func (d *Driver) Capabilities(ctx context.Context) (handlers.InstanceCapabilitiesResponse, error) {
	var resp handlers.InstanceCapabilitiesResponse
	err := d.doJSON(ctx, http.MethodGet, d.instancePath("/capabilities"), nil, &resp)
	return resp, err
}
