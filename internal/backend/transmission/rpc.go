// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transmission

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/buildinfo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	sessionIDHeader = "X-Transmission-Session-Id"
	rpcPath         = "/transmission/rpc"
)

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string              `json:"result"`
	Arguments jsoniter.RawMessage `json:"arguments"`
}

// rpcClient speaks the Transmission JSON-RPC protocol, including the session
// id handshake.
type rpcClient struct {
	http     *retryablehttp.Client
	endpoint string
	username string
	password string

	mu        sync.Mutex
	sessionID string
}

func newRPCClient(cfg backend.Config) *rpcClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = retryLogger{logger: log.With().Str("backend", string(backend.KindTransmission)).Str("host", cfg.Host).Logger()}
	rc.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}, //nolint:gosec // user opted in per instance
		},
	}

	return &rpcClient{
		http:     rc,
		endpoint: rpcEndpoint(cfg.Host),
		username: cfg.Username,
		password: cfg.Password,
	}
}

// rpcEndpoint appends the default RPC path unless the host already names one.
func rpcEndpoint(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.HasSuffix(host, "/rpc") {
		return host
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host + rpcPath
}

// call runs method and decodes the response arguments into out, which may be
// nil.
func (c *rpcClient) call(ctx context.Context, method string, args any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusConflict {
		resp.Body.Close()
		c.setSessionID(resp.Header.Get(sessionIDHeader))
		if resp, err = c.post(ctx, body); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", method, backend.ErrUnauthorized)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rr.Result != "success" {
		return fmt.Errorf("%s: %s", method, rr.Result)
	}

	if out == nil || len(rr.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(rr.Arguments, out); err != nil {
		return fmt.Errorf("decode %s arguments: %w", method, err)
	}
	return nil
}

func (c *rpcClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if id := c.getSessionID(); id != "" {
		req.Header.Set(sessionIDHeader, id)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transmission rpc: %w", err)
	}
	return resp, nil
}

func (c *rpcClient) getSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *rpcClient) setSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// retryLogger adapts zerolog to retryablehttp's leveled logger.
type retryLogger struct {
	logger zerolog.Logger
}

func (l retryLogger) Error(msg string, kv ...any) { l.logger.Error().Fields(kv).Msg(msg) }
func (l retryLogger) Info(msg string, kv ...any)  { l.logger.Trace().Fields(kv).Msg(msg) }
func (l retryLogger) Debug(msg string, kv ...any) { l.logger.Trace().Fields(kv).Msg(msg) }
func (l retryLogger) Warn(msg string, kv ...any)  { l.logger.Warn().Fields(kv).Msg(msg) }
