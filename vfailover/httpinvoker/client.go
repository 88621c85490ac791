/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package httpinvoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vogo/vcluster/vfailover"
)

// DefaultTimeout bounds one attempt when no http client is given.
const DefaultTimeout = 30 * time.Second

// Client is a vfailover.Transport speaking to Server handlers.
type Client struct {
	http   *http.Client
	scheme string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying http client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		if c != nil {
			client.http = c
		}
	}
}

// WithScheme sets the url scheme of targets (default http).
func WithScheme(scheme string) ClientOption {
	return func(client *Client) {
		client.scheme = scheme
	}
}

// NewClient creates an http transport. Targets are host:port addresses.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:   &http.Client{Timeout: DefaultTimeout},
		scheme: "http",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke posts inv to target.
func (c *Client) Invoke(ctx context.Context, target string, inv *vfailover.Invocation) (*vfailover.Response, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("httpinvoker: encode invocation: %w", err)
	}

	endpoint := c.scheme + "://" + target + invokePath + url.PathEscape(inv.Service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpinvoker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderFailoverCounter, strconv.Itoa(inv.FailoverCounter))
	req.Header.Set(HeaderViewID, strconv.FormatUint(inv.ViewID, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &vfailover.TransportError{Target: target, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &vfailover.TransportError{Target: target, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	case http.StatusOK:
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("httpinvoker: %s: http status %d: %s", target, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		// the connection broke while reading the answer
		return nil, &vfailover.TransportError{Target: target, Err: fmt.Errorf("decode response: %w", err)}
	}

	if env.Error != nil {
		return nil, env.Error.decode()
	}

	return &vfailover.Response{
		Payload:     env.Payload,
		ViewChanged: env.ViewChanged,
		Replicants:  env.Replicants,
		ViewID:      env.ViewID,
	}, nil
}
