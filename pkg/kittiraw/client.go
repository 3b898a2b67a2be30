// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import (
	"context"
	"net/http"
	"time"
)

// DefaultBaseURL is the public HTTPS endpoint the raw-data archives are
// served from. Override via Settings.BaseURL for mirrors.
const DefaultBaseURL = "https://s3.eu-central-1.amazonaws.com/avg-kitti/raw_data"

// buildHTTPClient creates an HTTP client with sensible defaults.
// No overall timeout: raw archives run into the tens of gigabytes, so
// cancellation is left to the request context.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// newRequest builds a GET request with the tool's user agent.
func newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "kittifetch/1")
	return req, nil
}
