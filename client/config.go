// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"fmt"
	"net/url"
	"strings"
)

type Config struct {
	// URL is the base URL of the whipd instance to publish to.
	URL string
	// ChannelID is the id of the channel to publish into.
	ChannelID uint64
	// AuthToken is the bearer token (shared secret or per-channel ingest
	// key) sent with publish requests. May be empty.
	AuthToken string
}

func (c *Config) Parse() error {
	if c.URL == "" {
		return fmt.Errorf("invalid URL value: should not be empty")
	}
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q", u.Scheme)
	}

	return nil
}
