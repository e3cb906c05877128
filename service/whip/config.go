// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"fmt"
	"strings"
)

type ServerConfig struct {
	// BearerToken is the shared token senders must present on ingest
	// requests. When empty (and no per-channel key is registered) all
	// requests are admitted.
	BearerToken string `toml:"bearer_token"`
	// ICEHostOverride is an optional address to advertise in candidates in
	// place of what the engine reports.
	ICEHostOverride string `toml:"ice_host_override"`
	// STUNServers are used to discover the server's public address when no
	// override is configured (e.g. "stun:stun.l.google.com:19302").
	STUNServers []string `toml:"stun_servers"`
	// EnableTCPCandidates controls whether TCP candidates are advertised
	// alongside UDP ones.
	EnableTCPCandidates bool `toml:"enable_tcp_candidates"`
}

func (c ServerConfig) IsValid() error {
	if strings.ContainsAny(c.BearerToken, " \t\r\n") {
		return fmt.Errorf("invalid BearerToken value: should not contain whitespace")
	}
	for _, u := range c.STUNServers {
		if !strings.HasPrefix(u, "stun:") {
			return fmt.Errorf("invalid STUN server URL %q: should have stun: prefix", u)
		}
	}
	return nil
}
