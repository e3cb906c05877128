// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const stunTimeout = 5 * time.Second

// getPublicIP resolves the server-reflexive address by binding against the
// first STUN server in the list. It is used once at startup to populate
// candidate addresses when no override is configured.
func getPublicIP(stunServers []string) (string, error) {
	var stunURL string
	for _, u := range stunServers {
		if strings.HasPrefix(u, "stun:") {
			stunURL = u
			break
		}
	}
	if stunURL == "" {
		return "", fmt.Errorf("no STUN server URL was found")
	}

	serverAddr, err := net.ResolveUDPAddr("udp4", strings.TrimPrefix(stunURL, "stun:"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve stun host: %w", err)
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}
	defer conn.Close()

	xorAddr, err := getXORMappedAddr(conn, serverAddr, stunTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to get public address: %w", err)
	}

	return xorAddr.IP.String(), nil
}

func getXORMappedAddr(conn net.PacketConn, serverAddr net.Addr, deadline time.Duration) (*stun.XORMappedAddress, error) {
	if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, err
	}
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
	}()

	req, err := stun.Build(stun.BindingRequest, stun.TransactionID)
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteTo(req.Raw, serverAddr); err != nil {
		return nil, err
	}

	const maxMessageSize = 1280
	buf := make([]byte, maxMessageSize)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}

	res := &stun.Message{Raw: buf[:n]}
	if err := res.Decode(); err != nil {
		return nil, err
	}

	var addr stun.XORMappedAddress
	if err := addr.GetFrom(res); err != nil {
		return nil, err
	}

	return &addr, nil
}
