// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package random

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// NewSecureString returns a secure random string of the given length.
// The resulting entropy will be (6 * length) bits.
func NewSecureString(length int) (string, error) {
	data := make([]byte, 1+(length*4)/3)
	if n, err := rand.Read(data); err != nil {
		return "", err
	} else if n != len(data) {
		return "", fmt.Errorf("failed to read enough data")
	}
	return base64.RawURLEncoding.EncodeToString(data)[:length], nil
}

// NewSSRC returns a random 32-bit stream source identifier.
func NewSSRC() uint32 {
	var data [4]byte
	if _, err := rand.Read(data[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("failed to read random data: %s", err.Error()))
	}
	return binary.BigEndian.Uint32(data[:])
}

// NewSessionNumber returns a random 63-bit number suitable for use as a
// session description origin id.
func NewSessionNumber() uint64 {
	var data [8]byte
	if _, err := rand.Read(data[:]); err != nil {
		panic(fmt.Sprintf("failed to read random data: %s", err.Error()))
	}
	return binary.BigEndian.Uint64(data[:]) >> 1
}
