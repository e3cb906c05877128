// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// hashKey generates a hash using bcrypt.GenerateFromPassword.
func hashKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("invalid empty key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// compareKeyHash compares the given hash and key using
// bcrypt.CompareHashAndPassword.
func compareKeyHash(hash string, key string) error {
	if hash == "" {
		return fmt.Errorf("invalid empty hash")
	}
	if key == "" {
		return fmt.Errorf("invalid empty key")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
}
