// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"

	"github.com/mattermost/whipd/logger"
	"github.com/mattermost/whipd/service/api"
	"github.com/mattermost/whipd/service/auth"
	"github.com/mattermost/whipd/service/whip"
)

type AdminConfig struct {
	// Whether or not to enable the admin API (channel key registration).
	Enable bool
	// The secret key used to authenticate admin requests.
	SecretKey string              `toml:"secret_key"`
	KeyCache  auth.KeyCacheConfig `toml:"key_cache"`
}

func (c AdminConfig) IsValid() error {
	if !c.Enable {
		return nil
	}

	if c.SecretKey == "" {
		return fmt.Errorf("invalid SecretKey value: should not be empty")
	}

	if err := c.KeyCache.IsValid(); err != nil {
		return fmt.Errorf("invalid KeyCache config: %w", err)
	}

	return nil
}

type APIConfig struct {
	HTTP  api.Config  `toml:"http"`
	Admin AdminConfig `toml:"admin"`
}

func (c APIConfig) IsValid() error {
	if err := c.Admin.IsValid(); err != nil {
		return fmt.Errorf("failed to validate admin config: %w", err)
	}

	if err := c.HTTP.IsValid(); err != nil {
		return fmt.Errorf("failed to validate http config: %w", err)
	}

	return nil
}

type StoreConfig struct {
	DataSource string `toml:"data_source"`
}

func (c StoreConfig) IsValid() error {
	if c.DataSource == "" {
		return fmt.Errorf("invalid DataSource value: should not be empty")
	}
	return nil
}

type Config struct {
	API    APIConfig
	WHIP   whip.ServerConfig
	Store  StoreConfig
	Logger logger.Config
}

func (c Config) IsValid() error {
	if err := c.API.IsValid(); err != nil {
		return err
	}

	if err := c.WHIP.IsValid(); err != nil {
		return err
	}

	if err := c.Store.IsValid(); err != nil {
		return err
	}

	return c.Logger.IsValid()
}

func (c *Config) SetDefaults() {
	c.API.HTTP.ListenAddress = ":8045"
	c.API.Admin.KeyCache.ExpirationMinutes = 1440
	c.Store.DataSource = "/tmp/whipd_db"
	c.Logger.EnableConsole = true
	c.Logger.ConsoleJSON = false
	c.Logger.ConsoleLevel = "INFO"
	c.Logger.EnableFile = true
	c.Logger.FileJSON = true
	c.Logger.FileLocation = "whipd.log"
	c.Logger.FileLevel = "DEBUG"
	c.Logger.EnableColor = false
}
