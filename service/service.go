// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"

	"github.com/prometheus/procfs"

	"github.com/mattermost/whipd/logger"
	"github.com/mattermost/whipd/service/api"
	"github.com/mattermost/whipd/service/auth"
	"github.com/mattermost/whipd/service/perf"
	"github.com/mattermost/whipd/service/store"
	"github.com/mattermost/whipd/service/whip"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// Service ties together the HTTP API server, the WHIP ingest server, the
// channel key store and the metrics registry, with a lifecycle bound to
// Start/Stop.
type Service struct {
	cfg        Config
	apiServer  *api.Server
	whipServer *whip.Server
	engine     whip.Engine
	store      store.Store
	auth       *auth.Service
	metrics    *perf.Metrics
	log        *mlog.Logger
	proc       procfs.FS
}

func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	s := &Service{
		log:     log,
		cfg:     cfg,
		metrics: perf.NewMetrics("whipd", nil),
		engine:  whip.NullEngine{},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.store, err = store.New(cfg.Store.DataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	var channelAuth whip.ChannelAuthenticator
	if cfg.API.Admin.Enable {
		keyCache, err := auth.NewKeyCache(cfg.API.Admin.KeyCache)
		if err != nil {
			return nil, fmt.Errorf("failed to create key cache: %w", err)
		}
		s.auth, err = auth.NewService(s.store, keyCache)
		if err != nil {
			return nil, fmt.Errorf("failed to create auth service: %w", err)
		}
		channelAuth = s.auth
	}

	s.apiServer, err = api.NewServer(cfg.API.HTTP, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create api server: %w", err)
	}

	s.whipServer, err = whip.NewServer(cfg.WHIP, log, s.metrics, s.engine, channelAuth)
	if err != nil {
		return nil, fmt.Errorf("failed to create whip server: %w", err)
	}

	s.proc, err = procfs.NewDefaultFS()
	if err != nil {
		log.Warn("failed to create procfs", mlog.Err(err))
	}

	s.apiServer.RegisterHandleFunc("/version", s.getVersion)
	s.apiServer.RegisterHandleFunc("/system", s.getSystemInfo)
	s.apiServer.RegisterHandleFunc("/register", s.registerChannel)
	s.apiServer.RegisterHandleFunc("/unregister", s.unregisterChannel)
	s.apiServer.RegisterHandler("/metrics", s.metrics.Handler())
	s.apiServer.RegisterHandler("/whip", s.whipServer)
	s.apiServer.RegisterHandler("/whip/", s.whipServer)

	return s, nil
}

func (s *Service) Start() error {
	if err := s.whipServer.Start(); err != nil {
		return fmt.Errorf("failed to start whip server: %w", err)
	}

	if err := s.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	s.log.Info("service started", getVersionInfo().logFields()...)

	return nil
}

func (s *Service) Stop() error {
	if err := s.apiServer.Stop(); err != nil {
		return fmt.Errorf("failed to stop API server: %w", err)
	}

	if err := s.whipServer.Stop(); err != nil {
		return fmt.Errorf("failed to stop whip server: %w", err)
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	if err := s.log.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown logger: %w", err)
	}

	return nil
}

// Addr returns the address the API server is listening on.
func (s *Service) Addr() string {
	return s.apiServer.Addr()
}
