// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"

	"github.com/mattermost/whipd/service/whip"
)

type Option func(s *Service) error

// WithEngine lets the embedding host attach its media routing engine.
// Without it the service runs with a null engine: the protocol surface is
// up but every negotiation resolves to no-route.
func WithEngine(engine whip.Engine) Option {
	return func(s *Service) error {
		if engine == nil {
			return fmt.Errorf("engine should not be nil")
		}
		s.engine = engine
		return nil
	}
}
