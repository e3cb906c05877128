// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

const (
	sessionStateNegotiating = "negotiating"
	sessionStateActive      = "active"
	sessionStateClosed      = "closed"

	sessionEventActivate = "activate"
	sessionEventClose    = "close"
)

// session tracks one ingest from negotiation success to teardown. It holds
// the engine-owned handles just long enough to issue exactly one
// close/remove call per resource; the underlying network resources belong to
// the engine.
type session struct {
	id        string
	channelID uint64

	transport     Transport
	audioProducer Producer
	videoProducer Producer
	stream        StreamHandle

	machine *fsm.FSM
}

func newSession(id string, channelID uint64) *session {
	return &session{
		id:        id,
		channelID: channelID,
		machine: fsm.NewFSM(
			sessionStateNegotiating,
			fsm.Events{
				{Name: sessionEventActivate, Src: []string{sessionStateNegotiating}, Dst: sessionStateActive},
				{Name: sessionEventClose, Src: []string{sessionStateNegotiating, sessionStateActive}, Dst: sessionStateClosed},
			},
			nil,
		),
	}
}

func (us *session) activate() error {
	if err := us.machine.Event(context.Background(), sessionEventActivate); err != nil {
		return fmt.Errorf("failed to activate session: %w", err)
	}
	return nil
}

// release closes the engine resources in a fixed order: audio producer,
// video producer, transport, stream handle. A failure on one resource never
// prevents attempting the rest; all failures are reported back joined.
func (us *session) release() error {
	if err := us.machine.Event(context.Background(), sessionEventClose); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	var errs []error
	if us.audioProducer != nil {
		if err := us.audioProducer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audio producer: %w", err))
		}
	}
	if us.videoProducer != nil {
		if err := us.videoProducer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close video producer: %w", err))
		}
	}
	if us.transport != nil {
		if err := us.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
		}
	}
	if us.stream != nil {
		if err := us.stream.Remove(); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove stream: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (us *session) producers() []Producer {
	var producers []Producer
	if us.audioProducer != nil {
		producers = append(producers, us.audioProducer)
	}
	if us.videoProducer != nil {
		producers = append(producers, us.videoProducer)
	}
	return producers
}
