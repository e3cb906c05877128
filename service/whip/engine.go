// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"github.com/pion/webrtc/v4"
)

// Engine is the boundary to the media routing engine that performs the
// actual packet forwarding, encryption handshakes and NAT traversal. The
// WHIP server only drives it, it never touches media itself.
type Engine interface {
	// RoutingContext returns the router for the given channel, or false if
	// the channel has no active participants.
	RoutingContext(channelID uint64) (Router, bool)

	// NetworkIdentity reports the addresses ingest transports are
	// reachable at.
	NetworkIdentity() NetworkIdentity
}

// Router is the per-channel routing context.
type Router interface {
	CreateTransport() (Transport, error)
	InjectStream(info StreamInfo) (StreamHandle, error)

	// OnceClosed registers cb to be invoked exactly once when the routing
	// context shuts down (e.g. no participants remain). If the router is
	// already closed cb is invoked immediately.
	OnceClosed(cb func())
}

// Transport is a network endpoint allocated by the engine, capable of
// receiving encrypted media once Connect has completed the handshake
// parameters exchange.
type Transport interface {
	ICECredentials() ICEParams
	Fingerprints() []webrtc.DTLSFingerprint
	ListenPort() int

	Connect(params SecurityParams) error
	Produce(kind TrackKind, params MediaParams) (Producer, error)
	Close() error

	// OnceClosed registers cb to be invoked exactly once when the
	// transport closes, for whatever reason. If the transport is already
	// closed cb is invoked immediately.
	OnceClosed(cb func())
}

// Producer is a logical incoming media stream of one kind accepted by the
// engine.
type Producer interface {
	Kind() TrackKind
	Close() error

	// Stats returns one live statistics sample. The second return value is
	// false when no sample is available (e.g. the producer just closed),
	// which callers treat as a skip, not an error.
	Stats() (RawTrackStats, bool)

	// OnceClosed registers cb to be invoked exactly once when the producer
	// closes. If the producer is already closed cb is invoked immediately.
	OnceClosed(cb func())
}

// StreamHandle references a stream injected into a multi-party channel.
type StreamHandle interface {
	Remove() error
}

// StreamInfo describes a received ingest stream to be injected into a
// channel.
type StreamInfo struct {
	ChannelID     uint64
	SessionKey    string
	AudioProducer Producer
	VideoProducer Producer
}

// NetworkIdentity is the per-deployment network identity as reported by the
// engine. AnnouncedAddress is optional and takes precedence over
// LocalAddress when populating candidates.
type NetworkIdentity struct {
	LocalAddress     string
	AnnouncedAddress string
}

// RawTrackStats is a single statistics sample as produced by the engine,
// prior to any client-facing conversion.
type RawTrackStats struct {
	MimeType     string
	BitrateBps   float64
	FractionLost uint8
	JitterSec    float64
	RTTSec       float64
	PLICount     uint64
	FIRCount     uint64
}

// NullEngine is an Engine with no routing contexts. It is what a service
// runs with until a host application attaches a real engine: the protocol
// surface is up but every negotiation resolves to no-route.
type NullEngine struct{}

func (e NullEngine) RoutingContext(_ uint64) (Router, bool) {
	return nil, false
}

func (e NullEngine) NetworkIdentity() NetworkIdentity {
	return NetworkIdentity{LocalAddress: "127.0.0.1"}
}
