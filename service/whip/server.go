// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pborman/uuid"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

var (
	ErrNoRoute         = errors.New("no routing context for channel")
	ErrNoUsableMedia   = errors.New("no usable media in offer")
	ErrSessionNotFound = errors.New("session not found")
)

// SetupError wraps an unexpected failure from the media engine during
// transport, producer or stream creation.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed at %s: %s", e.Stage, e.Err.Error())
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Teardown trigger labels, also used as metrics labels.
const (
	teardownTriggerDelete   = "delete"
	teardownTriggerRouter   = "router_closed"
	teardownTriggerAudio    = "audio_producer_closed"
	teardownTriggerVideo    = "video_producer_closed"
	teardownTriggerShutdown = "shutdown"
)

// Server implements the WHIP signaling/session layer: it negotiates ingest
// sessions over HTTP and tracks their lifecycle. Media never flows through
// it; packets are handled entirely by the attached Engine.
type Server struct {
	cfg     ServerConfig
	log     mlog.LoggerIFace
	metrics Metrics
	engine  Engine
	auth    ChannelAuthenticator

	limiter    *rateLimiter
	publicAddr string

	// sessions is the sole source of truth for which ingests are live: a
	// session is in the map if and only if its transport has not been
	// closed yet.
	sessions map[string]*session

	mut     sync.RWMutex
	started bool
}

// NewServer creates a WHIP server backed by the given engine. auth may be
// nil, in which case only the shared bearer token rule applies.
func NewServer(cfg ServerConfig, log mlog.LoggerIFace, metrics Metrics, engine Engine, auth ChannelAuthenticator) (*Server, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics should not be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine should not be nil")
	}

	return &Server{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		engine:   engine,
		auth:     auth,
		limiter:  newRateLimiter(),
		sessions: map[string]*session{},
	}, nil
}

// Start prepares the server for serving requests. Starting an already
// started server is an error; there is only ever one live registry.
func (s *Server) Start() error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.started {
		return fmt.Errorf("server is already started")
	}

	if s.cfg.ICEHostOverride == "" && len(s.cfg.STUNServers) > 0 {
		addr, err := getPublicIP(s.cfg.STUNServers)
		if err != nil {
			return fmt.Errorf("failed to get public IP address: %w", err)
		}
		s.publicAddr = addr
		s.log.Info("whip: got public IP address", mlog.String("addr", addr))
	}

	s.started = true

	return nil
}

// Stop tears down every live session, clears the rate-limit table and marks
// the server stopped.
func (s *Server) Stop() error {
	s.mut.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, us := range s.sessions {
		sessions = append(sessions, us)
	}
	s.started = false
	s.mut.Unlock()

	for _, us := range sessions {
		if err := s.closeSession(us.id, teardownTriggerShutdown); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.log.Error("whip: failed to close session on shutdown",
				mlog.Err(err), mlog.String("sessionID", us.id))
		}
	}

	s.limiter.reset()

	s.log.Info("whip: server was shutdown")

	return nil
}

// SessionCount returns the number of live ingest sessions.
func (s *Server) SessionCount() int {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return len(s.sessions)
}

// Negotiate handles a full ingest negotiation: it parses the offer, derives
// the handshake and media parameters, sets up the engine resources and
// registers the session. On any failure every resource created up to that
// point is released before the error is returned, so a registered session
// always references a fully set up ingest.
func (s *Server) Negotiate(channelID uint64, offerText string) (string, string, error) {
	offer, err := ParseOffer(offerText)
	if err != nil {
		return "", "", err
	}

	security, err := ExtractSecurity(offer)
	if err != nil {
		return "", "", err
	}

	audioParams, hasAudio := ExtractMedia(offer, TrackKindAudio)
	videoParams, hasVideo := ExtractMedia(offer, TrackKindVideo)
	if !hasAudio && !hasVideo {
		return "", "", ErrNoUsableMedia
	}

	router, ok := s.engine.RoutingContext(channelID)
	if !ok {
		return "", "", ErrNoRoute
	}

	us := newSession(uuid.NewRandom().String(), channelID)

	transport, err := router.CreateTransport()
	if err != nil {
		return "", "", &SetupError{Stage: "transport creation", Err: err}
	}
	us.transport = transport

	cleanup := func() {
		if err := us.release(); err != nil {
			s.log.Error("whip: failed to release session resources",
				mlog.Err(err), mlog.String("sessionID", us.id))
		}
	}

	if err := transport.Connect(security); err != nil {
		cleanup()
		return "", "", &SetupError{Stage: "transport connect", Err: err}
	}

	if hasAudio {
		producer, err := transport.Produce(TrackKindAudio, audioParams)
		if err != nil {
			cleanup()
			return "", "", &SetupError{Stage: "audio producer creation", Err: err}
		}
		us.audioProducer = producer
	}
	if hasVideo {
		producer, err := transport.Produce(TrackKindVideo, videoParams)
		if err != nil {
			cleanup()
			return "", "", &SetupError{Stage: "video producer creation", Err: err}
		}
		us.videoProducer = producer
	}

	stream, err := router.InjectStream(StreamInfo{
		ChannelID:     channelID,
		SessionKey:    us.id,
		AudioProducer: us.audioProducer,
		VideoProducer: us.videoProducer,
	})
	if err != nil {
		cleanup()
		return "", "", &SetupError{Stage: "stream injection", Err: err}
	}
	us.stream = stream

	answer, err := BuildAnswer(offer, transport.Fingerprints(), transport.ICECredentials(), s.candidates(transport))
	if err != nil {
		cleanup()
		return "", "", err
	}

	if err := us.activate(); err != nil {
		cleanup()
		return "", "", err
	}

	s.mut.Lock()
	s.sessions[us.id] = us
	s.mut.Unlock()

	// Closure notifications are wired only after the session is
	// registered; a notification for an unregistered session would have
	// nothing to tear down.
	sessionID := us.id
	router.OnceClosed(func() {
		s.handleClose(sessionID, teardownTriggerRouter)
	})
	if us.audioProducer != nil {
		us.audioProducer.OnceClosed(func() {
			s.handleClose(sessionID, teardownTriggerAudio)
		})
	}
	if us.videoProducer != nil {
		us.videoProducer.OnceClosed(func() {
			s.handleClose(sessionID, teardownTriggerVideo)
		})
	}

	s.metrics.IncWHIPSessions(channelID)
	s.log.Debug("whip: session registered",
		mlog.String("sessionID", us.id), mlog.Uint("channelID", channelID))

	return us.id, answer, nil
}

// CloseSession ends the session with the given id. It returns
// ErrSessionNotFound if the session is not live, which callers treat as
// benign since teardown may already have been resolved by another trigger.
func (s *Server) CloseSession(sessionID string) error {
	return s.closeSession(sessionID, teardownTriggerDelete)
}

// closeSession is the single teardown path every trigger converges on. The
// registry removal happens before any resource release call: closing the
// transport synchronously cascades closure notifications from both
// producers, and those re-entrant calls must find no entry and no-op.
func (s *Server) closeSession(sessionID string, trigger string) error {
	s.mut.Lock()
	us, ok := s.sessions[sessionID]
	if !ok {
		s.mut.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	s.mut.Unlock()

	s.metrics.DecWHIPSessions(us.channelID)
	s.metrics.IncWHIPTeardowns(trigger)
	s.log.Debug("whip: session closing",
		mlog.String("sessionID", sessionID),
		mlog.Uint("channelID", us.channelID),
		mlog.String("trigger", trigger))

	return us.release()
}

// handleClose services asynchronous closure notifications from the engine.
func (s *Server) handleClose(sessionID string, trigger string) {
	err := s.closeSession(sessionID, trigger)
	if errors.Is(err, ErrSessionNotFound) {
		// Already torn down by a concurrent trigger.
		return
	}
	if err != nil {
		s.log.Error("whip: failed to release session resources",
			mlog.Err(err), mlog.String("sessionID", sessionID), mlog.String("trigger", trigger))
	}
}

// sessionsForChannel returns the live sessions belonging to a channel. A
// linear scan is fine at the expected cardinality of single-digit
// concurrent ingests.
func (s *Server) sessionsForChannel(channelID uint64) []*session {
	s.mut.RLock()
	defer s.mut.RUnlock()

	var sessions []*session
	for _, us := range s.sessions {
		if us.channelID == channelID {
			sessions = append(sessions, us)
		}
	}
	return sessions
}

// candidates synthesizes the reachable candidates for a transport. The
// configured override wins, then the STUN-discovered public address, then
// whatever the engine announces.
func (s *Server) candidates(transport Transport) []Candidate {
	identity := s.engine.NetworkIdentity()

	address := s.cfg.ICEHostOverride
	if address == "" {
		address = s.publicAddr
	}
	if address == "" {
		address = identity.AnnouncedAddress
	}
	if address == "" {
		address = identity.LocalAddress
	}

	port := transport.ListenPort()
	candidates := []Candidate{
		{Address: address, Port: port, Protocol: "udp"},
	}
	if s.cfg.EnableTCPCandidates {
		candidates = append(candidates, Candidate{Address: address, Port: port, Protocol: "tcp"})
	}
	return candidates
}
