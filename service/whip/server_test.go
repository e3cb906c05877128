// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"strings"
	"testing"

	"github.com/mattermost/whipd/service/perf"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	log, err := mlog.NewLogger()
	require.NoError(t, err)
	defer func() {
		err := log.Shutdown()
		require.NoError(t, err)
	}()

	metrics := perf.NewMetrics("whipd", nil)

	t.Run("nil logger", func(t *testing.T) {
		s, err := NewServer(ServerConfig{}, nil, metrics, newFakeEngine(), nil)
		require.Error(t, err)
		require.Nil(t, s)
	})

	t.Run("nil metrics", func(t *testing.T) {
		s, err := NewServer(ServerConfig{}, log, nil, newFakeEngine(), nil)
		require.Error(t, err)
		require.Nil(t, s)
	})

	t.Run("nil engine", func(t *testing.T) {
		s, err := NewServer(ServerConfig{}, log, metrics, nil, nil)
		require.Error(t, err)
		require.Nil(t, s)
	})

	t.Run("invalid config", func(t *testing.T) {
		s, err := NewServer(ServerConfig{BearerToken: "has spaces"}, log, metrics, newFakeEngine(), nil)
		require.Error(t, err)
		require.Nil(t, s)
	})

	t.Run("valid", func(t *testing.T) {
		s, err := NewServer(ServerConfig{}, log, metrics, newFakeEngine(), nil)
		require.NoError(t, err)
		require.NotNil(t, s)
	})
}

func TestServerStart(t *testing.T) {
	s, _, teardown := setupServer(t, ServerConfig{})
	defer teardown()

	err := s.Start()
	require.EqualError(t, err, "server is already started")
}

func TestNegotiate(t *testing.T) {
	t.Run("malformed offer", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		engine.addRouter(45)

		_, _, err := s.Negotiate(45, "not an sdp")
		require.ErrorIs(t, err, ErrMalformedOffer)
		require.Zero(t, s.SessionCount())
	})

	t.Run("no routing context", func(t *testing.T) {
		s, _, teardown := setupServer(t, ServerConfig{})
		defer teardown()

		_, _, err := s.Negotiate(45, testOffer)
		require.ErrorIs(t, err, ErrNoRoute)
	})

	t.Run("no usable media", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		engine.addRouter(45)

		offer := "v=0\r\n" +
			"o=- 1 1 IN IP4 127.0.0.1\r\n" +
			"s=-\r\n" +
			"t=0 0\r\n" +
			"a=fingerprint:sha-256 AA:BB\r\n" +
			"a=setup:actpass\r\n" +
			"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
			"c=IN IP4 0.0.0.0\r\n" +
			"a=mid:0\r\n"
		_, _, err := s.Negotiate(45, offer)
		require.ErrorIs(t, err, ErrNoUsableMedia)
		require.Zero(t, s.SessionCount())
	})

	t.Run("audio with data channel section", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		engine.addRouter(45)

		offer := "v=0\r\n" +
			"o=- 1 1 IN IP4 127.0.0.1\r\n" +
			"s=-\r\n" +
			"t=0 0\r\n" +
			"a=group:BUNDLE 0 1\r\n" +
			"a=fingerprint:sha-256 AA:BB\r\n" +
			"a=setup:actpass\r\n" +
			"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
			"c=IN IP4 0.0.0.0\r\n" +
			"a=mid:0\r\n" +
			"a=rtpmap:111 opus/48000/2\r\n" +
			"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
			"c=IN IP4 0.0.0.0\r\n" +
			"a=mid:1\r\n"
		sessionID, answer, err := s.Negotiate(45, offer)
		require.NoError(t, err)
		require.NotEmpty(t, sessionID)
		require.Contains(t, answer, "m=application 0 UDP/DTLS/SCTP webrtc-datachannel")
		require.Equal(t, 1, s.SessionCount())
	})

	t.Run("success", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)

		sessionID, answer, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)
		require.NotEmpty(t, sessionID)
		require.Equal(t, 1, s.SessionCount())

		require.Len(t, router.transports, 1)
		transport := router.transports[0]
		require.True(t, transport.connected)
		require.Equal(t, webrtc.DTLSRoleClient, transport.security.Role)
		require.Equal(t, "sha-256", transport.security.Fingerprint.Algorithm)

		require.Len(t, transport.producers, 2)
		require.Equal(t, TrackKindAudio, transport.producers[0].kind)
		require.Equal(t, TrackKindVideo, transport.producers[1].kind)

		require.Len(t, router.streams, 1)
		require.Equal(t, uint64(45), router.streams[0].info.ChannelID)
		require.Equal(t, sessionID, router.streams[0].info.SessionKey)
		require.NotNil(t, router.streams[0].info.AudioProducer)
		require.NotNil(t, router.streams[0].info.VideoProducer)

		parsed, err := ParseOffer(answer)
		require.NoError(t, err)
		require.Len(t, parsed.Media, 2)
		require.Equal(t, "testufrag", parsed.Media[0].ICEUfrag)
		require.Equal(t, "testpwd", parsed.Media[0].ICEPwd)
	})

	t.Run("audio only offer", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)

		audioOnly := testOffer[:strings.Index(testOffer, "m=video")]

		sessionID, _, err := s.Negotiate(45, audioOnly)
		require.NoError(t, err)
		require.NotEmpty(t, sessionID)

		transport := router.transports[0]
		require.Len(t, transport.producers, 1)
		require.Equal(t, TrackKindAudio, transport.producers[0].kind)
		require.Nil(t, router.streams[0].info.VideoProducer)
	})

	t.Run("transport creation failure", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)
		router.failTransport = true

		_, _, err := s.Negotiate(45, testOffer)
		var setupErr *SetupError
		require.ErrorAs(t, err, &setupErr)
		require.Equal(t, "transport creation", setupErr.Stage)
		require.Zero(t, s.SessionCount())
	})

	t.Run("connect failure releases the transport", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)
		router.transportFailConnect = true

		_, _, err := s.Negotiate(45, testOffer)
		var setupErr *SetupError
		require.ErrorAs(t, err, &setupErr)
		require.Equal(t, "transport connect", setupErr.Stage)
		require.Zero(t, s.SessionCount())

		require.Len(t, router.transports, 1)
		require.Equal(t, 1, router.transports[0].closeCalls)
	})

	t.Run("produce failure releases earlier resources", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)
		router.transportFailProduce = map[TrackKind]bool{TrackKindVideo: true}

		_, _, err := s.Negotiate(45, testOffer)
		var setupErr *SetupError
		require.ErrorAs(t, err, &setupErr)
		require.Equal(t, "video producer creation", setupErr.Stage)
		require.Zero(t, s.SessionCount())

		transport := router.transports[0]
		require.Equal(t, 1, transport.closeCalls)
		require.Len(t, transport.producers, 1)
		require.Equal(t, 1, transport.producers[0].closeCalls)
	})

	t.Run("stream injection failure releases everything", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)
		router.failInject = true

		_, _, err := s.Negotiate(45, testOffer)
		var setupErr *SetupError
		require.ErrorAs(t, err, &setupErr)
		require.Equal(t, "stream injection", setupErr.Stage)
		require.Zero(t, s.SessionCount())

		transport := router.transports[0]
		require.Equal(t, 1, transport.closeCalls)
		for _, p := range transport.producers {
			require.Equal(t, 1, p.closeCalls)
		}
	})
}

func TestCloseSession(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		s, _, teardown := setupServer(t, ServerConfig{})
		defer teardown()

		err := s.CloseSession("missing")
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("releases exactly once, then not found", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)

		sessionID, _, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)

		err = s.CloseSession(sessionID)
		require.NoError(t, err)
		require.Zero(t, s.SessionCount())

		// Closing the transport synchronously collapses both producers,
		// whose closure callbacks re-enter the teardown path. Each
		// resource must still only be released once.
		transport := router.transports[0]
		require.Equal(t, 1, transport.closeCalls)
		for _, p := range transport.producers {
			require.Equal(t, 1, p.closeCalls)
		}
		require.Equal(t, 1, router.streams[0].removeCalls)

		err = s.CloseSession(sessionID)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("router closure tears down its sessions", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)

		_, _, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)
		require.Equal(t, 1, s.SessionCount())

		router.close()
		require.Zero(t, s.SessionCount())
		require.Equal(t, 1, router.transports[0].closeCalls)
	})

	t.Run("producer death tears down the session", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)

		_, _, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)

		// Simulate the engine killing the video producer (e.g. a media
		// timeout).
		router.transports[0].producers[1].close()
		require.Zero(t, s.SessionCount())
		require.Equal(t, 1, router.transports[0].closeCalls)
	})
}

func TestServerStop(t *testing.T) {
	s, engine, teardown := setupServer(t, ServerConfig{})
	router := engine.addRouter(45)

	_, _, err := s.Negotiate(45, testOffer)
	require.NoError(t, err)
	_, _, err = s.Negotiate(45, testOffer)
	require.NoError(t, err)
	require.Equal(t, 2, s.SessionCount())

	err = s.Stop()
	require.NoError(t, err)
	require.Zero(t, s.SessionCount())

	for _, transport := range router.transports {
		require.Equal(t, 1, transport.closeCalls)
	}

	// The deferred teardown stops an already stopped server.
	teardown()
}

func TestCandidates(t *testing.T) {
	t.Run("local address by default", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		engine.addRouter(45)

		_, answer, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)
		require.Contains(t, answer, "10.1.1.45 8443 typ host")
		require.NotContains(t, answer, " TCP ")
	})

	t.Run("announced address wins over local", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		engine.identity.AnnouncedAddress = "203.0.113.45"
		engine.addRouter(45)

		_, answer, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)
		require.Contains(t, answer, "203.0.113.45 8443 typ host")
	})

	t.Run("configured override wins over everything", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{ICEHostOverride: "198.51.100.1"})
		defer teardown()
		engine.identity.AnnouncedAddress = "203.0.113.45"
		engine.addRouter(45)

		_, answer, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)
		require.Contains(t, answer, "198.51.100.1 8443 typ host")
	})

	t.Run("tcp candidates when enabled", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{EnableTCPCandidates: true})
		defer teardown()
		engine.addRouter(45)

		_, answer, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)
		require.Contains(t, answer, " TCP ")
		require.Contains(t, answer, "tcptype passive")
	})
}
