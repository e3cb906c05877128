// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLossPercentage(t *testing.T) {
	for _, tc := range []struct {
		fractionLost uint8
		expected     float64
	}{
		{0, 0},
		{51, 20.0},
		{128, 50.2},
		{255, 100},
	} {
		require.Equal(t, tc.expected, lossPercentage(tc.fractionLost))
	}
}

func TestNewTrackSnapshot(t *testing.T) {
	raw := RawTrackStats{
		MimeType:     "video/VP8",
		BitrateBps:   1_200_000,
		FractionLost: 51,
		JitterSec:    0.012,
		RTTSec:       0.045,
		PLICount:     7,
		FIRCount:     2,
	}

	t.Run("video carries keyframe request counters", func(t *testing.T) {
		snapshot := newTrackSnapshot(TrackKindVideo, raw)
		require.Equal(t, TrackKindVideo, snapshot.Kind)
		require.Equal(t, "video/VP8", snapshot.MimeType)
		require.Equal(t, float64(1200), snapshot.BitrateKbps)
		require.Equal(t, 20.0, snapshot.LossPct)
		require.Equal(t, float64(12), snapshot.JitterMs)
		require.Equal(t, float64(45), snapshot.RTTMs)
		require.NotNil(t, snapshot.PLICount)
		require.Equal(t, uint64(7), *snapshot.PLICount)
		require.NotNil(t, snapshot.FIRCount)
		require.Equal(t, uint64(2), *snapshot.FIRCount)
	})

	t.Run("audio omits keyframe request counters", func(t *testing.T) {
		snapshot := newTrackSnapshot(TrackKindAudio, raw)
		require.Nil(t, snapshot.PLICount)
		require.Nil(t, snapshot.FIRCount)
	})
}

func TestChannelStats(t *testing.T) {
	t.Run("empty channel", func(t *testing.T) {
		s, _, teardown := setupServer(t, ServerConfig{})
		defer teardown()

		stats := s.ChannelStats(45)
		require.NotNil(t, stats)
		require.Empty(t, stats)
	})

	t.Run("live sessions", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)
		engine.addRouter(46)

		sessionID, _, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)
		_, _, err = s.Negotiate(46, testOffer)
		require.NoError(t, err)

		transport := router.transports[0]
		transport.producers[0].setStats(RawTrackStats{
			MimeType:   "audio/opus",
			BitrateBps: 64_000,
		})
		transport.producers[1].setStats(RawTrackStats{
			MimeType:     "video/VP8",
			BitrateBps:   1_200_000,
			FractionLost: 51,
			PLICount:     3,
		})

		stats := s.ChannelStats(45)
		require.Len(t, stats, 1)
		require.Equal(t, sessionID, stats[0].SessionID)
		require.Equal(t, uint64(45), stats[0].ChannelID)
		require.Len(t, stats[0].Tracks, 2)
		require.Equal(t, TrackKindAudio, stats[0].Tracks[0].Kind)
		require.Equal(t, float64(64), stats[0].Tracks[0].BitrateKbps)
		require.Equal(t, TrackKindVideo, stats[0].Tracks[1].Kind)
		require.Equal(t, 20.0, stats[0].Tracks[1].LossPct)
		require.Equal(t, uint64(3), *stats[0].Tracks[1].PLICount)
	})

	t.Run("producers without a sample are skipped", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		router := engine.addRouter(45)

		_, _, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)

		router.transports[0].producers[0].setStats(RawTrackStats{MimeType: "audio/opus"})

		stats := s.ChannelStats(45)
		require.Len(t, stats, 1)
		require.Len(t, stats[0].Tracks, 1)
		require.Equal(t, TrackKindAudio, stats[0].Tracks[0].Kind)
	})

	t.Run("closed sessions are gone", func(t *testing.T) {
		s, engine, teardown := setupServer(t, ServerConfig{})
		defer teardown()
		engine.addRouter(45)

		sessionID, _, err := s.Negotiate(45, testOffer)
		require.NoError(t, err)
		require.NoError(t, s.CloseSession(sessionID))

		require.Empty(t, s.ChannelStats(45))
	})
}
