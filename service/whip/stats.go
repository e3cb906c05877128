// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"math"
)

// TrackSnapshot is the client-facing form of one producer's live stats.
type TrackSnapshot struct {
	Kind        TrackKind `json:"kind"`
	MimeType    string    `json:"mimeType,omitempty"`
	BitrateKbps float64   `json:"bitrateKbps"`
	LossPct     float64   `json:"lossPct"`
	JitterMs    float64   `json:"jitterMs"`
	RTTMs       float64   `json:"rttMs"`
	PLICount    *uint64   `json:"pliCount,omitempty"`
	FIRCount    *uint64   `json:"firCount,omitempty"`
}

// SessionSnapshot is a point-in-time view of one ingest session. Snapshots
// are recomputed from live producer state on every request, never cached.
type SessionSnapshot struct {
	SessionID string          `json:"sessionID"`
	ChannelID uint64          `json:"channelID"`
	Tracks    []TrackSnapshot `json:"tracks"`
}

// ChannelStats returns snapshots for every live session in the given
// channel. Sessions vanishing mid-aggregation and producers yielding no
// sample are both skipped; teardown routinely races a stats request and
// neither case is an error.
func (s *Server) ChannelStats(channelID uint64) []SessionSnapshot {
	snapshots := []SessionSnapshot{}

	for _, us := range s.sessionsForChannel(channelID) {
		snapshot := SessionSnapshot{
			SessionID: us.id,
			ChannelID: us.channelID,
			Tracks:    []TrackSnapshot{},
		}

		for _, producer := range us.producers() {
			raw, ok := producer.Stats()
			if !ok {
				continue
			}
			snapshot.Tracks = append(snapshot.Tracks, newTrackSnapshot(producer.Kind(), raw))
		}

		snapshots = append(snapshots, snapshot)
	}

	return snapshots
}

func newTrackSnapshot(kind TrackKind, raw RawTrackStats) TrackSnapshot {
	snapshot := TrackSnapshot{
		Kind:        kind,
		MimeType:    raw.MimeType,
		BitrateKbps: raw.BitrateBps / 1000,
		LossPct:     lossPercentage(raw.FractionLost),
		JitterMs:    raw.JitterSec * 1000,
		RTTMs:       raw.RTTSec * 1000,
	}
	if kind == TrackKindVideo {
		pli := raw.PLICount
		fir := raw.FIRCount
		snapshot.PLICount = &pli
		snapshot.FIRCount = &fir
	}
	return snapshot
}

// lossPercentage converts the wire-format 0-255 fraction into a 0-100
// percentage with one decimal of precision.
func lossPercentage(fractionLost uint8) float64 {
	return math.Round(float64(fractionLost)/255*1000) / 10
}
