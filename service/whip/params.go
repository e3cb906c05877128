// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/mattermost/whipd/service/random"
)

var (
	ErrMissingFingerprint = errors.New("no DTLS fingerprint in offer")
)

// The cname reported for encodings whose offer carried none.
const defaultCName = "whipd"

// SecurityParams carries what the media engine needs to complete the DTLS
// handshake with the sender: the sender's certificate fingerprint and the
// role the sender will take. DTLSRoleClient means the sender initiates the
// handshake, DTLSRoleServer means it waits for us to.
type SecurityParams struct {
	Role        webrtc.DTLSRole
	Fingerprint webrtc.DTLSFingerprint
}

// EncodingParams describes one encoding (RTP stream) within a media section.
type EncodingParams struct {
	SSRC webrtc.SSRC
}

// MediaParams is everything needed to create a producer of one kind on the
// ingest transport.
type MediaParams struct {
	MID             string
	Codecs          []CodecInfo
	Encodings       []EncodingParams
	Extensions      []HeaderExtension
	CName           string
	RTCPReducedSize bool
}

// ExtractSecurity derives the sender's DTLS parameters from the offer. The
// fingerprint is looked up at the first media section first, then at the
// session level. The handshake role is derived from the sender's setup
// attribute relative to the posture our answer will declare, so the mapping
// cannot drift from what BuildAnswer actually emits.
func ExtractSecurity(offer *OfferDescription) (SecurityParams, error) {
	var params SecurityParams

	fingerprint := offer.Fingerprint
	setup := offer.Setup
	if len(offer.Media) > 0 {
		if offer.Media[0].Fingerprint != nil {
			fingerprint = offer.Media[0].Fingerprint
		}
		if offer.Media[0].Setup != "" {
			setup = offer.Media[0].Setup
		}
	}
	if fingerprint == nil {
		return params, ErrMissingFingerprint
	}

	role, err := remoteDTLSRole(setup, answerSetupRole)
	if err != nil {
		return params, err
	}

	params.Role = role
	params.Fingerprint = *fingerprint

	return params, nil
}

// remoteDTLSRole resolves the handshake role the sender ends up with, given
// its declared setup attribute and the setup attribute our answer carries.
func remoteDTLSRole(offerSetup, answerSetup string) (webrtc.DTLSRole, error) {
	switch offerSetup {
	case "active":
		return webrtc.DTLSRoleClient, nil
	case "passive":
		return webrtc.DTLSRoleServer, nil
	case "actpass", "":
		// Undecided sender, it follows whatever our answer commits to.
		if answerSetup == "passive" {
			return webrtc.DTLSRoleClient, nil
		}
		return webrtc.DTLSRoleServer, nil
	default:
		return webrtc.DTLSRole(0), fmt.Errorf("%w: unexpected setup attribute %q", ErrMalformedOffer, offerSetup)
	}
}

// ExtractMedia derives the producer parameters for the first media section of
// the given kind. It returns false when no such section exists or it declares
// no usable codecs.
func ExtractMedia(offer *OfferDescription, kind TrackKind) (MediaParams, bool) {
	for i := range offer.Media {
		section := &offer.Media[i]
		if section.Kind != kind {
			continue
		}
		if len(section.Codecs) == 0 {
			return MediaParams{}, false
		}

		params := MediaParams{
			MID:             section.MID,
			Codecs:          section.Codecs,
			Extensions:      section.Extensions,
			CName:           section.CName,
			RTCPReducedSize: section.RTCPRsize,
		}
		if params.CName == "" {
			params.CName = defaultCName
		}

		if len(section.SSRCs) > 0 {
			// The first declared source is the primary stream; any
			// additional ones (e.g. RTX) are resolved by the engine.
			params.Encodings = []EncodingParams{{SSRC: section.SSRCs[0]}}
		} else {
			// The sender didn't declare a stream source. A random one is
			// fine since it only needs to be unique within the transport.
			params.Encodings = []EncodingParams{{SSRC: webrtc.SSRC(random.NewSSRC())}}
		}

		return params, true
	}

	return MediaParams{}, false
}
