// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/mattermost/whipd/service/random"
)

var ErrNoFingerprint = errors.New("no local DTLS fingerprint available")

// The posture our answers always declare. remoteDTLSRole takes this as input
// so the role derivation can never disagree with what we emit.
const answerSetupRole = "passive"

// The RTP discard port used on answer media lines. The actual negotiated
// port travels in the candidate lines.
const answerMediaPort = 9

// ICEParams are the local ICE credentials of an ingest transport.
type ICEParams struct {
	Ufrag string
	Pwd   string
}

// Candidate is a concrete address the sender can reach the ingest
// transport at.
type Candidate struct {
	Address  string
	Port     int
	Protocol string
}

// selectFingerprint returns the local fingerprint to advertise. SHA-256 is
// the universally supported baseline so it always wins; the remaining SHA-2
// variants and SHA-1 follow, and only if none of those are available the
// last entry is used as-is.
func selectFingerprint(fingerprints []webrtc.DTLSFingerprint) (webrtc.DTLSFingerprint, error) {
	if len(fingerprints) == 0 {
		return webrtc.DTLSFingerprint{}, ErrNoFingerprint
	}
	for _, algorithm := range []string{"sha-256", "sha-512", "sha-384", "sha-1"} {
		for _, fp := range fingerprints {
			if strings.EqualFold(fp.Algorithm, algorithm) {
				return fp, nil
			}
		}
	}
	return fingerprints[len(fingerprints)-1], nil
}

// BuildAnswer produces the answer document for the given offer. Every media
// section echoes the offer's kind, identifier, codecs, format parameters,
// feedback and header extensions verbatim, declares itself receive-only and
// commits to the passive handshake posture. Sections with nothing negotiable
// are echoed back declined. The output is guaranteed to be parseable by
// ParseOffer.
func BuildAnswer(offer *OfferDescription, fingerprints []webrtc.DTLSFingerprint, ice ICEParams, candidates []Candidate) (string, error) {
	fingerprint, err := selectFingerprint(fingerprints)
	if err != nil {
		return "", err
	}

	answer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      random.NewSessionNumber(),
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName: "-",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	// We never initiate connectivity checks, we only answer them.
	answer.Attributes = append(answer.Attributes, sdp.NewPropertyAttribute("ice-lite"))

	group := offer.Group
	if group == "" {
		mids := make([]string, 0, len(offer.Media))
		for _, section := range offer.Media {
			mids = append(mids, section.MID)
		}
		group = "BUNDLE " + strings.Join(mids, " ")
	}
	answer.Attributes = append(answer.Attributes,
		sdp.NewAttribute("group", group),
		sdp.NewAttribute("fingerprint", fingerprint.Algorithm+" "+fingerprint.Value),
		sdp.NewAttribute("msid-semantic", " WMS"),
	)

	candidateAttrs := candidateAttributes(candidates)

	for i := range offer.Media {
		answer.MediaDescriptions = append(answer.MediaDescriptions,
			answerMediaDescription(&offer.Media[i], ice, candidateAttrs))
	}

	data, err := answer.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal answer: %w", err)
	}

	return string(data), nil
}

func answerMediaDescription(section *MediaSection, ice ICEParams, candidateAttrs []sdp.Attribute) *sdp.MediaDescription {
	protos := section.Protocol
	if len(protos) == 0 {
		protos = []string{"UDP", "TLS", "RTP", "SAVPF"}
	}

	port := answerMediaPort
	formats := codecFormats(section.Codecs)
	if len(formats) == 0 {
		// Nothing negotiable on this section (e.g. a data channel): echo
		// its format tokens and decline it with a zero port.
		port = 0
		formats = section.Formats
	}

	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   string(section.Kind),
			Port:    sdp.RangedPort{Value: port},
			Protos:  protos,
			Formats: formats,
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
	}

	if port == 0 {
		md.Attributes = append(md.Attributes, sdp.NewAttribute("mid", section.MID))
		return md
	}

	md.Attributes = append(md.Attributes,
		sdp.NewAttribute("mid", section.MID),
		sdp.NewAttribute("ice-ufrag", ice.Ufrag),
		sdp.NewAttribute("ice-pwd", ice.Pwd),
		sdp.NewAttribute("setup", answerSetupRole),
		sdp.NewPropertyAttribute("recvonly"),
		sdp.NewPropertyAttribute("rtcp-mux"),
	)
	if section.RTCPRsize {
		md.Attributes = append(md.Attributes, sdp.NewPropertyAttribute("rtcp-rsize"))
	}

	for _, c := range section.Codecs {
		pt := strconv.Itoa(int(c.PayloadType))
		md.Attributes = append(md.Attributes, sdp.NewAttribute("rtpmap", pt+" "+rtpMapDescription(c)))
		if c.SDPFmtpLine != "" {
			md.Attributes = append(md.Attributes, sdp.NewAttribute("fmtp", pt+" "+c.SDPFmtpLine))
		}
		for _, fb := range c.RTCPFeedback {
			md.Attributes = append(md.Attributes, sdp.NewAttribute("rtcp-fb", pt+" "+fb))
		}
	}

	for _, ext := range section.Extensions {
		md.Attributes = append(md.Attributes,
			sdp.NewAttribute("extmap", strconv.Itoa(ext.ID)+" "+ext.URI))
	}

	// No outgoing stream sources: ingest is strictly one-way.
	md.Attributes = append(md.Attributes, candidateAttrs...)
	md.Attributes = append(md.Attributes, sdp.NewPropertyAttribute("end-of-candidates"))

	return md
}

// candidateAttributes synthesizes host candidate lines. No real topology
// grouping is available from the engine so the foundation is a 1-based
// sequence, and the component is always 1 since RTCP is multiplexed.
func candidateAttributes(candidates []Candidate) []sdp.Attribute {
	attrs := make([]sdp.Attribute, 0, len(candidates))
	for i, c := range candidates {
		priority := hostCandidatePriority(uint32(i))
		value := fmt.Sprintf("%d 1 %s %d %s %d typ host",
			i+1, strings.ToUpper(c.Protocol), priority, c.Address, c.Port)
		if strings.EqualFold(c.Protocol, "tcp") {
			value += " tcptype passive"
		}
		attrs = append(attrs, sdp.NewAttribute("candidate", value))
	}
	return attrs
}

// hostCandidatePriority follows the RFC 8445 recommended formula with a host
// type preference and a local preference decreasing with position.
func hostCandidatePriority(idx uint32) uint32 {
	const typePreference = 126
	localPreference := uint32(65535) - idx
	return typePreference<<24 | localPreference<<8 | (256 - 1)
}

func codecFormats(codecs []CodecInfo) []string {
	formats := make([]string, 0, len(codecs))
	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(int(c.PayloadType)))
	}
	return formats
}

func rtpMapDescription(c CodecInfo) string {
	name := c.MimeType
	if idx := strings.IndexByte(name, '/'); idx != -1 {
		name = name[idx+1:]
	}
	desc := fmt.Sprintf("%s/%d", name, c.ClockRate)
	if c.Channels > 1 {
		desc += "/" + strconv.Itoa(int(c.Channels))
	}
	return desc
}
