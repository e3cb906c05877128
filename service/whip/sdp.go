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
)

// TrackKind is the kind of a media section or producer.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

var ErrMalformedOffer = errors.New("malformed session description")

// CodecInfo describes a single negotiated codec as declared by the offer.
type CodecInfo struct {
	PayloadType  uint8
	MimeType     string
	ClockRate    uint32
	Channels     uint16
	SDPFmtpLine  string
	RTCPFeedback []string
}

// HeaderExtension is a negotiated RTP header extension.
type HeaderExtension struct {
	ID  int
	URI string
}

// MediaSection is the parsed form of a single m= section. It is populated
// once by ParseOffer and treated as read-only from then on.
type MediaSection struct {
	Kind        TrackKind
	MID         string
	Protocol    []string
	Formats     []string
	Codecs      []CodecInfo
	Extensions  []HeaderExtension
	SSRCs       []webrtc.SSRC
	CName       string
	Setup       string
	Fingerprint *webrtc.DTLSFingerprint
	ICEUfrag    string
	ICEPwd      string
	RTCPMux     bool
	RTCPRsize   bool
}

// OfferDescription is the parsed, immutable form of a WHIP offer. It is the
// single source every extraction and answer-building step reads from; the
// offer text is never parsed twice.
type OfferDescription struct {
	Media       []MediaSection
	Group       string
	Setup       string
	Fingerprint *webrtc.DTLSFingerprint
	ICEUfrag    string
	ICEPwd      string
}

// Conventional static payload types that senders may declare without an
// explicit rtpmap line.
var staticCodecs = map[uint8]CodecInfo{
	0: {PayloadType: 0, MimeType: "audio/PCMU", ClockRate: 8000, Channels: 1},
	8: {PayloadType: 8, MimeType: "audio/PCMA", ClockRate: 8000, Channels: 1},
	9: {PayloadType: 9, MimeType: "audio/G722", ClockRate: 8000, Channels: 1},
}

// ParseOffer parses the given session description text into an
// OfferDescription. The sender's media section ordering and identifiers are
// preserved since answer construction echoes them.
func ParseOffer(text string) (*OfferDescription, error) {
	if !strings.HasPrefix(text, "v=0") {
		return nil, fmt.Errorf("%w: missing version line", ErrMalformedOffer)
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(text)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedOffer, err.Error())
	}

	offer := &OfferDescription{}

	for _, attr := range sd.Attributes {
		switch attr.Key {
		case "group":
			offer.Group = attr.Value
		case "setup":
			offer.Setup = attr.Value
		case "fingerprint":
			offer.Fingerprint = parseFingerprint(attr.Value)
		case "ice-ufrag":
			offer.ICEUfrag = attr.Value
		case "ice-pwd":
			offer.ICEPwd = attr.Value
		}
	}

	for _, md := range sd.MediaDescriptions {
		section, err := parseMediaSection(md)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedOffer, err.Error())
		}
		offer.Media = append(offer.Media, section)
	}

	return offer, nil
}

func parseMediaSection(md *sdp.MediaDescription) (MediaSection, error) {
	section := MediaSection{
		Kind:     TrackKind(md.MediaName.Media),
		Protocol: md.MediaName.Protos,
		Formats:  md.MediaName.Formats,
	}

	codecs := map[uint8]*CodecInfo{}
	var order []uint8
	var wildcardFeedback []string

	for _, format := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(format, 10, 8)
		if err != nil {
			// Non-RTP format token (e.g. webrtc-datachannel), nothing to
			// map to a codec.
			continue
		}
		if static, ok := staticCodecs[uint8(pt)]; ok {
			c := static
			codecs[uint8(pt)] = &c
		} else {
			codecs[uint8(pt)] = &CodecInfo{PayloadType: uint8(pt)}
		}
		order = append(order, uint8(pt))
	}

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "mid":
			section.MID = attr.Value
		case "setup":
			section.Setup = attr.Value
		case "fingerprint":
			section.Fingerprint = parseFingerprint(attr.Value)
		case "ice-ufrag":
			section.ICEUfrag = attr.Value
		case "ice-pwd":
			section.ICEPwd = attr.Value
		case "rtcp-mux":
			section.RTCPMux = true
		case "rtcp-rsize":
			section.RTCPRsize = true
		case "rtpmap":
			pt, desc, err := splitPayloadAttribute(attr.Value)
			if err != nil {
				return section, err
			}
			if c, ok := codecs[pt]; ok {
				parseRTPMap(c, section.Kind, desc)
			}
		case "fmtp":
			pt, desc, err := splitPayloadAttribute(attr.Value)
			if err != nil {
				return section, err
			}
			if c, ok := codecs[pt]; ok {
				c.SDPFmtpLine = desc
			}
		case "rtcp-fb":
			target, fb, found := strings.Cut(attr.Value, " ")
			if !found {
				continue
			}
			if target == "*" {
				wildcardFeedback = append(wildcardFeedback, fb)
				continue
			}
			pt, err := strconv.ParseUint(target, 10, 8)
			if err != nil {
				return section, fmt.Errorf("invalid rtcp-fb payload type %q", target)
			}
			if c, ok := codecs[uint8(pt)]; ok {
				c.RTCPFeedback = append(c.RTCPFeedback, fb)
			}
		case "extmap":
			id, uri, found := strings.Cut(attr.Value, " ")
			if !found {
				continue
			}
			// The id field may carry a direction suffix (e.g. "2/recvonly").
			if idx := strings.IndexByte(id, '/'); idx != -1 {
				id = id[:idx]
			}
			extID, err := strconv.Atoi(id)
			if err != nil {
				return section, fmt.Errorf("invalid extmap id %q", id)
			}
			section.Extensions = append(section.Extensions, HeaderExtension{ID: extID, URI: uri})
		case "ssrc":
			ssrcVal, desc, _ := strings.Cut(attr.Value, " ")
			ssrc, err := strconv.ParseUint(ssrcVal, 10, 32)
			if err != nil {
				return section, fmt.Errorf("invalid ssrc %q", ssrcVal)
			}
			if !containsSSRC(section.SSRCs, webrtc.SSRC(ssrc)) {
				section.SSRCs = append(section.SSRCs, webrtc.SSRC(ssrc))
			}
			if cname, ok := strings.CutPrefix(desc, "cname:"); ok && section.CName == "" {
				section.CName = cname
			}
		}
	}

	for _, pt := range order {
		c := codecs[pt]
		if c.MimeType == "" {
			// Dynamic payload type with no matching rtpmap line, nothing
			// usable to negotiate.
			continue
		}
		c.RTCPFeedback = append(c.RTCPFeedback, wildcardFeedback...)
		section.Codecs = append(section.Codecs, *c)
	}

	return section, nil
}

// splitPayloadAttribute splits attributes of the "<pt> <description>" form
// shared by rtpmap and fmtp lines.
func splitPayloadAttribute(value string) (uint8, string, error) {
	ptVal, desc, found := strings.Cut(value, " ")
	if !found {
		return 0, "", fmt.Errorf("invalid payload attribute %q", value)
	}
	pt, err := strconv.ParseUint(ptVal, 10, 8)
	if err != nil {
		return 0, "", fmt.Errorf("invalid payload type %q", ptVal)
	}
	return uint8(pt), desc, nil
}

// parseRTPMap fills c from a "<name>/<clock>[/<channels>]" description.
// The clock rate defaults to the kind's conventional rate when absent.
func parseRTPMap(c *CodecInfo, kind TrackKind, desc string) {
	parts := strings.Split(desc, "/")
	c.MimeType = string(kind) + "/" + parts[0]
	c.ClockRate = defaultClockRate(kind)
	c.Channels = 1
	if len(parts) > 1 {
		if rate, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
			c.ClockRate = uint32(rate)
		}
	}
	if len(parts) > 2 {
		if ch, err := strconv.ParseUint(parts[2], 10, 16); err == nil {
			c.Channels = uint16(ch)
		}
	}
}

func defaultClockRate(kind TrackKind) uint32 {
	if kind == TrackKindAudio {
		return 48000
	}
	return 90000
}

func parseFingerprint(value string) *webrtc.DTLSFingerprint {
	algorithm, fp, found := strings.Cut(value, " ")
	if !found {
		return nil
	}
	return &webrtc.DTLSFingerprint{
		Algorithm: strings.ToLower(algorithm),
		Value:     fp,
	}
}

func containsSSRC(list []webrtc.SSRC, ssrc webrtc.SSRC) bool {
	for _, s := range list {
		if s == ssrc {
			return true
		}
	}
	return false
}
