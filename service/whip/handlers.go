// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const requestBodyMaxSizeBytes = 1024 * 1024 // 1MB

// ServeHTTP dispatches the WHIP protocol surface:
//
//	POST    /whip/{channelID}             submit an offer, returns the answer
//	DELETE  /whip/{channelID}/{sessionID} end a session
//	GET     /whip                         liveness probe
//	GET     /whip/stats/{channelID}       live stats snapshot
//	OPTIONS any                           CORS preflight
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/whip"), "/"), "/")
	if parts[0] == "" {
		parts = parts[:0]
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 0:
		s.handleStatus(w)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "stats":
		s.handleStats(w, parts[1])
	case r.Method == http.MethodPost && len(parts) == 1:
		s.handleNegotiate(w, r, parts[0])
	case r.Method == http.MethodDelete && len(parts) == 2:
		s.handleDelete(w, parts[0], parts[1])
	default:
		http.NotFound(w, r)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "POST, DELETE, GET, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	header.Set("Access-Control-Expose-Headers", "Location")
}

func (s *Server) handleStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.SessionCount(),
	}); err != nil {
		s.log.Error("whip: failed to encode data", mlog.Err(err))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, channelVal string) {
	channelID, err := parseChannelID(channelVal)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid channel id")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.ChannelStats(channelID)); err != nil {
		s.log.Error("whip: failed to encode data", mlog.Err(err))
	}
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request, channelVal string) {
	channelID, err := parseChannelID(channelVal)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid channel id")
		return
	}

	if err := s.admit(r, channelID); err != nil {
		s.writeNegotiateError(w, channelID, err)
		return
	}

	offerText, err := io.ReadAll(http.MaxBytesReader(w, r.Body, requestBodyMaxSizeBytes))
	if err != nil {
		httpError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// Reject anything that isn't a session description before attempting
	// to parse it.
	if !strings.HasPrefix(string(offerText), "v=0") {
		httpError(w, http.StatusBadRequest, "invalid session description")
		return
	}

	sessionID, answer, err := s.Negotiate(channelID, string(offerText))
	if err != nil {
		s.writeNegotiateError(w, channelID, err)
		return
	}

	s.metrics.IncWHIPNegotiations("success")

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", fmt.Sprintf("/whip/%d/%s", channelID, sessionID))
	w.WriteHeader(http.StatusCreated)
	if _, err := w.Write([]byte(answer)); err != nil {
		s.log.Error("whip: failed to write answer", mlog.Err(err))
	}
}

func (s *Server) writeNegotiateError(w http.ResponseWriter, channelID uint64, err error) {
	var code int
	switch {
	case errors.Is(err, ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		code = http.StatusTooManyRequests
	case errors.Is(err, ErrNoRoute):
		code = http.StatusServiceUnavailable
	case errors.Is(err, ErrMalformedOffer),
		errors.Is(err, ErrMissingFingerprint),
		errors.Is(err, ErrNoUsableMedia):
		code = http.StatusBadRequest
	default:
		code = http.StatusInternalServerError
	}

	s.metrics.IncWHIPNegotiations("fail")
	s.log.Debug("whip: negotiation failed",
		mlog.Err(err), mlog.Uint("channelID", channelID), mlog.Int("code", code))

	// The underlying engine failure is surfaced for operator diagnosis.
	httpError(w, code, err.Error())
}

func (s *Server) handleDelete(w http.ResponseWriter, channelVal, sessionID string) {
	if _, err := parseChannelID(channelVal); err != nil {
		httpError(w, http.StatusBadRequest, "invalid channel id")
		return
	}

	err := s.CloseSession(sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		// The session was removed; release failures are logged but the
		// teardown itself succeeded from the sender's point of view.
		s.log.Error("whip: failed to release session resources",
			mlog.Err(err), mlog.String("sessionID", sessionID))
	}

	w.WriteHeader(http.StatusOK)
}

func parseChannelID(val string) (uint64, error) {
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q", val)
	}
	return id, nil
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
