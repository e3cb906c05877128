// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// adminAuthHandler verifies the admin secret key, supplied as the
// basic-auth password. It returns the status code to respond with on
// failure.
func (s *Service) adminAuthHandler(r *http.Request) (int, error) {
	if !s.cfg.API.Admin.Enable {
		return http.StatusNotImplemented, fmt.Errorf("admin API is disabled")
	}

	_, secret, ok := r.BasicAuth()
	if !ok {
		return http.StatusUnauthorized, fmt.Errorf("authentication failed: invalid auth header")
	}

	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.API.Admin.SecretKey)) != 1 {
		return http.StatusUnauthorized, fmt.Errorf("authentication failed: unauthorized")
	}

	return http.StatusOK, nil
}

func (s *Service) registerChannel(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.NotFound(w, req)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("registerChannel", data, w, req)

	code, err := s.adminAuthHandler(req)
	if err != nil {
		data.err = err.Error()
		data.code = code
		return
	}

	request := map[string]string{}
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.reqData["channelID"] = request["channelID"]
	channelID, err := strconv.ParseUint(request["channelID"], 10, 64)
	if err != nil {
		data.err = "invalid channel id"
		data.code = http.StatusBadRequest
		return
	}

	key, err := s.auth.Register(channelID)
	if err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.code = http.StatusCreated
	data.resData["channelID"] = request["channelID"]
	data.resData["ingestKey"] = key
}

func (s *Service) unregisterChannel(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.NotFound(w, req)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("unregisterChannel", data, w, req)

	code, err := s.adminAuthHandler(req)
	if err != nil {
		data.err = err.Error()
		data.code = code
		return
	}

	request := map[string]string{}
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.reqData["channelID"] = request["channelID"]
	channelID, err := strconv.ParseUint(request["channelID"], 10, 64)
	if err != nil {
		data.err = "invalid channel id"
		data.code = http.StatusBadRequest
		return
	}

	if err := s.auth.Unregister(channelID); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	data.code = http.StatusOK
}
