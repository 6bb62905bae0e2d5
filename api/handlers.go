// Copyright 2026 The Hearth Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/hearth-im/hearth/federation"
	"github.com/hearth-im/hearth/internal/version"
)

// maxRequestBody bounds federation request bodies.
const maxRequestBody = 8 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeFederationError maps an error to the {errcode, error} envelope
// with its HTTP status.
func writeFederationError(w http.ResponseWriter, err error) {
	fe := federation.AsError(err)
	writeJSON(w, fe.Status, ErrorResponse{
		ErrCode: string(fe.Code),
		Error:   fe.Msg,
	})
}

// readBody decodes a JSON request body into v.
func readBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return federation.BadRequest("reading request body: %s", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return federation.BadRequest("malformed request body: %s", err)
	}
	return nil
}

// handshakeEvent extracts the completed event from a send_join /
// send_leave / invite body, accepting both the wrapped {origin, event}
// shape and a bare event.
func handshakeEvent(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, federation.BadRequest("reading request body: %s", err)
	}
	var req HandshakeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, federation.BadRequest("malformed request body: %s", err)
	}
	if len(req.Event) > 0 {
		return req.Event, nil
	}
	return body, nil
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Healthy: true,
	})
}

// handleVersion handles GET /_matrix/federation/v1/version.
func (s *Server) handleVersion(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Server: ServerVersion{
			Name:    "hearth",
			Version: version.GetVersionString(),
		},
	})
}

// handleServerKeys handles GET /_matrix/key/v2/server and its
// key-id-suffixed alias. The validity window is recomputed per
// request so key rotation propagates within one window.
func (s *Server) handleServerKeys(
	w http.ResponseWriter,
	_ *http.Request,
) {
	if s.keys == nil {
		s.logger.Error(
			"server key requested but no signing key is configured",
		)
		writeFederationError(w, federation.Internal(
			"signing key not configured",
		))
		return
	}
	writeJSON(w, http.StatusOK, s.keys.LocalKeys())
}

// handleQueryKeys handles
// GET /_matrix/federation/v{1,2}/query/{serverName}/{keyID}.
func (s *Server) handleQueryKeys(
	w http.ResponseWriter,
	r *http.Request,
) {
	if s.keys == nil {
		s.logger.Error(
			"key query requested but no signing key is configured",
		)
		writeFederationError(w, federation.Internal(
			"signing key not configured",
		))
		return
	}
	serverName := r.PathValue("serverName")
	keyID := r.PathValue("keyID")
	keys, err := s.keys.QueryKeys(r.Context(), serverName, keyID)
	if err != nil {
		s.logger.Warn(
			"key query failed",
			"server", serverName,
			"key_id", keyID,
			"error", err,
		)
		writeFederationError(w, federation.NotFound(
			"no key %s known for %s", keyID, serverName,
		))
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleSendTransaction handles PUT /_matrix/federation/v1/send/{txnID}.
// The request fails as a whole only when the envelope itself is
// malformed; per-PDU failures land in the results list.
func (s *Server) handleSendTransaction(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req TransactionRequest
	if err := readBody(r, &req); err != nil {
		writeFederationError(w, err)
		return
	}
	if req.Origin == "" {
		writeFederationError(w, federation.BadRequest(
			"transaction missing origin",
		))
		return
	}
	if authOrigin := requestOrigin(r.Context()); authOrigin != "" &&
		authOrigin != req.Origin {
		s.logger.Warn(
			"transaction origin does not match authenticated origin",
			"origin", req.Origin,
			"auth_origin", authOrigin,
		)
	}
	// A nil slice means the pdus key was absent entirely; an explicit
	// empty array is a valid (if pointless) transaction.
	if req.PDUs == nil {
		writeFederationError(w, federation.BadRequest(
			"transaction missing pdus",
		))
		return
	}
	results := s.engine.Processor.Process(
		r.Context(),
		req.Origin,
		r.PathValue("txnID"),
		req.PDUs,
	)
	writeJSON(w, http.StatusOK, TransactionResponse{
		Results: newPDUResults(results),
	})
}

// handleMakeJoin handles
// GET /_matrix/federation/v1/make_join/{roomID}/{userID}.
func (s *Server) handleMakeJoin(
	w http.ResponseWriter,
	r *http.Request,
) {
	template, err := s.engine.Coordinator.MakeJoin(
		r.Context(),
		r.PathValue("roomID"),
		r.PathValue("userID"),
	)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, template)
}

// handleSendJoin handles
// PUT /_matrix/federation/v{1,2}/send_join/{roomID}/{eventID}.
func (s *Server) handleSendJoin(
	w http.ResponseWriter,
	r *http.Request,
) {
	raw, err := handshakeEvent(r)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	pdu, err := s.engine.Coordinator.SendJoin(
		r.Context(),
		r.PathValue("roomID"),
		r.PathValue("eventID"),
		raw,
	)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventIDResponse{EventID: pdu.EventID})
}

// handleMakeLeave handles
// GET /_matrix/federation/v1/make_leave/{roomID}/{userID}.
func (s *Server) handleMakeLeave(
	w http.ResponseWriter,
	r *http.Request,
) {
	template, err := s.engine.Coordinator.MakeLeave(
		r.Context(),
		r.PathValue("roomID"),
		r.PathValue("userID"),
	)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, template)
}

// handleSendLeave handles
// PUT /_matrix/federation/v{1,2}/send_leave/{roomID}/{eventID}.
func (s *Server) handleSendLeave(
	w http.ResponseWriter,
	r *http.Request,
) {
	raw, err := handshakeEvent(r)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	pdu, err := s.engine.Coordinator.SendLeave(
		r.Context(),
		r.PathValue("roomID"),
		r.PathValue("eventID"),
		raw,
	)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventIDResponse{EventID: pdu.EventID})
}

// handleInvite handles
// PUT /_matrix/federation/v{1,2}/invite/{roomID}/{eventID}.
func (s *Server) handleInvite(
	w http.ResponseWriter,
	r *http.Request,
) {
	raw, err := handshakeEvent(r)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	pdu, err := s.engine.Coordinator.Invite(
		r.Context(),
		r.PathValue("roomID"),
		r.PathValue("eventID"),
		raw,
	)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventResponse{Event: pdu})
}

// handleKnock handles
// GET /_matrix/federation/v1/knock/{roomID}/{userID}.
func (s *Server) handleKnock(
	w http.ResponseWriter,
	r *http.Request,
) {
	pdu, err := s.engine.Coordinator.Knock(
		r.Context(),
		r.PathValue("roomID"),
		r.PathValue("userID"),
	)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventResponse{Event: pdu})
}

// handleMissingEvents handles
// POST /_matrix/federation/v1/get_missing_events/{roomID}.
func (s *Server) handleMissingEvents(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req MissingEventsRequest
	if err := readBody(r, &req); err != nil {
		writeFederationError(w, err)
		return
	}
	events, err := s.engine.Backfill.MissingEvents(
		r.Context(),
		r.PathValue("roomID"),
		req.EarliestEvents,
		req.LatestEvents,
		req.Limit,
	)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	if events == nil {
		events = []*federation.PDU{}
	}
	writeJSON(w, http.StatusOK, MissingEventsResponse{Events: events})
}

// handleBackfill handles
// GET /_matrix/federation/v1/backfill/{roomID}?v=...&limit=n.
func (s *Server) handleBackfill(
	w http.ResponseWriter,
	r *http.Request,
) {
	query := r.URL.Query()
	limit := federation.DefaultMissingEventsLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeFederationError(w, federation.BadRequest(
				"invalid limit %q", raw,
			))
			return
		}
		limit = parsed
	}
	pdus, err := s.engine.Backfill.Backfill(
		r.Context(),
		r.PathValue("roomID"),
		query["v"],
		limit,
	)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	if pdus == nil {
		pdus = []*federation.PDU{}
	}
	writeJSON(w, http.StatusOK, BackfillResponse{
		Origin: s.engine.ServerName,
		PDUs:   pdus,
		Limit:  limit,
	})
}

// handleEventAuth handles
// GET /_matrix/federation/v1/event_auth/{roomID}/{eventID}.
func (s *Server) handleEventAuth(
	w http.ResponseWriter,
	r *http.Request,
) {
	chain, err := s.engine.Auth.AuthChainForEvent(
		r.Context(),
		r.PathValue("roomID"),
		r.PathValue("eventID"),
	)
	if err != nil {
		writeFederationError(w, err)
		return
	}
	if chain == nil {
		chain = []*federation.PDU{}
	}
	writeJSON(w, http.StatusOK, AuthChainResponse{AuthChain: chain})
}

// handleEvent handles GET /_matrix/federation/v1/event/{eventID}.
func (s *Server) handleEvent(
	w http.ResponseWriter,
	r *http.Request,
) {
	eventID := r.PathValue("eventID")
	pdu, err := s.engine.Store.GetEvent(r.Context(), eventID)
	if err != nil {
		s.logger.Error(
			"failed to read event",
			"event_id", eventID,
			"error", err,
		)
		writeFederationError(w, federation.Internal(
			"failed to read event",
		))
		return
	}
	if pdu == nil {
		writeFederationError(w, federation.NotFound(
			"unknown event %s", eventID,
		))
		return
	}
	writeJSON(w, http.StatusOK, pdu)
}

// handleRoomEvent handles
// GET /_matrix/federation/v1/room/{roomID}/{eventID}. A stored event
// belonging to a different room is a bad request, not a miss.
func (s *Server) handleRoomEvent(
	w http.ResponseWriter,
	r *http.Request,
) {
	roomID := r.PathValue("roomID")
	eventID := r.PathValue("eventID")
	pdu, err := s.engine.Store.GetEvent(r.Context(), eventID)
	if err != nil {
		s.logger.Error(
			"failed to read event",
			"event_id", eventID,
			"error", err,
		)
		writeFederationError(w, federation.Internal(
			"failed to read event",
		))
		return
	}
	if pdu == nil {
		writeFederationError(w, federation.NotFound(
			"unknown event %s", eventID,
		))
		return
	}
	if pdu.RoomID != roomID {
		writeFederationError(w, federation.BadRequest(
			"event %s is not in room %s", eventID, roomID,
		))
		return
	}
	writeJSON(w, http.StatusOK, pdu)
}

// handleState handles GET /_matrix/federation/v1/state/{roomID}.
func (s *Server) handleState(
	w http.ResponseWriter,
	r *http.Request,
) {
	roomID := r.PathValue("roomID")
	state, err := s.engine.Store.StateEvents(r.Context(), roomID)
	if err != nil {
		s.logger.Error(
			"failed to read room state",
			"room_id", roomID,
			"error", err,
		)
		writeFederationError(w, federation.Internal(
			"failed to read room state",
		))
		return
	}
	if len(state) == 0 {
		writeFederationError(w, federation.NotFound(
			"unknown room %s", roomID,
		))
		return
	}
	chain := make([]*federation.PDU, 0, len(state))
	for _, pdu := range state {
		if pdu.IsAuthType() {
			chain = append(chain, pdu)
		}
	}
	writeJSON(w, http.StatusOK, StateResponse{
		AuthChain: chain,
		PDUs:      state,
	})
}

// handleStateIDs handles GET /_matrix/federation/v1/state_ids/{roomID}.
func (s *Server) handleStateIDs(
	w http.ResponseWriter,
	r *http.Request,
) {
	roomID := r.PathValue("roomID")
	state, err := s.engine.Store.StateEvents(r.Context(), roomID)
	if err != nil {
		s.logger.Error(
			"failed to read room state",
			"room_id", roomID,
			"error", err,
		)
		writeFederationError(w, federation.Internal(
			"failed to read room state",
		))
		return
	}
	if len(state) == 0 {
		writeFederationError(w, federation.NotFound(
			"unknown room %s", roomID,
		))
		return
	}
	resp := StateIDsResponse{
		AuthChainIDs: []string{},
		PDUIDs:       []string{},
	}
	for _, pdu := range state {
		resp.PDUIDs = append(resp.PDUIDs, pdu.EventID)
		if pdu.IsAuthType() {
			resp.AuthChainIDs = append(resp.AuthChainIDs, pdu.EventID)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMembers handles GET /_matrix/federation/v1/members/{roomID}.
// Only currently joined members are listed; invite/leave/ban rows stay
// internal to the projection.
func (s *Server) handleMembers(
	w http.ResponseWriter,
	r *http.Request,
) {
	roomID := r.PathValue("roomID")
	members, err := s.engine.Store.Members(
		r.Context(), roomID, federation.MembershipJoin,
	)
	if err != nil {
		s.logger.Error(
			"failed to read members",
			"room_id", roomID,
			"error", err,
		)
		writeFederationError(w, federation.Internal(
			"failed to read members",
		))
		return
	}
	resp := MembersResponse{Chunk: []MemberInfo{}}
	for _, m := range members {
		resp.Chunk = append(resp.Chunk, MemberInfo{
			RoomID:     m.RoomID,
			UserID:     m.UserID,
			Membership: m.Membership,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleJoinedMembers handles
// GET /_matrix/federation/v1/members/{roomID}/joined.
func (s *Server) handleJoinedMembers(
	w http.ResponseWriter,
	r *http.Request,
) {
	roomID := r.PathValue("roomID")
	members, err := s.engine.Store.Members(
		r.Context(), roomID, federation.MembershipJoin,
	)
	if err != nil {
		s.logger.Error(
			"failed to read members",
			"room_id", roomID,
			"error", err,
		)
		writeFederationError(w, federation.Internal(
			"failed to read members",
		))
		return
	}
	resp := JoinedMembersResponse{Joined: []string{}}
	for _, m := range members {
		resp.Joined = append(resp.Joined, m.UserID)
	}
	writeJSON(w, http.StatusOK, resp)
}
