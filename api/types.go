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

	"github.com/hearth-im/hearth/federation"
)

// ErrorResponse is the federation error envelope.
type ErrorResponse struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Healthy bool `json:"healthy"`
}

// VersionResponse is returned by the federation version endpoint.
type VersionResponse struct {
	Server ServerVersion `json:"server"`
}

type ServerVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// TransactionRequest is the body of PUT /send/{txn_id}.
type TransactionRequest struct {
	Origin string            `json:"origin"`
	PDUs   []json.RawMessage `json:"pdus"`
}

// TransactionResponse carries per-PDU outcomes. Every supplied PDU has
// exactly one entry; partial failure is expressed here, never as a
// request-level error.
type TransactionResponse struct {
	Results []PDUResult `json:"results"`
}

// PDUResult is the wire shape of one per-event outcome.
type PDUResult struct {
	EventID string `json:"event_id"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newPDUResults(results []federation.PDUResult) []PDUResult {
	out := make([]PDUResult, 0, len(results))
	for _, r := range results {
		out = append(out, PDUResult{
			EventID: r.EventID,
			Success: r.Success,
			Error:   r.Error,
		})
	}
	return out
}

// HandshakeRequest is the body of send_join / send_leave / invite.
// Some callers wrap the event, some send it bare; both are accepted.
type HandshakeRequest struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// EventIDResponse is returned by send_join and send_leave.
type EventIDResponse struct {
	EventID string `json:"event_id"`
}

// EventResponse wraps a single returned event.
type EventResponse struct {
	Event *federation.PDU `json:"event"`
}

// MissingEventsRequest is the body of POST /get_missing_events.
type MissingEventsRequest struct {
	EarliestEvents []string `json:"earliest_events"`
	LatestEvents   []string `json:"latest_events"`
	Limit          int      `json:"limit"`
}

// MissingEventsResponse carries the gap events in causal order.
type MissingEventsResponse struct {
	Events []*federation.PDU `json:"events"`
}

// BackfillResponse is returned by GET /backfill/{room_id}.
type BackfillResponse struct {
	Origin string            `json:"origin"`
	PDUs   []*federation.PDU `json:"pdus"`
	Limit  int               `json:"limit"`
}

// AuthChainResponse is returned by GET /event_auth.
type AuthChainResponse struct {
	AuthChain []*federation.PDU `json:"auth_chain"`
}

// StateResponse is returned by GET /state/{room_id}.
type StateResponse struct {
	AuthChain []*federation.PDU `json:"auth_chain"`
	PDUs      []*federation.PDU `json:"pdus"`
}

// StateIDsResponse is returned by GET /state_ids/{room_id}.
type StateIDsResponse struct {
	AuthChainIDs []string `json:"auth_chain_ids"`
	PDUIDs       []string `json:"pdu_ids"`
}

// MembersResponse is returned by GET /members/{room_id}.
type MembersResponse struct {
	Chunk []MemberInfo `json:"chunk"`
}

type MemberInfo struct {
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	Membership string `json:"membership"`
}

// JoinedMembersResponse is returned by GET /members/{room_id}/joined.
type JoinedMembersResponse struct {
	Joined []string `json:"joined"`
}
