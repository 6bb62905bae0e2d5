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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-im/hearth/database"
	"github.com/hearth-im/hearth/federation"
	"github.com/hearth-im/hearth/keyauthority"
)

const testAuthHeader = `X-Matrix origin="remote.test",` +
	`key="ed25519:1",sig="dGVzdA"`

var apiTestTS = time.Now().UnixMilli()

func nextTS() *int64 {
	apiTestTS++
	ts := apiTestTS
	return &ts
}

func statePDU(
	eventID, roomID, sender, eventType, stateKey string,
	content any,
) *federation.PDU {
	raw, err := json.Marshal(content)
	if err != nil {
		panic(err)
	}
	return &federation.PDU{
		EventID:        eventID,
		RoomID:         roomID,
		Sender:         sender,
		Type:           eventType,
		Content:        raw,
		StateKey:       &stateKey,
		OriginServerTS: nextTS(),
	}
}

func newTestServer(t *testing.T) (*Server, *database.Database) {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	engine := federation.NewEngine(federation.EngineConfig{
		Store:      db,
		ServerName: "hearth.test",
	})
	keys, err := keyauthority.New(keyauthority.Config{
		ServerName: "hearth.test",
		Seed: base64.StdEncoding.EncodeToString(
			[]byte("0123456789abcdef0123456789abcdef"),
		),
	})
	require.NoError(t, err)
	return New(Config{}, engine, keys, nil), db
}

// seedRoom creates a room with a create event, power levels, and a
// joined creator.
func seedRoom(
	t *testing.T,
	db *database.Database,
	roomID string,
	creator string,
) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.PutEvent(ctx, statePDU(
		"$create-"+roomID, roomID, creator, federation.EventTypeCreate, "",
		federation.CreateContent{Creator: creator, RoomVersion: "10"},
	)))
	require.NoError(t, db.PutEvent(ctx, statePDU(
		"$power-"+roomID, roomID, creator,
		federation.EventTypePowerLevels, "",
		federation.PowerLevelsContent{},
	)))
	require.NoError(t, db.PutMemberEvent(ctx, statePDU(
		fmt.Sprintf("$member-%s-%s", roomID, creator),
		roomID, creator, federation.EventTypeMember, creator,
		federation.MemberContent{Membership: federation.MembershipJoin},
	), federation.MembershipJoin))
}

func doRequest(
	t *testing.T,
	s *Server,
	method string,
	path string,
	body any,
	authenticated bool,
) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if authenticated {
		req.Header.Set("Authorization", testAuthHeader)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Healthy)
}

func TestHandleServerKeys(t *testing.T) {
	s, _ := newTestServer(t)
	before := time.Now().UnixMilli()
	w := doRequest(t, s, http.MethodGet, "/_matrix/key/v2/server", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	var resp keyauthority.ServerKeys
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hearth.test", resp.ServerName)
	assert.Contains(t, resp.VerifyKeys, keyauthority.DefaultKeyID)
	assert.Greater(t, resp.ValidUntilTS, before)
}

func TestProtectedRouteRequiresOrigin(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(
		t, s, http.MethodPut, "/_matrix/federation/v1/send/txn1",
		TransactionRequest{}, false,
	)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "M_UNAUTHORIZED", resp.ErrCode)
}

func TestHandleSendTransaction(t *testing.T) {
	s, _ := newTestServer(t)

	good, err := json.Marshal(&federation.PDU{
		EventID:        "$api-good:two",
		RoomID:         "!apisend:one",
		Sender:         "@alice:two",
		Type:           "m.room.message",
		Content:        json.RawMessage(`{"body":"hi"}`),
		OriginServerTS: nextTS(),
	})
	require.NoError(t, err)
	bad, err := json.Marshal(&federation.PDU{
		EventID: "$api-bad:two",
		RoomID:  "!apisend:one",
		Type:    "m.room.message",
	})
	require.NoError(t, err)

	w := doRequest(
		t, s, http.MethodPut, "/_matrix/federation/v1/send/txn1",
		TransactionRequest{
			Origin: "remote.test",
			PDUs:   []json.RawMessage{good, bad},
		},
		true,
	)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestHandleSendTransactionMissingOrigin(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(
		t, s, http.MethodPut, "/_matrix/federation/v1/send/txn2",
		map[string]any{"pdus": []json.RawMessage{}},
		true,
	)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "M_BAD_JSON", resp.ErrCode)
}

func TestHandleSendTransactionMissingPDUs(t *testing.T) {
	s, _ := newTestServer(t)

	// No pdus key at all is a malformed envelope; an explicit empty
	// array (above) is not.
	w := doRequest(
		t, s, http.MethodPut, "/_matrix/federation/v1/send/txn3",
		map[string]any{"origin": "remote.test"},
		true,
	)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "M_BAD_JSON", resp.ErrCode)

	w = doRequest(
		t, s, http.MethodPut, "/_matrix/federation/v1/send/txn4",
		TransactionRequest{
			Origin: "remote.test",
			PDUs:   []json.RawMessage{},
		},
		true,
	)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestJoinHandshake(t *testing.T) {
	s, db := newTestServer(t)
	seedRoom(t, db, "!apijoin:one", "@creator:one")

	// Phase 1: template
	w := doRequest(
		t, s, http.MethodGet,
		"/_matrix/federation/v1/make_join/!apijoin:one/@newbie:two",
		nil, true,
	)
	require.Equal(t, http.StatusOK, w.Code)
	var template struct {
		RoomVersion string          `json:"room_version"`
		Event       *federation.PDU `json:"event"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &template))
	assert.Equal(t, "10", template.RoomVersion)
	require.NotNil(t, template.Event)

	// Phase 2: completed event
	join := statePDU(
		"$apijoin:two", "!apijoin:one", "@newbie:two",
		federation.EventTypeMember, "@newbie:two",
		federation.MemberContent{Membership: federation.MembershipJoin},
	)
	w = doRequest(
		t, s, http.MethodPut,
		"/_matrix/federation/v2/send_join/!apijoin:one/$apijoin:two",
		HandshakeRequest{Origin: "remote.test", Event: mustMarshal(t, join)},
		true,
	)
	require.Equal(t, http.StatusOK, w.Code)
	var resp EventIDResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "$apijoin:two", resp.EventID)

	// The projection is visible through the members endpoints.
	w = doRequest(
		t, s, http.MethodGet,
		"/_matrix/federation/v1/members/!apijoin:one/joined",
		nil, true,
	)
	require.Equal(t, http.StatusOK, w.Code)
	var joined JoinedMembersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &joined))
	assert.Contains(t, joined.Joined, "@newbie:two")
}

func TestHandleMembersJoinedOnly(t *testing.T) {
	s, db := newTestServer(t)
	seedRoom(t, db, "!apimembers:one", "@creator:one")
	ctx := context.Background()
	require.NoError(t, db.PutMemberEvent(ctx, statePDU(
		"$apimembers-ban", "!apimembers:one", "@creator:one",
		federation.EventTypeMember, "@spammer:two",
		federation.MemberContent{Membership: federation.MembershipBan},
	), federation.MembershipBan))

	w := doRequest(
		t, s, http.MethodGet,
		"/_matrix/federation/v1/members/!apimembers:one",
		nil, true,
	)
	require.Equal(t, http.StatusOK, w.Code)

	var resp MembersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Chunk, 1)
	assert.Equal(t, "@creator:one", resp.Chunk[0].UserID)
	assert.Equal(t, federation.MembershipJoin, resp.Chunk[0].Membership)
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestHandleEventNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(
		t, s, http.MethodGet,
		"/_matrix/federation/v1/event/$apimissing:one",
		nil, true,
	)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "M_NOT_FOUND", resp.ErrCode)
}

func TestHandleRoomEventMismatch(t *testing.T) {
	s, db := newTestServer(t)
	seedRoom(t, db, "!apihome:one", "@creator:one")

	w := doRequest(
		t, s, http.MethodGet,
		"/_matrix/federation/v1/room/!apiother:one/$create-!apihome:one",
		nil, true,
	)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleBackfill(t *testing.T) {
	s, db := newTestServer(t)
	ctx := context.Background()
	prev := []string{}
	for _, id := range []string{"$apibf1", "$apibf2", "$apibf3"} {
		pdu := &federation.PDU{
			EventID:        id,
			RoomID:         "!apibf:one",
			Sender:         "@alice:one",
			Type:           "m.room.message",
			Content:        json.RawMessage(`{}`),
			OriginServerTS: nextTS(),
			PrevEvents:     prev,
		}
		require.NoError(t, db.PutEvent(ctx, pdu))
		prev = []string{id}
	}

	w := doRequest(
		t, s, http.MethodGet,
		"/_matrix/federation/v1/backfill/!apibf:one?v=$apibf3&limit=10",
		nil, true,
	)
	require.Equal(t, http.StatusOK, w.Code)

	var resp BackfillResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hearth.test", resp.Origin)
	require.Len(t, resp.PDUs, 3)
	assert.Equal(t, "$apibf1", resp.PDUs[0].EventID)
	assert.Equal(t, "$apibf3", resp.PDUs[2].EventID)
}

func TestHandleMissingEvents(t *testing.T) {
	s, db := newTestServer(t)
	ctx := context.Background()
	prev := []string{}
	for _, id := range []string{"$apigap1", "$apigap2", "$apigap3"} {
		pdu := &federation.PDU{
			EventID:        id,
			RoomID:         "!apigap:one",
			Sender:         "@alice:one",
			Type:           "m.room.message",
			Content:        json.RawMessage(`{}`),
			OriginServerTS: nextTS(),
			PrevEvents:     prev,
		}
		require.NoError(t, db.PutEvent(ctx, pdu))
		prev = []string{id}
	}

	w := doRequest(
		t, s, http.MethodPost,
		"/_matrix/federation/v1/get_missing_events/!apigap:one",
		MissingEventsRequest{
			EarliestEvents: []string{"$apigap1"},
			LatestEvents:   []string{"$apigap3"},
			Limit:          10,
		},
		true,
	)
	require.Equal(t, http.StatusOK, w.Code)

	var resp MissingEventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "$apigap2", resp.Events[0].EventID)
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t)
	s.config.ListenAddress = "127.0.0.1:0"

	require.NoError(t, s.Start(t.Context()))

	s.mu.Lock()
	assert.NotNil(t, s.httpServer)
	s.mu.Unlock()

	stopCtx, stopCancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))

	s.mu.Lock()
	assert.Nil(t, s.httpServer)
	s.mu.Unlock()
}
