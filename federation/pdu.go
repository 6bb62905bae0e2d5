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

package federation

import (
	"encoding/json"
)

// Room event types that participate in authorization decisions
const (
	EventTypeCreate            = "m.room.create"
	EventTypeMember            = "m.room.member"
	EventTypePowerLevels       = "m.room.power_levels"
	EventTypeJoinRules         = "m.room.join_rules"
	EventTypeHistoryVisibility = "m.room.history_visibility"
)

// Membership states for the (room_id, user_id) projection
const (
	MembershipNone   = "none"
	MembershipInvite = "invite"
	MembershipKnock  = "knock"
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
)

// DefaultRoomVersion is reported by make_join/make_leave when the room's
// m.room.create event does not record a version.
const DefaultRoomVersion = "1"

// authEventTypes is the fixed set of state event types that make up the
// flat auth chain.
var authEventTypes = map[string]bool{
	EventTypeCreate:            true,
	EventTypeMember:            true,
	EventTypePowerLevels:       true,
	EventTypeJoinRules:         true,
	EventTypeHistoryVisibility: true,
}

// PDU is a federation event exchanged between homeservers. Events are
// created once and never mutated; redactions arrive as new PDUs
// referencing the target. Content is opaque JSON to this engine.
//
// OriginServerTS is a pointer so a missing timestamp can be detected and
// rejected during validation rather than silently defaulting to zero,
// which would corrupt ordering tie-breaks.
type PDU struct {
	EventID        string          `json:"event_id"`
	RoomID         string          `json:"room_id"`
	Sender         string          `json:"sender"`
	Type           string          `json:"type"`
	Content        json.RawMessage `json:"content,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	OriginServerTS *int64          `json:"origin_server_ts,omitempty"`
	PrevEvents     []string        `json:"prev_events,omitempty"`
	AuthEvents     []string        `json:"auth_events,omitempty"`
	Depth          int64           `json:"depth,omitempty"`
	Origin         string          `json:"origin,omitempty"`
}

// DecodePDU parses a raw federation event.
func DecodePDU(raw json.RawMessage) (*PDU, error) {
	var pdu PDU
	if err := json.Unmarshal(raw, &pdu); err != nil {
		return nil, BadRequest("malformed PDU: %s", err)
	}
	return &pdu, nil
}

// IsState reports whether the PDU is a state event. A state event is
// the current value of (room_id, type, state_key) until superseded by a
// newer state event for the same tuple.
func (p *PDU) IsState() bool {
	return p.StateKey != nil
}

// IsAuthType reports whether the PDU's type participates in the flat
// auth chain.
func (p *PDU) IsAuthType() bool {
	return authEventTypes[p.Type]
}

// Timestamp returns the origin server timestamp, or 0 when absent.
// Callers that care about absence must check OriginServerTS directly.
func (p *PDU) Timestamp() int64 {
	if p.OriginServerTS == nil {
		return 0
	}
	return *p.OriginServerTS
}

// MemberContent is the decoded content of an m.room.member event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Member decodes the PDU content as an m.room.member payload.
func (p *PDU) Member() (MemberContent, error) {
	var mc MemberContent
	if len(p.Content) == 0 {
		return mc, BadRequest("member event %s has no content", p.EventID)
	}
	if err := json.Unmarshal(p.Content, &mc); err != nil {
		return mc, BadRequest("malformed member content: %s", err)
	}
	return mc, nil
}

// CreateContent is the decoded content of an m.room.create event.
type CreateContent struct {
	Creator     string `json:"creator,omitempty"`
	RoomVersion string `json:"room_version,omitempty"`
}

// PowerLevelsContent is the decoded content of an m.room.power_levels
// event. Only the fields consulted by membership guards are decoded.
type PowerLevelsContent struct {
	Users        map[string]int64 `json:"users,omitempty"`
	UsersDefault int64            `json:"users_default,omitempty"`
	Kick         *int64           `json:"kick,omitempty"`
	Ban          *int64           `json:"ban,omitempty"`
}

// userLevel returns the power level for a user, falling back to the
// room default.
func (c PowerLevelsContent) userLevel(userID string) int64 {
	if lvl, ok := c.Users[userID]; ok {
		return lvl
	}
	return c.UsersDefault
}

// kickLevel returns the level required to kick. Matrix defaults to 50.
func (c PowerLevelsContent) kickLevel() int64 {
	if c.Kick != nil {
		return *c.Kick
	}
	return 50
}

// banLevel returns the level required to ban. Matrix defaults to 50.
func (c PowerLevelsContent) banLevel() int64 {
	if c.Ban != nil {
		return *c.Ban
	}
	return 50
}
