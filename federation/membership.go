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
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hearth-im/hearth/event"
)

// adminLevel is the power level treated as room admin for the creator
// protection guard.
const adminLevel = 100

// MembershipTemplate is the response to make_join/make_leave: an
// unsigned member event template plus enough auth context for the
// requesting server to complete and sign it.
type MembershipTemplate struct {
	RoomVersion string `json:"room_version"`
	AuthEvents  []*PDU `json:"auth_events"`
	Event       *PDU   `json:"event"`
}

// Coordinator drives the per-(room, user) membership state machine
// over {none, invite, knock, join, leave, ban}. The persist-and-project
// step of every transition runs under a per-room lock so concurrent
// federation traffic against the same room cannot lose updates.
type Coordinator struct {
	store      EventStore
	bus        *event.EventBus
	validator  *Validator
	logger     *slog.Logger
	serverName string
	roomLocks  sync.Map // room_id -> *sync.Mutex
}

func NewCoordinator(
	store EventStore,
	bus *event.EventBus,
	serverName string,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Coordinator{
		store:      store,
		bus:        bus,
		validator:  NewValidator(store, nil, logger),
		logger:     logger.With("component", "membership"),
		serverName: serverName,
	}
}

func (c *Coordinator) roomLock(roomID string) *sync.Mutex {
	lock, _ := c.roomLocks.LoadOrStore(roomID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// newEventID generates a locally unique event id in the v1 format.
func (c *Coordinator) newEventID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("$%s:%s", hex.EncodeToString(buf), c.serverName)
}

// roomState reads the current room state, mapping an unknown room to
// NotFound.
func (c *Coordinator) roomState(
	ctx context.Context,
	roomID string,
) ([]*PDU, error) {
	state, err := c.store.StateEvents(ctx, roomID)
	if err != nil {
		return nil, Internal("failed to read room state: %s", err)
	}
	if len(state) == 0 {
		return nil, NotFound("unknown room %s", roomID)
	}
	return state, nil
}

func roomVersion(state []*PDU) string {
	for _, pdu := range state {
		if pdu.Type != EventTypeCreate {
			continue
		}
		var cc CreateContent
		if err := json.Unmarshal(pdu.Content, &cc); err == nil &&
			cc.RoomVersion != "" {
			return cc.RoomVersion
		}
	}
	return DefaultRoomVersion
}

func roomCreator(state []*PDU) string {
	for _, pdu := range state {
		if pdu.Type != EventTypeCreate {
			continue
		}
		var cc CreateContent
		if err := json.Unmarshal(pdu.Content, &cc); err == nil &&
			cc.Creator != "" {
			return cc.Creator
		}
		return pdu.Sender
	}
	return ""
}

func roomPowerLevels(state []*PDU) PowerLevelsContent {
	for _, pdu := range state {
		if pdu.Type != EventTypePowerLevels {
			continue
		}
		var pl PowerLevelsContent
		if err := json.Unmarshal(pdu.Content, &pl); err == nil {
			return pl
		}
	}
	return PowerLevelsContent{}
}

// userPowerLevel returns a user's effective power level. The room
// creator floors at admin level even without a power_levels event.
func userPowerLevel(state []*PDU, userID string) int64 {
	lvl := roomPowerLevels(state).userLevel(userID)
	if userID == roomCreator(state) && lvl < adminLevel {
		return adminLevel
	}
	return lvl
}

// makeTemplate builds the make_join/make_leave response for a room.
func (c *Coordinator) makeTemplate(
	ctx context.Context,
	roomID string,
	userID string,
	membership string,
) (*MembershipTemplate, error) {
	state, err := c.roomState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	authChain := make([]*PDU, 0, len(state))
	for _, pdu := range state {
		if pdu.IsAuthType() {
			authChain = append(authChain, pdu)
		}
	}
	content, err := json.Marshal(MemberContent{Membership: membership})
	if err != nil {
		return nil, Internal("encoding member content: %s", err)
	}
	stateKey := userID
	return &MembershipTemplate{
		RoomVersion: roomVersion(state),
		AuthEvents:  authChain,
		Event: &PDU{
			RoomID:   roomID,
			Sender:   userID,
			Type:     EventTypeMember,
			Content:  content,
			StateKey: &stateKey,
		},
	}, nil
}

// MakeJoin returns a join-event template for a non-resident server.
// The template is advisory: a later send_join is accepted without a
// prior make_join for that event.
func (c *Coordinator) MakeJoin(
	ctx context.Context,
	roomID string,
	userID string,
) (*MembershipTemplate, error) {
	return c.makeTemplate(ctx, roomID, userID, MembershipJoin)
}

// MakeLeave returns a leave-event template, mirroring MakeJoin.
func (c *Coordinator) MakeLeave(
	ctx context.Context,
	roomID string,
	userID string,
) (*MembershipTemplate, error) {
	return c.makeTemplate(ctx, roomID, userID, MembershipLeave)
}

// decodeHandshakeEvent decodes the completed event of a send_join /
// send_leave / invite request and normalizes it against the path
// parameters, which are authoritative for event and room ids.
func (c *Coordinator) decodeHandshakeEvent(
	roomID string,
	eventID string,
	raw json.RawMessage,
) (*PDU, error) {
	pdu, err := DecodePDU(raw)
	if err != nil {
		return nil, err
	}
	pdu.EventID = eventID
	pdu.RoomID = roomID
	if pdu.Type == "" {
		pdu.Type = EventTypeMember
	}
	if pdu.Type != EventTypeMember {
		return nil, BadRequest(
			"handshake event %s has type %s, expected %s",
			eventID, pdu.Type, EventTypeMember,
		)
	}
	if pdu.StateKey == nil && pdu.Sender != "" {
		stateKey := pdu.Sender
		pdu.StateKey = &stateKey
	}
	if err := c.validator.Validate(pdu); err != nil {
		return nil, err
	}
	return pdu, nil
}

// sendMemberEvent persists a member PDU and updates the projection as
// one logical step under the room lock.
func (c *Coordinator) sendMemberEvent(
	ctx context.Context,
	pdu *PDU,
	membership string,
) error {
	lock := c.roomLock(pdu.RoomID)
	lock.Lock()
	defer lock.Unlock()
	// A ban is only cleared by an authorized leave; a join from a
	// banned user must not overwrite the projection.
	if membership == MembershipJoin {
		current, err := c.store.Membership(ctx, pdu.RoomID, *pdu.StateKey)
		if err != nil {
			return Internal("failed to read membership: %s", err)
		}
		if current == MembershipBan {
			return Forbidden(
				"%s is banned from %s", *pdu.StateKey, pdu.RoomID,
			)
		}
	}
	if err := c.store.PutMemberEvent(ctx, pdu, membership); err != nil {
		return Internal(
			"failed to persist member event %s: %s", pdu.EventID, err,
		)
	}
	c.publishMembership(pdu, membership)
	return nil
}

func (c *Coordinator) publishMembership(pdu *PDU, membership string) {
	if c.bus == nil {
		return
	}
	c.bus.PublishAsync(
		event.MembershipChangedEventType,
		event.NewEvent(
			event.MembershipChangedEventType,
			event.MembershipChangedEvent{
				RoomID:     pdu.RoomID,
				UserID:     *pdu.StateKey,
				Membership: membership,
				Sender:     pdu.Sender,
				EventID:    pdu.EventID,
			},
		),
	)
}

// SendJoin completes the join handshake: the signed member event is
// persisted and the membership projection updated atomically.
func (c *Coordinator) SendJoin(
	ctx context.Context,
	roomID string,
	eventID string,
	raw json.RawMessage,
) (*PDU, error) {
	pdu, err := c.decodeHandshakeEvent(roomID, eventID, raw)
	if err != nil {
		return nil, err
	}
	mc, err := pdu.Member()
	if err != nil {
		return nil, err
	}
	if mc.Membership != MembershipJoin {
		return nil, BadRequest(
			"send_join event %s carries membership %q", eventID, mc.Membership,
		)
	}
	if err := c.sendMemberEvent(ctx, pdu, MembershipJoin); err != nil {
		return nil, err
	}
	c.logger.Info(
		"processed join",
		"room_id", roomID,
		"event_id", eventID,
		"user_id", *pdu.StateKey,
	)
	return pdu, nil
}

// SendLeave completes the leave handshake, mirroring SendJoin.
func (c *Coordinator) SendLeave(
	ctx context.Context,
	roomID string,
	eventID string,
	raw json.RawMessage,
) (*PDU, error) {
	pdu, err := c.decodeHandshakeEvent(roomID, eventID, raw)
	if err != nil {
		return nil, err
	}
	mc, err := pdu.Member()
	if err != nil {
		return nil, err
	}
	if mc.Membership != MembershipLeave {
		return nil, BadRequest(
			"send_leave event %s carries membership %q", eventID, mc.Membership,
		)
	}
	if err := c.sendMemberEvent(ctx, pdu, MembershipLeave); err != nil {
		return nil, err
	}
	c.logger.Info(
		"processed leave",
		"room_id", roomID,
		"event_id", eventID,
		"user_id", *pdu.StateKey,
	)
	return pdu, nil
}

// Invite accepts a remote invite (or third-party-invite) PDU and
// persists it as-is, projecting membership=invite for the invitee.
func (c *Coordinator) Invite(
	ctx context.Context,
	roomID string,
	eventID string,
	raw json.RawMessage,
) (*PDU, error) {
	pdu, err := c.decodeHandshakeEvent(roomID, eventID, raw)
	if err != nil {
		return nil, err
	}
	mc, err := pdu.Member()
	if err != nil {
		return nil, err
	}
	if mc.Membership != MembershipInvite {
		return nil, BadRequest(
			"invite event %s carries membership %q", eventID, mc.Membership,
		)
	}
	if err := c.sendMemberEvent(ctx, pdu, MembershipInvite); err != nil {
		return nil, err
	}
	c.logger.Info(
		"processed invite",
		"room_id", roomID,
		"event_id", eventID,
		"user_id", *pdu.StateKey,
	)
	return pdu, nil
}

// Knock records a local knock: a member event with membership=knock.
// Only the none and invite states may transition to knock.
func (c *Coordinator) Knock(
	ctx context.Context,
	roomID string,
	userID string,
) (*PDU, error) {
	if _, err := c.roomState(ctx, roomID); err != nil {
		return nil, err
	}
	current, err := c.store.Membership(ctx, roomID, userID)
	if err != nil {
		return nil, Internal("failed to read membership: %s", err)
	}
	switch current {
	case MembershipNone, MembershipInvite:
	default:
		return nil, Forbidden(
			"cannot knock on %s from membership %q", roomID, current,
		)
	}
	content, err := json.Marshal(MemberContent{Membership: MembershipKnock})
	if err != nil {
		return nil, Internal("encoding member content: %s", err)
	}
	ts := time.Now().UnixMilli()
	stateKey := userID
	pdu := &PDU{
		EventID:        c.newEventID(),
		RoomID:         roomID,
		Sender:         userID,
		Type:           EventTypeMember,
		Content:        content,
		StateKey:       &stateKey,
		OriginServerTS: &ts,
		Origin:         c.serverName,
	}
	if err := c.sendMemberEvent(ctx, pdu, MembershipKnock); err != nil {
		return nil, err
	}
	return pdu, nil
}

// guardRemoval enforces the kick/ban authorization chain: the sender
// must be joined, must hold the required power level, must outrank the
// target, and the room creator can only be removed by an admin.
func (c *Coordinator) guardRemoval(
	ctx context.Context,
	roomID string,
	senderID string,
	targetID string,
	requiredLevel func(PowerLevelsContent) int64,
) error {
	state, err := c.store.StateEvents(ctx, roomID)
	if err != nil {
		return Internal("failed to read room state: %s", err)
	}
	senderMembership, err := c.store.Membership(ctx, roomID, senderID)
	if err != nil {
		return Internal("failed to read membership: %s", err)
	}
	if senderMembership != MembershipJoin {
		return Forbidden(
			"%s is not joined to %s", senderID, roomID,
		)
	}
	senderLevel := userPowerLevel(state, senderID)
	if senderLevel < requiredLevel(roomPowerLevels(state)) {
		return Forbidden(
			"%s lacks the power level to remove %s", senderID, targetID,
		)
	}
	if targetID == roomCreator(state) && senderLevel < adminLevel {
		return Forbidden("the room creator cannot be removed by a non-admin")
	}
	if userPowerLevel(state, targetID) >= senderLevel {
		return Forbidden(
			"%s does not outrank %s", senderID, targetID,
		)
	}
	return nil
}

// removalEvent builds the member event for a kick or ban. sender !=
// state_key is what distinguishes a kick from a self-leave.
func (c *Coordinator) removalEvent(
	roomID string,
	senderID string,
	targetID string,
	membership string,
) (*PDU, error) {
	content, err := json.Marshal(MemberContent{Membership: membership})
	if err != nil {
		return nil, Internal("encoding member content: %s", err)
	}
	ts := time.Now().UnixMilli()
	stateKey := targetID
	return &PDU{
		EventID:        c.newEventID(),
		RoomID:         roomID,
		Sender:         senderID,
		Type:           EventTypeMember,
		Content:        content,
		StateKey:       &stateKey,
		OriginServerTS: &ts,
		Origin:         c.serverName,
	}, nil
}

// Kick removes a joined member: membership=leave with sender distinct
// from the target. Guard violations return Forbidden and leave the
// projection untouched.
func (c *Coordinator) Kick(
	ctx context.Context,
	roomID string,
	senderID string,
	targetID string,
) (*PDU, error) {
	if err := c.guardRemoval(
		ctx, roomID, senderID, targetID, PowerLevelsContent.kickLevel,
	); err != nil {
		return nil, err
	}
	pdu, err := c.removalEvent(roomID, senderID, targetID, MembershipLeave)
	if err != nil {
		return nil, err
	}
	if err := c.sendMemberEvent(ctx, pdu, MembershipLeave); err != nil {
		return nil, err
	}
	return pdu, nil
}

// Ban persists membership=ban for the target after the same guards as
// Kick, at the ban power level.
func (c *Coordinator) Ban(
	ctx context.Context,
	roomID string,
	senderID string,
	targetID string,
) (*PDU, error) {
	if err := c.guardRemoval(
		ctx, roomID, senderID, targetID, PowerLevelsContent.banLevel,
	); err != nil {
		return nil, err
	}
	pdu, err := c.removalEvent(roomID, senderID, targetID, MembershipBan)
	if err != nil {
		return nil, err
	}
	if err := c.sendMemberEvent(ctx, pdu, MembershipBan); err != nil {
		return nil, err
	}
	return pdu, nil
}

// ApplyMemberEvent routes a member PDU arriving inside a federation
// transaction through the state machine so the projection stays
// current. Remote bans and kicks pass through the same guards as local
// ones; violations surface as event-level errors only.
func (c *Coordinator) ApplyMemberEvent(
	ctx context.Context,
	pdu *PDU,
) error {
	if err := c.validator.Validate(pdu); err != nil {
		return err
	}
	if pdu.StateKey == nil {
		return BadRequest("member event %s has no state_key", pdu.EventID)
	}
	mc, err := pdu.Member()
	if err != nil {
		return err
	}
	switch mc.Membership {
	case MembershipBan:
		if err := c.guardRemoval(
			ctx, pdu.RoomID, pdu.Sender, *pdu.StateKey,
			PowerLevelsContent.banLevel,
		); err != nil {
			return err
		}
	case MembershipLeave:
		// sender != state_key means a kick rather than a self-leave
		if pdu.Sender != *pdu.StateKey {
			if err := c.guardRemoval(
				ctx, pdu.RoomID, pdu.Sender, *pdu.StateKey,
				PowerLevelsContent.kickLevel,
			); err != nil {
				return err
			}
		}
	case MembershipInvite, MembershipKnock, MembershipJoin:
	default:
		return BadRequest(
			"member event %s carries unknown membership %q",
			pdu.EventID, mc.Membership,
		)
	}
	return c.sendMemberEvent(ctx, pdu, mc.Membership)
}
