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
)

// Member is a single row of the membership projection.
type Member struct {
	RoomID     string
	UserID     string
	Membership string
}

// EventStore is the persistence collaborator for the federation engine.
// Implementations must make PutEvent an idempotent upsert keyed by
// event_id, and PutMemberEvent must persist the event and update the
// membership projection as one atomic step. Lookups return (nil, nil)
// for unknown ids rather than an error.
type EventStore interface {
	// PutEvent persists a PDU. Re-delivery of an already stored
	// event_id is a no-op.
	PutEvent(ctx context.Context, pdu *PDU) error
	// GetEvent returns a stored PDU, or nil when unknown.
	GetEvent(ctx context.Context, eventID string) (*PDU, error)
	// EventsByID returns the stored PDUs for the given ids, skipping
	// unknown ids.
	EventsByID(ctx context.Context, eventIDs []string) ([]*PDU, error)
	// StateEvents returns the current room state: for each
	// (type, state_key) tuple, the newest state event.
	StateEvents(ctx context.Context, roomID string) ([]*PDU, error)
	// RecentEvents returns up to limit of the room's newest events in
	// ascending timestamp order.
	RecentEvents(ctx context.Context, roomID string, limit int) ([]*PDU, error)
	// PutMemberEvent persists a member PDU and applies the membership
	// projection update atomically.
	PutMemberEvent(ctx context.Context, pdu *PDU, membership string) error
	// Membership returns the projected membership for a user, or
	// MembershipNone when no record exists.
	Membership(ctx context.Context, roomID, userID string) (string, error)
	// Members returns the projection rows for a room filtered by
	// membership state; an empty filter returns all rows.
	Members(ctx context.Context, roomID, membership string) ([]Member, error)
}
