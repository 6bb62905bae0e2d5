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

package event

const (
	// PduPersistedEventType fires after a PDU lands in the event store.
	PduPersistedEventType EventType = "pdu.persisted"
	// MembershipChangedEventType fires after a membership projection
	// update commits.
	MembershipChangedEventType EventType = "membership.changed"
)

// PduPersistedEvent is the payload of PduPersistedEventType.
type PduPersistedEvent struct {
	EventID   string
	RoomID    string
	Sender    string
	EventType string
	Origin    string
}

// MembershipChangedEvent is the payload of MembershipChangedEventType.
type MembershipChangedEvent struct {
	RoomID     string
	UserID     string
	Membership string
	Sender     string
	EventID    string
}
