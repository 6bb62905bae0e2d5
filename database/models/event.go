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

package models

// Event is the queryable metadata row for a persisted PDU. The raw
// canonical JSON lives in the blob plane keyed by EventID; this row
// carries only the fields the federation engine filters and orders on.
// PrevEvents and AuthEvents are stored as JSON-encoded string arrays so
// the DAG edges survive restarts and can be walked during backfill.
type Event struct {
	ID             uint    `gorm:"primarykey"`
	EventID        string  `gorm:"uniqueIndex;size:255;not null"`
	RoomID         string  `gorm:"index:idx_event_room;size:255;not null"`
	Sender         string  `gorm:"size:255;not null"`
	EventType      string  `gorm:"index:idx_event_room_type;size:255;not null"`
	StateKey       *string `gorm:"index:idx_event_state_key;size:255"`
	OriginServerTS int64   `gorm:"not null"`
	ProcessedTS    int64   `gorm:"not null"`
	PrevEvents     string  `gorm:"type:text"`
	AuthEvents     string  `gorm:"type:text"`
}

func (Event) TableName() string {
	return "event"
}

// IsState reports whether this row represents a state event.
func (e Event) IsState() bool {
	return e.StateKey != nil
}
