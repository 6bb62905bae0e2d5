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

// Membership is the per-(room, user) membership projection. It is a
// pure projection of m.room.member state events and can be rebuilt by
// replaying them; it is never treated as authoritative on its own.
type Membership struct {
	ID         uint   `gorm:"primarykey"`
	RoomID     string `gorm:"uniqueIndex:idx_membership_room_user;size:255;not null"`
	UserID     string `gorm:"uniqueIndex:idx_membership_room_user;size:255;not null"`
	Membership string `gorm:"size:32;not null"`
	Sender     string `gorm:"size:255"`
	EventID    string `gorm:"size:255"`
	UpdatedTS  int64  `gorm:"not null"`
}

func (Membership) TableName() string {
	return "membership"
}
