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

package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/hearth-im/hearth/database/models"
	"github.com/hearth-im/hearth/federation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PutMemberEvent persists a member PDU and applies the membership
// projection update as one transaction. Both land or neither is
// visible.
func (d *Database) PutMemberEvent(
	ctx context.Context,
	pdu *federation.PDU,
	membership string,
) error {
	if pdu.StateKey == nil {
		return fmt.Errorf("member event %s has no state_key", pdu.EventID)
	}
	userID := *pdu.StateKey
	txn := d.Transaction()
	return txn.Do(func(txn *Txn) error {
		txn.metadataTxn = txn.metadataTxn.WithContext(ctx)
		if err := d.putEventTxn(txn, pdu); err != nil {
			return err
		}
		row := models.Membership{
			RoomID:     pdu.RoomID,
			UserID:     userID,
			Membership: membership,
			Sender:     pdu.Sender,
			EventID:    pdu.EventID,
			UpdatedTS:  pdu.Timestamp(),
		}
		result := txn.Metadata().
			Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "room_id"},
					{Name: "user_id"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"membership",
					"sender",
					"event_id",
					"updated_ts",
				}),
			}).
			Create(&row)
		return result.Error
	})
}

// Membership returns the projected membership for a user, or
// MembershipNone when no record exists.
func (d *Database) Membership(
	ctx context.Context,
	roomID string,
	userID string,
) (string, error) {
	var row models.Membership
	result := d.metadata.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return federation.MembershipNone, nil
		}
		return "", result.Error
	}
	return row.Membership, nil
}

// Members returns the projection rows for a room filtered by membership
// state; an empty filter returns all rows.
func (d *Database) Members(
	ctx context.Context,
	roomID string,
	membership string,
) ([]federation.Member, error) {
	var rows []models.Membership
	query := d.metadata.WithContext(ctx).Where("room_id = ?", roomID)
	if membership != "" {
		query = query.Where("membership = ?", membership)
	}
	result := query.Order("user_id ASC").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	ret := make([]federation.Member, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, federation.Member{
			RoomID:     row.RoomID,
			UserID:     row.UserID,
			Membership: row.Membership,
		})
	}
	return ret, nil
}
