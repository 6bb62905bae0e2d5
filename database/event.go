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
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearth-im/hearth/database/models"
	"github.com/hearth-im/hearth/federation"
	"gorm.io/gorm/clause"
)

// eventRow builds the metadata row for a PDU.
func eventRow(pdu *federation.PDU) (models.Event, error) {
	prevEvents, err := json.Marshal(pdu.PrevEvents)
	if err != nil {
		return models.Event{}, fmt.Errorf("encoding prev_events: %w", err)
	}
	authEvents, err := json.Marshal(pdu.AuthEvents)
	if err != nil {
		return models.Event{}, fmt.Errorf("encoding auth_events: %w", err)
	}
	return models.Event{
		EventID:        pdu.EventID,
		RoomID:         pdu.RoomID,
		Sender:         pdu.Sender,
		EventType:      pdu.Type,
		StateKey:       pdu.StateKey,
		OriginServerTS: pdu.Timestamp(),
		ProcessedTS:    time.Now().UnixMilli(),
		PrevEvents:     string(prevEvents),
		AuthEvents:     string(authEvents),
	}, nil
}

// putEventTxn writes the metadata row and blob for a PDU inside an open
// transaction. The upsert is keyed by event_id and does nothing on
// conflict, so re-delivery of a stored event is a no-op.
func (d *Database) putEventTxn(txn *Txn, pdu *federation.PDU) error {
	row, err := eventRow(pdu)
	if err != nil {
		return err
	}
	result := txn.Metadata().
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if result.Error != nil {
		return result.Error
	}
	raw, err := json.Marshal(pdu)
	if err != nil {
		return fmt.Errorf("encoding PDU: %w", err)
	}
	if err := txn.Blob().Set(pduBlobKey(pdu.EventID), raw); err != nil {
		return err
	}
	if d.metrics != nil && result.RowsAffected > 0 {
		d.metrics.eventsPersisted.Inc()
		d.metrics.blobBytes.Add(float64(len(raw)))
	}
	return nil
}

// PutEvent persists a PDU via an idempotent upsert keyed by event_id.
func (d *Database) PutEvent(ctx context.Context, pdu *federation.PDU) error {
	txn := d.Transaction()
	return txn.Do(func(txn *Txn) error {
		txn.metadataTxn = txn.metadataTxn.WithContext(ctx)
		return d.putEventTxn(txn, pdu)
	})
}

// GetEvent returns a stored PDU, or nil when unknown.
func (d *Database) GetEvent(
	ctx context.Context,
	eventID string,
) (*federation.PDU, error) {
	raw, err := d.getBlob(pduBlobKey(eventID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var pdu federation.PDU
	if err := json.Unmarshal(raw, &pdu); err != nil {
		return nil, fmt.Errorf("decoding stored PDU %s: %w", eventID, err)
	}
	return &pdu, nil
}

// EventsByID returns the stored PDUs for the given ids in input order,
// skipping unknown ids.
func (d *Database) EventsByID(
	ctx context.Context,
	eventIDs []string,
) ([]*federation.PDU, error) {
	ret := make([]*federation.PDU, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		pdu, err := d.GetEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if pdu != nil {
			ret = append(ret, pdu)
		}
	}
	return ret, nil
}

// StateEvents returns the current room state: for each (type, state_key)
// tuple, the newest state event. Rows are read in timestamp order so
// later events supersede earlier ones for the same tuple.
func (d *Database) StateEvents(
	ctx context.Context,
	roomID string,
) ([]*federation.PDU, error) {
	var rows []models.Event
	result := d.metadata.WithContext(ctx).
		Where("room_id = ? AND state_key IS NOT NULL", roomID).
		Order("origin_server_ts ASC, id ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	type stateTuple struct {
		eventType string
		stateKey  string
	}
	current := make(map[stateTuple]string, len(rows))
	order := make([]stateTuple, 0, len(rows))
	for _, row := range rows {
		key := stateTuple{eventType: row.EventType, stateKey: *row.StateKey}
		if _, seen := current[key]; !seen {
			order = append(order, key)
		}
		current[key] = row.EventID
	}
	eventIDs := make([]string, 0, len(order))
	for _, key := range order {
		eventIDs = append(eventIDs, current[key])
	}
	return d.EventsByID(ctx, eventIDs)
}

// RecentEvents returns up to limit of the room's newest events in
// ascending timestamp order.
func (d *Database) RecentEvents(
	ctx context.Context,
	roomID string,
	limit int,
) ([]*federation.PDU, error) {
	var rows []models.Event
	result := d.metadata.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("origin_server_ts DESC, id DESC").
		Limit(limit).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	// Reverse to ascending order
	eventIDs := make([]string, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		eventIDs = append(eventIDs, rows[i].EventID)
	}
	return d.EventsByID(ctx, eventIDs)
}
