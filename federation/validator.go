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
	"io"
	"log/slog"

	"github.com/hearth-im/hearth/event"
)

// Validator checks a candidate PDU's shape and persists it through the
// event store's idempotent upsert. A validation or persistence failure
// affects only the PDU at hand; siblings in the same transaction are
// never aborted. The only side effect is the store write — downstream
// notification concerns subscribe to the event bus instead of being
// invoked here.
type Validator struct {
	store  EventStore
	bus    *event.EventBus
	logger *slog.Logger
}

func NewValidator(
	store EventStore,
	bus *event.EventBus,
	logger *slog.Logger,
) *Validator {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Validator{
		store:  store,
		bus:    bus,
		logger: logger.With("component", "validator"),
	}
}

// Validate checks the candidate PDU's shape without persisting it.
func (v *Validator) Validate(pdu *PDU) error {
	if pdu.EventID == "" {
		return BadRequest("missing event_id")
	}
	if pdu.RoomID == "" {
		return BadRequest("PDU %s missing room_id", pdu.EventID)
	}
	if pdu.Sender == "" {
		return BadRequest("PDU %s missing sender", pdu.EventID)
	}
	if pdu.Type == "" {
		return BadRequest("PDU %s missing type", pdu.EventID)
	}
	// A missing timestamp breaks ordering tie-breaks downstream, so it
	// must be flagged here rather than silently defaulted.
	if pdu.OriginServerTS == nil {
		return BadRequest("PDU %s missing origin_server_ts", pdu.EventID)
	}
	return nil
}

// ValidateAndPersist validates and stores a PDU, returning the
// persisted record or a typed failure. Re-delivery of an already
// stored event_id succeeds without effect.
func (v *Validator) ValidateAndPersist(
	ctx context.Context,
	pdu *PDU,
) (*PDU, error) {
	if err := v.Validate(pdu); err != nil {
		return nil, err
	}
	if err := v.store.PutEvent(ctx, pdu); err != nil {
		v.logger.Error(
			"failed to persist PDU",
			"event_id", pdu.EventID,
			"room_id", pdu.RoomID,
			"error", err,
		)
		return nil, Internal("failed to persist PDU %s", pdu.EventID)
	}
	if v.bus != nil {
		v.bus.PublishAsync(
			event.PduPersistedEventType,
			event.NewEvent(
				event.PduPersistedEventType,
				event.PduPersistedEvent{
					EventID:   pdu.EventID,
					RoomID:    pdu.RoomID,
					Sender:    pdu.Sender,
					EventType: pdu.Type,
					Origin:    pdu.Origin,
				},
			),
		)
	}
	return pdu, nil
}
