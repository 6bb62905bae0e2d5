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
)

// DefaultMissingEventsLimit caps get_missing_events responses when the
// caller supplies no limit.
const DefaultMissingEventsLimit = 10

// Backfiller serves history reads: backfill walks backwards from
// anchor events along persisted prev_events edges, and missing-events
// fills the gap between two frontiers. Both are read-only, idempotent,
// and freely retryable.
type Backfiller struct {
	store  EventStore
	logger *slog.Logger
}

func NewBackfiller(store EventStore, logger *slog.Logger) *Backfiller {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Backfiller{
		store:  store,
		logger: logger.With("component", "backfill"),
	}
}

// walkBack collects up to limit stored events reachable backwards from
// the start ids along prev_events edges, skipping ids in stop and
// unknown ids. Breadth-first with a visited set so shared ancestry is
// emitted once.
func (b *Backfiller) walkBack(
	ctx context.Context,
	roomID string,
	start []string,
	stop map[string]bool,
	limit int,
) ([]*PDU, error) {
	visited := make(map[string]bool, limit)
	queue := append([]string{}, start...)
	collected := make([]*PDU, 0, limit)
	for len(queue) > 0 && len(collected) < limit {
		eventID := queue[0]
		queue = queue[1:]
		if visited[eventID] || stop[eventID] {
			continue
		}
		visited[eventID] = true
		pdu, err := b.store.GetEvent(ctx, eventID)
		if err != nil {
			return nil, Internal("failed to read event: %s", err)
		}
		if pdu == nil || pdu.RoomID != roomID {
			continue
		}
		collected = append(collected, pdu)
		queue = append(queue, pdu.PrevEvents...)
	}
	return collected, nil
}

// Backfill returns up to limit events reachable backwards from the
// anchor ids, in a causally valid order. Unknown anchors degrade to
// the room's most recent events so a requester with a stale frontier
// still gets usable history.
func (b *Backfiller) Backfill(
	ctx context.Context,
	roomID string,
	anchors []string,
	limit int,
) ([]*PDU, error) {
	collected, err := b.walkBack(ctx, roomID, anchors, nil, limit)
	if err != nil {
		return nil, err
	}
	if len(collected) == 0 {
		collected, err = b.store.RecentEvents(ctx, roomID, limit)
		if err != nil {
			return nil, Internal("failed to read room events: %s", err)
		}
	}
	ordered := Order(collected)
	b.logger.Debug(
		"backfill",
		"room_id", roomID,
		"anchors", len(anchors),
		"returned", len(ordered),
	)
	return ordered, nil
}

// MissingEvents walks backwards from the latest frontier, stopping at
// the earliest frontier, and returns the gap events in a causally
// valid order. The latest events themselves are excluded; the caller
// already has them.
func (b *Backfiller) MissingEvents(
	ctx context.Context,
	roomID string,
	earliest []string,
	latest []string,
	limit int,
) ([]*PDU, error) {
	if limit <= 0 {
		limit = DefaultMissingEventsLimit
	}
	stop := make(map[string]bool, len(earliest)+len(latest))
	for _, eventID := range earliest {
		stop[eventID] = true
	}
	start := []string{}
	for _, eventID := range latest {
		pdu, err := b.store.GetEvent(ctx, eventID)
		if err != nil {
			return nil, Internal("failed to read event: %s", err)
		}
		if pdu == nil || pdu.RoomID != roomID {
			continue
		}
		start = append(start, pdu.PrevEvents...)
	}
	collected, err := b.walkBack(ctx, roomID, start, stop, limit)
	if err != nil {
		return nil, err
	}
	return Order(collected), nil
}
