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

// AuthResolver extracts the authorization-relevant subset of room
// state. State is re-read on every call; no snapshot is cached across
// requests, so concurrent writers are always observed.
type AuthResolver struct {
	store EventStore
}

func NewAuthResolver(store EventStore) *AuthResolver {
	return &AuthResolver{store: store}
}

// AuthChain returns the room's current state filtered to the fixed
// auth-relevant type set. This is a conservative superset of the true
// per-event transitive auth chain, sufficient for a joining or leaving
// party to validate against.
func (r *AuthResolver) AuthChain(
	ctx context.Context,
	roomID string,
) ([]*PDU, error) {
	state, err := r.store.StateEvents(ctx, roomID)
	if err != nil {
		return nil, Internal("failed to read room state: %s", err)
	}
	chain := make([]*PDU, 0, len(state))
	for _, pdu := range state {
		if pdu.IsAuthType() {
			chain = append(chain, pdu)
		}
	}
	return chain, nil
}

// AuthChainForEvent resolves the event-specific auth chain by
// depth-first transitive closure over persisted auth_events edges.
// Events without auth edges (older room versions, locally created
// events) fall back to the flat type-filtered chain.
func (r *AuthResolver) AuthChainForEvent(
	ctx context.Context,
	roomID string,
	eventID string,
) ([]*PDU, error) {
	pdu, err := r.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, Internal("failed to read event: %s", err)
	}
	if pdu == nil {
		return nil, NotFound("unknown event %s", eventID)
	}
	if pdu.RoomID != roomID {
		return nil, NotFound("event %s is not in room %s", eventID, roomID)
	}
	if len(pdu.AuthEvents) == 0 {
		return r.AuthChain(ctx, roomID)
	}
	visited := map[string]bool{eventID: true}
	chain := []*PDU{}
	stack := append([]string{}, pdu.AuthEvents...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[next] {
			continue
		}
		visited[next] = true
		authPDU, err := r.store.GetEvent(ctx, next)
		if err != nil {
			return nil, Internal("failed to read event: %s", err)
		}
		if authPDU == nil {
			// Dangling auth edge: the referenced event was never
			// received. Skip rather than fail the whole chain.
			continue
		}
		chain = append(chain, authPDU)
		stack = append(stack, authPDU.AuthEvents...)
	}
	return chain, nil
}
