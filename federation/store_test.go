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
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// memStore is an in-memory EventStore for tests.
type memStore struct {
	mu      sync.Mutex
	events  map[string]*PDU
	order   []string
	members map[string]map[string]string
	// putErr fails PutEvent for matching event ids
	putErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		events:  make(map[string]*PDU),
		members: make(map[string]map[string]string),
		putErr:  make(map[string]error),
	}
}

func (s *memStore) PutEvent(_ context.Context, pdu *PDU) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.putErr[pdu.EventID]; err != nil {
		return err
	}
	if _, ok := s.events[pdu.EventID]; ok {
		return nil
	}
	s.events[pdu.EventID] = pdu
	s.order = append(s.order, pdu.EventID)
	return nil
}

func (s *memStore) GetEvent(_ context.Context, eventID string) (*PDU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[eventID], nil
}

func (s *memStore) EventsByID(
	_ context.Context,
	eventIDs []string,
) ([]*PDU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*PDU{}
	for _, id := range eventIDs {
		if pdu, ok := s.events[id]; ok {
			out = append(out, pdu)
		}
	}
	return out, nil
}

func (s *memStore) StateEvents(
	_ context.Context,
	roomID string,
) ([]*PDU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type tuple struct{ eventType, stateKey string }
	latest := map[tuple]*PDU{}
	tupleOrder := []tuple{}
	for _, id := range s.order {
		pdu := s.events[id]
		if pdu.RoomID != roomID || !pdu.IsState() {
			continue
		}
		key := tuple{pdu.Type, *pdu.StateKey}
		if _, ok := latest[key]; !ok {
			tupleOrder = append(tupleOrder, key)
		}
		latest[key] = pdu
	}
	out := []*PDU{}
	for _, key := range tupleOrder {
		out = append(out, latest[key])
	}
	return out, nil
}

func (s *memStore) RecentEvents(
	_ context.Context,
	roomID string,
	limit int,
) ([]*PDU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*PDU{}
	for _, id := range s.order {
		pdu := s.events[id]
		if pdu.RoomID == roomID {
			out = append(out, pdu)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp() < out[j].Timestamp()
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) PutMemberEvent(
	ctx context.Context,
	pdu *PDU,
	membership string,
) error {
	if err := s.PutEvent(ctx, pdu); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.members[pdu.RoomID]
	if room == nil {
		room = make(map[string]string)
		s.members[pdu.RoomID] = room
	}
	room[*pdu.StateKey] = membership
	return nil
}

func (s *memStore) Membership(
	_ context.Context,
	roomID string,
	userID string,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[roomID][userID]; ok {
		return m, nil
	}
	return MembershipNone, nil
}

func (s *memStore) Members(
	_ context.Context,
	roomID string,
	membership string,
) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Member{}
	for userID, m := range s.members[roomID] {
		if membership != "" && m != membership {
			continue
		}
		out = append(out, Member{
			RoomID:     roomID,
			UserID:     userID,
			Membership: m,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

var testTS int64 = 1700000000000

func nextTS() *int64 {
	testTS++
	ts := testTS
	return &ts
}

func testPDU(eventID, roomID, sender, eventType string, prev ...string) *PDU {
	return &PDU{
		EventID:        eventID,
		RoomID:         roomID,
		Sender:         sender,
		Type:           eventType,
		Content:        json.RawMessage(`{}`),
		OriginServerTS: nextTS(),
		PrevEvents:     prev,
	}
}

func testStatePDU(
	eventID, roomID, sender, eventType, stateKey string,
	content any,
) *PDU {
	raw, err := json.Marshal(content)
	if err != nil {
		panic(err)
	}
	return &PDU{
		EventID:        eventID,
		RoomID:         roomID,
		Sender:         sender,
		Type:           eventType,
		Content:        raw,
		StateKey:       &stateKey,
		OriginServerTS: nextTS(),
	}
}

// seedRoom creates a minimal room: create event, power levels, and a
// joined creator.
func seedRoom(
	store *memStore,
	roomID string,
	creator string,
	powerUsers map[string]int64,
) error {
	ctx := context.Background()
	create := testStatePDU(
		"$create-"+roomID, roomID, creator, EventTypeCreate, "",
		CreateContent{Creator: creator, RoomVersion: "10"},
	)
	if err := store.PutEvent(ctx, create); err != nil {
		return err
	}
	power := testStatePDU(
		"$power-"+roomID, roomID, creator, EventTypePowerLevels, "",
		PowerLevelsContent{Users: powerUsers},
	)
	if err := store.PutEvent(ctx, power); err != nil {
		return err
	}
	member := testStatePDU(
		fmt.Sprintf("$member-%s-%s", roomID, creator),
		roomID, creator, EventTypeMember, creator,
		MemberContent{Membership: MembershipJoin},
	)
	return store.PutMemberEvent(ctx, member, MembershipJoin)
}
