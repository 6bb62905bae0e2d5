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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(store *memStore) *TransactionProcessor {
	validator := NewValidator(store, nil, nil)
	coordinator := NewCoordinator(store, nil, "hearth.test", nil)
	return NewTransactionProcessor(validator, coordinator, nil, nil)
}

func marshalPDUs(t *testing.T, pdus ...*PDU) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(pdus))
	for _, pdu := range pdus {
		raw, err := json.Marshal(pdu)
		require.NoError(t, err)
		out = append(out, raw)
	}
	return out
}

func TestProcessPartialFailure(t *testing.T) {
	store := newMemStore()
	processor := newTestProcessor(store)

	good1 := testPDU("$good1", "!room:one", "@alice:one", "m.room.message")
	bad := testPDU("$bad", "!room:one", "", "m.room.message")
	good2 := testPDU("$good2", "!room:one", "@alice:one", "m.room.message")

	results := processor.Process(
		context.Background(),
		"remote.test",
		"txn1",
		marshalPDUs(t, good1, bad, good2),
	)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].Success)

	// The failed PDU must not be stored; its siblings must be.
	pdu, err := store.GetEvent(context.Background(), "$good1")
	require.NoError(t, err)
	assert.NotNil(t, pdu)
	pdu, err = store.GetEvent(context.Background(), "$bad")
	require.NoError(t, err)
	assert.Nil(t, pdu)
}

func TestProcessMalformedPDU(t *testing.T) {
	store := newMemStore()
	processor := newTestProcessor(store)

	good := testPDU("$good", "!room:one", "@alice:one", "m.room.message")
	raw := marshalPDUs(t, good)
	raw = append(raw, json.RawMessage(`{not json`))

	results := processor.Process(
		context.Background(), "remote.test", "txn1", raw,
	)
	require.Len(t, results, 2)
	// Parse failures are reported ahead of the applied batch.
	assert.False(t, results[0].Success)
	assert.NotEmpty(t, results[0].Error)
	assert.True(t, results[1].Success)
}

func TestProcessJoinWhileBannedRejected(t *testing.T) {
	store := newMemStore()
	require.NoError(
		t, seedRoom(store, "!txnban:one", "@creator:one", nil),
	)
	banned := testStatePDU(
		"$txnban", "!txnban:one", "@creator:one", EventTypeMember,
		"@evil:two",
		MemberContent{Membership: MembershipBan},
	)
	require.NoError(t, store.PutMemberEvent(
		context.Background(), banned, MembershipBan,
	))
	processor := newTestProcessor(store)

	join := testStatePDU(
		"$txnbanjoin", "!txnban:one", "@evil:two", EventTypeMember,
		"@evil:two",
		MemberContent{Membership: MembershipJoin},
	)
	results := processor.Process(
		context.Background(),
		"remote.test",
		"txn1",
		marshalPDUs(t, join),
	)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.NotEmpty(t, results[0].Error)

	membership, err := store.Membership(
		context.Background(), "!txnban:one", "@evil:two",
	)
	require.NoError(t, err)
	assert.Equal(t, MembershipBan, membership)
}

func TestProcessIdempotentRedelivery(t *testing.T) {
	store := newMemStore()
	processor := newTestProcessor(store)

	pdu := testPDU("$dup", "!room:one", "@alice:one", "m.room.message")
	raw := marshalPDUs(t, pdu)

	for range 2 {
		results := processor.Process(
			context.Background(), "remote.test", "txn1", raw,
		)
		require.Len(t, results, 1)
		assert.True(t, results[0].Success)
	}
	stored, err := store.GetEvent(context.Background(), "$dup")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestProcessOrdersBeforeApplying(t *testing.T) {
	store := newMemStore()
	processor := newTestProcessor(store)

	a := testPDU("$a", "!room:one", "@alice:one", "m.room.message")
	b := testPDU("$b", "!room:one", "@alice:one", "m.room.message", "$a")

	// Child delivered before parent; results follow processing order.
	results := processor.Process(
		context.Background(), "remote.test", "txn1", marshalPDUs(t, b, a),
	)
	require.Len(t, results, 2)
	assert.Equal(t, "$a", results[0].EventID)
	assert.Equal(t, "$b", results[1].EventID)
}

func TestProcessMemberEventUpdatesProjection(t *testing.T) {
	store := newMemStore()
	require.NoError(
		t, seedRoom(store, "!proj:one", "@creator:one", nil),
	)
	processor := newTestProcessor(store)

	join := testStatePDU(
		"$join", "!proj:one", "@bob:two", EventTypeMember, "@bob:two",
		MemberContent{Membership: MembershipJoin},
	)
	results := processor.Process(
		context.Background(), "two", "txn1", marshalPDUs(t, join),
	)
	require.Len(t, results, 1)
	require.True(t, results[0].Success, results[0].Error)

	membership, err := store.Membership(
		context.Background(), "!proj:one", "@bob:two",
	)
	require.NoError(t, err)
	assert.Equal(t, MembershipJoin, membership)
}

func TestProcessRemoteKickGuarded(t *testing.T) {
	store := newMemStore()
	require.NoError(
		t, seedRoom(store, "!guard:one", "@creator:one", nil),
	)
	// A joined but unprivileged member.
	victim := testStatePDU(
		"$victim-join", "!guard:one", "@victim:two",
		EventTypeMember, "@victim:two",
		MemberContent{Membership: MembershipJoin},
	)
	require.NoError(
		t,
		store.PutMemberEvent(context.Background(), victim, MembershipJoin),
	)

	processor := newTestProcessor(store)
	kick := testStatePDU(
		"$kick", "!guard:one", "@victim:two", EventTypeMember,
		"@creator:one",
		MemberContent{Membership: MembershipLeave},
	)
	results := processor.Process(
		context.Background(), "two", "txn1", marshalPDUs(t, kick),
	)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)

	// Projection unchanged: the creator is still joined.
	membership, err := store.Membership(
		context.Background(), "!guard:one", "@creator:one",
	)
	require.NoError(t, err)
	assert.Equal(t, MembershipJoin, membership)
}
