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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthChainFiltersToAuthTypes(t *testing.T) {
	store := newMemStore()
	roomID := "!chain:one"
	ctx := context.Background()

	authState := []*PDU{
		testStatePDU("$c1", roomID, "@a:one", EventTypeCreate, "",
			CreateContent{Creator: "@a:one"}),
		testStatePDU("$c2", roomID, "@a:one", EventTypeMember, "@a:one",
			MemberContent{Membership: MembershipJoin}),
		testStatePDU("$c3", roomID, "@a:one", EventTypePowerLevels, "",
			PowerLevelsContent{}),
		testStatePDU("$c4", roomID, "@a:one", EventTypeJoinRules, "",
			map[string]string{"join_rule": "public"}),
	}
	for _, pdu := range authState {
		require.NoError(t, store.PutEvent(ctx, pdu))
	}
	// Six state events of types that never participate in auth.
	for i := range 6 {
		other := testStatePDU(
			fmt.Sprintf("$other%d", i), roomID, "@a:one",
			"m.room.topic", fmt.Sprintf("key%d", i),
			map[string]string{"topic": "hello"},
		)
		require.NoError(t, store.PutEvent(ctx, other))
	}

	resolver := NewAuthResolver(store)
	chain, err := resolver.AuthChain(ctx, roomID)
	require.NoError(t, err)
	assert.ElementsMatch(
		t,
		[]string{"$c1", "$c2", "$c3", "$c4"},
		eventIDs(chain),
	)
}

func TestAuthChainForEventTransitive(t *testing.T) {
	store := newMemStore()
	roomID := "!transitive:one"
	ctx := context.Background()

	create := testStatePDU("$create", roomID, "@a:one", EventTypeCreate, "",
		CreateContent{Creator: "@a:one"})
	require.NoError(t, store.PutEvent(ctx, create))

	power := testStatePDU("$power", roomID, "@a:one", EventTypePowerLevels,
		"", PowerLevelsContent{})
	power.AuthEvents = []string{"$create"}
	require.NoError(t, store.PutEvent(ctx, power))

	member := testStatePDU("$member", roomID, "@b:two", EventTypeMember,
		"@b:two", MemberContent{Membership: MembershipJoin})
	member.AuthEvents = []string{"$power", "$dangling"}
	require.NoError(t, store.PutEvent(ctx, member))

	resolver := NewAuthResolver(store)
	chain, err := resolver.AuthChainForEvent(ctx, roomID, "$member")
	require.NoError(t, err)
	// Transitive closure over auth edges; the dangling edge is skipped.
	assert.ElementsMatch(t, []string{"$power", "$create"}, eventIDs(chain))
}

func TestAuthChainForEventUnknown(t *testing.T) {
	store := newMemStore()
	resolver := NewAuthResolver(store)

	_, err := resolver.AuthChainForEvent(
		context.Background(), "!x:one", "$missing",
	)
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, AsError(err).Code)
}

func TestAuthChainForEventRoomMismatch(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	pdu := testPDU("$elsewhere", "!other:one", "@a:one", "m.room.message")
	require.NoError(t, store.PutEvent(ctx, pdu))

	resolver := NewAuthResolver(store)
	_, err := resolver.AuthChainForEvent(ctx, "!x:one", "$elsewhere")
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, AsError(err).Code)
}
