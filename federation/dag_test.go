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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventIDs(pdus []*PDU) []string {
	ids := make([]string, 0, len(pdus))
	for _, pdu := range pdus {
		ids = append(ids, pdu.EventID)
	}
	return ids
}

func TestOrderCausal(t *testing.T) {
	a := testPDU("$a", "!room", "@alice:one", "m.room.message")
	b := testPDU("$b", "!room", "@alice:one", "m.room.message", "$a")
	c := testPDU("$c", "!room", "@alice:one", "m.room.message", "$b")

	ordered := Order([]*PDU{c, b, a})
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"$a", "$b", "$c"}, eventIDs(ordered))
}

func TestOrderPreservesInputOrderBetweenSiblings(t *testing.T) {
	root := testPDU("$root", "!room", "@alice:one", "m.room.message")
	x := testPDU("$x", "!room", "@alice:one", "m.room.message", "$root")
	y := testPDU("$y", "!room", "@alice:one", "m.room.message", "$root")

	ordered := Order([]*PDU{x, y, root})
	assert.Equal(t, []string{"$root", "$x", "$y"}, eventIDs(ordered))
}

func TestOrderCycleFallback(t *testing.T) {
	a := testPDU("$a", "!room", "@alice:one", "m.room.message", "$b")
	b := testPDU("$b", "!room", "@alice:one", "m.room.message", "$a")

	// A cycle cannot be sorted; the input order comes back unchanged.
	ordered := Order([]*PDU{a, b})
	assert.Equal(t, []string{"$a", "$b"}, eventIDs(ordered))
}

func TestOrderIgnoresExternalParents(t *testing.T) {
	// Parents outside the batch are already persisted and must not
	// block sorting.
	a := testPDU("$a", "!room", "@alice:one", "m.room.message", "$external")
	b := testPDU("$b", "!room", "@alice:one", "m.room.message", "$a")

	ordered := Order([]*PDU{b, a})
	assert.Equal(t, []string{"$a", "$b"}, eventIDs(ordered))
}

func TestOrderEmpty(t *testing.T) {
	assert.Empty(t, Order(nil))
}
