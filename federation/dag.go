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

// Order topologically sorts a PDU batch by its causal-parent edges
// using Kahn's algorithm. Edges are built only where the parent id is
// present in the batch. The ready queue is seeded with zero-in-degree
// nodes in input order and drained FIFO, so input order is the stable
// tie-break between causally unrelated events. The result is *a*
// causally valid linear extension, not a unique one.
//
// If fewer nodes are emitted than were supplied (a cycle, which cannot
// occur in a well-formed event graph but can arrive in a malicious
// batch), the input is returned unchanged rather than truncated or
// partially reordered. O(V+E).
func Order(pdus []*PDU) []*PDU {
	if len(pdus) < 2 {
		return pdus
	}
	indexByID := make(map[string]int, len(pdus))
	for i, pdu := range pdus {
		if pdu.EventID != "" {
			indexByID[pdu.EventID] = i
		}
	}
	children := make(map[int][]int, len(pdus))
	inDegree := make([]int, len(pdus))
	for i, pdu := range pdus {
		for _, prev := range pdu.PrevEvents {
			parent, ok := indexByID[prev]
			if !ok || parent == i {
				continue
			}
			children[parent] = append(children[parent], i)
			inDegree[i]++
		}
	}
	queue := make([]int, 0, len(pdus))
	for i := range pdus {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	sorted := make([]*PDU, 0, len(pdus))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, pdus[node])
		for _, child := range children[node] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if len(sorted) < len(pdus) {
		return pdus
	}
	return sorted
}
