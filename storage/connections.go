// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package storage

// mergeConnection applies the upsert-on-conflict rule for a (source,
// target) edge: strength rises to the max of old/new, reason is preserved
// unless the incoming one is non-empty.
func mergeConnection(existing, incoming MemoryConnection) MemoryConnection {
	merged := existing
	if incoming.Strength > existing.Strength {
		merged.Strength = incoming.Strength
	}
	if incoming.Reason != "" {
		merged.Reason = incoming.Reason
	}
	return merged
}

// connectionKey returns the unique key for a (source, target) edge.
func connectionKey(sourceID, targetID string) [2]string {
	return [2]string{sourceID, targetID}
}

// traverseGraph performs the bounded-depth, cycle-free BFS described in
// spec §4.6 over an in-memory adjacency representation. It is shared by
// every adapter that materializes the full edge set for a user in Go
// (local, Redis, Qdrant); SQL backends instead push this down into a
// recursive CTE or an iterative query-per-hop loop, but must produce the
// same reachable set.
func traverseGraph(memories map[string]MemoryRecord, edges []MemoryConnection, startID string, depth int, minStrength float64) ([]MemoryRecord, []MemoryConnection) {
	adjacency := make(map[string][]MemoryConnection)
	for _, e := range edges {
		if e.Strength < minStrength {
			continue
		}
		adjacency[e.SourceMemoryID] = append(adjacency[e.SourceMemoryID], e)
		adjacency[e.TargetMemoryID] = append(adjacency[e.TargetMemoryID], e)
	}

	visited := map[string]bool{startID: true}
	frontier := []string{startID}

	for step := 0; step < depth && len(frontier) > 0; step++ {
		var next []string
		for _, id := range frontier {
			for _, e := range adjacency[id] {
				other := e.TargetMemoryID
				if other == id {
					other = e.SourceMemoryID
				}
				if _, ok := memories[other]; !ok {
					continue // not owned by this user
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	var resultMemories []MemoryRecord
	for id := range visited {
		if m, ok := memories[id]; ok {
			resultMemories = append(resultMemories, m)
		}
	}

	var resultEdges []MemoryConnection
	for _, e := range edges {
		if e.Strength < minStrength {
			continue
		}
		if visited[e.SourceMemoryID] && visited[e.TargetMemoryID] {
			resultEdges = append(resultEdges, e)
		}
	}

	return resultMemories, resultEdges
}
