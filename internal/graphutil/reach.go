// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package graphutil implements graph traversal helpers shared by the analyses.
package graphutil

import (
	"github.com/yourbasic/graph"
)

// AdjGraph is a plain adjacency-list directed graph over dense integer vertices. It implements
// graph.Iterator so that the yourbasic/graph algorithms can run on it.
type AdjGraph struct {
	// NumVerts is the order of the graph
	NumVerts int

	// Edges is the adjacency list: Edges[i] lists the successors of vertex i
	Edges [][]int
}

// NewAdjGraph returns an empty graph of order n.
func NewAdjGraph(n int) *AdjGraph {
	return &AdjGraph{NumVerts: n, Edges: make([][]int, n)}
}

// AddEdge adds a directed edge from i to j. Duplicate edges are permitted; the traversal
// algorithms tolerate them.
func (a *AdjGraph) AddEdge(i int, j int) {
	a.Edges[i] = append(a.Edges[i], j)
}

// Order returns the number of vertices of the graph.
func (a *AdjGraph) Order() int {
	return a.NumVerts
}

// Visit calls do for every successor of v. It returns true as soon as do returns true.
func (a *AdjGraph) Visit(v int, do func(w int, c int64) bool) bool {
	for _, w := range a.Edges[v] {
		if do(w, 0) {
			return true
		}
	}
	return false
}

// Reachable returns the set of vertices reachable from root, root included.
func Reachable(a *AdjGraph, root int) map[int]bool {
	seen := map[int]bool{root: true}
	graph.BFS(a, root, func(_, w int, _ int64) {
		seen[w] = true
	})
	return seen
}
