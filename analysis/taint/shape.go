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

package taint

import (
	"sort"
	"strings"

	"github.com/seqsec/iltaint/analysis/il"
)

// XtaintKind is the extended taint status of a cell.
type XtaintKind int

const (
	// XNone means the cell has not been seen
	XNone XtaintKind = iota
	// XClean means the cell was explicitly sanitized; this suppresses polymorphic inheritance
	XClean
	// XTainted means the cell holds taints
	XTainted
	// XSanitized is a transient status used inside the checker: a sanitizer applies at the
	// current evaluation site only. It is never stored in an environment.
	XSanitized
)

// An Xtaint pairs a status with the taints held when the status is XTainted.
type Xtaint struct {
	Kind   XtaintKind
	Taints TaintSet
}

// XtaintOf returns the Tainted status for a non-empty set and None otherwise.
func XtaintOf(ts TaintSet) Xtaint {
	if ts.IsEmpty() {
		return Xtaint{Kind: XNone}
	}
	return Xtaint{Kind: XTainted, Taints: ts}
}

// Join is the least upper bound of the two statuses in the None < Clean < Tainted order;
// two Tainted statuses union their sets. Sanitized never reaches a join.
func (x Xtaint) Join(y Xtaint) Xtaint {
	switch {
	case x.Kind == XTainted && y.Kind == XTainted:
		return Xtaint{Kind: XTainted, Taints: x.Taints.Union(y.Taints)}
	case x.Kind == XTainted:
		return x
	case y.Kind == XTainted:
		return y
	case x.Kind == XClean || y.Kind == XClean:
		return Xtaint{Kind: XClean}
	default:
		return Xtaint{Kind: XNone}
	}
}

// Equal compares statuses and taint identities.
func (x Xtaint) Equal(y Xtaint) bool {
	return x.Kind == y.Kind && x.Taints.Equal(y.Taints)
}

// A Shape is the structural description of a compound value: a mapping from offsets to nested
// cells. A nil shape is Bot, i.e. no structure known.
type Shape struct {
	fields map[il.OffsetKey]*Cell
}

// A Cell pairs an extended taint status with the shape of the value stored there.
type Cell struct {
	X Xtaint
	S *Shape
}

// NewCell returns a cell with the given taints and shape.
func NewCell(ts TaintSet, s *Shape) *Cell {
	return &Cell{X: XtaintOf(ts), S: s}
}

// cleanCell returns a cell marked explicitly sanitized, with its subtree dropped.
func cleanCell() *Cell {
	return &Cell{X: Xtaint{Kind: XClean}}
}

// TupleShape builds the shape of a tuple from its element cells, at integer offsets 0..n-1.
func TupleShape(elems []*Cell) *Shape {
	if len(elems) == 0 {
		return nil
	}
	fields := make(map[il.OffsetKey]*Cell, len(elems))
	for i, c := range elems {
		fields[il.IntIndex(i).Key()] = c
	}
	return &Shape{fields: fields}
}

// RecordShape builds the shape of a record literal from its named field cells.
func RecordShape(names []string, cells []*Cell) *Shape {
	if len(names) == 0 {
		return nil
	}
	fields := make(map[il.OffsetKey]*Cell, len(names))
	for i, name := range names {
		fields[il.Dot(name).Key()] = cells[i]
	}
	return &Shape{fields: fields}
}

// FindInShape walks the offset path down the shape. It returns nil when the path does not
// exist; there is no polymorphic fallback at this level.
func FindInShape(s *Shape, path []il.Offset) *Cell {
	cur := &Cell{S: s}
	for _, o := range path {
		if cur.S == nil {
			return nil
		}
		next, in := cur.S.fields[o.Key()]
		if !in {
			return nil
		}
		cur = next
	}
	if len(path) == 0 {
		return nil
	}
	return cur
}

// GatherAllTaints deep-unions the taints of every cell in the shape. It is used whenever a
// value is consumed opaquely: a sink of a composite value must see every taint reachable
// within it.
func GatherAllTaints(s *Shape) TaintSet {
	var out TaintSet
	if s == nil {
		return out
	}
	for _, c := range s.fields {
		out = out.Union(GatherCellTaints(c))
	}
	return out
}

// GatherCellTaints returns the taints of the cell and of everything below it.
func GatherCellTaints(c *Cell) TaintSet {
	if c == nil {
		return TaintSet{}
	}
	out := c.X.Taints
	return out.Union(GatherAllTaints(c.S))
}

// A PathTaints is one tainted position under a root: the offset path to it and its taints.
type PathTaints struct {
	Path   []il.Offset
	Taints TaintSet
}

// EnumInCell enumerates every tainted position under the cell, the cell itself included (with
// an empty path), in deterministic order.
func EnumInCell(c *Cell) []PathTaints {
	var out []PathTaints
	enumInCellRec(c, nil, &out)
	return out
}

func enumInCellRec(c *Cell, path []il.Offset, out *[]PathTaints) {
	if c == nil {
		return
	}
	if c.X.Kind == XTainted {
		p := make([]il.Offset, len(path))
		copy(p, path)
		*out = append(*out, PathTaints{Path: p, Taints: c.X.Taints})
	}
	if c.S == nil {
		return
	}
	keys := make([]il.OffsetKey, 0, len(c.S.fields))
	for k := range c.S.fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		enumInCellRec(c.S.fields[k], append(path, offsetOfKey(k)), out)
	}
}

func offsetOfKey(k il.OffsetKey) il.Offset {
	return il.Offset{Kind: k.Kind, Name: k.Name, Index: k.Index}
}

// Relevant returns true iff the taints are non-empty or the shape contains a tainted cell.
func Relevant(ts TaintSet, s *Shape) bool {
	return !ts.IsEmpty() || !GatherAllTaints(s).IsEmpty()
}

// Clone deep-copies the cell. Taint sets are immutable by convention and shared.
func (c *Cell) Clone() *Cell {
	if c == nil {
		return nil
	}
	return &Cell{X: c.X, S: c.S.Clone()}
}

// Clone deep-copies the shape.
func (s *Shape) Clone() *Shape {
	if s == nil {
		return nil
	}
	fields := make(map[il.OffsetKey]*Cell, len(s.fields))
	for k, c := range s.fields {
		fields[k] = c.Clone()
	}
	return &Shape{fields: fields}
}

// joinCells is the pointwise join: statuses join, structural offsets union.
func joinCells(a *Cell, b *Cell) *Cell {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}
	return &Cell{X: a.X.Join(b.X), S: joinShapes(a.S, b.S)}
}

func joinShapes(a *Shape, b *Shape) *Shape {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}
	fields := make(map[il.OffsetKey]*Cell, len(a.fields)+len(b.fields))
	for k, c := range a.fields {
		fields[k] = joinCells(c, b.fields[k])
	}
	for k, c := range b.fields {
		if _, in := a.fields[k]; !in {
			fields[k] = c.Clone()
		}
	}
	return &Shape{fields: fields}
}

// equalCells compares statuses, taint identities and structure.
func equalCells(a *Cell, b *Cell) bool {
	if a == nil || b == nil {
		return (a == nil || a.X.Kind == XNone && a.S == nil) &&
			(b == nil || b.X.Kind == XNone && b.S == nil)
	}
	return a.X.Equal(b.X) && equalShapes(a.S, b.S)
}

func equalShapes(a *Shape, b *Shape) bool {
	if a == nil || b == nil {
		return a.numFields() == 0 && b.numFields() == 0
	}
	if len(a.fields) != len(b.fields) {
		return false
	}
	for k, ca := range a.fields {
		cb, in := b.fields[k]
		if !in || !equalCells(ca, cb) {
			return false
		}
	}
	return true
}

func (s *Shape) numFields() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

func (c *Cell) String() string {
	if c == nil {
		return "_"
	}
	var sb strings.Builder
	switch c.X.Kind {
	case XClean:
		sb.WriteString("clean")
	case XTainted:
		sb.WriteString(c.X.Taints.String())
	case XSanitized:
		sb.WriteString("sanitized")
	default:
		sb.WriteString("_")
	}
	if c.S != nil {
		keys := make([]string, 0, len(c.S.fields))
		for k := range c.S.fields {
			keys = append(keys, k.String()+c.S.fields[k].String())
		}
		sort.Strings(keys)
		sb.WriteString("{" + strings.Join(keys, " ") + "}")
	}
	return sb.String()
}
