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
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/seqsec/iltaint/analysis/il"
	"github.com/seqsec/iltaint/internal/funcutil"
)

// An LvalEnv maps l-values to taint cells at one program point. It also carries the control
// taints guarding the point and the two propagator queues. Environments are treated as
// immutable: every update clones first. The per-function scale of the analysis keeps this
// affordable and makes the fixpoint equality checks trivial to reason about.
type LvalEnv struct {
	// tainted holds one cell tree per root variable, keyed by base id
	tainted map[string]*Cell

	// bases remembers the base of each root so enumeration can rebuild l-values
	bases map[string]il.Base

	// control holds the taints currently guarding control flow
	control TaintSet

	// pending maps a propagator variable to the destinations waiting for a matching source
	pending map[string]map[string]*il.Lval

	// propagated maps a propagator variable to the taints deposited by a matching source
	propagated map[string]TaintSet
}

// NewLvalEnv returns the empty environment.
func NewLvalEnv() *LvalEnv {
	return &LvalEnv{
		tainted:    map[string]*Cell{},
		bases:      map[string]il.Base{},
		pending:    map[string]map[string]*il.Lval{},
		propagated: map[string]TaintSet{},
	}
}

// Clone deep-copies the environment.
func (e *LvalEnv) Clone() *LvalEnv {
	out := NewLvalEnv()
	for k, c := range e.tainted {
		out.tainted[k] = c.Clone()
		out.bases[k] = e.bases[k]
	}
	out.control = e.control
	for v, lvs := range e.pending {
		m := make(map[string]*il.Lval, len(lvs))
		for k, lv := range lvs {
			m[k] = lv
		}
		out.pending[v] = m
	}
	for v, ts := range e.propagated {
		out.propagated[v] = ts
	}
	return out
}

// UnionEnvs joins the two environments pointwise: cells join, structural offsets union,
// control and the propagator queues union. Clean joined with Tainted yields Tainted; this is a
// MAY analysis and clean is not dominant across branches.
func UnionEnvs(a *LvalEnv, b *LvalEnv) *LvalEnv {
	out := NewLvalEnv()
	for k, ca := range a.tainted {
		out.tainted[k] = joinCells(ca, b.tainted[k])
		out.bases[k] = a.bases[k]
	}
	for k, cb := range b.tainted {
		if _, in := a.tainted[k]; !in {
			out.tainted[k] = cb.Clone()
			out.bases[k] = b.bases[k]
		}
	}
	out.control = a.control.Union(b.control)
	for v, lvs := range a.pending {
		m := map[string]*il.Lval{}
		for k, lv := range lvs {
			m[k] = lv
		}
		out.pending[v] = m
	}
	for v, lvs := range b.pending {
		m, in := out.pending[v]
		if !in {
			m = map[string]*il.Lval{}
			out.pending[v] = m
		}
		for k, lv := range lvs {
			m[k] = lv
		}
	}
	maps.Copy(out.propagated, a.propagated)
	funcutil.Merge(out.propagated, b.propagated, func(x TaintSet, y TaintSet) TaintSet {
		return x.Union(y)
	})
	return out
}

// EqualEnvs compares the environments by cell structure, taint identities, control and
// propagator queues. This is the convergence test of the fixpoint.
func EqualEnvs(a *LvalEnv, b *LvalEnv) bool {
	if !a.control.Equal(b.control) {
		return false
	}
	if !equalCellMaps(a.tainted, b.tainted) {
		return false
	}
	if len(a.propagated) != len(b.propagated) {
		return false
	}
	for v, ts := range a.propagated {
		if !ts.Equal(b.propagated[v]) {
			return false
		}
	}
	if len(a.pending) != len(b.pending) {
		return false
	}
	for v, lvs := range a.pending {
		blvs, in := b.pending[v]
		if !in || len(lvs) != len(blvs) {
			return false
		}
		for k := range lvs {
			if _, in := blvs[k]; !in {
				return false
			}
		}
	}
	return true
}

func equalCellMaps(a map[string]*Cell, b map[string]*Cell) bool {
	for k, ca := range a {
		if !equalCells(ca, b[k]) {
			return false
		}
	}
	for k, cb := range b {
		if _, in := a[k]; !in && !equalCells(nil, cb) {
			return false
		}
	}
	return true
}

// EqualByLval compares only the cells stored at lv in both environments.
func EqualByLval(a *LvalEnv, b *LvalEnv, lv *il.Lval) bool {
	return equalCells(a.FindLval(lv), b.FindLval(lv))
}

// FindLval looks up the exact cell stored at lv. There is no polymorphic fallback here; that
// logic lives in the checker.
func (e *LvalEnv) FindLval(lv *il.Lval) *Cell {
	root, in := e.tainted[lv.Base.ID()]
	if !in {
		return nil
	}
	if len(lv.Offset) == 0 {
		return root
	}
	return FindInShape(root.S, lv.Offset)
}

// Add unions the taints into the cell at lv, creating intermediate cells when the path does
// not exist yet. Adding an empty set is a no-op.
func (e *LvalEnv) Add(lv *il.Lval, ts TaintSet) *LvalEnv {
	if ts.IsEmpty() {
		return e
	}
	return e.AddShape(lv, ts, nil)
}

// AddShape unions the taints into the cell at lv and merges the shape installed there.
func (e *LvalEnv) AddShape(lv *il.Lval, ts TaintSet, shape *Shape) *LvalEnv {
	if ts.IsEmpty() && shape == nil {
		return e
	}
	out := e.Clone()
	cell := out.ensure(lv)
	cell.X = cell.X.Join(XtaintOf(ts))
	cell.S = joinShapes(cell.S, shape)
	return out
}

// SetShape replaces the cell at lv with exactly the given taints and shape (strong update).
func (e *LvalEnv) SetShape(lv *il.Lval, ts TaintSet, shape *Shape) *LvalEnv {
	out := e.Clone()
	cell := out.ensure(lv)
	cell.X = XtaintOf(ts)
	cell.S = shape.Clone()
	return out
}

// ensure returns the mutable cell at lv inside this (already cloned) environment, creating the
// path as needed.
func (e *LvalEnv) ensure(lv *il.Lval) *Cell {
	id := lv.Base.ID()
	root, in := e.tainted[id]
	if !in {
		root = &Cell{}
		e.tainted[id] = root
		e.bases[id] = lv.Base
	}
	cur := root
	for _, o := range lv.Offset {
		if cur.S == nil {
			cur.S = &Shape{fields: map[il.OffsetKey]*Cell{}}
		}
		next, in := cur.S.fields[o.Key()]
		if !in {
			next = &Cell{}
			cur.S.fields[o.Key()] = next
		}
		cur = next
	}
	return cur
}

// Clean marks the cell at lv explicitly sanitized and drops the subtree below it.
func (e *LvalEnv) Clean(lv *il.Lval) *LvalEnv {
	out := e.Clone()
	if len(lv.Offset) == 0 {
		out.tainted[lv.Base.ID()] = cleanCell()
		out.bases[lv.Base.ID()] = lv.Base
		return out
	}
	parent := out.ensure(lv.Prefix(len(lv.Offset) - 1))
	if parent.S == nil {
		parent.S = &Shape{fields: map[il.OffsetKey]*Cell{}}
	}
	parent.S.fields[lv.Offset[len(lv.Offset)-1].Key()] = cleanCell()
	return out
}

// ControlTaints returns the taints currently guarding control flow.
func (e *LvalEnv) ControlTaints() TaintSet {
	return e.control
}

// AddControlTaints unions taints into the control environment.
func (e *LvalEnv) AddControlTaints(ts TaintSet) *LvalEnv {
	if ts.IsEmpty() {
		return e
	}
	out := e.Clone()
	out.control = out.control.Union(ts)
	return out
}

// PropagateTo deposits taints on the propagator variable and immediately satisfies any
// destinations already waiting on it.
func (e *LvalEnv) PropagateTo(propVar string, ts TaintSet) *LvalEnv {
	if ts.IsEmpty() {
		return e
	}
	out := e.Clone()
	out.propagated[propVar] = out.propagated[propVar].Union(ts)
	if waiting, in := out.pending[propVar]; in {
		delete(out.pending, propVar)
		for _, lv := range sortedLvals(waiting) {
			cell := out.ensure(lv)
			cell.X = cell.X.Join(XtaintOf(ts))
		}
	}
	return out
}

// PropagateFrom consumes the taints deposited on the propagator variable. The boolean is false
// when nothing was deposited.
func (e *LvalEnv) PropagateFrom(propVar string) (TaintSet, *LvalEnv, bool) {
	ts, in := e.propagated[propVar]
	if !in || ts.IsEmpty() {
		return TaintSet{}, e, false
	}
	out := e.Clone()
	delete(out.propagated, propVar)
	return ts, out, true
}

// PendingPropagation records lv as a destination waiting for a later source of the propagator
// variable.
func (e *LvalEnv) PendingPropagation(propVar string, lv *il.Lval) *LvalEnv {
	out := e.Clone()
	m, in := out.pending[propVar]
	if !in {
		m = map[string]*il.Lval{}
		out.pending[propVar] = m
	}
	m[lv.ID()] = lv
	return out
}

func sortedLvals(m map[string]*il.Lval) []*il.Lval {
	keys := maps.Keys(m)
	slices.Sort(keys)
	out := make([]*il.Lval, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// A RootCell is one root variable with its cell tree.
type RootCell struct {
	Base il.Base
	Cell *Cell
}

// Tainted enumerates the root cells in deterministic order.
func (e *LvalEnv) Tainted() []RootCell {
	keys := maps.Keys(e.tainted)
	slices.Sort(keys)
	out := make([]RootCell, len(keys))
	for i, k := range keys {
		out[i] = RootCell{Base: e.bases[k], Cell: e.tainted[k]}
	}
	return out
}

func (e *LvalEnv) String() string {
	var parts []string
	for _, rc := range e.Tainted() {
		parts = append(parts, rc.Base.String()+"->"+rc.Cell.String())
	}
	if !e.control.IsEmpty() {
		parts = append(parts, "control->"+e.control.String())
	}
	return "[" + strings.Join(parts, "; ") + "]"
}
