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
	"github.com/seqsec/iltaint/analysis/il"
	"github.com/seqsec/iltaint/internal/funcutil"
)

// This file implements the expression and l-value checker. The checker runs the per-expression
// pipeline in a fixed order: sanitizers first, then the taints computed from subexpressions,
// then sources, propagators, sinks, and finally the type-based drops. Subexpressions are
// evaluated left to right, each receiving the environment produced by the previous one; this
// is what makes left-to-right taint propagation observable.

// A checker evaluates the expressions of one CFG node against an environment.
type checker struct {
	st *engineState

	// node is the CFG node being transferred
	node *il.Node

	// atExit is true when the node is a function exit point; at-exit sinks only fire there
	atExit bool
}

func (c *checker) tok() il.Loc {
	return c.node.Tok
}

// checkExpr computes the taints and shape of e, applying the match pipeline at every
// sub-position. The returned environment carries all side effects of the evaluation.
func (c *checker) checkExpr(env *LvalEnv, e *il.Expr) (TaintSet, *Shape, *LvalEnv) {
	if e == nil {
		return TaintSet{}, nil, env
	}
	if e.Kind == il.EFetch {
		ts, shape, _, env2 := c.checkLval(env, e.Lval)
		return c.dropByType(ts, e.Type), shape, env2
	}

	any := il.ExprAny(e)
	if san := c.bestSanitizer(any); san != nil {
		env = c.evalForEffects(env, e)
		return TaintSet{}, nil, env
	}

	var ts TaintSet
	var shape *Shape
	switch e.Kind {
	case il.ELiteral, il.EAnonFunc, il.EUnknown:
		// no taint of their own; literals may still match a source below
	case il.EOp:
		var opTaints TaintSet
		for _, a := range e.Args {
			var ti TaintSet
			var si *Shape
			ti, si, env = c.checkExpr(env, a)
			opTaints = opTaints.Union(ti).Union(GatherAllTaints(si))
		}
		switch {
		case c.st.opts.TaintOnlyPropagateThroughAssignments:
			// sub-expression taints do not flow to the operator
		case e.IsComparison() && c.st.opts.TaintAssumeSafeComparisons:
			// comparisons yield no taint
		default:
			ts = opTaints
		}
	case il.ERecord:
		names := make([]string, len(e.Fields))
		cells := make([]*Cell, len(e.Fields))
		for i, f := range e.Fields {
			var ti TaintSet
			var si *Shape
			ti, si, env = c.checkExpr(env, f.E)
			names[i] = f.Name
			cells[i] = NewCell(ti, si)
		}
		shape = RecordShape(names, cells)
	case il.ETuple:
		cells := make([]*Cell, len(e.Args))
		for i, a := range e.Args {
			var ti TaintSet
			var si *Shape
			ti, si, env = c.checkExpr(env, a)
			cells[i] = NewCell(ti, si)
		}
		shape = TupleShape(cells)
	case il.ECast:
		if len(e.Args) == 1 {
			ts, shape, env = c.checkExpr(env, e.Args[0])
		}
	}

	var srcTs TaintSet
	srcTs, env = c.addSources(env, any, ts, nil)
	ts = ts.Union(srcTs)
	ts, env = c.applyPropagators(env, any, ts, nil)
	env = c.checkSinks(env, any, ts, shape, false)
	return c.dropByType(ts, e.Type), shape, env
}

// checkLval traverses the l-value bottom-up over the offset path. Every prefix may be a
// source, sink, sanitizer or propagator end in its own right. The third return value reports
// that a sanitizer applies at this evaluation site: extensions are then safe for new matches
// and the existing environment taints are not consulted.
func (c *checker) checkLval(env *LvalEnv, lv *il.Lval) (TaintSet, *Shape, bool, *LvalEnv) {
	var ts TaintSet
	var shape *Shape
	cellClean := false

	for k := 0; k <= len(lv.Offset); k++ {
		pre := lv.Prefix(k)
		any := il.LvalAny(pre)

		if san := c.bestSanitizer(any); san != nil {
			if san.Spec.SideEffect {
				env = env.Clean(pre)
			}
			return TaintSet{}, nil, true, env
		}

		if k == 0 {
			if cell := env.FindLval(pre); cell != nil {
				cellClean = cell.X.Kind == XClean
				ts = cell.X.Taints
				shape = cell.S
			} else {
				cellClean, ts, shape = false, TaintSet{}, nil
			}
		} else {
			off := lv.Offset[k-1]

			var idxTs TaintSet
			if off.Kind == il.OAny && off.Expr != nil {
				var its TaintSet
				its, _, env = c.checkExpr(env, off.Expr)
				if !c.st.opts.TaintAssumeSafeIndexes {
					idxTs = its
				}
			}

			prevTs, prevShape, prevClean := ts, shape, cellClean
			var cell *Cell
			if prevShape != nil {
				cell = FindInShape(prevShape, []il.Offset{off})
			}
			if cell != nil {
				cellClean = cell.X.Kind == XClean
				ts = cell.X.Taints
				shape = cell.S
			} else {
				cellClean, shape = false, nil
				if prevClean {
					ts = TaintSet{}
				} else {
					ts = c.fixPolyTaintWithField(prevTs, off)
				}
			}
			ts = ts.Union(idxTs)
		}

		var srcTs TaintSet
		srcTs, env = c.addSources(env, any, ts, pre)
		ts = ts.Union(srcTs)
		ts, env = c.applyPropagators(env, any, ts, pre)
		env = c.checkSinks(env, any, ts, shape, false)
	}
	return ts, shape, false, env
}

// fixPolyTaintWithField inherits polymorphic taints onto a field not tracked in the
// environment: a prefix carrying Var(lval) taints extends each with the current offset. Only
// field-style offsets are inherited, only in field-sensitive languages, only while the offset
// path stays under the polymorphism bound, and only if the offset is not already present in
// the path - the last condition is the termination guard for x = x.getX() loops. A method
// reference is never inherited; method-call taints are handled at call sites.
func (c *checker) fixPolyTaintWithField(prev TaintSet, off il.Offset) TaintSet {
	if !c.st.lang.FieldSensitivePoly() {
		return TaintSet{}
	}
	switch off.Kind {
	case il.ODot, il.OStr, il.OInt:
	default:
		return TaintSet{}
	}
	var out TaintSet
	for _, t := range prev.Elems() {
		if t.Kind != OrigVar {
			continue
		}
		if len(t.Lval.Offset) >= c.st.maxPoly {
			continue
		}
		if t.Lval.HasStep(off) {
			continue
		}
		t.Lval = t.Lval.WithOffset(off)
		out.add(t)
	}
	return out
}

// bestSanitizer returns the first sanitizer match applicable at the queried position. Exact
// specs only fire on best matches at exactly that position.
func (c *checker) bestSanitizer(any il.Any) *SanitizerMatch {
	for _, m := range c.st.pb.Oracle.Sanitizers(any) {
		if m.Spec.Exact && !c.exactBest(m.Spec.ID, m.PM.R, any) {
			continue
		}
		return m
	}
	return nil
}

func (c *checker) exactBest(specID string, r il.Range, any il.Any) bool {
	return r == any.Range() && c.st.best.IsBest(specID, r)
}

// addSources consults the source matches at the queried position and returns the taints to
// union into the result. Side-effect sources update the l-value form in the environment;
// control sources feed the control environment instead.
func (c *checker) addSources(env *LvalEnv, any il.Any, incoming TaintSet, lv *il.Lval) (TaintSet, *LvalEnv) {
	var out TaintSet
	for _, m := range c.st.pb.Oracle.Sources(any) {
		if m.Spec.Exact && !c.exactBest(m.Spec.ID, m.PM.R, any) {
			continue
		}
		single := TaintsOfMatches([]*SourceMatch{m}, incoming)
		if m.Spec.Control {
			env = env.AddControlTaints(single)
			continue
		}
		switch m.Spec.SideEffect {
		case SideEffectOnly:
			if lv != nil {
				env = env.Add(lv, single)
			} else {
				out = out.Union(single)
			}
		case SideEffectYes:
			if lv != nil {
				env = env.Add(lv, single)
			}
			out = out.Union(single)
		default:
			out = out.Union(single)
		}
	}
	return out, env
}

// applyPropagators runs the two propagator passes at the queried position: From ends deposit
// the current taints on their propagator variable, To ends retrieve them (or enqueue the
// destination when nothing has been deposited yet).
func (c *checker) applyPropagators(env *LvalEnv, any il.Any, ts TaintSet, lv *il.Lval) (TaintSet, *LvalEnv) {
	matches := c.st.pb.Oracle.Propagators(any)
	if len(matches) == 0 {
		return ts, env
	}
	out := ts
	for _, m := range matches {
		if m.Spec.Kind != PropFrom {
			continue
		}
		if m.Spec.Requires != nil {
			if sat := SolvePrecondition(m.Spec.Requires, ts.Elems()); sat.IsSome() && !sat.Value() {
				continue
			}
		}
		dep := relabel(ts, m.Spec.Label, m.Spec.ReplaceLabels)
		if !dep.IsEmpty() {
			env = env.PropagateTo(m.Spec.Var, dep.WithToken(c.tok()))
		}
	}
	for _, m := range matches {
		if m.Spec.Kind != PropTo {
			continue
		}
		got, env2, ok := env.PropagateFrom(m.Spec.Var)
		env = env2
		if ok {
			out = out.Union(got)
			if m.Spec.SideEffect && lv != nil {
				env = env.Add(lv, got)
			}
		} else if lv != nil {
			env = env.PendingPropagation(m.Spec.Var, lv)
		}
	}
	return out, env
}

// relabel rewrites the labels of the source taints in ts according to a propagator's label
// substitution. Polymorphic and control taints pass through unchanged.
func relabel(ts TaintSet, label string, replace []string) TaintSet {
	if label == "" {
		return ts
	}
	return ts.Transform(func(t Taint) []Taint {
		if t.Kind == OrigSrc && (len(replace) == 0 || funcutil.Contains(replace, t.Label)) {
			t.Label = label
		}
		return []Taint{t}
	})
}

// checkSinks tests the sink matches at the queried position. Every sink sees the current
// taints unioned with the control taints and with all taints reachable in the shape: a sink
// consuming a composite value must see every taint inside it.
func (c *checker) checkSinks(env *LvalEnv, any il.Any, ts TaintSet, shape *Shape, instrLevel bool) *LvalEnv {
	for _, m := range c.st.pb.Oracle.Sinks(any) {
		if m.Spec.Exact && !c.exactBest(m.Spec.ID, m.PM.R, any) {
			continue
		}
		if m.Spec.AtExit && !c.atExit {
			continue
		}
		if instrLevel && m.Spec.HasFocus && m.Spec.Exact {
			continue
		}
		all := ts.Union(env.ControlTaints()).Union(GatherAllTaints(shape))
		c.st.emitToSink(all, m, env)
	}
	return env
}

// dropByType discards data taints from values the options declare safe by type. Control
// taints survive the drop.
func (c *checker) dropByType(ts TaintSet, typ il.ValueType) TaintSet {
	if (typ == il.TypeBool && c.st.opts.TaintAssumeSafeBooleans) ||
		(typ == il.TypeNumber && c.st.opts.TaintAssumeSafeNumbers) {
		return ts.Filter(func(t Taint) bool { return t.Kind == OrigControl })
	}
	return ts
}

// evalForEffects evaluates the subexpressions of e, keeping only the environment updates.
func (c *checker) evalForEffects(env *LvalEnv, e *il.Expr) *LvalEnv {
	for _, a := range e.Args {
		_, _, env = c.checkExpr(env, a)
	}
	for _, f := range e.Fields {
		_, _, env = c.checkExpr(env, f.E)
	}
	return env
}
