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

// This file instantiates precomputed taint signatures at call sites. A signature is a set of
// results over polymorphic Var taints rooted at the callee's parameters, receiver or globals;
// instantiation substitutes those with what the caller actually passes. Failures are soft: an
// entry that cannot be resolved is skipped and the remaining entries still apply.

// instantiateSignature applies the callee's signature at the call site and returns the taints
// of the call result.
func (c *checker) instantiateSignature(env *LvalEnv, i *il.Instr, fparams []string, sig []Result,
	argRes []argEval) (TaintSet, *LvalEnv) {
	if len(fparams) > 0 && len(i.Args) > len(fparams) {
		c.st.logger().Warnf("call %s passes %d arguments to %d parameters; the excess ones are ignored",
			i.String(), len(i.Args), len(fparams))
	}
	var ret TaintSet
	for _, entry := range sig {
		switch entry.Kind {
		case ToReturn:
			ret = ret.Union(c.substTaints(env, entry.Taints, i, fparams, argRes))
		case ToSink:
			ts := c.substTaints(env, entry.Taints, i, fparams, argRes)
			if !ts.IsEmpty() {
				c.st.emitToSink(ts, entry.Sink, env)
			}
		case ToLval:
			lv, ok := c.lvalOfSigLval(entry.Lval, i, fparams)
			if !ok {
				c.st.logger().Debugf("skipping side-effect summary entry %s of %s: cannot resolve",
					entry.Lval.String(), i.String())
				continue
			}
			ts := c.substTaints(env, entry.Taints, i, fparams, argRes)
			if !ts.IsEmpty() {
				env = env.Add(lv, ts.WithToken(c.tok()))
			}
		}
	}
	return ret, env
}

// substTaints substitutes the polymorphic taints of a signature entry with their concrete
// instantiation at this call site. Source taints get a call frame prepended to their trace;
// taints whose substituted precondition resolves to false are dropped individually.
func (c *checker) substTaints(env *LvalEnv, taints []Taint, i *il.Instr, fparams []string,
	argRes []argEval) TaintSet {
	inst := func(sl SigLval) (TaintSet, bool) {
		return c.taintsOfSigLval(env, sl, i, fparams, argRes)
	}
	substPrecond := func(pt Taint) []Taint {
		if concrete, ok := inst(pt.Lval); ok {
			return concrete.Elems()
		}
		return nil
	}
	callee := i.CalleeName()

	var out TaintSet
	for _, t := range taints {
		switch t.Kind {
		case OrigVar:
			mapped := MapPrecondition(t, substPrecond)
			if mapped.IsNone() {
				continue
			}
			t2 := mapped.Value()
			concrete, ok := inst(t2.Lval)
			if !ok {
				continue
			}
			for _, ct := range concrete.Elems() {
				ct.Tokens = append(append([]il.Loc{}, t2.Tokens...), ct.Tokens...)
				ct.Precond = conjoinPreconds(ct.Precond, t2.Precond)
				out.add(ct)
			}
		case OrigSrc:
			mapped := MapPrecondition(t, substPrecond)
			if mapped.IsNone() {
				continue
			}
			out.add(mapped.Value().WithCallFrame(callee, c.tok()))
		default:
			out.add(t)
		}
	}
	return out
}

// conjoinPreconds combines the precondition a concrete taint already carries with the one
// inherited from the polymorphic taint it substitutes.
func conjoinPreconds(own *Precondition, inherited *Precondition) *Precondition {
	if inherited == nil {
		return own
	}
	if own == nil {
		return inherited
	}
	return &Precondition{
		Taints: append(append([]Taint{}, own.Taints...), inherited.Taints...),
		Expr:   ReqAndOf(own.Expr, inherited.Expr),
	}
}

// taintsOfSigLval returns the caller-side taints of a summary l-value. When the l-value is a
// global or a field of the receiver and no taints are found, a fresh polymorphic taint is
// synthesized as an implicit input: global and field summaries may transit a caller that never
// writes them locally.
func (c *checker) taintsOfSigLval(env *LvalEnv, sl SigLval, i *il.Instr, fparams []string,
	argRes []argEval) (TaintSet, bool) {
	if pos, isArg := c.sigArgPos(sl.Base, fparams); isArg {
		if pos < 0 || pos >= len(i.Args) {
			c.st.logger().Warnf("signature of %s refers to argument %d but the call has %d",
				i.CalleeName(), pos, len(i.Args))
			return TaintSet{}, false
		}
		if len(sl.Offset) == 0 && i.Args[pos].E.Kind != il.EFetch {
			// the argument is not addressable; its evaluated taints stand in
			return argRes[pos].all(), true
		}
	}
	lv, ok := c.lvalOfSigLval(sl, i, fparams)
	if !ok {
		return TaintSet{}, false
	}
	ts := GatherCellTaints(env.FindLval(lv))
	if ts.IsEmpty() && c.isImplicitInput(sl) {
		return Singleton(NewVarTaint(sl)), true
	}
	return ts, true
}

func (c *checker) isImplicitInput(sl SigLval) bool {
	return sl.Base.Kind == SigGlobal || (sl.Base.Kind == SigThis && len(sl.Offset) > 0)
}

func (c *checker) sigArgPos(b SigBase, fparams []string) (int, bool) {
	switch b.Kind {
	case SigArgPos:
		return b.Pos, true
	case SigArgName:
		for idx, name := range fparams {
			if name == b.Name {
				return idx, true
			}
		}
		return -1, true
	default:
		return 0, false
	}
}

// lvalOfSigLval translates a summary l-value into a caller-side l-value: a positional argument
// becomes the actual argument expression, the receiver becomes the object of the method call,
// a global stays itself. A record literal argument whose first summary offset names one of its
// fields resolves through that field.
func (c *checker) lvalOfSigLval(sl SigLval, i *il.Instr, fparams []string) (*il.Lval, bool) {
	offsets := sl.Offset
	var base *il.Lval
	if pos, isArg := c.sigArgPos(sl.Base, fparams); isArg {
		if pos < 0 || pos >= len(i.Args) {
			return nil, false
		}
		arg := i.Args[pos].E
		if arg.Kind == il.ERecord && len(offsets) > 0 && offsets[0].Kind == il.ODot {
			field := recordField(arg, offsets[0].Name)
			if field == nil || field.Kind != il.EFetch {
				return nil, false
			}
			base = field.Lval
			offsets = offsets[1:]
		} else {
			if arg.Kind != il.EFetch {
				return nil, false
			}
			base = arg.Lval
		}
	} else {
		switch sl.Base.Kind {
		case SigThis:
			if i.Callee == nil || i.Callee.Kind != il.EFetch || len(i.Callee.Lval.Offset) == 0 {
				return nil, false
			}
			base = i.Callee.Lval.Prefix(len(i.Callee.Lval.Offset) - 1)
		case SigGlobal:
			base = il.NewGlobalLval(sl.Base.Name)
		default:
			return nil, false
		}
	}
	if len(offsets) == 0 {
		return base, true
	}
	return &il.Lval{
		Base:   base.Base,
		Offset: append(append([]il.Offset{}, base.Offset...), offsets...),
		R:      base.R,
	}, true
}

func recordField(e *il.Expr, name string) *il.Expr {
	f := funcutil.Filter(e.Fields, func(f il.Field) bool { return f.Name == name })
	if len(f) == 0 {
		return nil
	}
	return f[0].E
}
