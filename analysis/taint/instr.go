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
	"github.com/seqsec/iltaint/analysis/config"
	"github.com/seqsec/iltaint/analysis/il"
)

// This file implements the per-instruction transfer: assignments, calls with interprocedural
// signature instantiation, constructors, special calls, and the Java getter/setter heuristic
// for accessors without a definition.

// transferInstr computes the environment after the instruction.
func (c *checker) transferInstr(env *LvalEnv, i *il.Instr) *LvalEnv {
	var before *Cell
	if i.Lval != nil {
		before = env.FindLval(i.Lval).Clone()
	}

	var ts TaintSet
	var shape *Shape
	switch i.Kind {
	case il.IAssign:
		ts, shape, env = c.checkExpr(env, i.Rhs)
	case il.IAssignAnon:
		// function literals are opaque here; the assigned value carries no taint
	case il.ICall, il.INew:
		ts, shape, env = c.callResult(env, i)
	case il.ICallSpecial, il.IFixme:
		for _, a := range i.Args {
			var ti TaintSet
			var si *Shape
			ti, si, env = c.checkExpr(env, a.E)
			ts = ts.Union(ti).Union(GatherAllTaints(si))
		}
		env = c.checkSinks(env, il.InstrAny(i), ts, nil, true)
	}

	if i.Lval == nil {
		return env
	}
	if Relevant(ts, shape) {
		return env.AddShape(i.Lval, ts.WithToken(c.tok()), shape)
	}
	// assignment of a safe right-hand side sanitizes, unless the l-value's taint changed by
	// side effect during the evaluation
	if equalCells(before, env.FindLval(i.Lval)) {
		return env.Clean(i.Lval)
	}
	return env
}

// callResult evaluates a call or constructor and returns the taints of its result.
func (c *checker) callResult(env *LvalEnv, i *il.Instr) (TaintSet, *Shape, *LvalEnv) {
	any := il.InstrAny(i)
	implicitCtor := i.Kind == il.INew && i.Callee == nil

	if !implicitCtor {
		if san := c.bestSanitizer(any); san != nil {
			for _, a := range i.Args {
				_, _, env = c.checkExpr(env, a.E)
			}
			return TaintSet{}, nil, env
		}
	}

	// the callee first: a method call reads its receiver object, a computed callee is
	// evaluated for its side effects
	var objTs TaintSet
	var objLval *il.Lval
	if i.Callee != nil {
		switch {
		case i.Callee.Kind == il.EFetch && len(i.Callee.Lval.Offset) > 0:
			objLval = i.Callee.Lval.Prefix(len(i.Callee.Lval.Offset) - 1)
			var objShape *Shape
			var ots TaintSet
			ots, objShape, _, env = c.checkLval(env, objLval)
			objTs = ots.Union(GatherAllTaints(objShape))
		case i.Callee.Kind != il.EFetch:
			var cts TaintSet
			cts, _, env = c.checkExpr(env, i.Callee)
			objTs = cts
		}
	}

	// arguments, left to right, each seeing the previous one's side effects
	allArgs := objTs
	argRes := make([]argEval, len(i.Args))
	for idx, a := range i.Args {
		var ti TaintSet
		var si *Shape
		ti, si, env = c.checkExpr(env, a.E)
		argRes[idx] = argEval{taints: ti, shape: si}
		allArgs = allArgs.Union(ti).Union(GatherAllTaints(si))
	}

	if implicitCtor {
		// a constructor without an explicit callee consumes its arguments but is never a
		// source or sink of its own
		if c.st.opts.TaintAssumeSafeFunctions || c.st.opts.TaintOnlyPropagateThroughAssignments {
			return TaintSet{}, nil, env
		}
		return allArgs, nil, env
	}

	var srcTs TaintSet
	srcTs, env = c.addSources(env, any, allArgs, nil)
	var propTs TaintSet
	propTs, env = c.applyPropagators(env, any, allArgs.Union(srcTs), nil)
	env = c.checkSinks(env, any, allArgs.Union(srcTs), nil, true)

	if sigFn := c.st.pb.FunctionTaintSignature; sigFn != nil && i.Callee != nil {
		if fparams, sig, ok := sigFn(c.st.pb, i.Callee); ok {
			var ret TaintSet
			ret, env = c.instantiateSignature(env, i, fparams, sig, argRes)
			return ret.Union(srcTs), nil, env
		}
	}

	if c.st.lang == config.LangJava && objLval != nil {
		if handled, ret, env2 := c.javaGetterSetter(env, i, objLval, argRes); handled {
			return ret.Union(srcTs), nil, env2
		}
	}

	if c.st.opts.TaintAssumeSafeFunctions || c.st.opts.TaintOnlyPropagateThroughAssignments {
		return srcTs, nil, env
	}
	// propTs is allArgs with the sources and any propagated-in taints folded in
	return propTs, nil, env
}

// An argEval remembers the evaluation of one call argument so later stages (accessor
// heuristic, signature instantiation) do not re-run its side effects.
type argEval struct {
	taints TaintSet
	shape  *Shape
}

func (a argEval) all() TaintSet {
	return a.taints.Union(GatherAllTaints(a.shape))
}

// javaGetterSetter handles Java accessors without a definition: obj.getProp() reads obj.prop,
// obj.setProp(v) writes it. The property cache keeps the accessor resolution stable across
// the fixpoint passes.
func (c *checker) javaGetterSetter(env *LvalEnv, i *il.Instr, objLval *il.Lval, argRes []argEval) (bool, TaintSet, *LvalEnv) {
	name := i.CalleeName()
	suffix, isGet, ok := accessorProp(name)
	if !ok {
		return false, TaintSet{}, env
	}
	prop := c.st.javaProps.Resolve(objLval.String(), suffix, c.st.pb.FindAttributeInClass)
	propLval := &il.Lval{
		Base:   objLval.Base,
		Offset: append(append([]il.Offset{}, objLval.Offset...), il.Dot(prop)),
		R:      objLval.R,
	}
	if isGet && len(i.Args) == 0 {
		cell := env.FindLval(propLval)
		if cell == nil {
			return true, c.fixPolyTaintWithField(gatherObjTaints(env, objLval), il.Dot(prop)), env
		}
		return true, GatherCellTaints(cell), env
	}
	if !isGet && len(argRes) == 1 {
		val := argRes[0].all()
		if !val.IsEmpty() {
			env = env.Add(propLval, val.WithToken(c.tok()))
		} else {
			env = env.Clean(propLval)
		}
		return true, TaintSet{}, env
	}
	return false, TaintSet{}, env
}

func gatherObjTaints(env *LvalEnv, objLval *il.Lval) TaintSet {
	cell := env.FindLval(objLval)
	if cell == nil {
		return TaintSet{}
	}
	return cell.X.Taints
}
