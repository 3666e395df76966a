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
	"context"
	"time"

	"github.com/seqsec/iltaint/analysis/config"
	"github.com/seqsec/iltaint/analysis/il"
	"github.com/seqsec/iltaint/internal/graphutil"
)

// maxPolyOffset bounds the offset path length of polymorphic taints. This value does not
// affect soundness, only the precision of field-sensitive summaries.
var maxPolyOffset = 3

// SetMaxPolyOffset sets the polymorphic offset bound. This should only be set once; changing
// it while an analysis is running may lead to unpredictable results.
func SetMaxPolyOffset(n int) {
	maxPolyOffset = n
}

// A SignatureFn resolves a callee expression to its formal parameter names and precomputed
// taint signature; ok is false when no signature is available.
type SignatureFn func(pb *Problem, callee *il.Expr) (fparams []string, sig []Result, ok bool)

// A FindAttributeFn maps a (scope, property) pair to the actual field name backing a Java
// accessor, when known. The scope passed by the engine is the printed receiver l-value of the
// accessor call (e.g. "obj"), not a class name.
type FindAttributeFn func(scope string, prop string) (string, bool)

// An AtExitSinksFn reports taints and sinks considered "at exit" at a node, e.g. end-of-scope
// resource sinks; ok is false when the hook has nothing to report.
type AtExitSinksFn func(pb *Problem, env *LvalEnv, n *il.Node) (TaintSet, []*SinkMatch, bool)

// A HandleResultsFn receives the results of the analysis as they are emitted. The environment
// provided for context is the output environment of the node whose transfer emitted the
// results, or the exit environment for results emitted after convergence; it must not be
// mutated.
type HandleResultsFn func(fnName string, results []Result, env *LvalEnv)

// A Problem is the per-rule configuration of one engine run. All hooks are carried explicitly
// here so the engine stays re-entrant.
type Problem struct {
	// Filepath is the analyzed file, for reporting
	Filepath string

	// RuleID identifies the rule, for reporting
	RuleID string

	// TrackControl enables taint tracking through control dependencies
	TrackControl bool

	// UnifyMvars requires metavariable bindings shared between source and sink to unify
	UnifyMvars bool

	// Oracle classifies program points; required
	Oracle Oracle

	// HandleResults receives emitted results; required for any output
	HandleResults HandleResultsFn

	// FunctionTaintSignature resolves callee signatures for interprocedural instantiation
	FunctionTaintSignature SignatureFn

	// FindAttributeInClass backs the Java accessor heuristic
	FindAttributeInClass FindAttributeFn

	// CheckTaintedAtExitSinks reports additional at-exit sinks per node
	CheckTaintedAtExitSinks AtExitSinksFn

	// Logger receives warnings about soft failures; nil silences them
	Logger *config.LogGroup
}

// NodeEnvs are the environments computed for one node: the join of its predecessors' outputs
// and its own output.
type NodeEnvs struct {
	In  *LvalEnv
	Out *LvalEnv
}

// A Mapping is the result of the fixpoint: the environments at every node. Nodes unreachable
// from the entry keep empty environments.
type Mapping map[*il.Node]*NodeEnvs

// engineState is the per-invocation state shared by the checker invocations of one fixpoint.
type engineState struct {
	lang      config.Language
	opts      config.Options
	pb        *Problem
	best      *BestMatches
	javaProps *JavaProps
	results   *resultSet
	fresh     []Result
	name      string
	flow      *il.CFG
	maxPoly   int
}

var silentLogger = func() *config.LogGroup {
	cfg := config.NewDefault()
	cfg.LogLevel = 0
	return config.NewLogGroup(cfg)
}()

func (st *engineState) logger() *config.LogGroup {
	if st.pb.Logger != nil {
		return st.pb.Logger
	}
	return silentLogger
}

func (st *engineState) emit(r Result) {
	if st.results.add(r) {
		st.fresh = append(st.fresh, r)
	}
}

// flush streams the freshly emitted results to the handler.
func (st *engineState) flush(env *LvalEnv) {
	if len(st.fresh) == 0 {
		return
	}
	if st.pb.HandleResults != nil {
		st.pb.HandleResults(st.name, st.fresh, env)
	}
	st.fresh = nil
}

// emitToSink filters and packages taints reaching a sink. Taints whose own precondition is
// refuted are dropped individually; the sink's requires formula either resolves now or is
// attached to the result for the caller to resolve once the polymorphism is gone.
func (st *engineState) emitToSink(ts TaintSet, sink *SinkMatch, env *LvalEnv) {
	if env != nil {
		// every sink evaluation sees the taints guarding control flow
		ts = ts.Union(env.ControlTaints())
	}
	if ts.IsEmpty() {
		return
	}
	var kept []Taint
	var bindings Bindings
	if st.pb.UnifyMvars {
		merged := mergeBindingsSinkBiased(nil, sink.PM.Bindings)
		for _, t := range ts.Elems() {
			if v := t.SolveOwnPrecondition(); v.IsSome() && !v.Value() {
				continue
			}
			if t.Kind == OrigSrc && t.PM != nil {
				u, ok := unifyBindings(merged, t.PM.Bindings)
				if !ok {
					// source and sink bindings do not unify: no finding for this pair
					continue
				}
				merged = u
			}
			kept = append(kept, t)
		}
		bindings = merged
	} else {
		var srcBindings []Bindings
		for _, t := range ts.Elems() {
			if v := t.SolveOwnPrecondition(); v.IsSome() && !v.Value() {
				continue
			}
			if t.Kind == OrigSrc && t.PM != nil {
				srcBindings = append(srcBindings, t.PM.Bindings)
			}
			kept = append(kept, t)
		}
		bindings = mergeBindingsSinkBiased(mergeSourceBindings(srcBindings), sink.PM.Bindings)
	}
	if len(kept) == 0 {
		return
	}
	var req *Requires
	switch v := SolvePrecondition(sink.Spec.Requires, kept); {
	case v.IsSome() && !v.Value():
		return
	case v.IsNone():
		req = sink.Spec.Requires
	}
	st.emit(Result{
		Kind:     ToSink,
		Taints:   finalizeTaints(kept),
		Sink:     sink,
		Requires: req,
		Bindings: bindings,
		Env:      env,
	})
}

// Fixpoint runs the forward monotone dataflow over the graph and returns the environments at
// every node. Results are streamed through pb.HandleResults as they are discovered: sink hits
// and return summaries during the passes, argument side-effect summaries after convergence.
//
// The loop iterates until every node's output is stable between successive passes, the
// timeout expires, or ctx is cancelled; cancellation is cooperative and checked between
// iterations. On timeout the last computed mapping is an accepted over-approximation.
func Fixpoint(ctx context.Context, lang config.Language, opts config.Options, pb *Problem,
	javaProps *JavaProps, flow *il.CFG, inEnv *LvalEnv, name string) Mapping {
	if name == "" {
		name = flow.FuncName
	}
	if javaProps == nil {
		javaProps = NewJavaProps()
	}
	if inEnv == nil {
		inEnv = NewLvalEnv()
	}
	maxPoly := opts.MaxPolyOffset
	if maxPoly <= 0 {
		maxPoly = maxPolyOffset
	}
	st := &engineState{
		lang:      lang,
		opts:      opts,
		pb:        pb,
		best:      ComputeBestMatches(flow, pb.Oracle),
		javaProps: javaProps,
		results:   newResultSet(),
		name:      name,
		flow:      flow,
		maxPoly:   maxPoly,
	}

	// dead blocks do not contribute to the fixpoint
	adj := graphutil.NewAdjGraph(flow.NumNodes())
	for _, n := range flow.Nodes() {
		for _, s := range flow.Succs(n) {
			adj.AddEdge(int(n.ID()), int(s.ID()))
		}
	}
	reach := graphutil.Reachable(adj, int(flow.Enter().ID()))

	mapping := Mapping{}
	for _, n := range flow.Nodes() {
		mapping[n] = &NodeEnvs{In: NewLvalEnv(), Out: NewLvalEnv()}
	}

	deadline := time.Now().Add(opts.FixpointTimeout())
	for {
		if ctx != nil && ctx.Err() != nil {
			st.logger().Debugf("taint fixpoint of %s cancelled", name)
			break
		}
		if time.Now().After(deadline) {
			st.logger().Warnf("taint fixpoint of %s timed out, accepting the last mapping", name)
			break
		}
		changed := false
		for _, n := range flow.Nodes() {
			if !reach[int(n.ID())] {
				continue
			}
			in := joinPreds(mapping, flow, n, inEnv)
			out := st.transfer(in, n)
			if !EqualEnvs(out, mapping[n].Out) {
				changed = true
			}
			mapping[n].In = in
			mapping[n].Out = out
			st.flush(out)
		}
		if !changed {
			break
		}
	}

	final := mapping[flow.Exit()].Out
	st.sideEffectSummaries(mapping, flow, inEnv)
	st.flush(final)
	return mapping
}

func joinPreds(mapping Mapping, flow *il.CFG, n *il.Node, inEnv *LvalEnv) *LvalEnv {
	if n.Kind == il.NEnter {
		return inEnv.Clone()
	}
	env := NewLvalEnv()
	for _, p := range flow.Preds(n) {
		env = UnionEnvs(env, mapping[p].Out)
	}
	return env
}

// transfer computes the output environment of one node.
func (st *engineState) transfer(in *LvalEnv, n *il.Node) *LvalEnv {
	c := &checker{st: st, node: n, atExit: st.isAtExit(n)}
	env := in
	switch n.Kind {
	case il.NInstr:
		env = c.transferInstr(env, n.Instr)
	case il.NCond, il.NThrow:
		var ts TaintSet
		var shape *Shape
		ts, shape, env = c.checkExpr(env, n.Expr)
		if st.pb.TrackControl {
			env = env.AddControlTaints(ts.Union(GatherAllTaints(shape)))
		}
	case il.NReturn:
		if n.Expr != nil {
			var ts TaintSet
			var shape *Shape
			ts, shape, env = c.checkExpr(env, n.Expr)
			if Relevant(ts, shape) {
				all := ts.Union(GatherAllTaints(shape))
				st.emit(Result{Kind: ToReturn, Taints: finalizeTaints(all.Elems()), RetTok: n.Tok})
			}
		}
	case il.NLambda:
		// parameters shadow stale taint from a prior loop iteration, then may themselves
		// be sources
		for _, p := range n.Params {
			env = env.Clean(p)
			var srcTs TaintSet
			srcTs, env = c.addSources(env, il.LvalAny(p), TaintSet{}, p)
			env = env.Add(p, srcTs)
		}
	default:
		// Enter, Exit, Join, Goto, Other: identity
	}
	if hook := st.pb.CheckTaintedAtExitSinks; hook != nil {
		if ts, sinks, ok := hook(st.pb, env, n); ok {
			for _, s := range sinks {
				st.emitToSink(ts.Union(env.ControlTaints()), s, env)
			}
		}
	}
	return env
}

func (st *engineState) isAtExit(n *il.Node) bool {
	if n.Kind == il.NReturn || n.Kind == il.NThrow {
		return true
	}
	for _, s := range st.flow.Succs(n) {
		if s.Kind == il.NExit {
			return true
		}
	}
	return false
}

// sideEffectSummaries compares the entry environment to the exit environment: a polymorphic
// input whose cell gained new taints by the time the function exits is a side effect the
// caller observes, reported as a ToLval summary entry.
func (st *engineState) sideEffectSummaries(mapping Mapping, flow *il.CFG, enterEnv *LvalEnv) {
	exitOut := mapping[flow.Exit()].Out
	for _, rc := range enterEnv.Tainted() {
		for _, pt := range EnumInCell(rc.Cell) {
			for _, t := range pt.Taints.Elems() {
				if t.Kind != OrigVar {
					continue
				}
				lv := &il.Lval{Base: rc.Base, Offset: pt.Path}
				exitCell := exitOut.FindLval(lv)
				if exitCell == nil {
					continue
				}
				had := GatherCellTaints(enterEnv.FindLval(lv))
				gained := GatherCellTaints(exitCell).Filter(func(et Taint) bool {
					return !had.Has(et)
				})
				if !gained.IsEmpty() {
					st.emit(Result{Kind: ToLval, Taints: finalizeTaints(gained.Elems()), Lval: t.Lval})
				}
			}
		}
	}
}
