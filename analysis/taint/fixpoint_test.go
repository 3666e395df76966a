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

package taint_test

import (
	"context"
	"testing"

	"github.com/seqsec/iltaint/analysis/config"
	"github.com/seqsec/iltaint/analysis/il"
	"github.com/seqsec/iltaint/analysis/rules"
	"github.com/seqsec/iltaint/analysis/taint"
)

// runProblem compiles the rule spec, runs the fixpoint on the flow and returns all emitted
// results. configure may adjust the problem (hooks) before the run.
func runProblem(t *testing.T, ps *config.TaintProblemSpec, flow *il.CFG, opts config.Options,
	inEnv *taint.LvalEnv, configure func(*taint.Problem)) []taint.Result {
	t.Helper()
	if ps.RuleID == "" {
		ps.RuleID = "test-rule"
	}
	rs, err := rules.Compile(ps)
	if err != nil {
		t.Fatalf("failed to compile rules: %v", err)
	}
	oracle := rules.NewOracle(rs, flow)
	var results []taint.Result
	pb := &taint.Problem{
		RuleID:       ps.RuleID,
		TrackControl: ps.TrackControl,
		UnifyMvars:   ps.UnifyMvars,
		Oracle:       oracle,
		HandleResults: func(_ string, rs []taint.Result, _ *taint.LvalEnv) {
			results = append(results, rs...)
		},
	}
	if configure != nil {
		configure(pb)
	}
	taint.Fixpoint(context.Background(), ps.Lang, opts, pb, nil, flow, inEnv, "")
	return results
}

func sinkResults(results []taint.Result) []taint.Result {
	var out []taint.Result
	for _, r := range results {
		if r.Kind == taint.ToSink {
			out = append(out, r)
		}
	}
	return out
}

func returnResults(results []taint.Result) []taint.Result {
	var out []taint.Result
	for _, r := range results {
		if r.Kind == taint.ToReturn {
			out = append(out, r)
		}
	}
	return out
}

// call builds ret := callee(args...) with fresh l-values; args are variable names.
func call(ret string, callee string, args ...string) *il.Instr {
	var retLv *il.Lval
	if ret != "" {
		retLv = il.NewVarLval(ret)
	}
	exprs := make([]*il.Expr, len(args))
	for i, a := range args {
		exprs[i] = il.Fetch(il.NewVarLval(a))
	}
	return il.NewCall(retLv, il.Fetch(il.NewVarLval(callee)), exprs...)
}

func basicSpec() *config.TaintProblemSpec {
	return &config.TaintProblemSpec{
		Sources: []config.SourcePattern{{Pattern: "source"}},
		Sinks:   []config.SinkPattern{{Pattern: "sink"}},
	}
}

// x = source(); sink(x) yields exactly one finding carrying the source taint.
func TestBasicFlow(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("x", "source"))
	n2 := flow.NewInstrNode(call("", "sink", "x"))
	flow.Seq(flow.Enter(), n1, n2, flow.Exit())
	il.FinalizeRanges(flow)

	results := sinkResults(runProblem(t, basicSpec(), flow, config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result, got %d", len(results))
	}
	if len(results[0].Taints) != 1 {
		t.Fatalf("expected 1 taint at the sink, got %d", len(results[0].Taints))
	}
	if results[0].Taints[0].PM.Text != "source" {
		t.Errorf("taint does not trace back to the source: %v", results[0].Taints[0])
	}
}

// x = source(); x = clean(x); sink(x): the sanitizing call kills the flow.
func TestSanitizationKillsFlow(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("x", "source"))
	n2 := flow.NewInstrNode(call("x", "clean", "x"))
	n3 := flow.NewInstrNode(call("", "sink", "x"))
	flow.Seq(flow.Enter(), n1, n2, n3, flow.Exit())
	il.FinalizeRanges(flow)

	spec := basicSpec()
	spec.Sanitizers = []config.SanitizerPattern{{Pattern: "clean", BySideEffect: true}}
	results := sinkResults(runProblem(t, spec, flow, config.Options{}, nil, nil))
	if len(results) != 0 {
		t.Fatalf("expected no sink results after sanitization, got %d", len(results))
	}
}

// The try/except shape: data = taint(); the sanitizing call may raise, but the raising path
// never reaches the sink, so on every surviving path data is clean.
func TestTryExceptSanitization(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("data", "source"))
	n2 := flow.NewInstrNode(call("data", "clean", "data"))
	reraise := flow.NewThrowNode(il.Fetch(il.NewVarLval("err")))
	n3 := flow.NewInstrNode(call("", "sink", "data"))
	flow.Seq(flow.Enter(), n1, n2, n3, flow.Exit())
	// the exceptional path leaves n1's state and re-raises
	flow.AddEdge(n1, reraise)
	flow.AddEdge(reraise, flow.Exit())
	il.FinalizeRanges(flow)

	spec := basicSpec()
	spec.Sanitizers = []config.SanitizerPattern{{Pattern: "clean", BySideEffect: true}}
	results := sinkResults(runProblem(t, spec, flow, config.Options{}, nil, nil))
	if len(results) != 0 {
		t.Fatalf("expected no sink results, got %d", len(results))
	}
}

// y = source(); x.foo(y); sink(x): the propagator wires y's taint onto x by side effect.
func TestPropagatorChain(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("y", "source"))
	n2 := flow.NewInstrNode(il.NewCall(nil,
		il.Fetch(il.NewVarLval("x", il.FunOff("foo"))),
		il.Fetch(il.NewVarLval("y"))))
	n3 := flow.NewInstrNode(call("", "sink", "x"))
	flow.Seq(flow.Enter(), n1, n2, n3, flow.Exit())
	il.FinalizeRanges(flow)

	spec := basicSpec()
	spec.Propagators = []config.PropagatorPattern{{Pattern: "foo", From: "arg0", To: "obj"}}
	results := sinkResults(runProblem(t, spec, flow, config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result via the propagator, got %d", len(results))
	}
	if results[0].Taints[0].PM.Text != "source" {
		t.Errorf("propagated taint does not trace back to the source")
	}
}

// obj.x = source(); foo(obj) where foo's signature sends Arg(0).x to a sink.
func TestSignatureFieldTaint(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(il.NewCall(il.NewVarLval("obj", il.Dot("x")),
		il.Fetch(il.NewVarLval("source"))))
	n2 := flow.NewInstrNode(call("", "foo", "obj"))
	flow.Seq(flow.Enter(), n1, n2, flow.Exit())
	il.FinalizeRanges(flow)

	sigSink := &taint.SinkMatch{
		PM:   taint.NewPatternMatch(il.Range{Start: 9001, End: 9002}, il.Loc{}, "sink-in-foo", nil),
		Spec: &taint.SinkSpec{ID: "sig/sink"},
	}
	spec := basicSpec()
	results := runProblem(t, spec, flow, config.Options{}, nil, func(pb *taint.Problem) {
		pb.FunctionTaintSignature = func(_ *taint.Problem, callee *il.Expr) ([]string, []taint.Result, bool) {
			if callee.Kind == il.EFetch && callee.Lval.Base.Name == "foo" {
				sig := []taint.Result{{
					Kind:   taint.ToSink,
					Taints: []taint.Taint{taint.NewVarTaint(taint.ArgLval(0, il.Dot("x")))},
					Sink:   sigSink,
				}}
				return []string{"a"}, sig, true
			}
			return nil, nil, false
		}
	})
	sinks := sinkResults(results)
	if len(sinks) != 1 {
		t.Fatalf("expected 1 sink result from signature instantiation, got %d", len(sinks))
	}
	if sinks[0].Sink != sigSink {
		t.Errorf("finding does not reference the signature sink")
	}
	if sinks[0].Taints[0].Kind != taint.OrigSrc {
		t.Errorf("instantiated taint should be concrete, got %v", sinks[0].Taints[0])
	}
}

// a = source_A(); sink(a) where the sink requires A and B: the precondition is unsatisfied.
func TestLabelRequires(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("a", "source_A"))
	n2 := flow.NewInstrNode(call("", "sink", "a"))
	flow.Seq(flow.Enter(), n1, n2, flow.Exit())
	il.FinalizeRanges(flow)

	spec := &config.TaintProblemSpec{
		Sources: []config.SourcePattern{{Pattern: "source_A", Label: "A"}},
		Sinks:   []config.SinkPattern{{Pattern: "sink", Requires: "A and B"}},
	}
	results := sinkResults(runProblem(t, spec, flow, config.Options{}, nil, nil))
	if len(results) != 0 {
		t.Fatalf("expected no sink results with unsatisfied requires, got %d", len(results))
	}
}

// The same flow with a satisfied requires formula reports.
func TestLabelRequiresSatisfied(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("a", "source_A"))
	n2 := flow.NewInstrNode(call("", "sink", "a"))
	flow.Seq(flow.Enter(), n1, n2, flow.Exit())
	il.FinalizeRanges(flow)

	spec := &config.TaintProblemSpec{
		Sources: []config.SourcePattern{{Pattern: "source_A", Label: "A"}},
		Sinks:   []config.SinkPattern{{Pattern: "sink", Requires: "A or B"}},
	}
	results := sinkResults(runProblem(t, spec, flow, config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result, got %d", len(results))
	}
}

// With track-control, a sink guarded by a tainted condition reports even when its arguments
// are clean.
func TestControlTaintReachesSink(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("x", "source"))
	cond := flow.NewCondNode(il.Fetch(il.NewVarLval("x")))
	n2 := flow.NewInstrNode(il.NewCall(nil, il.Fetch(il.NewVarLval("sink")), il.Lit("ok")))
	flow.Seq(flow.Enter(), n1, cond, n2, flow.Exit())
	il.FinalizeRanges(flow)

	spec := basicSpec()
	spec.TrackControl = true
	results := sinkResults(runProblem(t, spec, flow, config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result through control taint, got %d", len(results))
	}
}

// A sink consuming a composite value sees the taints reachable inside its shape:
// y = ("ok", x) with x tainted flags sink(y).
func TestShapeGatherAtSink(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("x", "source"))
	n2 := flow.NewInstrNode(il.NewAssign(il.NewVarLval("y"),
		il.TupleExpr(il.Lit("ok"), il.Fetch(il.NewVarLval("x")))))
	n3 := flow.NewInstrNode(call("", "sink", "y"))
	flow.Seq(flow.Enter(), n1, n2, n3, flow.Exit())
	il.FinalizeRanges(flow)

	results := sinkResults(runProblem(t, basicSpec(), flow, config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result via shape gathering, got %d", len(results))
	}
}

// Reading a tracked field is precise: sink(y[0]) is clean when only y[1] is tainted.
func TestShapeFieldPrecision(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("x", "source"))
	n2 := flow.NewInstrNode(il.NewAssign(il.NewVarLval("y"),
		il.TupleExpr(il.Lit("ok"), il.Fetch(il.NewVarLval("x")))))
	n3 := flow.NewInstrNode(il.NewCall(nil, il.Fetch(il.NewVarLval("sink")),
		il.Fetch(il.NewVarLval("y", il.IntIndex(0)))))
	flow.Seq(flow.Enter(), n1, n2, n3, flow.Exit())
	il.FinalizeRanges(flow)

	results := sinkResults(runProblem(t, basicSpec(), flow, config.Options{}, nil, nil))
	if len(results) != 0 {
		t.Fatalf("expected no sink results for the clean tuple field, got %d", len(results))
	}
}

// Taints joined from both branches survive the merge (MAY analysis).
func TestBranchJoin(t *testing.T) {
	flow := il.NewCFG("f")
	cond := flow.NewCondNode(il.Fetch(il.NewVarLval("c")))
	n1 := flow.NewInstrNode(call("x", "source"))
	n2 := flow.NewInstrNode(il.NewAssign(il.NewVarLval("x"), il.Lit("ok")))
	join := flow.NewJoinNode()
	n3 := flow.NewInstrNode(call("", "sink", "x"))
	flow.AddEdge(flow.Enter(), cond)
	flow.AddEdge(cond, n1)
	flow.AddEdge(cond, n2)
	flow.AddEdge(n1, join)
	flow.AddEdge(n2, join)
	flow.Seq(join, n3, flow.Exit())
	il.FinalizeRanges(flow)

	results := sinkResults(runProblem(t, basicSpec(), flow, config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result after the join, got %d", len(results))
	}
}

// A loop whose body re-wraps the tainted value converges and still reports.
func TestLoopConverges(t *testing.T) {
	flow := il.NewCFG("f")
	n0 := flow.NewInstrNode(call("x", "source"))
	cond := flow.NewCondNode(il.Fetch(il.NewVarLval("c")))
	body := flow.NewInstrNode(call("x", "wrap", "x"))
	n2 := flow.NewInstrNode(call("", "sink", "x"))
	flow.Seq(flow.Enter(), n0, cond)
	flow.AddEdge(cond, body)
	flow.AddEdge(body, cond)
	flow.AddEdge(cond, n2)
	flow.AddEdge(n2, flow.Exit())
	il.FinalizeRanges(flow)

	results := sinkResults(runProblem(t, basicSpec(), flow, config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result, got %d", len(results))
	}
}

// An unknown callee relays argument taints unless the options say otherwise.
func TestAssumeSafeFunctions(t *testing.T) {
	build := func() *il.CFG {
		flow := il.NewCFG("f")
		n1 := flow.NewInstrNode(call("x", "source"))
		n2 := flow.NewInstrNode(call("y", "unknown", "x"))
		n3 := flow.NewInstrNode(call("", "sink", "y"))
		flow.Seq(flow.Enter(), n1, n2, n3, flow.Exit())
		il.FinalizeRanges(flow)
		return flow
	}
	results := sinkResults(runProblem(t, basicSpec(), build(), config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result through the unknown call, got %d", len(results))
	}
	results = sinkResults(runProblem(t, basicSpec(), build(),
		config.Options{TaintAssumeSafeFunctions: true}, nil, nil))
	if len(results) != 0 {
		t.Fatalf("expected no sink results with taint-assume-safe-functions, got %d", len(results))
	}
}

// Comparison operators yield no taint under taint-assume-safe-comparisons.
func TestAssumeSafeComparisons(t *testing.T) {
	build := func() *il.CFG {
		flow := il.NewCFG("f")
		n1 := flow.NewInstrNode(call("x", "source"))
		n2 := flow.NewInstrNode(il.NewAssign(il.NewVarLval("y"),
			il.OpExpr("==", il.Fetch(il.NewVarLval("x")), il.Lit("a"))))
		n3 := flow.NewInstrNode(call("", "sink", "y"))
		flow.Seq(flow.Enter(), n1, n2, n3, flow.Exit())
		il.FinalizeRanges(flow)
		return flow
	}
	results := sinkResults(runProblem(t, basicSpec(), build(), config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result without the option, got %d", len(results))
	}
	results = sinkResults(runProblem(t, basicSpec(), build(),
		config.Options{TaintAssumeSafeComparisons: true}, nil, nil))
	if len(results) != 0 {
		t.Fatalf("expected no sink results with taint-assume-safe-comparisons, got %d", len(results))
	}
}

// Polymorphic field taints stop growing at the offset bound.
func TestPolyOffsetBound(t *testing.T) {
	flow := il.NewCFG("f", "p")
	n1 := flow.NewInstrNode(il.NewAssign(il.NewVarLval("a"),
		il.Fetch(il.NewVarLval("p", il.Dot("f1")))))
	n2 := flow.NewInstrNode(il.NewAssign(il.NewVarLval("b"),
		il.Fetch(il.NewVarLval("a", il.Dot("f2")))))
	n3 := flow.NewInstrNode(il.NewAssign(il.NewVarLval("c"),
		il.Fetch(il.NewVarLval("b", il.Dot("f3")))))
	n4 := flow.NewInstrNode(il.NewAssign(il.NewVarLval("d"),
		il.Fetch(il.NewVarLval("c", il.Dot("f4")))))
	ret := flow.NewReturnNode(il.Fetch(il.NewVarLval("d")))
	flow.Seq(flow.Enter(), n1, n2, n3, n4, ret, flow.Exit())
	il.FinalizeRanges(flow)

	inEnv := taint.NewLvalEnv().Add(il.NewVarLval("p"),
		taint.Singleton(taint.NewVarTaint(taint.ArgLval(0))))
	spec := basicSpec()
	spec.Lang = config.LangPython
	results := runProblem(t, spec, flow, config.Options{}, inEnv, nil)
	for _, r := range results {
		for _, tt := range r.Taints {
			if tt.Kind == taint.OrigVar && len(tt.Lval.Offset) > 3 {
				t.Errorf("polymorphic taint exceeds the offset bound: %v", tt)
			}
		}
	}
	// d is four offsets deep; the bounded inheritance stopped before it
	if len(returnResults(results)) != 0 {
		t.Errorf("expected no return summary beyond the polymorphism bound")
	}
}

// A function writing a source into a field of its parameter yields a side-effect summary.
func TestSideEffectSummary(t *testing.T) {
	flow := il.NewCFG("f", "p")
	n1 := flow.NewInstrNode(il.NewCall(il.NewVarLval("p", il.Dot("q")),
		il.Fetch(il.NewVarLval("source"))))
	flow.Seq(flow.Enter(), n1, flow.Exit())
	il.FinalizeRanges(flow)

	inEnv := taint.NewLvalEnv().Add(il.NewVarLval("p"),
		taint.Singleton(taint.NewVarTaint(taint.ArgLval(0))))
	results := runProblem(t, basicSpec(), flow, config.Options{}, inEnv, nil)
	var lvals []taint.Result
	for _, r := range results {
		if r.Kind == taint.ToLval {
			lvals = append(lvals, r)
		}
	}
	if len(lvals) != 1 {
		t.Fatalf("expected 1 side-effect summary entry, got %d", len(lvals))
	}
	if lvals[0].Lval.String() != "arg0" {
		t.Errorf("summary should be rooted at arg0, got %s", lvals[0].Lval.String())
	}
	if len(lvals[0].Taints) != 1 || lvals[0].Taints[0].Kind != taint.OrigSrc {
		t.Errorf("summary should carry the concrete source taint")
	}
}

// Returning a tainted value yields a return summary.
func TestReturnSummary(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("x", "source"))
	ret := flow.NewReturnNode(il.Fetch(il.NewVarLval("x")))
	flow.Seq(flow.Enter(), n1, ret, flow.Exit())
	il.FinalizeRanges(flow)

	results := returnResults(runProblem(t, basicSpec(), flow, config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 return summary, got %d", len(results))
	}
}

// Under unify-mvars, source and sink must agree on shared metavariables.
func TestUnifyMvars(t *testing.T) {
	build := func(sinkName string) *il.CFG {
		flow := il.NewCFG("f")
		n1 := flow.NewInstrNode(call("a", "source_foo"))
		n2 := flow.NewInstrNode(call("", sinkName, "a"))
		flow.Seq(flow.Enter(), n1, n2, flow.Exit())
		il.FinalizeRanges(flow)
		return flow
	}
	spec := func() *config.TaintProblemSpec {
		return &config.TaintProblemSpec{
			UnifyMvars: true,
			Sources:    []config.SourcePattern{{Pattern: `source_(?P<X>\w+)`}},
			Sinks:      []config.SinkPattern{{Pattern: `sink_(?P<X>\w+)`}},
		}
	}
	results := sinkResults(runProblem(t, spec(), build("sink_foo"), config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result when metavariables unify, got %d", len(results))
	}
	results = sinkResults(runProblem(t, spec(), build("sink_bar"), config.Options{}, nil, nil))
	if len(results) != 0 {
		t.Fatalf("expected no sink results when unification fails, got %d", len(results))
	}
}

// At-exit sinks only fire at function exit points.
func TestAtExitSink(t *testing.T) {
	build := func(sinkLast bool) *il.CFG {
		flow := il.NewCFG("f")
		n1 := flow.NewInstrNode(call("x", "source"))
		n2 := flow.NewInstrNode(call("", "sink", "x"))
		if sinkLast {
			flow.Seq(flow.Enter(), n1, n2, flow.Exit())
		} else {
			n3 := flow.NewInstrNode(il.NewAssign(il.NewVarLval("y"), il.Lit("ok")))
			flow.Seq(flow.Enter(), n1, n2, n3, flow.Exit())
		}
		il.FinalizeRanges(flow)
		return flow
	}
	spec := func() *config.TaintProblemSpec {
		s := basicSpec()
		s.Sinks[0].AtExit = true
		return s
	}
	results := sinkResults(runProblem(t, spec(), build(true), config.Options{}, nil, nil))
	if len(results) != 1 {
		t.Fatalf("expected 1 sink result at the exit point, got %d", len(results))
	}
	results = sinkResults(runProblem(t, spec(), build(false), config.Options{}, nil, nil))
	if len(results) != 0 {
		t.Fatalf("expected no sink results away from the exit, got %d", len(results))
	}
}

// The fixpoint returns promptly when the timeout is already expired; the mapping is still a
// usable over-approximation.
func TestFixpointTimeout(t *testing.T) {
	flow := il.NewCFG("f")
	n0 := flow.NewInstrNode(call("x", "source"))
	cond := flow.NewCondNode(il.Fetch(il.NewVarLval("c")))
	body := flow.NewInstrNode(call("x", "wrap", "x"))
	flow.Seq(flow.Enter(), n0, cond)
	flow.AddEdge(cond, body)
	flow.AddEdge(body, cond)
	flow.AddEdge(cond, flow.Exit())
	il.FinalizeRanges(flow)

	opts := config.Options{FixpointTimeoutSeconds: 1e-9}
	runProblem(t, basicSpec(), flow, opts, nil, nil)
}

// Cancelling the context stops the loop between iterations.
func TestFixpointCancellation(t *testing.T) {
	flow := il.NewCFG("f")
	n1 := flow.NewInstrNode(call("x", "source"))
	flow.Seq(flow.Enter(), n1, flow.Exit())
	il.FinalizeRanges(flow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rs, err := rules.Compile(basicSpec())
	if err != nil {
		t.Fatal(err)
	}
	pb := &taint.Problem{Oracle: rules.NewOracle(rs, flow)}
	mapping := taint.Fixpoint(ctx, config.LangGeneric, config.Options{}, pb, nil, flow, nil, "")
	if mapping == nil {
		t.Fatal("cancelled fixpoint should still return its mapping")
	}
}
