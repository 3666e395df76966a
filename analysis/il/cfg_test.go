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

package il

import (
	"testing"
)

func TestFinalizeRangesNesting(t *testing.T) {
	flow := NewCFG("f")
	arg := Fetch(NewVarLval("x", Dot("a"), Dot("b")))
	instr := NewCall(NewVarLval("y"), Fetch(NewVarLval("g")), arg)
	n := flow.NewInstrNode(instr)
	flow.Seq(flow.Enter(), n, flow.Exit())
	FinalizeRanges(flow)

	if !instr.R.StrictlyContains(arg.R) {
		t.Errorf("instruction range should strictly contain its argument")
	}
	lv := arg.Lval
	if arg.R != lv.R {
		t.Errorf("a fetch shares its l-value's range")
	}
	p0, p1 := lv.Prefix(0), lv.Prefix(1)
	if !lv.R.StrictlyContains(p1.R) || !p1.R.StrictlyContains(p0.R) {
		t.Errorf("prefix ranges should nest: %s %s %s", lv.R, p1.R, p0.R)
	}
	if n.R != instr.R {
		t.Errorf("an instruction node is syntactically its instruction")
	}
}

func TestCFGEdgesAndSelfLoop(t *testing.T) {
	flow := NewCFG("f")
	a := flow.NewOtherNode()
	b := flow.NewOtherNode()
	flow.AddEdge(flow.Enter(), a)
	flow.AddEdge(a, b)
	flow.AddEdge(b, b) // one-node loop
	flow.AddEdge(b, flow.Exit())

	succs := flow.Succs(b)
	if len(succs) != 2 {
		t.Fatalf("expected exit and the self edge, got %d successors", len(succs))
	}
	foundSelf := false
	for _, s := range succs {
		if s == b {
			foundSelf = true
		}
	}
	if !foundSelf {
		t.Errorf("the self edge is missing from the successors")
	}
	preds := flow.Preds(b)
	if len(preds) != 2 {
		t.Errorf("expected a and the self edge, got %d predecessors", len(preds))
	}
}

func TestLvalStringsAndIDs(t *testing.T) {
	lv := NewVarLval("x", Dot("a"), IntIndex(0), AnyIndex(nil))
	if got := lv.String(); got != "x.a[0][*]" {
		t.Errorf("bad l-value string: %q", got)
	}
	g := NewGlobalLval("G")
	if g.ID() == NewVarLval("G").ID() {
		t.Errorf("globals and locals of the same name must not collide")
	}
	if NewThisLval().ID() != "this" {
		t.Errorf("bad receiver id")
	}
}

func TestDecodeProgram(t *testing.T) {
	src := `{
	  "funcs": [{
	    "name": "main",
	    "nodes": [
	      {"kind": "instr", "instr": {"kind": "call", "lval": {"base": "x"},
	        "callee": {"var": "source"}}},
	      {"kind": "instr", "instr": {"kind": "call",
	        "callee": {"var": "sink"}, "args": [{"var": "x"}]}},
	      {"kind": "return", "expr": {"var": "x"}}
	    ],
	    "edges": [["enter","0"], ["0","1"], ["1","2"], ["2","exit"]]
	  }]
	}`
	flows, err := DecodeProgram([]byte(src))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(flows) != 1 {
		t.Fatalf("expected 1 function, got %d", len(flows))
	}
	flow := flows[0]
	if flow.FuncName != "main" {
		t.Errorf("bad function name %q", flow.FuncName)
	}
	nodes := flow.Nodes()
	// enter, exit and the three listed nodes
	if len(nodes) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(nodes))
	}
	if len(flow.Succs(flow.Enter())) != 1 {
		t.Errorf("enter should have one successor")
	}
	var ret *Node
	for _, n := range nodes {
		if n.Kind == NReturn {
			ret = n
		}
	}
	if ret == nil || ret.Expr == nil || ret.Expr.Kind != EFetch {
		t.Fatalf("missing return of x")
	}
	if ret.R.IsZero() {
		t.Errorf("decode should finalize ranges")
	}
}

func TestDecodeProgramErrors(t *testing.T) {
	if _, err := DecodeProgram([]byte(`{"funcs": [{"name":"f","nodes":[{"kind":"bogus"}]}]}`)); err == nil {
		t.Errorf("unknown node kinds should fail")
	}
	if _, err := DecodeProgram([]byte(`{"funcs": [{"name":"f","nodes":[],"edges":[["enter","7"]]}]}`)); err == nil {
		t.Errorf("dangling edges should fail")
	}
}
