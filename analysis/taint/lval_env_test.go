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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/seqsec/iltaint/analysis/il"
)

func TestEnvAddFindClean(t *testing.T) {
	a := testSourceTaint("a", "")
	env := NewLvalEnv()
	lv := il.NewVarLval("x", il.Dot("f"), il.Dot("g"))

	env = env.Add(lv, NewTaintSet(a))
	cell := env.FindLval(lv)
	if cell == nil || !cell.X.Taints.Has(a) {
		t.Fatalf("expected the added taint at %s, got %v", lv, cell)
	}
	// intermediate cells exist but carry no taint
	mid := env.FindLval(il.NewVarLval("x", il.Dot("f")))
	if mid == nil || mid.X.Kind != XNone {
		t.Errorf("intermediate cell should exist untainted")
	}

	env = env.Clean(il.NewVarLval("x", il.Dot("f")))
	if c := env.FindLval(il.NewVarLval("x", il.Dot("f"))); c == nil || c.X.Kind != XClean {
		t.Errorf("clean should mark the cell")
	}
	if env.FindLval(lv) != nil {
		t.Errorf("clean should drop the subtree")
	}
}

func TestEnvUnionIsMay(t *testing.T) {
	a := testSourceTaint("a", "")
	x := il.NewVarLval("x")

	left := NewLvalEnv().Add(x, NewTaintSet(a))
	right := NewLvalEnv().Clean(x)
	u := UnionEnvs(left, right)
	cell := u.FindLval(x)
	if cell == nil || cell.X.Kind != XTainted {
		t.Errorf("Tainted v Clean should stay Tainted across branches")
	}
}

func TestEnvEqual(t *testing.T) {
	a := testSourceTaint("a", "")
	x := il.NewVarLval("x")
	e1 := NewLvalEnv().Add(x, NewTaintSet(a))
	e2 := NewLvalEnv().Add(x, NewTaintSet(a))
	if !EqualEnvs(e1, e2) {
		t.Errorf("structurally equal environments should compare equal")
	}
	e3 := e2.AddControlTaints(NewTaintSet(a))
	if EqualEnvs(e1, e3) {
		t.Errorf("control taints participate in equality")
	}
	// an empty root entry equals its absence
	e4 := NewLvalEnv()
	e5 := NewLvalEnv()
	e5.ensure(il.NewVarLval("y"))
	if !EqualEnvs(e4, e5) {
		t.Errorf("an untainted cell should equal a missing one")
	}
}

func TestEnvPropagationQueues(t *testing.T) {
	a := testSourceTaint("a", "")
	env := NewLvalEnv()
	x := il.NewVarLval("x")

	// a destination waits, then a deposit satisfies it
	env = env.PendingPropagation("p", x)
	env = env.PropagateTo("p", NewTaintSet(a))
	if c := env.FindLval(x); c == nil || !c.X.Taints.Has(a) {
		t.Errorf("a deposit should satisfy the waiting destination")
	}

	// a deposit is consumed exactly once
	env = NewLvalEnv().PropagateTo("q", NewTaintSet(a))
	got, env2, ok := env.PropagateFrom("q")
	if !ok || !got.Has(a) {
		t.Fatalf("expected the deposited taints")
	}
	if _, _, ok := env2.PropagateFrom("q"); ok {
		t.Errorf("propagated taints are consumed")
	}
}

func TestEnvCloneIsDeep(t *testing.T) {
	a := testSourceTaint("a", "")
	b := testSourceTaint("b", "")
	x := il.NewVarLval("x", il.Dot("f"))

	e1 := NewLvalEnv().Add(x, NewTaintSet(a))
	e2 := e1.Add(x, NewTaintSet(b))

	keys := func(e *LvalEnv) []string {
		var out []string
		for _, tt := range GatherCellTaints(e.FindLval(il.NewVarLval("x"))).Elems() {
			out = append(out, tt.String())
		}
		return out
	}
	if diff := cmp.Diff([]string{"src(a)"}, keys(e1)); diff != "" {
		t.Errorf("the original environment changed (-want +got):\n%s", diff)
	}
	if len(keys(e2)) != 2 {
		t.Errorf("the updated environment should hold both taints")
	}
}
