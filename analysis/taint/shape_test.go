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

	"github.com/seqsec/iltaint/analysis/il"
)

func TestTupleShapeAndGather(t *testing.T) {
	a := testSourceTaint("a", "")
	b := testSourceTaint("b", "")
	inner := TupleShape([]*Cell{NewCell(NewTaintSet(b), nil)})
	s := TupleShape([]*Cell{
		NewCell(TaintSet{}, nil),
		NewCell(NewTaintSet(a), inner),
	})

	all := GatherAllTaints(s)
	if all.Len() != 2 || !all.Has(a) || !all.Has(b) {
		t.Errorf("gather should reach every nested taint, got %s", all)
	}

	c := FindInShape(s, []il.Offset{il.IntIndex(1), il.IntIndex(0)})
	if c == nil || !c.X.Taints.Has(b) {
		t.Errorf("find should reach the nested cell")
	}
	if FindInShape(s, []il.Offset{il.IntIndex(2)}) != nil {
		t.Errorf("find must not invent cells")
	}
}

func TestEnumInCell(t *testing.T) {
	a := testSourceTaint("a", "")
	b := testSourceTaint("b", "")
	cell := NewCell(NewTaintSet(a), RecordShape([]string{"f"}, []*Cell{NewCell(NewTaintSet(b), nil)}))
	entries := EnumInCell(cell)
	if len(entries) != 2 {
		t.Fatalf("expected 2 tainted positions, got %d", len(entries))
	}
	if len(entries[0].Path) != 0 || !entries[0].Taints.Has(a) {
		t.Errorf("first entry should be the root")
	}
	if len(entries[1].Path) != 1 || entries[1].Path[0].Name != "f" {
		t.Errorf("second entry should be the field")
	}
}

func TestXtaintJoin(t *testing.T) {
	a := testSourceTaint("a", "")
	tainted := XtaintOf(NewTaintSet(a))
	clean := Xtaint{Kind: XClean}
	none := Xtaint{Kind: XNone}

	// Clean is not dominant across branches: this is a MAY analysis
	if got := clean.Join(tainted); got.Kind != XTainted {
		t.Errorf("Clean v Tainted should be Tainted, got %v", got.Kind)
	}
	if got := none.Join(clean); got.Kind != XClean {
		t.Errorf("None v Clean should be Clean, got %v", got.Kind)
	}
	if got := tainted.Join(tainted); got.Kind != XTainted || got.Taints.Len() != 1 {
		t.Errorf("Tainted v Tainted should union the sets")
	}
}

func TestRelevant(t *testing.T) {
	a := testSourceTaint("a", "")
	if Relevant(TaintSet{}, nil) {
		t.Errorf("nothing is not relevant")
	}
	if !Relevant(NewTaintSet(a), nil) {
		t.Errorf("taints are relevant")
	}
	s := TupleShape([]*Cell{NewCell(NewTaintSet(a), nil)})
	if !Relevant(TaintSet{}, s) {
		t.Errorf("a tainted shape is relevant")
	}
}

func TestJoinCellsStructural(t *testing.T) {
	a := testSourceTaint("a", "")
	b := testSourceTaint("b", "")
	left := NewCell(TaintSet{}, RecordShape([]string{"x"}, []*Cell{NewCell(NewTaintSet(a), nil)}))
	right := NewCell(TaintSet{}, RecordShape([]string{"y"}, []*Cell{NewCell(NewTaintSet(b), nil)}))
	joined := joinCells(left, right)
	if FindInShape(joined.S, []il.Offset{il.Dot("x")}) == nil ||
		FindInShape(joined.S, []il.Offset{il.Dot("y")}) == nil {
		t.Errorf("structural offsets should union")
	}
	if !equalCells(joined, joinCells(right, left)) {
		t.Errorf("join should be commutative")
	}
}
