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

// FinalizeRanges assigns synthetic ranges to every node, instruction, expression and l-value
// prefix of the graph, and a token location to every node. Frontends that carry real positions
// can skip this; programs assembled by hand or decoded from the serialized form rely on it.
//
// The assignment guarantees the properties pattern matching depends on: parents strictly
// contain their children and siblings are disjoint. Two pairs share one range because each is
// syntactically one element: a fetch and its l-value, and an instruction node and its
// instruction. Every other element has a distinct range.
func FinalizeRanges(c *CFG) {
	pos := 1
	for _, n := range c.nodes {
		start := pos
		pos++
		switch n.Kind {
		case NInstr:
			assignInstr(n.Instr, &pos)
		case NCond, NReturn, NThrow:
			assignExpr(n.Expr, &pos)
		case NLambda:
			for _, p := range n.Params {
				assignLval(p, &pos)
			}
		}
		pos++
		n.R = Range{Start: start, End: pos}
		n.Tok = Loc{File: c.FuncName, Line: int(n.id) + 1, Col: 1}
		if n.Kind == NInstr {
			// an instruction node is syntactically its instruction
			n.R = n.Instr.R
		}
	}
}

func assignInstr(i *Instr, pos *int) {
	if i == nil {
		return
	}
	start := *pos
	*pos++
	if i.Lval != nil {
		assignLval(i.Lval, pos)
	}
	if i.Rhs != nil {
		assignExpr(i.Rhs, pos)
	}
	if i.Callee != nil {
		assignExpr(i.Callee, pos)
	}
	for _, a := range i.Args {
		assignExpr(a.E, pos)
	}
	*pos++
	i.R = Range{Start: start, End: *pos}
}

func assignExpr(e *Expr, pos *int) {
	if e == nil {
		return
	}
	start := *pos
	*pos++
	switch e.Kind {
	case EFetch:
		assignLval(e.Lval, pos)
	case EOp, ETuple, ECast:
		for _, a := range e.Args {
			assignExpr(a, pos)
		}
	case ERecord:
		for _, f := range e.Fields {
			assignExpr(f.E, pos)
		}
	}
	*pos++
	e.R = Range{Start: start, End: *pos}
	if e.Kind == EFetch {
		// a fetch is syntactically its l-value; keeping the ranges equal lets exact
		// specs treat the two query granularities as one position
		e.R = e.Lval.R
	}
}

func assignLval(lv *Lval, pos *int) {
	if lv == nil {
		return
	}
	start := *pos
	*pos++
	lv.Base.R = Range{Start: start, End: *pos}
	for k := range lv.Offset {
		o := &lv.Offset[k]
		if o.Expr != nil {
			assignExpr(o.Expr, pos)
		}
		*pos++
		o.R = Range{Start: start, End: *pos}
	}
	end := *pos
	lv.R = Range{Start: start, End: end}
}
