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
)

// BestMatches canonicalizes overlapping pattern matches: among the matches of one spec at
// nested positions, only the maximal ranges are "best". Specs that demand exactness consult
// this set so that a finding is not duplicated at both an outer and an inner expression.
// The structure is precomputed once per CFG and read-only afterwards.
type BestMatches struct {
	perSpec map[string][]il.Range
}

// ComputeBestMatches queries the oracle at every position of the graph and keeps, for each
// spec, the maximal match ranges.
func ComputeBestMatches(flow *il.CFG, oracle Oracle) *BestMatches {
	collected := map[string]map[il.Range]bool{}
	record := func(specID string, r il.Range) {
		m, in := collected[specID]
		if !in {
			m = map[il.Range]bool{}
			collected[specID] = m
		}
		m[r] = true
	}
	VisitAnys(flow, func(any il.Any) {
		for _, m := range oracle.Sources(any) {
			record(m.Spec.ID, m.PM.R)
		}
		for _, m := range oracle.Sinks(any) {
			record(m.Spec.ID, m.PM.R)
		}
		for _, m := range oracle.Sanitizers(any) {
			record(m.Spec.ID, m.PM.R)
		}
	})
	best := &BestMatches{perSpec: map[string][]il.Range{}}
	for specID, ranges := range collected {
		for r := range ranges {
			maximal := true
			for r2 := range ranges {
				if r2.StrictlyContains(r) {
					maximal = false
					break
				}
			}
			if maximal {
				best.perSpec[specID] = append(best.perSpec[specID], r)
			}
		}
	}
	return best
}

// IsBest returns true when r is one of the maximal ranges recorded for the spec.
func (b *BestMatches) IsBest(specID string, r il.Range) bool {
	for _, r2 := range b.perSpec[specID] {
		if r2 == r {
			return true
		}
	}
	return false
}

// VisitAnys enumerates every position of the graph the oracles can be queried with: whole
// instructions, expressions, and every l-value prefix.
func VisitAnys(flow *il.CFG, f func(il.Any)) {
	for _, n := range flow.Nodes() {
		switch n.Kind {
		case il.NInstr:
			i := n.Instr
			f(il.InstrAny(i))
			if i.Lval != nil {
				visitLvalAnys(i.Lval, f)
			}
			if i.Rhs != nil {
				visitExprAnys(i.Rhs, f)
			}
			if i.Callee != nil {
				visitExprAnys(i.Callee, f)
			}
			for _, a := range i.Args {
				visitExprAnys(a.E, f)
			}
		case il.NCond, il.NReturn, il.NThrow:
			if n.Expr != nil {
				visitExprAnys(n.Expr, f)
			}
		case il.NLambda:
			for _, p := range n.Params {
				visitLvalAnys(p, f)
			}
		}
	}
}

func visitExprAnys(e *il.Expr, f func(il.Any)) {
	if e == nil {
		return
	}
	if e.Kind == il.EFetch {
		visitLvalAnys(e.Lval, f)
		return
	}
	f(il.ExprAny(e))
	for _, a := range e.Args {
		visitExprAnys(a, f)
	}
	for _, fl := range e.Fields {
		visitExprAnys(fl.E, f)
	}
}

func visitLvalAnys(lv *il.Lval, f func(il.Any)) {
	for k := 0; k <= len(lv.Offset); k++ {
		f(il.LvalAny(lv.Prefix(k)))
	}
	for _, o := range lv.Offset {
		if o.Expr != nil {
			visitExprAnys(o.Expr, f)
		}
	}
}
