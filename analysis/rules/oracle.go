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

package rules

import (
	"strconv"

	"github.com/seqsec/iltaint/analysis/il"
	"github.com/seqsec/iltaint/analysis/taint"
)

// An Oracle classifies the positions of one CFG against a rule set. All matches are
// precomputed when the oracle is built, so the engine's per-pass queries are map lookups.
type Oracle struct {
	sources     map[il.Range][]*taint.SourceMatch
	sinks       map[il.Range][]*taint.SinkMatch
	sanitizers  map[il.Range][]*taint.SanitizerMatch
	propagators map[il.Range][]*taint.PropagatorMatch
}

var _ taint.Oracle = (*Oracle)(nil)

// NewOracle scans the graph and precomputes the matches of the rule set at every position.
func NewOracle(rs *RuleSet, flow *il.CFG) *Oracle {
	o := &Oracle{
		sources:     map[il.Range][]*taint.SourceMatch{},
		sinks:       map[il.Range][]*taint.SinkMatch{},
		sanitizers:  map[il.Range][]*taint.SanitizerMatch{},
		propagators: map[il.Range][]*taint.PropagatorMatch{},
	}
	taint.VisitAnys(flow, func(any il.Any) {
		target, ok := matchTarget(any)
		if !ok {
			return
		}
		loc := locOf(any, flow)
		for _, r := range rs.sources {
			if r.re.MatchString(target) {
				pm := taint.NewPatternMatch(any.Range(), loc, target, bindingsOf(r.re, target))
				o.sources[any.Range()] = append(o.sources[any.Range()],
					&taint.SourceMatch{PM: pm, Spec: r.spec})
			}
		}
		for _, r := range rs.sinks {
			if r.re.MatchString(target) {
				pm := taint.NewPatternMatch(any.Range(), loc, target, bindingsOf(r.re, target))
				o.sinks[any.Range()] = append(o.sinks[any.Range()],
					&taint.SinkMatch{PM: pm, Spec: r.spec})
			}
		}
		for _, r := range rs.sanitizers {
			if r.re.MatchString(target) {
				pm := taint.NewPatternMatch(any.Range(), loc, target, bindingsOf(r.re, target))
				o.sanitizers[any.Range()] = append(o.sanitizers[any.Range()],
					&taint.SanitizerMatch{PM: pm, Spec: r.spec})
			}
		}
	})
	o.indexPropagators(rs, flow)
	return o
}

// indexPropagators registers the From and To ends of every call matching a propagator
// pattern, at the ranges of the selected sub-positions.
func (o *Oracle) indexPropagators(rs *RuleSet, flow *il.CFG) {
	for _, n := range flow.Nodes() {
		if n.Kind != il.NInstr || n.Instr.Kind != il.ICall {
			continue
		}
		i := n.Instr
		name := i.CalleeName()
		if name == "" {
			continue
		}
		for _, r := range rs.propagators {
			if !r.re.MatchString(name) {
				continue
			}
			// the From and To ends of one call occurrence pair through an
			// occurrence-specific variable; two calls to the same method must not
			// exchange taints through the rule
			occVar := r.fromSpec.Var + "@" + i.R.String()
			fromSpec := *r.fromSpec
			fromSpec.Var = occVar
			toSpec := *r.toSpec
			toSpec.Var = occVar
			if fromR, ok := selectorRange(i, r.from); ok {
				pm := taint.NewPatternMatch(fromR, n.Tok, name, nil)
				o.propagators[fromR] = append(o.propagators[fromR],
					&taint.PropagatorMatch{PM: pm, Spec: &fromSpec})
			}
			if toR, ok := selectorRange(i, r.to); ok {
				pm := taint.NewPatternMatch(toR, n.Tok, name, nil)
				o.propagators[toR] = append(o.propagators[toR],
					&taint.PropagatorMatch{PM: pm, Spec: &toSpec})
			}
		}
	}
}

// selectorRange resolves a propagator selector to the range the engine will query.
func selectorRange(i *il.Instr, sel string) (il.Range, bool) {
	switch {
	case sel == "obj":
		if i.Callee == nil || i.Callee.Kind != il.EFetch || len(i.Callee.Lval.Offset) == 0 {
			return il.Range{}, false
		}
		return i.Callee.Lval.Prefix(len(i.Callee.Lval.Offset) - 1).R, true
	case sel == "ret":
		return i.R, true
	default: // argN, validated at compile time
		pos, err := strconv.Atoi(sel[3:])
		if err != nil || pos < 0 || pos >= len(i.Args) {
			return il.Range{}, false
		}
		return i.Args[pos].E.R, true
	}
}

// matchTarget is the printed form a pattern is matched against.
func matchTarget(any il.Any) (string, bool) {
	switch any.Kind {
	case il.AnyInstr:
		i := any.Instr
		switch i.Kind {
		case il.ICall, il.INew:
			if name := i.CalleeName(); name != "" {
				return name, true
			}
			if i.Kind == il.INew && i.Ty != "" {
				return i.Ty, true
			}
			return "", false
		case il.ICallSpecial:
			return i.Special, true
		default:
			return "", false
		}
	case il.AnyLval:
		return any.Lval.String(), true
	case il.AnyExpr:
		if any.Expr.Kind == il.ELiteral {
			return any.Expr.Lit, true
		}
		return "", false
	default:
		return "", false
	}
}

func locOf(any il.Any, flow *il.CFG) il.Loc {
	return il.Loc{File: flow.FuncName, Line: any.Range().Start, Col: 1}
}

// Sources implements taint.Oracle.
func (o *Oracle) Sources(any il.Any) []*taint.SourceMatch {
	return o.sources[any.Range()]
}

// Sinks implements taint.Oracle.
func (o *Oracle) Sinks(any il.Any) []*taint.SinkMatch {
	return o.sinks[any.Range()]
}

// Sanitizers implements taint.Oracle.
func (o *Oracle) Sanitizers(any il.Any) []*taint.SanitizerMatch {
	return o.sanitizers[any.Range()]
}

// Propagators implements taint.Oracle.
func (o *Oracle) Propagators(any il.Any) []*taint.PropagatorMatch {
	return o.propagators[any.Range()]
}
