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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/seqsec/iltaint/analysis/il"
	"github.com/seqsec/iltaint/internal/funcutil"
)

// DefaultLabel is the label of sources that do not declare one.
const DefaultLabel = "__default"

// OriginKind enumerates where a taint comes from.
type OriginKind int

const (
	// OrigSrc is taint traced back to a user-specified source pattern match
	OrigSrc OriginKind = iota
	// OrigVar is polymorphic taint standing for whatever the caller passes through an l-value;
	// it only appears in function summaries and their instantiations
	OrigVar
	// OrigControl is taint that flowed through a control dependency rather than data
	OrigControl
)

// SigBaseKind enumerates the bases a summary l-value can be rooted at.
type SigBaseKind int

const (
	// SigArgPos is a positional parameter
	SigArgPos SigBaseKind = iota
	// SigArgName is a named parameter
	SigArgName
	// SigThis is the method receiver
	SigThis
	// SigGlobal is a global variable
	SigGlobal
)

// A SigBase is the root of a summary l-value.
type SigBase struct {
	Kind SigBaseKind
	Pos  int
	Name string
}

func (b SigBase) String() string {
	switch b.Kind {
	case SigArgPos:
		return "arg" + strconv.Itoa(b.Pos)
	case SigArgName:
		return "arg:" + b.Name
	case SigThis:
		return "this"
	default:
		return "@" + b.Name
	}
}

// A SigLval is an l-value as it appears in a function summary: a polymorphic base plus offsets.
type SigLval struct {
	Base   SigBase
	Offset []il.Offset
}

// ArgLval returns a summary l-value rooted at positional parameter pos.
func ArgLval(pos int, offsets ...il.Offset) SigLval {
	return SigLval{Base: SigBase{Kind: SigArgPos, Pos: pos}, Offset: offsets}
}

// ThisLval returns a summary l-value rooted at the receiver.
func ThisLval(offsets ...il.Offset) SigLval {
	return SigLval{Base: SigBase{Kind: SigThis}, Offset: offsets}
}

// GlobalLval returns a summary l-value rooted at a global.
func GlobalLval(name string, offsets ...il.Offset) SigLval {
	return SigLval{Base: SigBase{Kind: SigGlobal, Name: name}, Offset: offsets}
}

func (sl SigLval) String() string {
	var sb strings.Builder
	sb.WriteString(sl.Base.String())
	for _, o := range sl.Offset {
		sb.WriteString(o.Key().String())
	}
	return sb.String()
}

// WithOffset returns the l-value extended by one offset.
func (sl SigLval) WithOffset(o il.Offset) SigLval {
	offs := make([]il.Offset, len(sl.Offset), len(sl.Offset)+1)
	copy(offs, sl.Offset)
	return SigLval{Base: sl.Base, Offset: append(offs, o)}
}

// HasStep returns true when one of the offsets denotes the same access step as o.
func (sl SigLval) HasStep(o il.Offset) bool {
	return funcutil.Exists(sl.Offset, func(p il.Offset) bool { return p.SameStep(o) })
}

// A CallFrame records one traversed call site in a taint's call trace.
type CallFrame struct {
	// Callee is the name of the called function
	Callee string

	// Tok is the location of the call site
	Tok il.Loc

	// Tokens is the intra-procedural token chain accumulated inside the callee
	Tokens []il.Loc
}

// A Precondition delays the decision whether a taint is real: the formula must hold of the
// labels of the recorded taints. It stays symbolic while those taints are polymorphic.
type Precondition struct {
	Taints []Taint
	Expr   *Requires
}

func (p *Precondition) key() string {
	if p == nil {
		return ""
	}
	keys := funcutil.Map(p.Taints, func(t Taint) string { return t.key() })
	sort.Strings(keys)
	return p.Expr.String() + "?" + strings.Join(keys, ",")
}

// A Taint is a single taint token: an origin plus the chain of program locations that carried
// it. Tokens are stored most recent first and reversed once, at result emission.
type Taint struct {
	Kind OriginKind

	// PM is the source pattern match for OrigSrc
	PM *PatternMatch

	// Spec is the source spec for OrigSrc
	Spec *SourceSpec

	// Label is the taint label for OrigSrc
	Label string

	// Precond is the pending precondition for OrigSrc, nil when unconditional
	Precond *Precondition

	// Trace is the interprocedural call trace for OrigSrc, most recently added frame first:
	// the call site nearest the current function leads and the deepest callee comes last
	Trace []CallFrame

	// Lval is the polymorphic l-value for OrigVar
	Lval SigLval

	// Tokens is the intra-procedural token chain, most recent first
	Tokens []il.Loc
}

// NewSourceTaint returns a taint with a source origin and no tokens.
func NewSourceTaint(pm *PatternMatch, spec *SourceSpec, precond *Precondition) Taint {
	label := spec.Label
	if label == "" {
		label = DefaultLabel
	}
	return Taint{Kind: OrigSrc, PM: pm, Spec: spec, Label: label, Precond: precond}
}

// NewVarTaint returns a polymorphic taint for the given summary l-value.
func NewVarTaint(lv SigLval) Taint {
	return Taint{Kind: OrigVar, Lval: lv}
}

// NewControlTaint returns the control-dependency taint.
func NewControlTaint() Taint {
	return Taint{Kind: OrigControl}
}

// key is the set identity of the taint. Tokens and call traces are deliberately excluded:
// identity must be stable while a taint loops through the fixpoint, otherwise the environment
// never converges.
func (t Taint) key() string {
	switch t.Kind {
	case OrigSrc:
		return fmt.Sprintf("src:%d:%s:%s", t.PM.ID(), t.Label, t.Precond.key())
	case OrigVar:
		return "var:" + t.Lval.String()
	default:
		return "ctl"
	}
}

func (t Taint) String() string {
	switch t.Kind {
	case OrigSrc:
		s := "src(" + t.PM.Text
		if t.Label != DefaultLabel {
			s += "#" + t.Label
		}
		if t.Precond != nil {
			s += " when " + t.Precond.Expr.String()
		}
		return s + ")"
	case OrigVar:
		return "var(" + t.Lval.String() + ")"
	default:
		return "control"
	}
}

// WithToken returns the taint with loc recorded as the most recent carrier location.
func (t Taint) WithToken(loc il.Loc) Taint {
	toks := make([]il.Loc, 0, len(t.Tokens)+1)
	toks = append(toks, loc)
	toks = append(toks, t.Tokens...)
	t.Tokens = toks
	return t
}

// WithCallFrame returns the taint with a call frame prepended to its trace and its token chain
// reset to the call site.
func (t Taint) WithCallFrame(callee string, tok il.Loc) Taint {
	frames := make([]CallFrame, 0, len(t.Trace)+1)
	frames = append(frames, CallFrame{Callee: callee, Tok: tok, Tokens: t.Tokens})
	frames = append(frames, t.Trace...)
	t.Trace = frames
	t.Tokens = []il.Loc{tok}
	return t
}

// A TaintSet is a set of taint tokens. The zero value is the empty set.
type TaintSet struct {
	m map[string]Taint
}

// NewTaintSet returns the set of the given taints.
func NewTaintSet(taints ...Taint) TaintSet {
	var s TaintSet
	for _, t := range taints {
		s.add(t)
	}
	return s
}

// Singleton returns the set containing only t.
func Singleton(t Taint) TaintSet {
	return NewTaintSet(t)
}

func (s *TaintSet) add(t Taint) bool {
	if s.m == nil {
		s.m = map[string]Taint{}
	}
	k := t.key()
	if _, in := s.m[k]; in {
		return false
	}
	s.m[k] = t
	return true
}

// IsEmpty returns true when the set holds no taint.
func (s TaintSet) IsEmpty() bool { return len(s.m) == 0 }

// Len returns the number of taints in the set.
func (s TaintSet) Len() int { return len(s.m) }

// Has returns true when the set holds a taint with the same identity as t.
func (s TaintSet) Has(t Taint) bool {
	_, in := s.m[t.key()]
	return in
}

// Union returns the union of the two sets; the receivers are not modified. When both sets hold
// a taint with the same identity, the receiver's element wins (identity excludes tokens, so the
// two differ at most in history).
func (s TaintSet) Union(other TaintSet) TaintSet {
	if other.IsEmpty() {
		return s
	}
	if s.IsEmpty() {
		return other
	}
	out := TaintSet{m: make(map[string]Taint, len(s.m)+len(other.m))}
	for k, t := range s.m {
		out.m[k] = t
	}
	for k, t := range other.m {
		if _, in := out.m[k]; !in {
			out.m[k] = t
		}
	}
	return out
}

// Intersect returns the set of taints present in both sets.
func (s TaintSet) Intersect(other TaintSet) TaintSet {
	var out TaintSet
	for k, t := range s.m {
		if _, in := other.m[k]; in {
			out.add(t)
		}
	}
	return out
}

// Equal returns true when both sets hold the same taint identities.
func (s TaintSet) Equal(other TaintSet) bool {
	if len(s.m) != len(other.m) {
		return false
	}
	for k := range s.m {
		if _, in := other.m[k]; !in {
			return false
		}
	}
	return true
}

// Elems returns the taints in deterministic (key) order.
func (s TaintSet) Elems() []Taint {
	keys := maps.Keys(s.m)
	slices.Sort(keys)
	return funcutil.Map(keys, func(k string) Taint { return s.m[k] })
}

// Filter returns the subset of taints satisfying f.
func (s TaintSet) Filter(f func(Taint) bool) TaintSet {
	var out TaintSet
	for _, t := range s.m {
		if f(t) {
			out.add(t)
		}
	}
	return out
}

// Transform returns the set of the concatenated outputs of f over all elements.
func (s TaintSet) Transform(f func(Taint) []Taint) TaintSet {
	var out TaintSet
	for _, t := range s.Elems() {
		for _, t2 := range f(t) {
			out.add(t2)
		}
	}
	return out
}

// WithToken records loc on every taint of the set.
func (s TaintSet) WithToken(loc il.Loc) TaintSet {
	return s.Transform(func(t Taint) []Taint { return []Taint{t.WithToken(loc)} })
}

func (s TaintSet) String() string {
	parts := funcutil.Map(s.Elems(), func(t Taint) string { return t.String() })
	return "{" + strings.Join(parts, ", ") + "}"
}

// TaintsOfMatches constructs source taints from the given matches. A match whose spec carries a
// requires formula produces a conditional taint whose precondition closes over the incoming
// taints at the match position.
func TaintsOfMatches(matches []*SourceMatch, incoming TaintSet) TaintSet {
	var out TaintSet
	for _, m := range matches {
		var precond *Precondition
		if m.Spec.Requires != nil {
			precond = &Precondition{Taints: incoming.Elems(), Expr: m.Spec.Requires}
		}
		out.add(NewSourceTaint(m.PM, m.Spec, precond))
	}
	return out
}

// labelsOf computes the concrete label multiset of the taints and whether any taint carries no
// concrete label yet: every polymorphic or control taint sets that flag.
func labelsOf(taints []Taint) (map[string]bool, bool) {
	labels := map[string]bool{}
	poly := false
	for _, t := range taints {
		switch t.Kind {
		case OrigSrc:
			// a conditional source only contributes its label if its own precondition
			// is not already refuted
			if SolvePrecondition(t.precondExpr(), t.precondTaints()).ValueOr(true) {
				labels[t.Label] = true
			}
		default:
			poly = true
		}
	}
	return labels, poly
}

func (t Taint) precondExpr() *Requires {
	if t.Precond == nil {
		return nil
	}
	return t.Precond.Expr
}

func (t Taint) precondTaints() []Taint {
	if t.Precond == nil {
		return nil
	}
	return t.Precond.Taints
}

// SolvePrecondition evaluates a label formula against the label multiset of the given taints.
// None means the taints are too polymorphic to decide here; the caller defers the decision.
func SolvePrecondition(req *Requires, taints []Taint) funcutil.Optional[bool] {
	if req == nil {
		return funcutil.Some(true)
	}
	labels, poly := labelsOf(taints)
	return req.Eval(func(label string) funcutil.Optional[bool] {
		if labels[label] {
			return funcutil.Some(true)
		}
		if poly {
			return funcutil.None[bool]()
		}
		return funcutil.Some(false)
	})
}

// SolveOwnPrecondition evaluates the taint's own precondition.
func (t Taint) SolveOwnPrecondition() funcutil.Optional[bool] {
	if t.Precond == nil {
		return funcutil.Some(true)
	}
	return SolvePrecondition(t.Precond.Expr, t.Precond.Taints)
}

// MapPrecondition substitutes the polymorphic taints inside t's precondition using subst and
// re-solves the formula. None is returned when the substituted formula is definitely false, in
// which case the taint must be dropped from the result it appears in; a formula that becomes
// definitely true is removed from the taint.
func MapPrecondition(t Taint, subst func(Taint) []Taint) funcutil.Optional[Taint] {
	if t.Precond == nil {
		return funcutil.Some(t)
	}
	var substituted []Taint
	for _, pt := range t.Precond.Taints {
		if pt.Kind == OrigVar {
			substituted = append(substituted, subst(pt)...)
		} else {
			substituted = append(substituted, pt)
		}
	}
	switch v := SolvePrecondition(t.Precond.Expr, substituted); {
	case v.IsSome() && !v.Value():
		return funcutil.None[Taint]()
	case v.IsSome():
		t.Precond = nil
		return funcutil.Some(t)
	default:
		t.Precond = &Precondition{Taints: substituted, Expr: t.Precond.Expr}
		return funcutil.Some(t)
	}
}
