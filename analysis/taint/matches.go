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
	"sync/atomic"

	"github.com/seqsec/iltaint/analysis/il"
)

// pmCounter numbers pattern matches so that taint identity can refer to them cheaply.
var pmCounter int64

// A Bindings maps metavariable names to their matched text.
type Bindings map[string]string

// A PatternMatch is one concrete match of a user pattern: a range, a location, and the captured
// metavariable bindings. The engine treats it as opaque except for these fields.
type PatternMatch struct {
	id       int64
	R        il.Range
	Loc      il.Loc
	Text     string
	Bindings Bindings
}

// NewPatternMatch returns a fresh pattern match over the given range.
func NewPatternMatch(r il.Range, loc il.Loc, text string, bindings Bindings) *PatternMatch {
	return &PatternMatch{
		id:       atomic.AddInt64(&pmCounter, 1),
		R:        r,
		Loc:      loc,
		Text:     text,
		Bindings: bindings,
	}
}

// ID returns the unique id of the match within this process.
func (pm *PatternMatch) ID() int64 { return pm.id }

func (pm *PatternMatch) String() string {
	return fmt.Sprintf("match(%s %s)", pm.Text, pm.R)
}

// SideEffect is the by-side-effect mode of a source or sanitizer spec.
type SideEffect int

const (
	// SideEffectNo leaves the environment untouched
	SideEffectNo SideEffect = iota
	// SideEffectYes updates the matched l-value and also returns the taint. Kept distinct from
	// SideEffectOnly for backwards compatibility; both demand an exact match in practice.
	SideEffectYes
	// SideEffectOnly updates the matched l-value without returning the taint
	SideEffectOnly
)

// ParseSideEffect parses the yaml form of a side-effect mode.
func ParseSideEffect(s string) (SideEffect, error) {
	switch s {
	case "", "no", "false":
		return SideEffectNo, nil
	case "yes", "true":
		return SideEffectYes, nil
	case "only":
		return SideEffectOnly, nil
	default:
		return SideEffectNo, fmt.Errorf("unknown by-side-effect mode %q", s)
	}
}

// A SourceSpec describes how one source pattern introduces taint.
type SourceSpec struct {
	// ID identifies the spec for best-match grouping
	ID string

	// Label is the taint label; empty selects DefaultLabel
	Label string

	// Requires restricts the source to values already carrying satisfying labels; the resulting
	// taint carries the formula as a precondition
	Requires *Requires

	// SideEffect is the by-side-effect mode
	SideEffect SideEffect

	// Exact demands that only best matches at exactly the checked position fire
	Exact bool

	// Control sends the taint into the control environment instead of the value
	Control bool
}

// A SinkSpec describes where taint must be reported.
type SinkSpec struct {
	// ID identifies the spec for best-match grouping
	ID string

	// Requires is the label formula incoming taints must satisfy
	Requires *Requires

	// Exact demands that only best matches at exactly the checked position fire
	Exact bool

	// AtExit restricts the sink to function exit points
	AtExit bool

	// HasFocus marks sinks focusing a subexpression; their instruction-level check is skipped
	// when exact
	HasFocus bool
}

// A SanitizerSpec describes where taint is removed.
type SanitizerSpec struct {
	// ID identifies the spec for best-match grouping
	ID string

	// SideEffect also cleans the matched l-value in the environment
	SideEffect bool

	// Exact demands that only best matches at exactly the checked position fire
	Exact bool
}

// PropagatorKind distinguishes the reading and writing ends of a propagator.
type PropagatorKind int

const (
	// PropFrom is the end taint is read from
	PropFrom PropagatorKind = iota
	// PropTo is the end taint is written to
	PropTo
)

// A PropagatorSpec describes one end of a propagator pattern.
type PropagatorSpec struct {
	// ID identifies the spec
	ID string

	// Kind says whether this end reads or writes
	Kind PropagatorKind

	// Var names the propagator channel linking From and To ends
	Var string

	// SideEffect updates the destination l-value in the environment (To ends only)
	SideEffect bool

	// Requires restricts propagation to taints whose labels satisfy the formula (From ends only)
	Requires *Requires

	// Label relabels the propagated taints (From ends only)
	Label string

	// ReplaceLabels restricts relabeling to the listed labels; empty relabels all
	ReplaceLabels []string
}

// A SourceMatch is a concrete source occurrence.
type SourceMatch struct {
	PM   *PatternMatch
	Spec *SourceSpec
}

// A SinkMatch is a concrete sink occurrence.
type SinkMatch struct {
	PM   *PatternMatch
	Spec *SinkSpec
}

// A SanitizerMatch is a concrete sanitizer occurrence.
type SanitizerMatch struct {
	PM   *PatternMatch
	Spec *SanitizerSpec
}

// A PropagatorMatch is a concrete occurrence of one propagator end.
type PropagatorMatch struct {
	PM   *PatternMatch
	Spec *PropagatorSpec
}

// An Oracle classifies IL fragments as sources, sinks, sanitizers or propagator ends. The
// pattern matcher behind it is external to the engine; predicates must be pure and cheap enough
// to be called once per program point and fixpoint pass.
type Oracle interface {
	// Sources returns the source matches at the queried position
	Sources(il.Any) []*SourceMatch

	// Sinks returns the sink matches at the queried position
	Sinks(il.Any) []*SinkMatch

	// Sanitizers returns the sanitizer matches at the queried position
	Sanitizers(il.Any) []*SanitizerMatch

	// Propagators returns the propagator end matches at the queried position
	Propagators(il.Any) []*PropagatorMatch
}
