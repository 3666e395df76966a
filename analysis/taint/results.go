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
	"sort"
	"strings"

	"github.com/seqsec/iltaint/analysis/il"
	"github.com/seqsec/iltaint/internal/funcutil"
)

// ResultKind enumerates the kinds of results streamed out of the engine.
type ResultKind int

const (
	// ToSink reports taints reaching a sink
	ToSink ResultKind = iota
	// ToReturn reports taints flowing out through the function's return value
	ToReturn
	// ToLval reports taints flowing into a callee parameter, the receiver or a global by
	// side effect
	ToLval
)

// A Result is one fact produced by the analysis of a function. ToSink results feed findings;
// ToReturn and ToLval results feed the function's interprocedural summary.
type Result struct {
	Kind ResultKind

	// Taints are the reported taints, token chains in chronological order
	Taints []Taint

	// Sink is the reached sink for ToSink
	Sink *SinkMatch

	// Requires is the sink's label formula when it could not be resolved at emission time
	// (too polymorphic); nil when already satisfied
	Requires *Requires

	// Bindings are the merged source and sink metavariable bindings for ToSink
	Bindings Bindings

	// RetTok is the return token for ToReturn
	RetTok il.Loc

	// Lval is the summary l-value written by side effect for ToLval
	Lval SigLval

	// Env is the environment at the sink for ToSink. Handlers may inspect it but must not
	// mutate it.
	Env *LvalEnv
}

func (r Result) key() string {
	var sb strings.Builder
	switch r.Kind {
	case ToSink:
		sb.WriteString("sink:")
		sb.WriteString(r.Sink.Spec.ID)
		sb.WriteString(r.Sink.PM.R.String())
	case ToReturn:
		sb.WriteString("ret:")
	case ToLval:
		sb.WriteString("lval:")
		sb.WriteString(r.Lval.String())
	}
	keys := funcutil.Map(r.Taints, func(t Taint) string { return t.key() })
	sort.Strings(keys)
	sb.WriteString(strings.Join(keys, ","))
	return sb.String()
}

// finalizeTaints reverses every token chain into chronological order, once, at emission.
func finalizeTaints(taints []Taint) []Taint {
	return funcutil.Map(taints, func(t Taint) Taint {
		t.Tokens = funcutil.Reversed(t.Tokens)
		return t
	})
}

// A resultSet accumulates results during one fixpoint run, deduplicating across passes.
type resultSet struct {
	seen map[string]bool
}

func newResultSet() *resultSet {
	return &resultSet{seen: map[string]bool{}}
}

// add returns true when the result was not recorded before.
func (rs *resultSet) add(r Result) bool {
	k := r.key()
	if rs.seen[k] {
		return false
	}
	rs.seen[k] = true
	return true
}

// unifyBindings merges the two binding maps, failing on any conflicting assignment. This is
// the strict inner-join used under unify_mvars.
func unifyBindings(a Bindings, b Bindings) (Bindings, bool) {
	out := Bindings{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if prev, in := out[k]; in && prev != v {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}

// mergeBindingsSinkBiased merges source and sink bindings, keeping the sink's value on
// collision.
func mergeBindingsSinkBiased(src Bindings, sink Bindings) Bindings {
	out := Bindings{}
	for k, v := range src {
		out[k] = v
	}
	for k, v := range sink {
		out[k] = v
	}
	return out
}

// mergeSourceBindings merges the bindings of several sources, dropping metavariables whose
// values conflict across sources and keeping the rest.
func mergeSourceBindings(all []Bindings) Bindings {
	out := Bindings{}
	conflict := map[string]bool{}
	for _, b := range all {
		for k, v := range b {
			if prev, in := out[k]; in && prev != v {
				conflict[k] = true
			} else {
				out[k] = v
			}
		}
	}
	for k := range conflict {
		delete(out, k)
	}
	return out
}
