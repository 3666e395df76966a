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

// Package rules compiles the configured name patterns into the oracle the taint engine
// queries. A pattern is a regular expression matched against the printed form of a program
// point: the callee name for calls, the access path for l-values, the literal text for
// literals. Named capture groups become metavariable bindings. This stands in for a full
// pattern matcher, which the engine only ever sees through the oracle interface.
package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/seqsec/iltaint/analysis/config"
	"github.com/seqsec/iltaint/analysis/taint"
)

// A compiled pattern: the anchored regex plus the spec it produces matches for.
type sourceRule struct {
	re   *regexp.Regexp
	spec *taint.SourceSpec
}

type sinkRule struct {
	re   *regexp.Regexp
	spec *taint.SinkSpec
}

type sanitizerRule struct {
	re   *regexp.Regexp
	spec *taint.SanitizerSpec
}

type propagatorRule struct {
	re       *regexp.Regexp
	from     string
	to       string
	fromSpec *taint.PropagatorSpec
	toSpec   *taint.PropagatorSpec
}

// A RuleSet is one taint problem's compiled patterns.
type RuleSet struct {
	Spec        *config.TaintProblemSpec
	sources     []sourceRule
	sinks       []sinkRule
	sanitizers  []sanitizerRule
	propagators []propagatorRule
}

// Compile translates the yaml pattern spec into a rule set.
func Compile(ps *config.TaintProblemSpec) (*RuleSet, error) {
	rs := &RuleSet{Spec: ps}
	for i, p := range ps.Sources {
		re, err := compileAnchored(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		req, err := taint.ParseRequires(p.Requires)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		se, err := taint.ParseSideEffect(p.BySideEffect)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		rs.sources = append(rs.sources, sourceRule{re: re, spec: &taint.SourceSpec{
			ID:         ps.RuleID + "/source#" + strconv.Itoa(i),
			Label:      p.Label,
			Requires:   req,
			SideEffect: se,
			Exact:      boolOr(p.Exact, true),
			Control:    p.Control,
		}})
	}
	for i, p := range ps.Sinks {
		re, err := compileAnchored(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sink %d: %w", i, err)
		}
		req, err := taint.ParseRequires(p.Requires)
		if err != nil {
			return nil, fmt.Errorf("sink %d: %w", i, err)
		}
		rs.sinks = append(rs.sinks, sinkRule{re: re, spec: &taint.SinkSpec{
			ID:       ps.RuleID + "/sink#" + strconv.Itoa(i),
			Requires: req,
			Exact:    boolOr(p.Exact, true),
			AtExit:   p.AtExit,
			HasFocus: p.HasFocus,
		}})
	}
	for i, p := range ps.Sanitizers {
		re, err := compileAnchored(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitizer %d: %w", i, err)
		}
		rs.sanitizers = append(rs.sanitizers, sanitizerRule{re: re, spec: &taint.SanitizerSpec{
			ID:         ps.RuleID + "/sanitizer#" + strconv.Itoa(i),
			SideEffect: p.BySideEffect,
			Exact:      boolOr(p.Exact, true),
		}})
	}
	for i, p := range ps.Propagators {
		re, err := compileAnchored(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("propagator %d: %w", i, err)
		}
		req, err := taint.ParseRequires(p.Requires)
		if err != nil {
			return nil, fmt.Errorf("propagator %d: %w", i, err)
		}
		if err := checkSelector(p.From); err != nil {
			return nil, fmt.Errorf("propagator %d from: %w", i, err)
		}
		if err := checkSelector(p.To); err != nil {
			return nil, fmt.Errorf("propagator %d to: %w", i, err)
		}
		id := ps.RuleID + "/prop#" + strconv.Itoa(i)
		rs.propagators = append(rs.propagators, propagatorRule{
			re:   re,
			from: p.From,
			to:   p.To,
			fromSpec: &taint.PropagatorSpec{
				ID:            id,
				Kind:          taint.PropFrom,
				Var:           id,
				Requires:      req,
				Label:         p.Label,
				ReplaceLabels: p.ReplaceLabels,
			},
			toSpec: &taint.PropagatorSpec{
				ID:         id,
				Kind:       taint.PropTo,
				Var:        id,
				SideEffect: boolOr(p.BySideEffect, true),
			},
		})
	}
	return rs, nil
}

func compileAnchored(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("could not compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

func checkSelector(sel string) error {
	if sel == "obj" || sel == "ret" {
		return nil
	}
	if strings.HasPrefix(sel, "arg") {
		if _, err := strconv.Atoi(sel[3:]); err == nil {
			return nil
		}
	}
	return fmt.Errorf("unknown selector %q (want obj, ret or argN)", sel)
}

func boolOr(b *bool, dflt bool) bool {
	if b == nil {
		return dflt
	}
	return *b
}

// bindingsOf extracts the named capture groups of a successful match.
func bindingsOf(re *regexp.Regexp, target string) taint.Bindings {
	sub := re.FindStringSubmatch(target)
	if sub == nil {
		return nil
	}
	var b taint.Bindings
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(sub) {
			if b == nil {
				b = taint.Bindings{}
			}
			b[name] = sub[i]
		}
	}
	return b
}
