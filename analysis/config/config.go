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

// Package config defines the yaml configuration consumed by the taint analysis: engine options,
// and the rule specifications (sources, sinks, sanitizers, propagators) that the pattern oracle
// compiles into match predicates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Language identifies the source language a function was lowered from. A few engine behaviors
// are language-conditional (field taint polymorphism, the getter/setter heuristic).
type Language string

const (
	// LangGeneric is the default when the frontend does not say otherwise
	LangGeneric Language = ""
	// LangJava is Java
	LangJava Language = "java"
	// LangJS is JavaScript
	LangJS Language = "js"
	// LangTS is TypeScript
	LangTS Language = "ts"
	// LangPython is Python
	LangPython Language = "python"
	// LangGo is Go
	LangGo Language = "go"
)

// FieldSensitivePoly returns true when the language tracks polymorphic taint through field
// offsets of function arguments.
func (l Language) FieldSensitivePoly() bool {
	switch l {
	case LangJava, LangJS, LangTS, LangPython:
		return true
	default:
		return false
	}
}

// DefaultFixpointTimeout bounds the per-function fixpoint loop wall-clock time.
const DefaultFixpointTimeout = 5 * time.Second

// Config contains the engine options and the list of taint problems to run.
// If some field is not defined in the config file, it will be empty/zero in the struct.
type Config struct {
	Options `yaml:",inline"`

	sourceFile string

	// TaintProblems lists the taint tracking specifications
	TaintProblems []TaintProblemSpec `yaml:"taint-problems"`
}

// Options is the bag of engine options recognized by the core analysis.
type Options struct {
	// TaintAssumeSafeFunctions makes unknown callees return untainted values regardless of the
	// taints of their arguments
	TaintAssumeSafeFunctions bool `yaml:"taint-assume-safe-functions"`

	// TaintAssumeSafeIndexes makes indexed reads a[i] not inherit the taint of i
	TaintAssumeSafeIndexes bool `yaml:"taint-assume-safe-indexes"`

	// TaintAssumeSafeComparisons makes comparison operators yield no taint
	TaintAssumeSafeComparisons bool `yaml:"taint-assume-safe-comparisons"`

	// TaintAssumeSafeBooleans drops data taints from values typed as boolean
	TaintAssumeSafeBooleans bool `yaml:"taint-assume-safe-booleans"`

	// TaintAssumeSafeNumbers drops data taints from values typed as integer or float
	TaintAssumeSafeNumbers bool `yaml:"taint-assume-safe-numbers"`

	// TaintOnlyPropagateThroughAssignments disables taint flow through sub-expressions and call
	// returns; only direct assignment propagates
	TaintOnlyPropagateThroughAssignments bool `yaml:"taint-only-propagate-through-assignments"`

	// FixpointTimeoutSeconds bounds the per-function fixpoint loop; 0 selects the default
	FixpointTimeoutSeconds float64 `yaml:"fixpoint-timeout-seconds"`

	// MaxPolyOffset bounds the offset path length of polymorphic taints; 0 selects the default
	MaxPolyOffset int `yaml:"max-poly-offset"`

	// LogLevel controls the verbosity of the tool
	LogLevel int `yaml:"log-level"`
}

// FixpointTimeout returns the configured fixpoint timeout, or the default when unset.
func (o Options) FixpointTimeout() time.Duration {
	if o.FixpointTimeoutSeconds <= 0 {
		return DefaultFixpointTimeout
	}
	return time.Duration(o.FixpointTimeoutSeconds * float64(time.Second))
}

// A TaintProblemSpec identifies one taint tracking problem: a rule id, the language knobs, and
// the patterns classifying program points.
type TaintProblemSpec struct {
	// RuleID identifies the rule in reports
	RuleID string `yaml:"rule-id"`

	// Lang is the source language of the analyzed functions
	Lang Language `yaml:"lang"`

	// TrackControl enables taint tracking through control dependencies
	TrackControl bool `yaml:"track-control"`

	// UnifyMvars requires metavariable bindings shared between a source and a sink to unify
	UnifyMvars bool `yaml:"unify-mvars"`

	// Sources is the list of source patterns
	Sources []SourcePattern `yaml:"sources"`

	// Sinks is the list of sink patterns
	Sinks []SinkPattern `yaml:"sinks"`

	// Sanitizers is the list of sanitizer patterns
	Sanitizers []SanitizerPattern `yaml:"sanitizers"`

	// Propagators is the list of propagator patterns
	Propagators []PropagatorPattern `yaml:"propagators"`
}

// A SourcePattern classifies program points that introduce taint. Pattern is a regular
// expression matched against the printed form of the candidate (callee name for calls,
// access path for l-values); named capture groups become metavariable bindings.
type SourcePattern struct {
	Pattern string `yaml:"pattern"`

	// Label is the taint label attached by this source; empty selects the default label
	Label string `yaml:"label"`

	// Requires restricts the source to values already carrying labels satisfying the formula
	Requires string `yaml:"requires"`

	// BySideEffect is one of "no" (default), "yes", "only"
	BySideEffect string `yaml:"by-side-effect"`

	// Exact requires the match to be a best match at exactly the checked position
	Exact *bool `yaml:"exact"`

	// Control marks a source whose taint flows into the control environment
	Control bool `yaml:"control"`
}

// A SinkPattern classifies program points where taint must be reported.
type SinkPattern struct {
	Pattern string `yaml:"pattern"`

	// Requires is the label formula the incoming taints must satisfy
	Requires string `yaml:"requires"`

	// Exact requires the match to be a best match at exactly the checked position
	Exact *bool `yaml:"exact"`

	// AtExit restricts the sink to function exit points
	AtExit bool `yaml:"at-exit"`

	// HasFocus marks sinks with a focus metavariable; their instruction-level check is skipped
	// when exact, as the focused subexpression reports instead
	HasFocus bool `yaml:"has-focus"`
}

// A SanitizerPattern classifies program points that remove taint.
type SanitizerPattern struct {
	Pattern string `yaml:"pattern"`

	// BySideEffect also cleans the matched l-value in the environment
	BySideEffect bool `yaml:"by-side-effect"`

	// Exact requires the match to be a best match at exactly the checked position
	Exact *bool `yaml:"exact"`
}

// A PropagatorPattern wires taint from one part of a matched call to another, e.g. from an
// argument to the receiver object.
type PropagatorPattern struct {
	// Pattern is matched against the callee name of candidate calls
	Pattern string `yaml:"pattern"`

	// From selects the sub-position taint is read from: "obj", or "argN"
	From string `yaml:"from"`

	// To selects the sub-position taint is written to: "obj", "ret", or "argN"
	To string `yaml:"to"`

	// BySideEffect updates the destination l-value in the environment; defaults to true
	BySideEffect *bool `yaml:"by-side-effect"`

	// Requires restricts propagation to taints whose labels satisfy the formula
	Requires string `yaml:"requires"`

	// Label relabels the propagated taints
	Label string `yaml:"label"`

	// ReplaceLabels restricts relabeling to the listed labels; empty relabels all
	ReplaceLabels []string `yaml:"replace-labels"`
}

// NewDefault returns an empty default config.
func NewDefault() *Config {
	return &Config{
		Options: Options{
			LogLevel: int(InfoLevel),
		},
	}
}

// Load reads a configuration from a yaml file.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	cfg, err := LoadBytes(b)
	if err != nil {
		return nil, err
	}
	cfg.sourceFile = filename
	return cfg, nil
}

// LoadBytes reads a configuration from yaml data.
func LoadBytes(b []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	// If LogLevel has not been specified (i.e. it is 0) set the default to Info
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}
	return cfg, nil
}

// SourceFile returns the path this config was loaded from, if any.
func (c *Config) SourceFile() string {
	return c.sourceFile
}

// Verbose returns true if the configured verbosity is larger than Info (i.e. Debug or Trace)
func (c *Config) Verbose() bool {
	return c.LogLevel >= int(DebugLevel)
}
