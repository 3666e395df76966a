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

package config

import (
	"testing"
	"time"
)

func TestLoadBytes(t *testing.T) {
	src := `
taint-assume-safe-comparisons: true
fixpoint-timeout-seconds: 2.5
taint-problems:
  - rule-id: sqli
    lang: python
    track-control: true
    sources:
      - pattern: get_input
        label: USER
    sinks:
      - pattern: execute
        requires: USER
    sanitizers:
      - pattern: quote
        by-side-effect: true
    propagators:
      - pattern: append
        from: arg0
        to: obj
`
	cfg, err := LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if !cfg.TaintAssumeSafeComparisons {
		t.Errorf("option not read")
	}
	if cfg.FixpointTimeout() != 2500*time.Millisecond {
		t.Errorf("bad timeout %v", cfg.FixpointTimeout())
	}
	if cfg.LogLevel != int(InfoLevel) {
		t.Errorf("missing log level default")
	}
	if len(cfg.TaintProblems) != 1 {
		t.Fatalf("expected 1 problem, got %d", len(cfg.TaintProblems))
	}
	p := cfg.TaintProblems[0]
	if p.RuleID != "sqli" || p.Lang != LangPython || !p.TrackControl {
		t.Errorf("problem header not read: %+v", p)
	}
	if len(p.Sources) != 1 || p.Sources[0].Label != "USER" {
		t.Errorf("sources not read: %+v", p.Sources)
	}
	if len(p.Propagators) != 1 || p.Propagators[0].To != "obj" {
		t.Errorf("propagators not read: %+v", p.Propagators)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FixpointTimeout() != DefaultFixpointTimeout {
		t.Errorf("expected the default fixpoint timeout")
	}
	if cfg.Verbose() {
		t.Errorf("info level is not verbose")
	}
}

func TestFieldSensitivePoly(t *testing.T) {
	for lang, want := range map[Language]bool{
		LangJava:    true,
		LangJS:      true,
		LangTS:      true,
		LangPython:  true,
		LangGo:      false,
		LangGeneric: false,
	} {
		if got := lang.FieldSensitivePoly(); got != want {
			t.Errorf("FieldSensitivePoly(%q) = %v, want %v", lang, got, want)
		}
	}
}
