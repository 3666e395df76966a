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

// Package analysistest loads end-to-end test scenarios: txtar archives bundling a rule
// configuration and a serialized IL program.
package analysistest

import (
	"testing"

	"golang.org/x/tools/txtar"

	"github.com/seqsec/iltaint/analysis/config"
	"github.com/seqsec/iltaint/analysis/il"
)

// LoadScenario reads a txtar archive containing a "rules.yaml" and a "program.json" file and
// returns the parsed configuration and program CFGs. Failures abort the test.
func LoadScenario(t *testing.T, path string) (*config.Config, []*il.CFG) {
	t.Helper()
	ar, err := txtar.ParseFile(path)
	if err != nil {
		t.Fatalf("failed to load scenario %s: %v", path, err)
	}
	var cfg *config.Config
	var flows []*il.CFG
	for _, f := range ar.Files {
		switch f.Name {
		case "rules.yaml":
			cfg, err = config.LoadBytes(f.Data)
			if err != nil {
				t.Fatalf("scenario %s: %v", path, err)
			}
		case "program.json":
			flows, err = il.DecodeProgram(f.Data)
			if err != nil {
				t.Fatalf("scenario %s: %v", path, err)
			}
		}
	}
	if cfg == nil {
		t.Fatalf("scenario %s has no rules.yaml", path)
	}
	if flows == nil {
		t.Fatalf("scenario %s has no program.json", path)
	}
	return cfg, flows
}
