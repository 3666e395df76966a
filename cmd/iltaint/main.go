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

// iltaint runs the taint analysis over a serialized IL program.
//
// Usage:
//
//	iltaint -config rules.yaml -program program.json [-verbose]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/seqsec/iltaint/analysis/config"
	"github.com/seqsec/iltaint/analysis/il"
	"github.com/seqsec/iltaint/analysis/rules"
	"github.com/seqsec/iltaint/analysis/taint"
	"github.com/seqsec/iltaint/internal/formatutil"
)

var (
	configPath  = flag.String("config", "", "path to the rule configuration (yaml)")
	programPath = flag.String("program", "", "path to the serialized IL program (json)")
	verbose     = flag.Bool("verbose", false, "verbose output")
)

func main() {
	flag.Parse()
	if *configPath == "" || *programPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iltaint: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.LogLevel = int(config.DebugLevel)
	}
	logger := config.NewLogGroup(cfg)

	data, err := os.ReadFile(*programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iltaint: %v\n", err)
		os.Exit(1)
	}
	flows, err := il.DecodeProgram(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iltaint: %v\n", err)
		os.Exit(1)
	}

	numFindings := 0
	for _, ps := range cfg.TaintProblems {
		spec := ps
		rs, err := rules.Compile(&spec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "iltaint: rule %s: %v\n", spec.RuleID, err)
			os.Exit(1)
		}
		for _, flow := range flows {
			oracle := rules.NewOracle(rs, flow)
			pb := &taint.Problem{
				Filepath:      *programPath,
				RuleID:        spec.RuleID,
				TrackControl:  spec.TrackControl,
				UnifyMvars:    spec.UnifyMvars,
				Oracle:        oracle,
				Logger:        logger,
				HandleResults: reportResults(cfg, spec.RuleID, &numFindings),
			}
			taint.Fixpoint(context.Background(), spec.Lang, cfg.Options, pb, nil, flow, nil, "")
		}
	}

	if numFindings > 0 {
		fmt.Printf("%s: %d taint flow(s) found\n", formatutil.Red("FAIL"), numFindings)
		os.Exit(1)
	}
	fmt.Printf("%s: no taint flows found\n", formatutil.Green("OK"))
}

func reportResults(cfg *config.Config, ruleID string, numFindings *int) taint.HandleResultsFn {
	return func(fnName string, results []taint.Result, _ *taint.LvalEnv) {
		for _, r := range results {
			switch r.Kind {
			case taint.ToSink:
				*numFindings++
				fmt.Printf(" %s [%s] %s: taint reaches sink %s\n",
					formatutil.Red("💀"), ruleID, fnName, formatutil.Bold(r.Sink.PM.Text))
				for _, t := range r.Taints {
					fmt.Printf("    %s %s\n", formatutil.Yellow("<-"), t.String())
					for _, tok := range t.Tokens {
						fmt.Printf("       via %s\n", tok.String())
					}
				}
				if r.Requires != nil {
					fmt.Printf("    (unresolved requires: %s)\n", r.Requires.String())
				}
			case taint.ToReturn:
				if cfg.Verbose() {
					fmt.Printf(" %s %s returns tainted data (%d taints)\n",
						formatutil.Cyan("->"), fnName, len(r.Taints))
				}
			case taint.ToLval:
				if cfg.Verbose() {
					fmt.Printf(" %s %s taints %s by side effect\n",
						formatutil.Cyan("~>"), fnName, r.Lval.String())
				}
			}
		}
	}
}
