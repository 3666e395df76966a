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

// Package il defines the intermediate language consumed by the taint analysis: expressions,
// l-values with offsets, instructions, and the per-function control-flow graph. Frontends lower
// source languages to this representation; the analyses never look at source syntax directly.
//
// The control-flow graph is a directed graph of nodes (instructions, conditions, returns, ...)
// built on top of a gonum directed graph. Node insertion order is preserved so that analyses
// iterate deterministically.
package il
