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

// Package taint implements the interprocedural taint dataflow engine: a forward monotone
// MAY-analysis over the IL control-flow graph of one function.
//
// The engine tracks, for every program point, the taints held by every l-value, with
// field-sensitive shapes for compound values, user-defined labels with boolean preconditions,
// propagators wiring taint between program points, and polymorphic argument taints for
// interprocedural summaries. Pattern classification is delegated to an Oracle; findings,
// return summaries and side-effect summaries stream out through the Problem's result handler.
//
// The entry point is Fixpoint. The analysis of one function is strictly single-threaded and
// owns all its state; distinct functions can be analyzed in parallel, each with its own
// environment, fixpoint state and caches.
package taint
