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

package il

// AnyKind enumerates the syntactic categories a pattern oracle can be queried with.
type AnyKind int

const (
	// AnyExpr queries an expression
	AnyExpr AnyKind = iota
	// AnyLval queries an l-value (possibly a prefix of a longer one)
	AnyLval
	// AnyInstr queries a whole instruction
	AnyInstr
)

// An Any is a tagged reference to an expression, l-value or instruction, handed to the pattern
// oracles for classification.
type Any struct {
	Kind  AnyKind
	Expr  *Expr
	Lval  *Lval
	Instr *Instr
}

// ExprAny wraps an expression.
func ExprAny(e *Expr) Any { return Any{Kind: AnyExpr, Expr: e} }

// LvalAny wraps an l-value.
func LvalAny(lv *Lval) Any { return Any{Kind: AnyLval, Lval: lv} }

// InstrAny wraps an instruction.
func InstrAny(i *Instr) Any { return Any{Kind: AnyInstr, Instr: i} }

// Range returns the syntactic range of the wrapped element.
func (a Any) Range() Range {
	switch a.Kind {
	case AnyExpr:
		return a.Expr.R
	case AnyLval:
		return a.Lval.R
	default:
		return a.Instr.R
	}
}

func (a Any) String() string {
	switch a.Kind {
	case AnyExpr:
		return a.Expr.String()
	case AnyLval:
		return a.Lval.String()
	default:
		return a.Instr.String()
	}
}
