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

import "strings"

// InstrKind enumerates the instruction forms of the IL.
type InstrKind int

const (
	// IAssign assigns the value of an expression to an l-value
	IAssign InstrKind = iota
	// IAssignAnon assigns an anonymous function to an l-value
	IAssignAnon
	// ICall calls a function or method, optionally assigning the result
	ICall
	// ICallSpecial is a language-specific operation (yield, await, ...) that relays its operands
	ICallSpecial
	// INew constructs an object, optionally through an explicit constructor
	INew
	// IFixme is an instruction the frontend could not translate faithfully
	IFixme
)

// An Arg is a call argument, optionally named (keyword argument).
type Arg struct {
	Name string
	E    *Expr
}

// PosArgs builds a positional argument list.
func PosArgs(exprs ...*Expr) []Arg {
	args := make([]Arg, len(exprs))
	for i, e := range exprs {
		args[i] = Arg{E: e}
	}
	return args
}

// An Instr is an IL instruction. Which fields are meaningful depends on Kind.
type Instr struct {
	Kind InstrKind

	// Lval is the assigned l-value; nil for calls whose result is discarded
	Lval *Lval

	// Rhs is the assigned expression for IAssign
	Rhs *Expr

	// Callee is the called expression for ICall and the constructor for INew (nil when the
	// constructor is implicit)
	Callee *Expr

	// Args are the call or constructor arguments; IFixme and ICallSpecial also relay operands here
	Args []Arg

	// Ty is the constructed type name for INew
	Ty string

	// Special is the operation name for ICallSpecial
	Special string

	// R is the syntactic range of the instruction
	R Range
}

// NewAssign builds lv := rhs.
func NewAssign(lv *Lval, rhs *Expr) *Instr {
	return &Instr{Kind: IAssign, Lval: lv, Rhs: rhs}
}

// NewAssignAnon builds lv := <anonymous function>.
func NewAssignAnon(lv *Lval) *Instr {
	return &Instr{Kind: IAssignAnon, Lval: lv, Rhs: AnonFunc()}
}

// NewCall builds ret := callee(args...). ret may be nil.
func NewCall(ret *Lval, callee *Expr, args ...*Expr) *Instr {
	return &Instr{Kind: ICall, Lval: ret, Callee: callee, Args: PosArgs(args...)}
}

// NewNew builds ret := new ty(args...) with an optional explicit constructor.
func NewNew(ret *Lval, ty string, ctor *Expr, args ...*Expr) *Instr {
	return &Instr{Kind: INew, Lval: ret, Ty: ty, Callee: ctor, Args: PosArgs(args...)}
}

// NewCallSpecial builds ret := <special op>(args...). ret may be nil.
func NewCallSpecial(ret *Lval, op string, args ...*Expr) *Instr {
	return &Instr{Kind: ICallSpecial, Lval: ret, Special: op, Args: PosArgs(args...)}
}

// NewFixme builds an untranslated instruction relaying the given operands.
func NewFixme(ret *Lval, args ...*Expr) *Instr {
	return &Instr{Kind: IFixme, Lval: ret, Args: PosArgs(args...)}
}

// CalleeName returns the name of the called function when the callee is a simple variable or the
// last method offset of a fetched l-value, and "" otherwise.
func (i *Instr) CalleeName() string {
	if i.Callee == nil || i.Callee.Kind != EFetch {
		return ""
	}
	lv := i.Callee.Lval
	if n := len(lv.Offset); n > 0 {
		last := lv.Offset[n-1]
		if last.Kind == ODot || last.Kind == OFun {
			return last.Name
		}
		return ""
	}
	return lv.Base.Name
}

func (i *Instr) String() string {
	var sb strings.Builder
	if i.Lval != nil {
		sb.WriteString(i.Lval.String())
		sb.WriteString(" = ")
	}
	switch i.Kind {
	case IAssign:
		sb.WriteString(i.Rhs.String())
	case IAssignAnon:
		sb.WriteString("fun")
	case ICall, INew:
		if i.Kind == INew {
			sb.WriteString("new " + i.Ty)
		}
		if i.Callee != nil {
			sb.WriteString(i.Callee.String())
		}
		sb.WriteString("(")
		for k, a := range i.Args {
			if k > 0 {
				sb.WriteString(", ")
			}
			if a.Name != "" {
				sb.WriteString(a.Name + "=")
			}
			sb.WriteString(a.E.String())
		}
		sb.WriteString(")")
	case ICallSpecial:
		sb.WriteString(i.Special)
		sb.WriteString("(")
		for k, a := range i.Args {
			if k > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.E.String())
		}
		sb.WriteString(")")
	case IFixme:
		sb.WriteString("fixme")
	}
	return sb.String()
}
