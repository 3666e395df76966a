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

import (
	"strconv"
	"strings"
)

// ValueType is the coarse type attached to expressions by the frontend. The taint analysis only
// distinguishes booleans and numbers (for the assume-safe options); everything else is Unknown.
type ValueType int

const (
	// TypeUnknown is the default type of an expression
	TypeUnknown ValueType = iota
	// TypeBool marks expressions the frontend typed as boolean
	TypeBool
	// TypeNumber marks expressions the frontend typed as integer or floating point
	TypeNumber
	// TypeString marks expressions the frontend typed as string
	TypeString
)

// ExprKind enumerates the expression forms of the IL.
type ExprKind int

const (
	// ELiteral is a constant literal
	ELiteral ExprKind = iota
	// EFetch reads an l-value
	EFetch
	// EOp applies an operator to its operands
	EOp
	// ERecord is a record literal with named fields
	ERecord
	// ETuple is a tuple literal with positional fields
	ETuple
	// ECast is a type cast of a single operand
	ECast
	// EAnonFunc is an anonymous function literal; opaque to the analysis
	EAnonFunc
	// EUnknown is any expression the frontend could not lower; degrades to no taint
	EUnknown
)

// A Field is a named field of a record literal.
type Field struct {
	Name string
	E    *Expr
}

// An Expr is an IL expression. Which fields are meaningful depends on Kind.
type Expr struct {
	Kind ExprKind

	// Lit is the literal text for ELiteral
	Lit string

	// Lval is the fetched l-value for EFetch
	Lval *Lval

	// Op is the operator name for EOp, e.g. "+", "==", "not"
	Op string

	// Args are the operands for EOp, the elements for ETuple and the operand for ECast
	Args []*Expr

	// Fields are the fields of an ERecord
	Fields []Field

	// Type is the frontend-provided coarse type
	Type ValueType

	// R is the syntactic range of the expression
	R Range
}

// comparison operators recognized by the assume-safe-comparisons option
var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"===": true, "!==": true, "is": true, "in": true,
}

// IsComparison returns true when the expression is an application of a comparison operator.
func (e *Expr) IsComparison() bool {
	return e.Kind == EOp && comparisonOps[e.Op]
}

func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ELiteral:
		return e.Lit
	case EFetch:
		return e.Lval.String()
	case EOp:
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = a.String()
		}
		return e.Op + "(" + strings.Join(parts, ", ") + ")"
	case ERecord:
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.Name + ": " + f.E.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case ETuple:
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case ECast:
		if len(e.Args) == 1 {
			return "cast(" + e.Args[0].String() + ")"
		}
		return "cast(?)"
	case EAnonFunc:
		return "fun"
	default:
		return "???"
	}
}

// BaseKind enumerates the kinds of l-value bases.
type BaseKind int

const (
	// BaseVar is a local variable or parameter, identified by name
	BaseVar BaseKind = iota
	// BaseThis is the receiver of the enclosing method
	BaseThis
	// BaseGlobal is a global variable, identified by name
	BaseGlobal
)

// A Base is the root of an l-value.
type Base struct {
	Kind BaseKind
	Name string
	R    Range
}

// ID returns a stable identifier for the base variable, usable as an environment key.
func (b Base) ID() string {
	switch b.Kind {
	case BaseThis:
		return "this"
	case BaseGlobal:
		return "@" + b.Name
	default:
		return b.Name
	}
}

func (b Base) String() string {
	if b.Kind == BaseThis {
		return "this"
	}
	return b.Name
}

// OffsetKind enumerates the kinds of l-value offsets.
type OffsetKind int

const (
	// ODot is a field access by name, x.a
	ODot OffsetKind = iota
	// OStr is an index by constant string key, x["a"]
	OStr
	// OInt is an index by constant integer, x[0]
	OInt
	// OAny is an index by a computed expression; the analysis is not index sensitive
	OAny
	// OFun is a method reference on a typed field; taints of method calls are handled at call sites
	OFun
)

// An Offset is a single step of an l-value access path.
type Offset struct {
	Kind OffsetKind

	// Name is the field name for ODot, the key for OStr, the method name for OFun
	Name string

	// Index is the constant index for OInt
	Index int

	// Expr is the computed index expression for OAny, when the frontend kept it
	Expr *Expr

	// R is the range of the l-value prefix ending at this offset
	R Range
}

func (o Offset) String() string {
	switch o.Kind {
	case ODot:
		return "." + o.Name
	case OStr:
		return "[" + strconv.Quote(o.Name) + "]"
	case OInt:
		return "[" + strconv.Itoa(o.Index) + "]"
	case OFun:
		return "." + o.Name + "()"
	default:
		return "[*]"
	}
}

// Key returns the comparable form of the offset used in shapes and environments. The computed
// index expression of an OAny does not participate in identity.
func (o Offset) Key() OffsetKey {
	switch o.Kind {
	case ODot, OStr, OFun:
		return OffsetKey{Kind: o.Kind, Name: o.Name}
	case OInt:
		return OffsetKey{Kind: o.Kind, Index: o.Index}
	default:
		return OffsetKey{Kind: OAny}
	}
}

// SameStep returns true when the two offsets denote the same access step.
func (o Offset) SameStep(p Offset) bool {
	return o.Key() == p.Key()
}

// An OffsetKey is the comparable identity of an offset.
type OffsetKey struct {
	Kind  OffsetKind
	Name  string
	Index int
}

func (k OffsetKey) String() string {
	return Offset{Kind: k.Kind, Name: k.Name, Index: k.Index}.String()
}

// An Lval is an addressable storage path: a base and a sequence of offsets.
type Lval struct {
	Base   Base
	Offset []Offset

	// R is the range of the full l-value
	R Range
}

// NewVarLval builds an l-value rooted at a local variable.
func NewVarLval(name string, offsets ...Offset) *Lval {
	return &Lval{Base: Base{Kind: BaseVar, Name: name}, Offset: offsets}
}

// NewThisLval builds an l-value rooted at the method receiver.
func NewThisLval(offsets ...Offset) *Lval {
	return &Lval{Base: Base{Kind: BaseThis}, Offset: offsets}
}

// NewGlobalLval builds an l-value rooted at a global variable.
func NewGlobalLval(name string, offsets ...Offset) *Lval {
	return &Lval{Base: Base{Kind: BaseGlobal, Name: name}, Offset: offsets}
}

// Dot returns a field offset.
func Dot(name string) Offset { return Offset{Kind: ODot, Name: name} }

// StrIndex returns a constant string key offset.
func StrIndex(key string) Offset { return Offset{Kind: OStr, Name: key} }

// IntIndex returns a constant integer index offset.
func IntIndex(i int) Offset { return Offset{Kind: OInt, Index: i} }

// AnyIndex returns a computed index offset; e may be nil when the index expression was dropped.
func AnyIndex(e *Expr) Offset { return Offset{Kind: OAny, Expr: e} }

// FunOff returns a method reference offset.
func FunOff(name string) Offset { return Offset{Kind: OFun, Name: name} }

// Prefix returns the l-value truncated to its first n offsets. n must be between 0 and
// len(lv.Offset). The prefix range is the range recorded on the last kept offset.
func (lv *Lval) Prefix(n int) *Lval {
	p := &Lval{Base: lv.Base, Offset: lv.Offset[:n]}
	if n == 0 {
		p.R = lv.Base.R
	} else {
		p.R = Range{Start: lv.Base.R.Start, End: lv.Offset[n-1].R.End}
	}
	return p
}

func (lv *Lval) String() string {
	var sb strings.Builder
	sb.WriteString(lv.Base.String())
	for _, o := range lv.Offset {
		sb.WriteString(o.String())
	}
	return sb.String()
}

// ID returns a stable identifier for the full l-value path.
func (lv *Lval) ID() string {
	var sb strings.Builder
	sb.WriteString(lv.Base.ID())
	for _, o := range lv.Offset {
		sb.WriteString(o.Key().String())
	}
	return sb.String()
}

// Fetch wraps the l-value in a fetch expression.
func Fetch(lv *Lval) *Expr { return &Expr{Kind: EFetch, Lval: lv} }

// Lit builds a literal expression.
func Lit(text string) *Expr { return &Expr{Kind: ELiteral, Lit: text} }

// OpExpr builds an operator application.
func OpExpr(op string, args ...*Expr) *Expr { return &Expr{Kind: EOp, Op: op, Args: args} }

// RecordExpr builds a record literal.
func RecordExpr(fields ...Field) *Expr { return &Expr{Kind: ERecord, Fields: fields} }

// TupleExpr builds a tuple literal.
func TupleExpr(elems ...*Expr) *Expr { return &Expr{Kind: ETuple, Args: elems} }

// CastExpr builds a cast of e.
func CastExpr(e *Expr) *Expr { return &Expr{Kind: ECast, Args: []*Expr{e}} }

// AnonFunc builds an anonymous function literal.
func AnonFunc() *Expr { return &Expr{Kind: EAnonFunc} }

// Typed sets the coarse type of the expression and returns it, for use in builders.
func (e *Expr) Typed(t ValueType) *Expr {
	e.Type = t
	return e
}
