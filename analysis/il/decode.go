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
	"encoding/json"
	"fmt"
	"strconv"
)

// This file implements the serialized program form used by the CLI and the test fixtures.
// It is a convenience frontend, not a faithful lowering of any particular language.

// A ProgramDef is the serialized form of a set of functions.
type ProgramDef struct {
	Funcs []*FuncDef `json:"funcs"`
}

// A FuncDef is the serialized form of one function body.
type FuncDef struct {
	Name   string     `json:"name"`
	Params []string   `json:"params,omitempty"`
	Nodes  []*NodeDef `json:"nodes"`

	// Edges are pairs of node ids; "enter" and "exit" are reserved ids
	Edges [][2]string `json:"edges"`
}

// A NodeDef is the serialized form of a CFG node. The default id of a node is its index in the
// function's node list, as a decimal string.
type NodeDef struct {
	ID     string    `json:"id,omitempty"`
	Kind   string    `json:"kind"`
	Instr  *InstrDef `json:"instr,omitempty"`
	Expr   *ExprDef  `json:"expr,omitempty"`
	Params []string  `json:"params,omitempty"`
}

// An InstrDef is the serialized form of an instruction.
type InstrDef struct {
	Kind    string     `json:"kind"`
	Lval    *LvalDef   `json:"lval,omitempty"`
	Rhs     *ExprDef   `json:"rhs,omitempty"`
	Callee  *ExprDef   `json:"callee,omitempty"`
	Args    []*ExprDef `json:"args,omitempty"`
	Ty      string     `json:"ty,omitempty"`
	Special string     `json:"special,omitempty"`
}

// An ExprDef is the serialized form of an expression. Exactly one of the shorthand fields should
// be set; Kind disambiguates the remaining forms ("tuple", "cast", "anon").
type ExprDef struct {
	Kind   string      `json:"kind,omitempty"`
	Lit    *string     `json:"lit,omitempty"`
	Var    string      `json:"var,omitempty"`
	Lval   *LvalDef    `json:"lval,omitempty"`
	Op     string      `json:"op,omitempty"`
	Args   []*ExprDef  `json:"args,omitempty"`
	Fields []*FieldDef `json:"fields,omitempty"`
	Type   string      `json:"type,omitempty"`
}

// A FieldDef is a named field of a serialized record literal.
type FieldDef struct {
	Name string   `json:"name"`
	E    *ExprDef `json:"e"`
}

// An LvalDef is the serialized form of an l-value.
type LvalDef struct {
	Base    string       `json:"base,omitempty"`
	This    bool         `json:"this,omitempty"`
	Global  bool         `json:"global,omitempty"`
	Offsets []*OffsetDef `json:"offsets,omitempty"`
}

// An OffsetDef is the serialized form of one offset step.
type OffsetDef struct {
	Dot   string   `json:"dot,omitempty"`
	Str   string   `json:"str,omitempty"`
	Int   *int     `json:"int,omitempty"`
	Any   bool     `json:"any,omitempty"`
	Fun   string   `json:"fun,omitempty"`
	Index *ExprDef `json:"index,omitempty"`
}

// DecodeProgram decodes the serialized form into per-function CFGs with finalized ranges.
func DecodeProgram(data []byte) ([]*CFG, error) {
	var p ProgramDef
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("could not decode program: %w", err)
	}
	var flows []*CFG
	for _, f := range p.Funcs {
		flow, err := buildFunc(f)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", f.Name, err)
		}
		flows = append(flows, flow)
	}
	return flows, nil
}

func buildFunc(f *FuncDef) (*CFG, error) {
	flow := NewCFG(f.Name, f.Params...)
	byID := map[string]*Node{"enter": flow.Enter(), "exit": flow.Exit()}
	for i, nd := range f.Nodes {
		n, err := buildNode(flow, nd)
		if err != nil {
			return nil, err
		}
		id := nd.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate node id %q", id)
		}
		byID[id] = n
	}
	for _, e := range f.Edges {
		a, oka := byID[e[0]]
		b, okb := byID[e[1]]
		if !oka || !okb {
			return nil, fmt.Errorf("edge %v refers to an unknown node", e)
		}
		flow.AddEdge(a, b)
	}
	FinalizeRanges(flow)
	return flow, nil
}

func buildNode(flow *CFG, nd *NodeDef) (*Node, error) {
	switch nd.Kind {
	case "instr":
		instr, err := buildInstr(nd.Instr)
		if err != nil {
			return nil, err
		}
		return flow.NewInstrNode(instr), nil
	case "cond":
		e, err := buildExpr(nd.Expr)
		if err != nil {
			return nil, err
		}
		return flow.NewCondNode(e), nil
	case "return":
		var e *Expr
		if nd.Expr != nil {
			var err error
			if e, err = buildExpr(nd.Expr); err != nil {
				return nil, err
			}
		}
		return flow.NewReturnNode(e), nil
	case "throw":
		e, err := buildExpr(nd.Expr)
		if err != nil {
			return nil, err
		}
		return flow.NewThrowNode(e), nil
	case "lambda":
		var params []*Lval
		for _, p := range nd.Params {
			params = append(params, NewVarLval(p))
		}
		return flow.NewLambdaNode(params...), nil
	case "join":
		return flow.NewJoinNode(), nil
	case "goto", "other":
		return flow.NewOtherNode(), nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", nd.Kind)
	}
}

func buildInstr(id *InstrDef) (*Instr, error) {
	if id == nil {
		return nil, fmt.Errorf("instr node without instruction")
	}
	var lv *Lval
	if id.Lval != nil {
		var err error
		if lv, err = buildLval(id.Lval); err != nil {
			return nil, err
		}
	}
	args := make([]Arg, 0, len(id.Args))
	for _, a := range id.Args {
		e, err := buildExpr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, Arg{E: e})
	}
	switch id.Kind {
	case "assign":
		rhs, err := buildExpr(id.Rhs)
		if err != nil {
			return nil, err
		}
		return NewAssign(lv, rhs), nil
	case "assign-anon":
		return NewAssignAnon(lv), nil
	case "call":
		callee, err := buildExpr(id.Callee)
		if err != nil {
			return nil, err
		}
		return &Instr{Kind: ICall, Lval: lv, Callee: callee, Args: args}, nil
	case "new":
		var ctor *Expr
		if id.Callee != nil {
			var err error
			if ctor, err = buildExpr(id.Callee); err != nil {
				return nil, err
			}
		}
		return &Instr{Kind: INew, Lval: lv, Ty: id.Ty, Callee: ctor, Args: args}, nil
	case "call-special":
		return &Instr{Kind: ICallSpecial, Lval: lv, Special: id.Special, Args: args}, nil
	case "fixme":
		return &Instr{Kind: IFixme, Lval: lv, Args: args}, nil
	default:
		return nil, fmt.Errorf("unknown instruction kind %q", id.Kind)
	}
}

func buildExpr(ed *ExprDef) (*Expr, error) {
	if ed == nil {
		return nil, fmt.Errorf("missing expression")
	}
	e, err := buildExprAux(ed)
	if err != nil {
		return nil, err
	}
	switch ed.Type {
	case "bool":
		e.Type = TypeBool
	case "number":
		e.Type = TypeNumber
	case "string":
		e.Type = TypeString
	case "":
	default:
		return nil, fmt.Errorf("unknown value type %q", ed.Type)
	}
	return e, nil
}

func buildExprAux(ed *ExprDef) (*Expr, error) {
	switch {
	case ed.Lit != nil:
		return Lit(*ed.Lit), nil
	case ed.Var != "":
		return Fetch(NewVarLval(ed.Var)), nil
	case ed.Lval != nil:
		lv, err := buildLval(ed.Lval)
		if err != nil {
			return nil, err
		}
		return Fetch(lv), nil
	case ed.Op != "":
		args, err := buildExprs(ed.Args)
		if err != nil {
			return nil, err
		}
		return OpExpr(ed.Op, args...), nil
	case len(ed.Fields) > 0:
		var fields []Field
		for _, f := range ed.Fields {
			fe, err := buildExpr(f.E)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Name: f.Name, E: fe})
		}
		return RecordExpr(fields...), nil
	case ed.Kind == "tuple":
		args, err := buildExprs(ed.Args)
		if err != nil {
			return nil, err
		}
		return TupleExpr(args...), nil
	case ed.Kind == "cast":
		if len(ed.Args) != 1 {
			return nil, fmt.Errorf("cast takes exactly one operand")
		}
		inner, err := buildExpr(ed.Args[0])
		if err != nil {
			return nil, err
		}
		return CastExpr(inner), nil
	case ed.Kind == "anon":
		return AnonFunc(), nil
	default:
		return &Expr{Kind: EUnknown}, nil
	}
}

func buildExprs(eds []*ExprDef) ([]*Expr, error) {
	var out []*Expr
	for _, ed := range eds {
		e, err := buildExpr(ed)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func buildLval(ld *LvalDef) (*Lval, error) {
	var lv *Lval
	switch {
	case ld.This:
		lv = NewThisLval()
	case ld.Global:
		lv = NewGlobalLval(ld.Base)
	default:
		if ld.Base == "" {
			return nil, fmt.Errorf("l-value without a base")
		}
		lv = NewVarLval(ld.Base)
	}
	for _, od := range ld.Offsets {
		switch {
		case od.Dot != "":
			lv.Offset = append(lv.Offset, Dot(od.Dot))
		case od.Str != "":
			lv.Offset = append(lv.Offset, StrIndex(od.Str))
		case od.Int != nil:
			lv.Offset = append(lv.Offset, IntIndex(*od.Int))
		case od.Fun != "":
			lv.Offset = append(lv.Offset, FunOff(od.Fun))
		case od.Any || od.Index != nil:
			var idx *Expr
			if od.Index != nil {
				var err error
				if idx, err = buildExpr(od.Index); err != nil {
					return nil, err
				}
			}
			lv.Offset = append(lv.Offset, AnyIndex(idx))
		default:
			return nil, fmt.Errorf("empty offset")
		}
	}
	return lv, nil
}
