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

package taint

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/seqsec/iltaint/internal/funcutil"
)

// ReqKind enumerates the connectives of the label formula algebra.
type ReqKind int

const (
	// ReqLabel is a single label leaf
	ReqLabel ReqKind = iota
	// ReqAnd is a conjunction
	ReqAnd
	// ReqOr is a disjunction
	ReqOr
	// ReqNot is a negation
	ReqNot
)

// A Requires is a boolean formula over taint labels. Sinks, sources and propagators restrict
// their applicability with such formulas; they are evaluated lazily against the labels of the
// taints that reach them.
type Requires struct {
	Kind  ReqKind
	Label string
	Args  []*Requires
}

// ReqL returns a label leaf.
func ReqL(label string) *Requires { return &Requires{Kind: ReqLabel, Label: label} }

// ReqAndOf returns the conjunction of the arguments.
func ReqAndOf(args ...*Requires) *Requires { return &Requires{Kind: ReqAnd, Args: args} }

// ReqOrOf returns the disjunction of the arguments.
func ReqOrOf(args ...*Requires) *Requires { return &Requires{Kind: ReqOr, Args: args} }

// ReqNotOf returns the negation of the argument.
func ReqNotOf(a *Requires) *Requires { return &Requires{Kind: ReqNot, Args: []*Requires{a}} }

func (r *Requires) String() string {
	if r == nil {
		return "true"
	}
	switch r.Kind {
	case ReqLabel:
		return r.Label
	case ReqNot:
		return "not " + parenthesize(r.Args[0], true)
	case ReqAnd, ReqOr:
		word := " and "
		if r.Kind == ReqOr {
			word = " or "
		}
		parts := funcutil.Map(r.Args, func(a *Requires) string { return parenthesize(a, a.Kind != ReqLabel) })
		return strings.Join(parts, word)
	}
	return "?"
}

func parenthesize(r *Requires, wrap bool) string {
	if wrap && r.Kind != ReqLabel {
		return "(" + r.String() + ")"
	}
	return r.String()
}

// Eval evaluates the formula with three-valued logic. The has callback reports whether a label
// is present (Some true/false) or undecidable at this point (None); undecidability propagates
// through the connectives the Kleene way.
func (r *Requires) Eval(has func(label string) funcutil.Optional[bool]) funcutil.Optional[bool] {
	if r == nil {
		return funcutil.Some(true)
	}
	switch r.Kind {
	case ReqLabel:
		return has(r.Label)
	case ReqNot:
		return funcutil.MapOption(r.Args[0].Eval(has), func(b bool) bool { return !b })
	case ReqAnd:
		sawUnknown := false
		for _, a := range r.Args {
			v := a.Eval(has)
			if v.IsNone() {
				sawUnknown = true
			} else if !v.Value() {
				return funcutil.Some(false)
			}
		}
		if sawUnknown {
			return funcutil.None[bool]()
		}
		return funcutil.Some(true)
	case ReqOr:
		sawUnknown := false
		for _, a := range r.Args {
			v := a.Eval(has)
			if v.IsNone() {
				sawUnknown = true
			} else if v.Value() {
				return funcutil.Some(true)
			}
		}
		if sawUnknown {
			return funcutil.None[bool]()
		}
		return funcutil.Some(false)
	}
	return funcutil.None[bool]()
}

// ParseRequires parses a label formula: identifiers combined with "and", "or", "not" and
// parentheses. The empty string parses to nil, i.e. the always-true formula.
func ParseRequires(s string) (*Requires, error) {
	toks := tokenizeRequires(s)
	if len(toks) == 0 {
		return nil, nil
	}
	p := &reqParser{toks: toks}
	r, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("requires %q: trailing input at %q", s, p.toks[p.pos])
	}
	return r, nil
}

func tokenizeRequires(s string) []string {
	var toks []string
	i := 0
	for i < len(s) {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		default:
			j := i
			for j < len(s) && s[j] != '(' && s[j] != ')' && !unicode.IsSpace(rune(s[j])) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}

type reqParser struct {
	toks []string
	pos  int
}

func (p *reqParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *reqParser) parseOr() (*Requires, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	args := []*Requires{left}
	for p.peek() == "or" {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		args = append(args, right)
	}
	if len(args) == 1 {
		return left, nil
	}
	return ReqOrOf(args...), nil
}

func (p *reqParser) parseAnd() (*Requires, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	args := []*Requires{left}
	for p.peek() == "and" {
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		args = append(args, right)
	}
	if len(args) == 1 {
		return left, nil
	}
	return ReqAndOf(args...), nil
}

func (p *reqParser) parseUnary() (*Requires, error) {
	switch tok := p.peek(); tok {
	case "not":
		p.pos++
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ReqNotOf(arg), nil
	case "(":
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	case "", ")", "and", "or":
		return nil, fmt.Errorf("unexpected token %q", tok)
	default:
		p.pos++
		return ReqL(tok), nil
	}
}
