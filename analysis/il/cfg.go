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
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// NodeKind enumerates the kinds of CFG nodes.
type NodeKind int

const (
	// NEnter is the unique function entry node
	NEnter NodeKind = iota
	// NExit is the unique function exit node
	NExit
	// NInstr wraps a single instruction
	NInstr
	// NCond is a branching condition; its expression guards the successors
	NCond
	// NReturn returns an expression from the function
	NReturn
	// NThrow raises an exception
	NThrow
	// NLambda introduces the parameters of a nested function body
	NLambda
	// NJoin is a control-flow merge point
	NJoin
	// NGoto is an unconditional jump
	NGoto
	// NOther is any other node with no dataflow effect
	NOther
)

// A Node is a CFG node. It implements gonum's graph.Node.
type Node struct {
	id   int64
	Kind NodeKind

	// Instr is the wrapped instruction for NInstr
	Instr *Instr

	// Expr is the condition for NCond, the raised value for NThrow and the returned value for
	// NReturn (nil for a bare return)
	Expr *Expr

	// Params are the parameters introduced by an NLambda node
	Params []*Lval

	// Tok is the token of the node, e.g. the return keyword for NReturn
	Tok Loc

	// R is the syntactic range of the node
	R Range
}

// ID implements gonum's graph.Node.
func (n *Node) ID() int64 { return n.id }

func (n *Node) String() string {
	switch n.Kind {
	case NEnter:
		return "enter"
	case NExit:
		return "exit"
	case NInstr:
		return n.Instr.String()
	case NCond:
		return "cond " + n.Expr.String()
	case NReturn:
		if n.Expr == nil {
			return "return"
		}
		return "return " + n.Expr.String()
	case NThrow:
		return "throw " + n.Expr.String()
	case NLambda:
		return "lambda"
	case NJoin:
		return "join"
	case NGoto:
		return "goto"
	default:
		return "node"
	}
}

// A CFG is the control-flow graph of one function. Nodes are added through the New* methods and
// connected with AddEdge; the enter and exit nodes exist from construction.
type CFG struct {
	// FuncName is the name of the function this graph belongs to
	FuncName string

	// Params are the function parameters, in declaration order
	Params []string

	g     *simple.DirectedGraph
	nodes []*Node
	byID  map[int64]*Node
	enter *Node
	exit  *Node

	// gonum's simple graphs reject self-edges, which a one-node loop produces; they are kept here
	selfLoop map[int64]bool
}

// NewCFG returns a graph containing only the enter and exit nodes.
func NewCFG(funcName string, params ...string) *CFG {
	c := &CFG{
		FuncName: funcName,
		Params:   params,
		g:        simple.NewDirectedGraph(),
		byID:     map[int64]*Node{},
		selfLoop: map[int64]bool{},
	}
	c.enter = c.addNode(&Node{Kind: NEnter})
	c.exit = c.addNode(&Node{Kind: NExit})
	return c
}

func (c *CFG) addNode(n *Node) *Node {
	n.id = int64(len(c.nodes))
	c.nodes = append(c.nodes, n)
	c.byID[n.id] = n
	c.g.AddNode(n)
	return n
}

// NewInstrNode adds a node wrapping the instruction.
func (c *CFG) NewInstrNode(i *Instr) *Node {
	return c.addNode(&Node{Kind: NInstr, Instr: i})
}

// NewCondNode adds a branching node guarded by e.
func (c *CFG) NewCondNode(e *Expr) *Node {
	return c.addNode(&Node{Kind: NCond, Expr: e})
}

// NewReturnNode adds a return node; e may be nil for a bare return.
func (c *CFG) NewReturnNode(e *Expr) *Node {
	return c.addNode(&Node{Kind: NReturn, Expr: e})
}

// NewThrowNode adds a throw node raising e.
func (c *CFG) NewThrowNode(e *Expr) *Node {
	return c.addNode(&Node{Kind: NThrow, Expr: e})
}

// NewLambdaNode adds a lambda parameter introduction node.
func (c *CFG) NewLambdaNode(params ...*Lval) *Node {
	return c.addNode(&Node{Kind: NLambda, Params: params})
}

// NewJoinNode adds a merge node.
func (c *CFG) NewJoinNode() *Node {
	return c.addNode(&Node{Kind: NJoin})
}

// NewOtherNode adds a node with no dataflow effect.
func (c *CFG) NewOtherNode() *Node {
	return c.addNode(&Node{Kind: NOther})
}

// AddEdge adds a directed control-flow edge from a to b.
func (c *CFG) AddEdge(a *Node, b *Node) {
	if a.id == b.id {
		c.selfLoop[a.id] = true
		return
	}
	c.g.SetEdge(simple.Edge{F: a, T: b})
}

// Seq links the nodes in sequence and returns the last one.
func (c *CFG) Seq(nodes ...*Node) *Node {
	for i := 0; i+1 < len(nodes); i++ {
		c.AddEdge(nodes[i], nodes[i+1])
	}
	return nodes[len(nodes)-1]
}

// Enter returns the entry node.
func (c *CFG) Enter() *Node { return c.enter }

// Exit returns the exit node.
func (c *CFG) Exit() *Node { return c.exit }

// Nodes returns all nodes in insertion order.
func (c *CFG) Nodes() []*Node {
	out := make([]*Node, len(c.nodes))
	copy(out, c.nodes)
	return out
}

// NumNodes returns the order of the graph.
func (c *CFG) NumNodes() int { return len(c.nodes) }

// Succs returns the successors of n, ordered by node id; n itself comes last when it has a
// self edge.
func (c *CFG) Succs(n *Node) []*Node {
	out := c.neighbors(c.g.From(n.id))
	if c.selfLoop[n.id] {
		out = append(out, n)
	}
	return out
}

// Preds returns the predecessors of n, ordered by node id; n itself comes last when it has a
// self edge.
func (c *CFG) Preds(n *Node) []*Node {
	out := c.neighbors(c.g.To(n.id))
	if c.selfLoop[n.id] {
		out = append(out, n)
	}
	return out
}

func (c *CFG) neighbors(it graph.Nodes) []*Node {
	var out []*Node
	for it.Next() {
		out = append(out, c.byID[it.Node().ID()])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
