package lang

import (
	"strconv"
	"strings"

	"gocell/internal/value"
)

// Node is an expression tree node. Nodes are immutable once parsed. String renders a
// canonical form: structurally equal trees print identically.
type Node interface {
	String() string
	node()
}

type (
	// Literal is a constant value.
	Literal struct {
		Val value.Value
	}

	// Ident names a variable, parameter or field of the current record.
	Ident struct {
		Name string
	}

	// CellRef is a reference to another cell, resolved to its coordinate at parse time.
	CellRef struct {
		Target Coord
	}

	// Elem is "~", the current element of a member expression.
	Elem struct{}

	// Acc is "~~", the accumulator of iterate.
	Acc struct{}

	// PosRef is "#", the 1-based position of the current element.
	PosRef struct{}

	Unary struct {
		Op string
		X  Node
	}

	Binary struct {
		Op   string
		L, R Node
	}

	// Range is "lo..hi", an inclusive integer sequence.
	Range struct {
		Lo, Hi Node
	}

	// Call is a function call name@opts(args).
	Call struct {
		Name string
		Opts string
		Args []Arg
	}

	// Method is a member call recv.name@opts(args).
	Method struct {
		Recv Node
		Name string
		Opts string
		Args []Arg
	}

	// FieldRef is recv.name.
	FieldRef struct {
		Recv Node
		Name string
	}

	// Index is x[i], 1-based.
	Index struct {
		X, I Node
	}

	// SeqLit is [a, b, ...].
	SeqLit struct {
		Items []Node
	}

	// RecLit is {k: v, ...}.
	RecLit struct {
		Keys []string
		Vals []Node
	}
)

// Arg is one call argument. Name is set for named arguments (name=expr).
type Arg struct {
	Name string
	X    Node
}

func (*Literal) node()  {}
func (*Ident) node()    {}
func (*CellRef) node()  {}
func (*Elem) node()     {}
func (*Acc) node()      {}
func (*PosRef) node()   {}
func (*Unary) node()    {}
func (*Binary) node()   {}
func (*Range) node()    {}
func (*Call) node()     {}
func (*Method) node()   {}
func (*FieldRef) node() {}
func (*Index) node()    {}
func (*SeqLit) node()   {}
func (*RecLit) node()   {}

func (n *Literal) String() string {
	if n.Val.Kind == value.KindString {
		return strconv.Quote(n.Val.S)
	}
	if n.Val.Kind == value.KindDecimal {
		return n.Val.Dec.String() + "m"
	}
	return n.Val.String()
}

func (n *Ident) String() string   { return n.Name }
func (n *CellRef) String() string { return n.Target.String() }
func (*Elem) String() string      { return "~" }
func (*Acc) String() string       { return "~~" }
func (*PosRef) String() string    { return "#" }

func (n *Unary) String() string {
	if n.Op == "not" {
		return "(not " + n.X.String() + ")"
	}
	return "(" + n.Op + n.X.String() + ")"
}

func (n *Binary) String() string {
	return "(" + n.L.String() + " " + n.Op + " " + n.R.String() + ")"
}

func (n *Range) String() string { return "(" + n.Lo.String() + ".." + n.Hi.String() + ")" }

func (n *Call) String() string {
	return n.Name + opts(n.Opts) + args(n.Args)
}

func (n *Method) String() string {
	return n.Recv.String() + "." + n.Name + opts(n.Opts) + args(n.Args)
}

func (n *FieldRef) String() string { return n.Recv.String() + "." + n.Name }
func (n *Index) String() string    { return n.X.String() + "[" + n.I.String() + "]" }

func (n *SeqLit) String() string {
	parts := make([]string, len(n.Items))
	for i, it := range n.Items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (n *RecLit) String() string {
	parts := make([]string, len(n.Keys))
	for i, k := range n.Keys {
		parts[i] = k + ": " + n.Vals[i].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (a Arg) String() string {
	if a.Name != "" {
		return a.Name + "=" + a.X.String()
	}
	return a.X.String()
}

func opts(o string) string {
	if o == "" {
		return ""
	}
	return "@" + o
}

func args(as []Arg) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Walk calls fn for n and every node below it in depth-first order. Returning false from fn
// skips the children of that node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *Unary:
		Walk(n.X, fn)
	case *Binary:
		Walk(n.L, fn)
		Walk(n.R, fn)
	case *Range:
		Walk(n.Lo, fn)
		Walk(n.Hi, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a.X, fn)
		}
	case *Method:
		Walk(n.Recv, fn)
		for _, a := range n.Args {
			Walk(a.X, fn)
		}
	case *FieldRef:
		Walk(n.Recv, fn)
	case *Index:
		Walk(n.X, fn)
		Walk(n.I, fn)
	case *SeqLit:
		for _, it := range n.Items {
			Walk(it, fn)
		}
	case *RecLit:
		for _, v := range n.Vals {
			Walk(v, fn)
		}
	}
}

// CellRefs returns the distinct cells referenced by n in first-seen order.
func CellRefs(n Node) []Coord {
	var out []Coord
	seen := map[Coord]bool{}
	Walk(n, func(x Node) bool {
		if r, ok := x.(*CellRef); ok && !seen[r.Target] {
			seen[r.Target] = true
			out = append(out, r.Target)
		}
		return true
	})
	return out
}
