package eval

import (
	"strconv"
	"strings"

	"gocell/internal/algebra"
	"gocell/internal/lang"
	"gocell/internal/value"
)

// call is one function or method invocation. For a method the receiver is positional
// argument 0, so x.f(a) and f(x, a) reach the same function the same way.
type call struct {
	e    *evaluator
	env  Env
	name string
	opts string
	args []lang.Arg
	recv *value.Value
}

// builtin implements a function. Arguments are evaluated on demand so that member
// expressions and lazy branches see their own scope.
type builtin func(c *call) (value.Value, error)

var builtins map[string]builtin

func init() {
	builtins = make(map[string]builtin)
	for _, group := range []map[string]builtin{collectionFuncs, mathFuncs, stringFuncs, dateFuncs, miscFuncs} {
		for name, fn := range group {
			builtins[name] = fn
		}
	}
}

func (e *evaluator) call(c *call) (value.Value, error) {
	fn, ok := builtins[c.name]
	if !ok {
		return value.Null(), errorf(UnknownName, "unknown function %s", c.name)
	}
	return fn(c)
}

// positional returns the unnamed argument nodes. The receiver is not among them.
func (c *call) positional() []lang.Node {
	var out []lang.Node
	for _, a := range c.args {
		if a.Name == "" {
			out = append(out, a.X)
		}
	}
	return out
}

// named returns the named arguments in source order.
func (c *call) named() []lang.Arg {
	var out []lang.Arg
	for _, a := range c.args {
		if a.Name != "" {
			out = append(out, a)
		}
	}
	return out
}

// namedArg returns the node of the named argument name.
func (c *call) namedArg(name string) (lang.Node, bool) {
	for _, a := range c.args {
		if a.Name == name {
			return a.X, true
		}
	}
	return nil, false
}

// n is the number of positional arguments including the receiver.
func (c *call) n() int {
	n := len(c.positional())
	if c.recv != nil {
		n++
	}
	return n
}

// node returns positional argument i as a node; the receiver has no node.
func (c *call) node(i int) lang.Node {
	if c.recv != nil {
		i--
	}
	pos := c.positional()
	if i < 0 || i >= len(pos) {
		return nil
	}
	return pos[i]
}

// arg evaluates positional argument i. Missing arguments are null.
func (c *call) arg(i int) (value.Value, error) {
	if c.recv != nil && i == 0 {
		return *c.recv, nil
	}
	n := c.node(i)
	if n == nil {
		return value.Null(), nil
	}
	return c.e.eval(c.env, n)
}

// all evaluates every positional argument.
func (c *call) all() ([]value.Value, error) {
	out := make([]value.Value, c.n())
	for i := range out {
		v, err := c.arg(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// arity checks the positional argument count.
func (c *call) arity(min, max int) error {
	n := c.n()
	if n < min || (max >= 0 && n > max) {
		switch {
		case min == max:
			return errorf(Arity, "%s takes %d arguments, got %d", c.name, min, n)
		case max < 0:
			return errorf(Arity, "%s takes at least %d arguments, got %d", c.name, min, n)
		}
		return errorf(Arity, "%s takes %d to %d arguments, got %d", c.name, min, max, n)
	}
	return nil
}

func (c *call) opt(o byte) bool { return strings.IndexByte(c.opts, o) >= 0 }

// flag reads a boolean named argument such as desc=true.
func (c *call) flag(name string) (bool, error) {
	x, ok := c.namedArg(name)
	if !ok {
		return false, nil
	}
	v, err := c.e.eval(c.env, x)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// member turns node x into a kernel function evaluated per element.
func (c *call) member(x lang.Node) algebra.Func {
	if x == nil {
		return nil
	}
	return func(elem value.Value, pos int) (value.Value, error) {
		return c.e.eval(member(c.env, elem, pos), x)
	}
}

// memberArg is member for positional argument i; nil when absent.
func (c *call) memberArg(i int) algebra.Func {
	return c.member(c.node(i))
}

// members returns kernel functions for positional arguments from i on.
func (c *call) members(from int) []algebra.Func {
	var out []algebra.Func
	for i := from; i < c.n(); i++ {
		out = append(out, c.memberArg(i))
	}
	return out
}

// fieldName names a column derived from x: an identifier or field reference keeps its name,
// anything else is called by position.
func fieldName(x lang.Node, pos int) string {
	switch x := x.(type) {
	case *lang.Ident:
		return x.Name
	case *lang.FieldRef:
		return x.Name
	case *lang.Literal:
		if x.Val.Kind == value.KindString {
			return x.Val.S
		}
	}
	return "_" + strconv.Itoa(pos)
}

// nameArg reads a field name given as a bare identifier, a string literal or an expression
// yielding a string.
func (c *call) nameArg(i int) (string, error) {
	switch x := c.node(i).(type) {
	case *lang.Ident:
		return x.Name, nil
	case nil:
		return "", errorf(Arity, "%s: missing field name", c.name)
	}
	v, err := c.arg(i)
	if err != nil {
		return "", err
	}
	if v.Kind != value.KindString {
		return "", errorf(TypeMismatch, "%s: field name must be a string, got %s", c.name, v.Kind)
	}
	return v.S, nil
}

func (c *call) intArg(i int, def int64) (int64, error) {
	if i >= c.n() {
		return def, nil
	}
	v, err := c.arg(i)
	if err != nil {
		return 0, err
	}
	if v.IsNull() {
		return def, nil
	}
	n, ok := v.AsInt()
	if !ok {
		return 0, errorf(TypeMismatch, "%s: argument %d must be an integer, got %s", c.name, i+1, v.Kind)
	}
	return n, nil
}

func (c *call) stringArg(i int) (string, bool, error) {
	v, err := c.arg(i)
	if err != nil {
		return "", false, err
	}
	switch v.Kind {
	case value.KindNull:
		return "", false, nil
	case value.KindString:
		return v.S, true, nil
	}
	return "", false, errorf(TypeMismatch, "%s: argument %d must be a string, got %s", c.name, i+1, v.Kind)
}
