package lang

import (
	"strconv"

	"github.com/shopspring/decimal"

	"gocell/internal/value"
)

// parser is a recursive-descent parser over a token slice.
type parser struct {
	toks []Token
	pos  int
	at   Coord
}

func newParser(src string, at Coord, base int) (*parser, error) {
	toks, err := Lex(src, at, base)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks, at: at}, nil
}

func parseExpr(src string, at Coord, base int) (Node, error) {
	p, err := newParser(src, at, base)
	if err != nil {
		return nil, err
	}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) peekAt(off int) Token {
	if p.pos+off >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+off]
}

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Kind != TokEOF {
		p.pos++
	}
	return t
}

func (p *parser) peekOp(op string) bool {
	t := p.peek()
	return t.Kind == TokOp && t.Text == op
}

func (p *parser) acceptOp(op string) bool {
	if p.peekOp(op) {
		p.pos++
		return true
	}
	return false
}

// acceptWord consumes an identifier spelled w.
func (p *parser) acceptWord(w string) bool {
	t := p.peek()
	if t.Kind == TokIdent && t.Text == w {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	if !p.acceptOp(op) {
		return p.errorf("expected %q, found %s", op, describe(p.peek()))
	}
	return nil
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.Kind != TokEOF {
		return p.errorf("unexpected %s", describe(t))
	}
	return nil
}

func (p *parser) ident() (string, error) {
	t := p.peek()
	if t.Kind != TokIdent {
		return "", p.errorf("expected a name, found %s", describe(t))
	}
	p.pos++
	return t.Text, nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return errorf(p.at, p.peek().Pos, format, args...)
}

func describe(t Token) string {
	switch t.Kind {
	case TokEOF:
		return "end of text"
	case TokString:
		return strconv.Quote(t.Text)
	}
	return "'" + t.Text + "'"
}

func (p *parser) expr() (Node, error) { return p.or() }

func (p *parser) or() (Node, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") || p.acceptWord("or") {
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "or", L: l, R: r}
	}
	return l, nil
}

func (p *parser) and() (Node, error) {
	l, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") || p.acceptWord("and") {
		r, err := p.not()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "and", L: l, R: r}
	}
	return l, nil
}

func (p *parser) not() (Node, error) {
	if p.acceptOp("!") || p.acceptWord("not") {
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "not", X: x}, nil
	}
	return p.comparison()
}

var comparisons = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) comparison() (Node, error) {
	l, err := p.rangeExpr()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.Kind == TokOp && comparisons[t.Text]; t = p.peek() {
		p.pos++
		r, err := p.rangeExpr()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: t.Text, L: l, R: r}
	}
	return l, nil
}

func (p *parser) rangeExpr() (Node, error) {
	lo, err := p.additive()
	if err != nil {
		return nil, err
	}
	if !p.acceptOp("..") {
		return lo, nil
	}
	hi, err := p.additive()
	if err != nil {
		return nil, err
	}
	return &Range{Lo: lo, Hi: hi}, nil
}

func (p *parser) additive() (Node, error) {
	l, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.Kind == TokOp && (t.Text == "+" || t.Text == "-"); t = p.peek() {
		p.pos++
		r, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: t.Text, L: l, R: r}
	}
	return l, nil
}

func (p *parser) multiplicative() (Node, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.Kind == TokOp && (t.Text == "*" || t.Text == "/" || t.Text == "\\" || t.Text == "%"); t = p.peek() {
		p.pos++
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: t.Text, L: l, R: r}
	}
	return l, nil
}

func (p *parser) unary() (Node, error) {
	if t := p.peek(); t.Kind == TokOp && (t.Text == "-" || t.Text == "+") {
		p.pos++
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		// Fold negative numeric literals so "-1" is a constant.
		if lit, ok := x.(*Literal); ok && t.Text == "-" && lit.Val.IsNumeric() {
			v, err := value.Neg(lit.Val)
			if err == nil {
				return &Literal{Val: v}, nil
			}
		}
		if t.Text == "+" {
			return x, nil
		}
		return &Unary{Op: "-", X: x}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (Node, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOp("."):
			name, err := p.ident()
			if err != nil {
				return nil, err
			}
			o, err := p.options()
			if err != nil {
				return nil, err
			}
			if !p.peekOp("(") {
				if o != "" {
					return nil, p.errorf("options need a call")
				}
				x = &FieldRef{Recv: x, Name: name}
				continue
			}
			p.pos++
			as, err := p.args(")")
			if err != nil {
				return nil, err
			}
			x = &Method{Recv: x, Name: name, Opts: o, Args: as}
		case p.acceptOp("["):
			i, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			x = &Index{X: x, I: i}
		default:
			return x, nil
		}
	}
}

// options reads an optional "@letters" suffix. Digit options such as join@1 are allowed.
func (p *parser) options() (string, error) {
	if !p.peekOp("@") {
		return "", nil
	}
	switch p.peekAt(1).Kind {
	case TokIdent:
		p.pos++
		return p.ident()
	case TokInt:
		p.pos++
		return p.next().Text, nil
	}
	return "", nil
}

// args reads comma-separated arguments up to the closing token, which it consumes.
func (p *parser) args(closing string) ([]Arg, error) {
	var out []Arg
	if p.acceptOp(closing) {
		return out, nil
	}
	for {
		var a Arg
		if t := p.peek(); t.Kind == TokIdent && p.peekAt(1).Kind == TokOp && p.peekAt(1).Text == "=" {
			a.Name = t.Text
			p.pos += 2
		}
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		a.X = x
		out = append(out, a)
		if p.acceptOp(closing) {
			return out, nil
		}
		if err := p.expectOp(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) primary() (Node, error) {
	t := p.peek()
	switch t.Kind {
	case TokInt:
		p.pos++
		i, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, errorf(p.at, t.Pos, "integer %s out of range", t.Text)
		}
		return &Literal{Val: value.Int(i)}, nil
	case TokFloat:
		p.pos++
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, errorf(p.at, t.Pos, "invalid number %s", t.Text)
		}
		return &Literal{Val: value.Float(f)}, nil
	case TokDecimal:
		p.pos++
		d, err := decimal.NewFromString(t.Text)
		if err != nil {
			return nil, errorf(p.at, t.Pos, "invalid decimal %s", t.Text)
		}
		return &Literal{Val: value.Decimal(d)}, nil
	case TokString:
		p.pos++
		return &Literal{Val: value.Str(t.Text)}, nil
	case TokIdent:
		return p.name()
	case TokEOF:
		return nil, p.errorf("unexpected end of text")
	}

	switch t.Text {
	case "(":
		p.pos++
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return x, nil
	case "[":
		p.pos++
		as, err := p.args("]")
		if err != nil {
			return nil, err
		}
		items := make([]Node, len(as))
		for i, a := range as {
			if a.Name != "" {
				return nil, errorf(p.at, t.Pos, "named item in sequence literal")
			}
			items[i] = a.X
		}
		return &SeqLit{Items: items}, nil
	case "{":
		p.pos++
		return p.record()
	case "~":
		p.pos++
		return &Elem{}, nil
	case "~~":
		p.pos++
		return &Acc{}, nil
	case "#":
		p.pos++
		return &PosRef{}, nil
	case "@":
		return p.relative()
	}
	return nil, p.errorf("unexpected %s", describe(t))
}

// name parses identifiers, keywords, cell names and function calls.
func (p *parser) name() (Node, error) {
	t := p.next()
	switch t.Text {
	case "true":
		return &Literal{Val: value.Bool(true)}, nil
	case "false":
		return &Literal{Val: value.Bool(false)}, nil
	case "null":
		return &Literal{Val: value.Null()}, nil
	}
	o, err := p.options()
	if err != nil {
		return nil, err
	}
	if p.acceptOp("(") {
		as, err := p.args(")")
		if err != nil {
			return nil, err
		}
		return &Call{Name: t.Text, Opts: o, Args: as}, nil
	}
	if o != "" {
		return nil, p.errorf("options need a call")
	}
	if isCellName(t.Text) {
		c, err := ParseCoord(t.Text)
		if err != nil {
			return nil, errorf(p.at, t.Pos, "%v", err)
		}
		return &CellRef{Target: c}, nil
	}
	return &Ident{Name: t.Text}, nil
}

// relative parses @(dr, dc), a reference relative to the current cell.
func (p *parser) relative() (Node, error) {
	start := p.next()
	if !p.acceptOp("(") {
		return nil, p.errorf("expected '(' after '@'")
	}
	dr, err := p.signedInt()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(","); err != nil {
		return nil, err
	}
	dc, err := p.signedInt()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	c := Coord{Row: p.at.Row + dr, Col: p.at.Col + dc}
	if !c.Valid() {
		return nil, errorf(p.at, start.Pos, "relative reference leaves the grid")
	}
	return &CellRef{Target: c}, nil
}

func (p *parser) signedInt() (int, error) {
	neg := p.acceptOp("-")
	if !neg {
		p.acceptOp("+")
	}
	t := p.peek()
	if t.Kind != TokInt {
		return 0, p.errorf("expected an integer offset, found %s", describe(t))
	}
	p.pos++
	n, err := strconv.Atoi(t.Text)
	if err != nil {
		return 0, errorf(p.at, t.Pos, "offset %s out of range", t.Text)
	}
	if neg {
		n = -n
	}
	return n, nil
}

func (p *parser) record() (Node, error) {
	rec := &RecLit{}
	if p.acceptOp("}") {
		return rec, nil
	}
	seen := map[string]bool{}
	for {
		t := p.peek()
		var key string
		switch t.Kind {
		case TokIdent, TokString:
			key = t.Text
			p.pos++
		default:
			return nil, p.errorf("expected a field name, found %s", describe(t))
		}
		if seen[key] {
			return nil, errorf(p.at, t.Pos, "duplicate field %q", key)
		}
		seen[key] = true
		if err := p.expectOp(":"); err != nil {
			return nil, err
		}
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		rec.Keys = append(rec.Keys, key)
		rec.Vals = append(rec.Vals, v)
		if p.acceptOp("}") {
			return rec, nil
		}
		if err := p.expectOp(","); err != nil {
			return nil, err
		}
	}
}
