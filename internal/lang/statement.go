package lang

import (
	"strconv"
	"strings"
	"unicode"

	"gocell/internal/value"
)

// StmtKind is the directive kind of a cell.
type StmtKind int

const (
	StmtNone    StmtKind = iota // empty cell
	StmtComment                 // //...
	StmtConst                   // literal or raw string
	StmtExpr                    // =expr
	StmtExec                    // >expr
	StmtAssign                  // >x = expr, >A1 = expr
	StmtFor
	StmtEnd
	StmtIf
	StmtElse
	StmtBreak
	StmtNext
	StmtGoto
	StmtCall
	StmtReturn
	StmtFork
	StmtOnError
)

var stmtNames = [...]string{
	StmtNone:    "none",
	StmtComment: "comment",
	StmtConst:   "const",
	StmtExpr:    "expr",
	StmtExec:    "exec",
	StmtAssign:  "assign",
	StmtFor:     "for",
	StmtEnd:     "end",
	StmtIf:      "if",
	StmtElse:    "else",
	StmtBreak:   "break",
	StmtNext:    "next",
	StmtGoto:    "goto",
	StmtCall:    "call",
	StmtReturn:  "return",
	StmtFork:    "fork",
	StmtOnError: "onerror",
}

func (k StmtKind) String() string {
	if int(k) < len(stmtNames) {
		return stmtNames[k]
	}
	return "stmt(" + strconv.Itoa(int(k)) + ")"
}

// Opens reports whether the kind starts a block closed by end.
func (k StmtKind) Opens() bool { return k == StmtFor || k == StmtIf || k == StmtFork }

// Statement is the parsed form of one cell.
type Statement struct {
	Kind StmtKind

	// Const holds the value of a constant cell.
	Const value.Value

	// X is the expression of expr, exec, assign, for, if, return and fork cells. It is nil
	// for a bare for or return.
	X Node

	// Var is the assigned variable of an assign cell.
	Var string

	// Target is the jump target of goto and onerror, or the overwritten cell of an assign.
	// HasTarget is false for a bare onerror and for variable assignments.
	Target    Coord
	HasTarget bool

	// Cellset, Args and Collect describe a call.
	Cellset string
	Args    []Arg
	Collect bool

	// N is the partition count of a fork, nil for the default.
	N Node
}

// String renders the canonical text of the statement.
func (s *Statement) String() string {
	switch s.Kind {
	case StmtNone:
		return ""
	case StmtComment:
		return "//"
	case StmtConst:
		return (&Literal{Val: s.Const}).String()
	case StmtExpr:
		return "=" + s.X.String()
	case StmtExec:
		return ">" + s.X.String()
	case StmtAssign:
		if s.HasTarget {
			return ">" + s.Target.String() + " = " + s.X.String()
		}
		return ">" + s.Var + " = " + s.X.String()
	case StmtGoto:
		return "goto " + s.Target.String()
	case StmtOnError:
		if s.HasTarget {
			return "onerror " + s.Target.String()
		}
		return "onerror"
	case StmtCall:
		o := ""
		if s.Collect {
			o = "@c"
		}
		return "call" + o + " " + s.Cellset + args(s.Args)
	case StmtFork:
		if s.N != nil {
			return "fork " + s.X.String() + ", " + s.N.String()
		}
		return "fork " + s.X.String()
	}
	if s.X != nil {
		return s.Kind.String() + " " + s.X.String()
	}
	return s.Kind.String()
}

// ParseCell classifies and parses the text of the cell at coordinate at.
func ParseCell(text string, at Coord) (*Statement, error) {
	trimmed := strings.TrimSpace(text)
	off := strings.Index(text, trimmed)
	switch {
	case trimmed == "":
		return &Statement{Kind: StmtNone}, nil
	case strings.HasPrefix(trimmed, "//"):
		return &Statement{Kind: StmtComment}, nil
	case strings.HasPrefix(trimmed, "="):
		x, err := parseExpr(trimmed[1:], at, off+1)
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: StmtExpr, X: x}, nil
	case strings.HasPrefix(trimmed, ">"):
		return parseExec(trimmed[1:], at, off+1)
	}

	word, rest := firstWord(trimmed)
	restOff := off + len(trimmed) - len(rest)
	if kind, ok := directives[word]; ok {
		return parseDirective(kind, rest, at, restOff)
	}
	return &Statement{Kind: StmtConst, Const: ParseConst(trimmed)}, nil
}

// ParseExpr parses a bare expression.
func ParseExpr(text string, at Coord) (Node, error) {
	return parseExpr(text, at, 0)
}

var directives = map[string]StmtKind{
	"for":     StmtFor,
	"end":     StmtEnd,
	"if":      StmtIf,
	"else":    StmtElse,
	"break":   StmtBreak,
	"next":    StmtNext,
	"goto":    StmtGoto,
	"call":    StmtCall,
	"return":  StmtReturn,
	"fork":    StmtFork,
	"onerror": StmtOnError,
}

// firstWord splits off a leading run of letters. The remainder keeps its leading option
// marker or whitespace.
func firstWord(s string) (string, string) {
	i := 0
	for i < len(s) && s[i] < 0x80 && unicode.IsLetter(rune(s[i])) {
		i++
	}
	if i < len(s) && s[i] != ' ' && s[i] != '\t' && s[i] != '@' && s[i] != '(' {
		// "format", "end-of-day" and similar are not directives.
		return "", s
	}
	return s[:i], s[i:]
}

func parseDirective(kind StmtKind, rest string, at Coord, off int) (*Statement, error) {
	st := &Statement{Kind: kind}
	body := strings.TrimSpace(rest)
	bodyOff := off + strings.Index(rest, body)
	if kind != StmtCall && strings.HasPrefix(rest, "@") {
		return nil, errorf(at, off, "%s takes no options", kind)
	}

	switch kind {
	case StmtEnd, StmtElse, StmtBreak, StmtNext:
		if body != "" {
			return nil, errorf(at, bodyOff, "unexpected text after %s", kind)
		}
	case StmtFor, StmtReturn:
		if body == "" {
			return st, nil
		}
		x, err := parseExpr(body, at, bodyOff)
		if err != nil {
			return nil, err
		}
		st.X = x
	case StmtIf:
		if body == "" {
			return nil, errorf(at, bodyOff, "if needs a condition")
		}
		x, err := parseExpr(body, at, bodyOff)
		if err != nil {
			return nil, err
		}
		st.X = x
	case StmtGoto, StmtOnError:
		if body == "" {
			if kind == StmtGoto {
				return nil, errorf(at, bodyOff, "goto needs a target cell")
			}
			return st, nil
		}
		c, err := ParseCoord(body)
		if err != nil {
			return nil, errorf(at, bodyOff, "%v", err)
		}
		st.Target, st.HasTarget = c, true
	case StmtFork:
		p, err := newParser(body, at, bodyOff)
		if err != nil {
			return nil, err
		}
		if st.X, err = p.expr(); err != nil {
			return nil, err
		}
		if p.acceptOp(",") {
			if st.N, err = p.expr(); err != nil {
				return nil, err
			}
		}
		if err := p.expectEOF(); err != nil {
			return nil, err
		}
	case StmtCall:
		return parseCall(st, rest, at, off)
	}
	return st, nil
}

func parseCall(st *Statement, rest string, at Coord, off int) (*Statement, error) {
	p, err := newParser(rest, at, off)
	if err != nil {
		return nil, err
	}
	if p.acceptOp("@") {
		o, err := p.ident()
		if err != nil {
			return nil, err
		}
		for _, c := range o {
			if c != 'c' {
				return nil, errorf(at, off, "unknown call option %q", string(c))
			}
		}
		st.Collect = true
	}
	if st.Cellset, err = p.ident(); err != nil {
		return nil, err
	}
	if p.peekOp("(") {
		p.next()
		if st.Args, err = p.args(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return st, nil
}

func parseExec(text string, at Coord, off int) (*Statement, error) {
	p, err := newParser(text, at, off)
	if err != nil {
		return nil, err
	}
	// ">name = expr" assigns a variable, ">A1 = expr" overwrites a cell value and ">expr"
	// evaluates for its side effects.
	if p.peek().Kind == TokIdent && p.peekAt(1).Kind == TokOp && p.peekAt(1).Text == "=" {
		name := p.next()
		p.next()
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectEOF(); err != nil {
			return nil, err
		}
		st := &Statement{Kind: StmtAssign, X: x}
		if isCellName(name.Text) {
			c, err := ParseCoord(name.Text)
			if err != nil {
				return nil, errorf(at, name.Pos, "%v", err)
			}
			st.Target, st.HasTarget = c, true
		} else {
			st.Var = name.Text
		}
		return st, nil
	}
	x, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return &Statement{Kind: StmtExec, X: x}, nil
}

// ParseConst reads constant cell text: numbers, dates, true, false, null and quoted strings
// become typed values; anything else is the raw string.
func ParseConst(s string) value.Value {
	switch s {
	case "true":
		return value.Bool(true)
	case "false":
		return value.Bool(false)
	case "null":
		return value.Null()
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strings.ContainsAny(s, "0123456789") &&
		!strings.ContainsAny(s, "xXpP_") && !strings.EqualFold(s, "inf") {
		return value.Float(f)
	}
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		if t, err := value.ParseDate(s); err == nil {
			return value.Date(t)
		}
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return value.Str(u)
		}
	}
	return value.Str(s)
}
