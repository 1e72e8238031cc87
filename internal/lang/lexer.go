package lang

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind classifies tokens.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokInt
	TokFloat
	TokDecimal
	TokString
	TokOp
)

// Token is one lexeme. For TokString Text is the unquoted value.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// multi-character operators, longest first.
var operators = []string{
	"..", "==", "!=", "<=", ">=", "&&", "||", "~~",
	"+", "-", "*", "/", "\\", "%", "<", ">", "!", "=",
	".", ",", "(", ")", "[", "]", "{", "}", ":", "@", "~", "#",
}

// Lex splits expression text into tokens. base is added to every position so errors point
// into the full cell text.
func Lex(src string, at Coord, base int) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case isDigit(c):
			tok, n, err := lexNumber(src[i:], at, base+i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i += n
		case c == '"':
			s, n, err := lexString(src[i:])
			if err != nil {
				return nil, errorf(at, base+i, "malformed string literal: %v", err)
			}
			toks = append(toks, Token{Kind: TokString, Text: s, Pos: base + i})
			i += n
		case isIdentStart(src[i:]):
			j := i
			for j < len(src) {
				r, size := utf8.DecodeRuneInString(src[j:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				j += size
			}
			toks = append(toks, Token{Kind: TokIdent, Text: src[i:j], Pos: base + i})
			i = j
		default:
			op := ""
			for _, o := range operators {
				if strings.HasPrefix(src[i:], o) {
					op = o
					break
				}
			}
			if op == "" {
				return nil, errorf(at, base+i, "unexpected character %q", src[i])
			}
			toks = append(toks, Token{Kind: TokOp, Text: op, Pos: base + i})
			i += len(op)
		}
	}
	toks = append(toks, Token{Kind: TokEOF, Pos: base + len(src)})
	return toks, nil
}

func lexNumber(s string, at Coord, pos int) (Token, int, error) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	kind := TokInt
	// A dot starts a fraction only when a digit follows; "1..3" is a range.
	if i+1 < len(s) && s[i] == '.' && isDigit(s[i+1]) {
		kind = TokFloat
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			kind = TokFloat
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	text := s[:i]
	if i < len(s) && (s[i] == 'm' || s[i] == 'M') && !isIdentPart(s, i+1) {
		return Token{Kind: TokDecimal, Text: text, Pos: pos}, i + 1, nil
	}
	if isIdentPart(s, i) {
		return Token{}, 0, errorf(at, pos, "malformed number %q", s[:i+1])
	}
	return Token{Kind: kind, Text: text, Pos: pos}, i, nil
}

func lexString(s string) (string, int, error) {
	i := 1
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case '"':
			out, err := strconv.Unquote(s[:i+1])
			return out, i + 1, err
		}
		i++
	}
	return "", 0, strconv.ErrSyntax
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
