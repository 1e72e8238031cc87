package eval

import (
	"regexp"
	"strings"

	"gocell/internal/value"
)

var stringFuncs = map[string]builtin{
	"upper":   stringMap(strings.ToUpper),
	"lower":   stringMap(strings.ToLower),
	"trim":    stringMap(strings.TrimSpace),
	"left":    leftFunc,
	"right":   rightFunc,
	"mid":     midFunc,
	"replace": replaceFunc,
	"split":   splitFunc,
	"like":    likeFunc,
	"regex":   regexFunc,
	"string":  stringFunc,
}

func stringMap(fn func(string) string) builtin {
	return func(c *call) (value.Value, error) {
		if err := c.arity(1, 1); err != nil {
			return value.Null(), err
		}
		s, ok, err := c.stringArg(0)
		if err != nil || !ok {
			return value.Null(), err
		}
		return value.Str(fn(s)), nil
	}
}

// runeIndex is the 1-based rune position of sub in s, or 0.
func runeIndex(s, sub string) int {
	i := strings.Index(s, sub)
	if i < 0 {
		return 0
	}
	return len([]rune(s[:i])) + 1
}

func leftFunc(c *call) (value.Value, error) {
	return substr(c, func(r []rune, n int) []rune { return r[:n] })
}

func rightFunc(c *call) (value.Value, error) {
	return substr(c, func(r []rune, n int) []rune { return r[len(r)-n:] })
}

func substr(c *call, cut func([]rune, int) []rune) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	s, ok, err := c.stringArg(0)
	if err != nil || !ok {
		return value.Null(), err
	}
	n, err := c.intArg(1, 0)
	if err != nil {
		return value.Null(), err
	}
	r := []rune(s)
	if n < 0 {
		n = 0
	}
	if int(n) > len(r) {
		n = int64(len(r))
	}
	return value.Str(string(cut(r, int(n)))), nil
}

// midFunc is mid(s, start[, n]) with a 1-based start.
func midFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 3); err != nil {
		return value.Null(), err
	}
	s, ok, err := c.stringArg(0)
	if err != nil || !ok {
		return value.Null(), err
	}
	r := []rune(s)
	start, err := c.intArg(1, 1)
	if err != nil {
		return value.Null(), err
	}
	n, err := c.intArg(2, int64(len(r)))
	if err != nil {
		return value.Null(), err
	}
	if start < 1 {
		start = 1
	}
	from := int(start - 1)
	if from >= len(r) || n <= 0 {
		return value.Str(""), nil
	}
	to := from + int(n)
	if to > len(r) {
		to = len(r)
	}
	return value.Str(string(r[from:to])), nil
}

func replaceFunc(c *call) (value.Value, error) {
	if err := c.arity(3, 3); err != nil {
		return value.Null(), err
	}
	var parts [3]string
	for i := range parts {
		s, ok, err := c.stringArg(i)
		if err != nil || !ok {
			return value.Null(), err
		}
		parts[i] = s
	}
	return value.Str(strings.ReplaceAll(parts[0], parts[1], parts[2])), nil
}

// splitFunc is split(s[, sep]); without sep the string is split into its characters.
func splitFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 2); err != nil {
		return value.Null(), err
	}
	s, ok, err := c.stringArg(0)
	if err != nil || !ok {
		return value.Null(), err
	}
	sep, _, err := c.stringArg(1)
	if err != nil {
		return value.Null(), err
	}
	parts := strings.Split(s, sep)
	out := make([]value.Value, len(parts))
	for i, p := range parts {
		out[i] = value.Str(p)
	}
	return value.List(out...), nil
}

// likeFunc matches a wildcard pattern: * is any run of characters and ? one character.
func likeFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	s, ok, err := c.stringArg(0)
	if err != nil || !ok {
		return value.Null(), err
	}
	pat, ok, err := c.stringArg(1)
	if err != nil || !ok {
		return value.Null(), err
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pat {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re := regexp.MustCompile(b.String())
	return value.Bool(re.MatchString(s)), nil
}

// regexFunc is regex(s, pattern). Without capture groups it reports whether s matches;
// with groups it returns the captured strings of the first match, or null.
func regexFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	s, ok, err := c.stringArg(0)
	if err != nil || !ok {
		return value.Null(), err
	}
	pat, ok, err := c.stringArg(1)
	if err != nil || !ok {
		return value.Null(), err
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return value.Null(), errorf(TypeMismatch, "regex: %v", err)
	}
	if re.NumSubexp() == 0 {
		return value.Bool(re.MatchString(s)), nil
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return value.Null(), nil
	}
	out := make([]value.Value, len(m)-1)
	for i, g := range m[1:] {
		out[i] = value.Str(g)
	}
	return value.List(out...), nil
}

// stringFunc renders any value as text; null becomes the empty string.
func stringFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 1); err != nil {
		return value.Null(), err
	}
	v, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	if v.IsNull() {
		return value.Str(""), nil
	}
	return value.Str(v.String()), nil
}
