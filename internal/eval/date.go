package eval

import (
	"time"

	"gocell/internal/value"
)

var dateFuncs = map[string]builtin{
	"date":   dateFunc,
	"now":    nowFunc,
	"year":   datePart(func(t time.Time) int { return t.Year() }),
	"month":  datePart(func(t time.Time) int { return int(t.Month()) }),
	"day":    datePart(func(t time.Time) int { return t.Day() }),
	"hour":   datePart(func(t time.Time) int { return t.Hour() }),
	"minute": datePart(func(t time.Time) int { return t.Minute() }),
	"second": datePart(func(t time.Time) int { return t.Second() }),
	"deq":    deqFunc,
}

// dateFunc is date(s), date(d) or date(y, m, d). date(d) drops the clock part.
func dateFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 3); err != nil {
		return value.Null(), err
	}
	if c.n() == 3 {
		var parts [3]int64
		for i := range parts {
			n, err := c.intArg(i, 0)
			if err != nil {
				return value.Null(), err
			}
			parts[i] = n
		}
		return value.Date(time.Date(int(parts[0]), time.Month(parts[1]), int(parts[2]), 0, 0, 0, 0, time.UTC)), nil
	}
	if c.n() == 2 {
		return value.Null(), errorf(Arity, "date takes 1 or 3 arguments, got 2")
	}
	v, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	switch v.Kind {
	case value.KindNull:
		return v, nil
	case value.KindDate:
		y, m, d := v.T.Date()
		return value.Date(time.Date(y, m, d, 0, 0, 0, 0, v.T.Location())), nil
	case value.KindString:
		t, err := value.ParseDate(v.S)
		if err != nil {
			return value.Null(), errorf(TypeMismatch, "date: %v", err)
		}
		return value.Date(t), nil
	}
	return value.Null(), errorf(TypeMismatch, "date of %s", v.Kind)
}

func nowFunc(c *call) (value.Value, error) {
	if err := c.arity(0, 0); err != nil {
		return value.Null(), err
	}
	if c.e.c.Now != nil {
		return value.Date(c.e.c.Now()), nil
	}
	return value.Date(time.Now()), nil
}

func datePart(part func(time.Time) int) builtin {
	return func(c *call) (value.Value, error) {
		if err := c.arity(1, 1); err != nil {
			return value.Null(), err
		}
		v, err := c.arg(0)
		if err != nil || v.IsNull() {
			return value.Null(), err
		}
		if v.Kind != value.KindDate {
			return value.Null(), errorf(TypeMismatch, "%s of %s", c.name, v.Kind)
		}
		return value.Int(int64(part(v.T))), nil
	}
}

// deqFunc reports whether two dates fall on the same day.
func deqFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	args, err := c.all()
	if err != nil {
		return value.Null(), err
	}
	a, b := args[0], args[1]
	if a.IsNull() || b.IsNull() {
		return value.Bool(a.IsNull() && b.IsNull()), nil
	}
	if a.Kind != value.KindDate || b.Kind != value.KindDate {
		return value.Null(), errorf(TypeMismatch, "deq of %s and %s", a.Kind, b.Kind)
	}
	y1, m1, d1 := a.T.Date()
	y2, m2, d2 := b.T.Date()
	return value.Bool(y1 == y2 && m1 == m2 && d1 == d2), nil
}
