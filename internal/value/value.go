// Package value holds the data model gocell programs compute over: scalars, sequences,
// records, tables, cursors and sets, all carried in the closed Value variant.
package value

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the tag of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindDate
	KindBool
	KindSequence
	KindRecord
	KindTable
	KindCursor
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	case KindSequence:
		return "sequence"
	case KindRecord:
		return "record"
	case KindTable:
		return "table"
	case KindCursor:
		return "cursor"
	case KindSet:
		return "set"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Sentinel errors. Callers wrap them with detail; the evaluator maps them to error kinds.
var (
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrDivideByZero  = errors.New("divide by zero")
	ErrNullOperation = errors.New("operation not supported on null")
	ErrCursorClosed  = errors.New("cursor is closed")
)

// Value is one computed value. Only the field matching Kind should be read; other fields
// remain at their zero values.
type Value struct {
	Kind Kind

	I64 int64           // KindInt
	F64 float64         // KindFloat
	Dec decimal.Decimal // KindDecimal
	S   string          // KindString
	T   time.Time       // KindDate
	B   bool            // KindBool

	Seq *Sequence // KindSequence
	Rec *Record   // KindRecord
	Tab *Table    // KindTable
	Cur *Cursor   // KindCursor
	Set *Set      // KindSet
}

func Null() Value                     { return Value{} }
func Int(i int64) Value               { return Value{Kind: KindInt, I64: i} }
func Float(f float64) Value           { return Value{Kind: KindFloat, F64: f} }
func Decimal(d decimal.Decimal) Value { return Value{Kind: KindDecimal, Dec: d} }
func Str(s string) Value              { return Value{Kind: KindString, S: s} }
func Date(t time.Time) Value          { return Value{Kind: KindDate, T: t} }
func Bool(b bool) Value               { return Value{Kind: KindBool, B: b} }

// Seq wraps a sequence; a nil sequence becomes an empty one.
func Seq(s *Sequence) Value {
	if s == nil {
		s = NewSequence()
	}
	return Value{Kind: KindSequence, Seq: s}
}

// List builds a sequence value from its items.
func List(items ...Value) Value { return Seq(NewSequence(items...)) }

func Rec(r *Record) Value {
	if r == nil {
		return Null()
	}
	return Value{Kind: KindRecord, Rec: r}
}

func Tab(t *Table) Value {
	if t == nil {
		return Null()
	}
	return Value{Kind: KindTable, Tab: t}
}

func Cur(c *Cursor) Value {
	if c == nil {
		return Null()
	}
	return Value{Kind: KindCursor, Cur: c}
}

func SetOf(s *Set) Value {
	if s == nil {
		s = NewSet()
	}
	return Value{Kind: KindSet, Set: s}
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNumeric reports whether v is an int, decimal or float.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat || v.Kind == KindDecimal
}

// Truthy is the boolean reading used by conditions: null and false are false, everything
// else is true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.B
	default:
		return true
	}
}

// AsInt returns v as an int64 when it is an integral number.
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.I64, true
	case KindFloat:
		if v.F64 == float64(int64(v.F64)) {
			return int64(v.F64), true
		}
	case KindDecimal:
		if v.Dec.Equal(v.Dec.Truncate(0)) {
			return v.Dec.IntPart(), true
		}
	}
	return 0, false
}

// AsFloat returns the float reading of a numeric value.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I64), true
	case KindFloat:
		return v.F64, true
	case KindDecimal:
		return v.Dec.InexactFloat64(), true
	}
	return 0, false
}

// AsDecimal returns the decimal reading of a numeric value.
func (v Value) AsDecimal() (decimal.Decimal, bool) {
	switch v.Kind {
	case KindInt:
		return decimal.NewFromInt(v.I64), true
	case KindFloat:
		return decimal.NewFromFloat(v.F64), true
	case KindDecimal:
		return v.Dec, true
	}
	return decimal.Decimal{}, false
}

// Items returns the members of a sequence-like value: sequence items, table rows as record
// values, or set members. ok is false for other kinds.
func (v Value) Items() (items []Value, ok bool) {
	switch v.Kind {
	case KindSequence:
		return v.Seq.Items, true
	case KindTable:
		out := make([]Value, v.Tab.Len())
		for i, r := range v.Tab.Rows() {
			out[i] = Rec(r)
		}
		return out, true
	case KindSet:
		return v.Set.Items(), true
	}
	return nil, false
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// String renders v for display. Nested strings are quoted.
func (v Value) String() string {
	if v.Kind == KindString {
		return v.S
	}
	var b strings.Builder
	v.write(&b)
	return b.String()
}

func (v Value) write(b *strings.Builder) {
	switch v.Kind {
	case KindNull:
		b.WriteString("null")
	case KindInt:
		b.WriteString(strconv.FormatInt(v.I64, 10))
	case KindFloat:
		b.WriteString(strconv.FormatFloat(v.F64, 'g', -1, 64))
	case KindDecimal:
		b.WriteString(v.Dec.String())
	case KindString:
		b.WriteString(strconv.Quote(v.S))
	case KindDate:
		b.WriteString(FormatDate(v.T))
	case KindBool:
		b.WriteString(strconv.FormatBool(v.B))
	case KindSequence:
		writeList(b, "[", v.Seq.Items, "]")
	case KindRecord:
		v.Rec.write(b)
	case KindTable:
		b.WriteString("table(")
		b.WriteString(strings.Join(v.Tab.Schema().Fields(), ", "))
		b.WriteString(")[")
		for i, r := range v.Tab.Rows() {
			if i > 0 {
				b.WriteString(", ")
			}
			r.write(b)
		}
		b.WriteString("]")
	case KindCursor:
		b.WriteString("cursor(")
		b.WriteString(v.Cur.State().String())
		b.WriteString(")")
	case KindSet:
		writeList(b, "set[", v.Set.Items(), "]")
	}
}

func writeList(b *strings.Builder, open string, items []Value, close string) {
	b.WriteString(open)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		it.write(b)
	}
	b.WriteString(close)
}

// FormatDate prints dates without a clock part when the clock is midnight.
func FormatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(dateLayout)
	}
	return t.Format(dateTimeLayout)
}

// ParseDate accepts "2006-01-02", "2006-01-02 15:04:05" and RFC 3339.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{dateLayout, dateTimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("invalid date " + strconv.Quote(s))
}
