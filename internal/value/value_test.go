package value

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestArithPromotion(t *testing.T) {
	tests := []struct {
		name string
		fn   func(a, b Value) (Value, error)
		a, b Value
		want Value
	}{
		{"int+int", Add, Int(2), Int(3), Int(5)},
		{"int/int is float", Div, Int(7), Int(2), Float(3.5)},
		{"int\\int", IntDiv, Int(7), Int(2), Int(3)},
		{"int%int", Mod, Int(7), Int(2), Int(1)},
		{"int+decimal", Add, Int(1), Decimal(decimal.RequireFromString("0.5")), Decimal(decimal.RequireFromString("1.5"))},
		{"decimal*float", Mul, Decimal(decimal.NewFromInt(2)), Float(1.5), Float(3)},
		{"string+string", Add, Str("ab"), Str("cd"), Str("abcd")},
		{"null+int", Add, Null(), Int(1), Null()},
	}
	for _, tt := range tests {
		got, err := tt.fn(tt.a, tt.b)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got.Kind != tt.want.Kind || !Equal(got, tt.want) {
			t.Fatalf("%s: expected %v (%s), got %v (%s)", tt.name, tt.want, tt.want.Kind, got, got.Kind)
		}
	}
}

func TestDivideByZeroEveryKind(t *testing.T) {
	zeros := []Value{Int(0), Float(0), Decimal(decimal.Zero)}
	for _, z := range zeros {
		for _, fn := range []func(a, b Value) (Value, error){Div, IntDiv, Mod} {
			if _, err := fn(Int(1), z); !errors.Is(err, ErrDivideByZero) {
				t.Fatalf("dividing by %s zero: expected ErrDivideByZero, got %v", z.Kind, err)
			}
		}
	}
}

func TestDateArith(t *testing.T) {
	d := Date(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC))
	got, err := Add(d, Int(2))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if got.String() != "2024-03-01" {
		t.Fatalf("expected 2024-03-01, got %s", got)
	}
	diff, err := Sub(got, d)
	if err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	if diff.Kind != KindInt || diff.I64 != 2 {
		t.Fatalf("expected 2 days, got %v", diff)
	}
}

func TestCompareNullsFirst(t *testing.T) {
	if c, _ := Compare(Null(), Int(-100)); c >= 0 {
		t.Fatalf("null should sort before numbers, got %d", c)
	}
	if c, _ := Compare(Null(), Null()); c != 0 {
		t.Fatalf("null should equal null, got %d", c)
	}
	if c, _ := Compare(Int(2), Float(2)); c != 0 {
		t.Fatalf("2 and 2.0 should compare equal, got %d", c)
	}
	if _, err := Compare(Str("a"), Int(1)); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestKeyMatchesEquality(t *testing.T) {
	if Key(Int(2)) != Key(Float(2)) || Key(Int(2)) != Key(Decimal(decimal.NewFromInt(2))) {
		t.Fatalf("integral numbers must share a key: %s %s", Key(Int(2)), Key(Float(2)))
	}
	if Key(Float(2.5)) != Key(Decimal(decimal.RequireFromString("2.5"))) {
		t.Fatalf("2.5 float and decimal must share a key")
	}
	if Key(Str("1")) == Key(Int(1)) {
		t.Fatalf("string and int must not share a key")
	}
	s := NewSet(Int(1), Float(1), Str("x"), Null(), Null())
	if s.Len() != 3 {
		t.Fatalf("expected 3 distinct members, got %d", s.Len())
	}
}

func TestSequencePos(t *testing.T) {
	s := NewSequence(Int(10), Int(20), Int(30))
	if v, err := s.Pos(1); err != nil || v.I64 != 10 {
		t.Fatalf("Pos(1): got %v, %v", v, err)
	}
	if v, err := s.Pos(-1); err != nil || v.I64 != 30 {
		t.Fatalf("Pos(-1): got %v, %v", v, err)
	}
	if _, err := s.Pos(4); err == nil {
		t.Fatalf("Pos(4): expected out of range error")
	}
	if p := s.Find(Int(20)); p != 2 {
		t.Fatalf("Find(20): expected 2, got %d", p)
	}
}

func TestSchemaRejectsDuplicates(t *testing.T) {
	if _, err := NewSchema("id", "id"); err == nil {
		t.Fatalf("expected duplicate field error")
	}
	s := MustSchema("id", "amount")
	if _, err := NewRecord(s, []Value{Int(1)}); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	r := MustRecord(s, Int(1), Int(10))
	if v, ok := r.Get("amount"); !ok || v.I64 != 10 {
		t.Fatalf("Get(amount): got %v, %v", v, ok)
	}
	if r.String() != "{id: 1, amount: 10}" {
		t.Fatalf("unexpected record rendering %q", r.String())
	}
}

type countingSource struct {
	*MemSource
	closes int
}

func (c *countingSource) Close() error {
	c.closes++
	return c.MemSource.Close()
}

func TestCursorExhaustionIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := MustSchema("n")
	src := &countingSource{MemSource: NewMemSource(s, []*Record{MustRecord(s, Int(1)), MustRecord(s, Int(2))})}
	c := NewCursor(src)

	for i := 0; i < 2; i++ {
		if _, err := c.Next(ctx); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := c.Next(ctx); err != io.EOF {
			t.Fatalf("pull %d after end: expected io.EOF, got %v", i, err)
		}
	}
	if c.State() != CursorExhausted {
		t.Fatalf("expected exhausted, got %s", c.State())
	}
	if src.closes != 1 {
		t.Fatalf("source should be released once at end, got %d closes", src.closes)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("closing an exhausted cursor failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if src.closes != 1 {
		t.Fatalf("close after exhaustion must not release again, got %d closes", src.closes)
	}
	if _, err := c.Next(ctx); !errors.Is(err, ErrCursorClosed) {
		t.Fatalf("pull on closed cursor: expected ErrCursorClosed, got %v", err)
	}
}

func TestCursorFetchAndSkip(t *testing.T) {
	ctx := context.Background()
	s := MustSchema("n")
	tab, err := TableOf(s, []Value{Int(1)}, []Value{Int(2)}, []Value{Int(3)}, []Value{Int(4)})
	if err != nil {
		t.Fatalf("TableOf failed: %v", err)
	}
	c := TableCursor(tab)
	if n, err := c.Skip(ctx, 1); err != nil || n != 1 {
		t.Fatalf("Skip: got %d, %v", n, err)
	}
	part, err := c.Fetch(ctx, 2)
	if err != nil {
		t.Fatalf("Fetch(2) failed: %v", err)
	}
	if part.Len() != 2 || part.Row(0).At(0).I64 != 2 {
		t.Fatalf("unexpected fetch result %v", Tab(part))
	}
	rest, err := c.Fetch(ctx, 0)
	if err != nil {
		t.Fatalf("Fetch(0) failed: %v", err)
	}
	if rest.Len() != 1 || rest.Row(0).At(0).I64 != 4 {
		t.Fatalf("unexpected rest %v", Tab(rest))
	}
	if c.State() != CursorExhausted {
		t.Fatalf("expected exhausted cursor, got %s", c.State())
	}
}

func TestFromGo(t *testing.T) {
	v, err := FromGo([]interface{}{int32(1), "a", nil, []byte("b")})
	if err != nil {
		t.Fatalf("FromGo failed: %v", err)
	}
	if v.String() != `[1, "a", null, "b"]` {
		t.Fatalf("unexpected conversion %s", v)
	}
	if _, err := FromGo(struct{}{}); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected type mismatch for struct, got %v", err)
	}
}
