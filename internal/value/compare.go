package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// rank orders numeric kinds for promotion: Int < Decimal < Float.
func rank(k Kind) int {
	switch k {
	case KindInt:
		return 0
	case KindDecimal:
		return 1
	case KindFloat:
		return 2
	}
	return -1
}

// Compare orders two values. Null sorts before every non-null value and equals null.
// Numbers compare across kinds; sequences compare item-wise and records field-wise.
// Other mixed kinds are a type mismatch.
func Compare(a, b Value) (int, error) {
	if a.Kind == KindNull || b.Kind == KindNull {
		switch {
		case a.Kind == b.Kind:
			return 0, nil
		case a.Kind == KindNull:
			return -1, nil
		default:
			return 1, nil
		}
	}
	if a.IsNumeric() && b.IsNumeric() {
		return compareNumbers(a, b), nil
	}
	if a.Kind != b.Kind {
		return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrTypeMismatch, a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindString:
		return strings.Compare(a.S, b.S), nil
	case KindDate:
		return a.T.Compare(b.T), nil
	case KindBool:
		switch {
		case a.B == b.B:
			return 0, nil
		case !a.B:
			return -1, nil
		default:
			return 1, nil
		}
	case KindSequence:
		return compareLists(a.Seq.Items, b.Seq.Items)
	case KindRecord:
		return compareLists(a.Rec.vals, b.Rec.vals)
	}
	return 0, fmt.Errorf("%w: %s values are not ordered", ErrTypeMismatch, a.Kind)
}

func compareLists(a, b []Value) (int, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		c, err := Compare(a[i], b[i])
		if err != nil || c != 0 {
			return c, err
		}
	}
	switch {
	case len(a) < len(b):
		return -1, nil
	case len(a) > len(b):
		return 1, nil
	}
	return 0, nil
}

func compareNumbers(a, b Value) int {
	if a.Kind == KindInt && b.Kind == KindInt {
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		}
		return 0
	}
	if a.Kind == KindFloat || b.Kind == KindFloat {
		x, _ := a.AsFloat()
		y, _ := b.AsFloat()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	x, _ := a.AsDecimal()
	y, _ := b.AsDecimal()
	return x.Cmp(y)
}

// Equal reports value equality with the same cross-kind numeric rule as Compare.
// Values of unrelated kinds are simply unequal.
func Equal(a, b Value) bool {
	switch {
	case a.Kind == KindNull || b.Kind == KindNull:
		return a.Kind == b.Kind
	case a.IsNumeric() && b.IsNumeric():
		return compareNumbers(a, b) == 0
	case a.Kind != b.Kind:
		return false
	}
	switch a.Kind {
	case KindString:
		return a.S == b.S
	case KindDate:
		return a.T.Equal(b.T)
	case KindBool:
		return a.B == b.B
	case KindSequence:
		return equalLists(a.Seq.Items, b.Seq.Items)
	case KindRecord:
		return a.Rec.schema.Equal(b.Rec.schema) && equalLists(a.Rec.vals, b.Rec.vals)
	case KindTable:
		if a.Tab == b.Tab {
			return true
		}
		if !a.Tab.schema.Equal(b.Tab.schema) || a.Tab.Len() != b.Tab.Len() {
			return false
		}
		for i, r := range a.Tab.rows {
			if !equalLists(r.vals, b.Tab.rows[i].vals) {
				return false
			}
		}
		return true
	case KindSet:
		if a.Set.Len() != b.Set.Len() {
			return false
		}
		for k := range a.Set.keys {
			if _, ok := b.Set.keys[k]; !ok {
				return false
			}
		}
		return true
	case KindCursor:
		return a.Cur == b.Cur
	}
	return false
}

func equalLists(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Key returns a canonical string such that Equal values share a key. It is used for
// hashing in sets, groups and joins.
func Key(v Value) string {
	var b strings.Builder
	writeKey(&b, v)
	return b.String()
}

func writeKey(b *strings.Builder, v Value) {
	switch v.Kind {
	case KindNull:
		b.WriteString("n")
	case KindInt:
		b.WriteString("#")
		b.WriteString(strconv.FormatInt(v.I64, 10))
	case KindFloat:
		if math.IsNaN(v.F64) || math.IsInf(v.F64, 0) {
			b.WriteString("f")
			b.WriteString(strconv.FormatFloat(v.F64, 'g', -1, 64))
			return
		}
		writeNumKey(b, decimal.NewFromFloat(v.F64))
	case KindDecimal:
		writeNumKey(b, v.Dec)
	case KindString:
		b.WriteString("s")
		b.WriteString(strconv.Quote(v.S))
	case KindDate:
		b.WriteString("d")
		b.WriteString(strconv.FormatInt(v.T.UnixNano(), 10))
	case KindBool:
		if v.B {
			b.WriteString("t")
		} else {
			b.WriteString("F")
		}
	case KindSequence:
		b.WriteString("[")
		for _, it := range v.Seq.Items {
			writeKey(b, it)
			b.WriteString(",")
		}
		b.WriteString("]")
	case KindRecord:
		b.WriteString("{")
		for i, it := range v.Rec.vals {
			b.WriteString(strconv.Quote(v.Rec.schema.fields[i]))
			b.WriteString(":")
			writeKey(b, it)
			b.WriteString(",")
		}
		b.WriteString("}")
	default:
		// Tables, cursors and sets hash by identity.
		b.WriteString(fmt.Sprintf("@%s%p", v.Kind, identity(v)))
	}
}

// writeNumKey prints integral numbers like ints so 2, 2.0 and decimal 2 collide.
func writeNumKey(b *strings.Builder, d decimal.Decimal) {
	if d.Equal(d.Truncate(0)) && d.Abs().LessThan(decimal.New(1, 18)) {
		b.WriteString("#")
		b.WriteString(strconv.FormatInt(d.IntPart(), 10))
		return
	}
	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	b.WriteString("#")
	b.WriteString(s)
}

func identity(v Value) interface{} {
	switch v.Kind {
	case KindTable:
		return v.Tab
	case KindCursor:
		return v.Cur
	case KindSet:
		return v.Set
	}
	return nil
}
