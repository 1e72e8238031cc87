package value

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DivisionPrecision is the number of decimal places kept by decimal division.
const DivisionPrecision = 16

type arithOp int

const (
	opAdd arithOp = iota
	opSub
	opMul
	opDiv
	opIntDiv
	opMod
)

func (o arithOp) String() string {
	return [...]string{"+", "-", "*", "/", "\\", "%"}[o]
}

func Add(a, b Value) (Value, error)    { return arith(opAdd, a, b) }
func Sub(a, b Value) (Value, error)    { return arith(opSub, a, b) }
func Mul(a, b Value) (Value, error)    { return arith(opMul, a, b) }
func Div(a, b Value) (Value, error)    { return arith(opDiv, a, b) }
func IntDiv(a, b Value) (Value, error) { return arith(opIntDiv, a, b) }
func Mod(a, b Value) (Value, error)    { return arith(opMod, a, b) }

// Neg negates a number. Null stays null.
func Neg(a Value) (Value, error) {
	switch a.Kind {
	case KindNull:
		return Null(), nil
	case KindInt:
		return Int(-a.I64), nil
	case KindFloat:
		return Float(-a.F64), nil
	case KindDecimal:
		return Decimal(a.Dec.Neg()), nil
	}
	return Null(), fmt.Errorf("%w: cannot negate %s", ErrTypeMismatch, a.Kind)
}

func arith(op arithOp, a, b Value) (Value, error) {
	if a.Kind == KindNull || b.Kind == KindNull {
		return Null(), nil
	}
	if a.IsNumeric() && b.IsNumeric() {
		return numeric(op, a, b)
	}
	switch {
	case op == opAdd && a.Kind == KindString && b.Kind == KindString:
		return Str(a.S + b.S), nil
	case a.Kind == KindDate && b.Kind == KindInt && (op == opAdd || op == opSub):
		days := b.I64
		if op == opSub {
			days = -days
		}
		return Date(a.T.AddDate(0, 0, int(days))), nil
	case op == opAdd && a.Kind == KindInt && b.Kind == KindDate:
		return Date(b.T.AddDate(0, 0, int(a.I64))), nil
	case op == opSub && a.Kind == KindDate && b.Kind == KindDate:
		return Int(int64(a.T.Sub(b.T) / (24 * time.Hour))), nil
	}
	return Null(), fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, a.Kind, op, b.Kind)
}

func numeric(op arithOp, a, b Value) (Value, error) {
	r := rank(a.Kind)
	if rb := rank(b.Kind); rb > r {
		r = rb
	}
	if op == opDiv && r == 0 {
		// int / int promotes to float
		r = 2
	}
	switch r {
	case 0:
		return intArith(op, a.I64, b.I64)
	case 1:
		x, _ := a.AsDecimal()
		y, _ := b.AsDecimal()
		return decArith(op, x, y)
	default:
		x, _ := a.AsFloat()
		y, _ := b.AsFloat()
		return floatArith(op, x, y)
	}
}

func intArith(op arithOp, x, y int64) (Value, error) {
	switch op {
	case opAdd:
		return Int(x + y), nil
	case opSub:
		return Int(x - y), nil
	case opMul:
		return Int(x * y), nil
	case opIntDiv:
		if y == 0 {
			return Null(), ErrDivideByZero
		}
		return Int(x / y), nil
	case opMod:
		if y == 0 {
			return Null(), ErrDivideByZero
		}
		return Int(x % y), nil
	}
	return floatArith(op, float64(x), float64(y))
}

func decArith(op arithOp, x, y decimal.Decimal) (Value, error) {
	switch op {
	case opAdd:
		return Decimal(x.Add(y)), nil
	case opSub:
		return Decimal(x.Sub(y)), nil
	case opMul:
		return Decimal(x.Mul(y)), nil
	}
	if y.IsZero() {
		return Null(), ErrDivideByZero
	}
	switch op {
	case opDiv:
		return Decimal(x.DivRound(y, DivisionPrecision)), nil
	case opIntDiv:
		return Decimal(x.Div(y).Truncate(0)), nil
	default:
		return Decimal(x.Mod(y)), nil
	}
}

func floatArith(op arithOp, x, y float64) (Value, error) {
	switch op {
	case opAdd:
		return Float(x + y), nil
	case opSub:
		return Float(x - y), nil
	case opMul:
		return Float(x * y), nil
	}
	if y == 0 {
		return Null(), ErrDivideByZero
	}
	switch op {
	case opDiv:
		return Float(x / y), nil
	case opIntDiv:
		return Float(math.Trunc(x / y)), nil
	default:
		return Float(math.Mod(x, y)), nil
	}
}
