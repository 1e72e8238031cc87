package eval

import (
	"math"

	"github.com/shopspring/decimal"

	"gocell/internal/value"
)

var mathFuncs = map[string]builtin{
	"abs":     unaryNum(absValue),
	"floor":   unaryNum(func(v value.Value) (value.Value, error) { return rounding(v, math.Floor, decimal.Decimal.Floor) }),
	"ceil":    unaryNum(func(v value.Value) (value.Value, error) { return rounding(v, math.Ceil, decimal.Decimal.Ceil) }),
	"sqrt":    unaryNum(sqrtValue),
	"int":     unaryAny(toInt),
	"float":   unaryAny(toFloat),
	"decimal": unaryAny(toDecimal),
	"round":   roundFunc,
	"power":   powerFunc,
	"lcm":     intFold(lcm),
	"bitand":  intFold(func(a, b int64) int64 { return a & b }),
	"bitor":   intFold(func(a, b int64) int64 { return a | b }),
	"bitxor":  intFold(func(a, b int64) int64 { return a ^ b }),
	"permut":  permutFunc,
	"mae":     maeFunc,
	"dis":     disFunc,
}

// unaryAny wraps a one-argument function; null in gives null out.
func unaryAny(fn func(value.Value) (value.Value, error)) builtin {
	return func(c *call) (value.Value, error) {
		if err := c.arity(1, 1); err != nil {
			return value.Null(), err
		}
		v, err := c.arg(0)
		if err != nil || v.IsNull() {
			return value.Null(), err
		}
		return fn(v)
	}
}

// unaryNum is unaryAny restricted to numbers.
func unaryNum(fn func(value.Value) (value.Value, error)) builtin {
	return unaryAny(func(v value.Value) (value.Value, error) {
		if !v.IsNumeric() {
			return value.Null(), errorf(TypeMismatch, "number expected, got %s", v.Kind)
		}
		return fn(v)
	})
}

func absValue(v value.Value) (value.Value, error) {
	switch v.Kind {
	case value.KindInt:
		if v.I64 < 0 {
			return value.Int(-v.I64), nil
		}
		return v, nil
	case value.KindDecimal:
		return value.Decimal(v.Dec.Abs()), nil
	}
	return value.Float(math.Abs(v.F64)), nil
}

func rounding(v value.Value, f func(float64) float64, d func(decimal.Decimal) decimal.Decimal) (value.Value, error) {
	switch v.Kind {
	case value.KindInt:
		return v, nil
	case value.KindDecimal:
		return value.Decimal(d(v.Dec)), nil
	}
	return value.Float(f(v.F64)), nil
}

func sqrtValue(v value.Value) (value.Value, error) {
	f, _ := v.AsFloat()
	if f < 0 {
		return value.Null(), errorf(TypeMismatch, "sqrt of negative number %s", v)
	}
	return value.Float(math.Sqrt(f)), nil
}

func toInt(v value.Value) (value.Value, error) {
	switch v.Kind {
	case value.KindInt:
		return v, nil
	case value.KindFloat:
		return value.Int(int64(v.F64)), nil
	case value.KindDecimal:
		return value.Int(v.Dec.IntPart()), nil
	case value.KindBool:
		if v.B {
			return value.Int(1), nil
		}
		return value.Int(0), nil
	case value.KindString:
		d, err := decimal.NewFromString(v.S)
		if err != nil {
			return value.Null(), errorf(TypeMismatch, "int(%q): not a number", v.S)
		}
		return value.Int(d.IntPart()), nil
	}
	return value.Null(), errorf(TypeMismatch, "int of %s", v.Kind)
}

func toFloat(v value.Value) (value.Value, error) {
	if f, ok := v.AsFloat(); ok {
		return value.Float(f), nil
	}
	if v.Kind == value.KindString {
		d, err := decimal.NewFromString(v.S)
		if err != nil {
			return value.Null(), errorf(TypeMismatch, "float(%q): not a number", v.S)
		}
		return value.Float(d.InexactFloat64()), nil
	}
	return value.Null(), errorf(TypeMismatch, "float of %s", v.Kind)
}

func toDecimal(v value.Value) (value.Value, error) {
	if d, ok := v.AsDecimal(); ok {
		return value.Decimal(d), nil
	}
	if v.Kind == value.KindString {
		d, err := decimal.NewFromString(v.S)
		if err != nil {
			return value.Null(), errorf(TypeMismatch, "decimal(%q): not a number", v.S)
		}
		return value.Decimal(d), nil
	}
	return value.Null(), errorf(TypeMismatch, "decimal of %s", v.Kind)
}

// roundFunc is round(x[, n]) with n decimal places, half away from zero.
func roundFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 2); err != nil {
		return value.Null(), err
	}
	v, err := c.arg(0)
	if err != nil || v.IsNull() {
		return value.Null(), err
	}
	places, err := c.intArg(1, 0)
	if err != nil {
		return value.Null(), err
	}
	switch v.Kind {
	case value.KindInt:
		if places >= 0 {
			return v, nil
		}
		d := decimal.NewFromInt(v.I64).Round(int32(places))
		return value.Int(d.IntPart()), nil
	case value.KindDecimal:
		return value.Decimal(v.Dec.Round(int32(places))), nil
	case value.KindFloat:
		f, _ := decimal.NewFromFloat(v.F64).Round(int32(places)).Float64()
		return value.Float(f), nil
	}
	return value.Null(), errorf(TypeMismatch, "round of %s", v.Kind)
}

func powerFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	args, err := c.all()
	if err != nil {
		return value.Null(), err
	}
	x, y := args[0], args[1]
	if x.IsNull() || y.IsNull() {
		return value.Null(), nil
	}
	if x.Kind == value.KindInt && y.Kind == value.KindInt && y.I64 >= 0 {
		r := int64(1)
		for i := int64(0); i < y.I64; i++ {
			r *= x.I64
		}
		return value.Int(r), nil
	}
	a, ok1 := x.AsFloat()
	b, ok2 := y.AsFloat()
	if !ok1 || !ok2 {
		return value.Null(), errorf(TypeMismatch, "power of %s and %s", x.Kind, y.Kind)
	}
	return value.Float(math.Pow(a, b)), nil
}

// intFold applies fn across two or more integer arguments.
func intFold(fn func(a, b int64) int64) builtin {
	return func(c *call) (value.Value, error) {
		if err := c.arity(2, -1); err != nil {
			return value.Null(), err
		}
		args, err := c.all()
		if err != nil {
			return value.Null(), err
		}
		var acc int64
		for i, a := range args {
			if a.IsNull() {
				return value.Null(), nil
			}
			n, ok := a.AsInt()
			if !ok {
				return value.Null(), errorf(TypeMismatch, "%s: argument %d must be an integer, got %s", c.name, i+1, a.Kind)
			}
			if i == 0 {
				acc = n
				continue
			}
			acc = fn(acc, n)
		}
		return value.Int(acc), nil
	}
}

func lcm(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	return a / x * b
}

// permutFunc is permut(n, k), the number of ordered selections of k out of n.
func permutFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	n, err := c.intArg(0, 0)
	if err != nil {
		return value.Null(), err
	}
	k, err := c.intArg(1, 0)
	if err != nil {
		return value.Null(), err
	}
	if k < 0 || n < 0 || k > n {
		return value.Int(0), nil
	}
	r := int64(1)
	for i := n - k + 1; i <= n; i++ {
		r *= i
	}
	return value.Int(r), nil
}

// vector reads argument i as a sequence of numbers.
func (c *call) vector(i int) ([]float64, error) {
	v, err := c.arg(i)
	if err != nil {
		return nil, err
	}
	switch v.Kind {
	case value.KindNull:
		return nil, errorf(NullOperation, "%s on null", c.name)
	case value.KindSequence:
	default:
		return nil, errorf(TypeMismatch, "%s needs a sequence of numbers, got %s", c.name, v.Kind)
	}
	out := make([]float64, len(v.Seq.Items))
	for k, it := range v.Seq.Items {
		if it.IsNull() {
			return nil, errorf(NullOperation, "%s: null at position %d", c.name, k+1)
		}
		f, ok := it.AsFloat()
		if !ok {
			return nil, errorf(TypeMismatch, "%s: %s at position %d is not a number", c.name, it.Kind, k+1)
		}
		out[k] = f
	}
	if len(out) == 0 {
		return nil, errorf(TypeMismatch, "%s of an empty vector", c.name)
	}
	return out, nil
}

// vectors reads the two vectors of mae and dis; b is all zeros when absent.
func (c *call) vectors() (a, b []float64, err error) {
	if a, err = c.vector(0); err != nil {
		return nil, nil, err
	}
	if c.n() < 2 {
		return a, make([]float64, len(a)), nil
	}
	if b, err = c.vector(1); err != nil {
		return nil, nil, err
	}
	if len(a) != len(b) {
		return nil, nil, errorf(Bounds, "%s: vectors of length %d and %d", c.name, len(a), len(b))
	}
	return a, b, nil
}

// maeFunc is mae(A, B), the mean absolute error between two vectors.
func maeFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	a, b, err := c.vectors()
	if err != nil {
		return value.Null(), err
	}
	sum := 0.0
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return value.Float(sum / float64(len(a))), nil
}

// disFunc is dis(A[, B]), the Euclidean distance between two vectors, or of A from the
// origin. @a gives the Manhattan distance; @m divides the sum by the vector length.
func disFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 2); err != nil {
		return value.Null(), err
	}
	a, b, err := c.vectors()
	if err != nil {
		return value.Null(), err
	}
	manhattan := c.opt('a')
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		if manhattan {
			sum += math.Abs(d)
		} else {
			sum += d * d
		}
	}
	if c.opt('m') {
		sum /= float64(len(a))
	}
	if manhattan {
		return value.Float(sum), nil
	}
	return value.Float(math.Sqrt(sum)), nil
}
