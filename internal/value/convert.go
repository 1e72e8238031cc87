package value

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// FromGo converts a native value as produced by database drivers and decoders.
func FromGo(x interface{}) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		if v > 1<<63-1 {
			return Decimal(decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)), nil
		}
		return Int(int64(v)), nil
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case decimal.Decimal:
		return Decimal(v), nil
	case string:
		return Str(v), nil
	case []byte:
		return Str(string(v)), nil
	case bool:
		return Bool(v), nil
	case time.Time:
		return Date(v), nil
	case []interface{}:
		items := make([]Value, len(v))
		for i, it := range v {
			iv, err := FromGo(it)
			if err != nil {
				return Null(), err
			}
			items[i] = iv
		}
		return List(items...), nil
	}
	return Null(), fmt.Errorf("%w: unsupported native type %T", ErrTypeMismatch, x)
}

// ToGo converts v into plain Go values: scalars map to their natural types, sequences to
// []interface{}, records to ordered key/value pairs and tables to a slice of those.
func ToGo(v Value) interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInt:
		return v.I64
	case KindFloat:
		return v.F64
	case KindDecimal:
		return v.Dec.String()
	case KindString:
		return v.S
	case KindDate:
		return v.T
	case KindBool:
		return v.B
	case KindSequence:
		return listToGo(v.Seq.Items)
	case KindSet:
		return listToGo(v.Set.Items())
	case KindRecord:
		return recordToGo(v.Rec)
	case KindTable:
		out := make([]interface{}, v.Tab.Len())
		for i, r := range v.Tab.rows {
			out[i] = recordToGo(r)
		}
		return out
	}
	return v.String()
}

// Field is one name/value pair of a converted record.
type Field struct {
	Name  string
	Value interface{}
}

func recordToGo(r *Record) []Field {
	out := make([]Field, len(r.vals))
	for i, v := range r.vals {
		out[i] = Field{Name: r.schema.fields[i], Value: ToGo(v)}
	}
	return out
}

func listToGo(items []Value) []interface{} {
	out := make([]interface{}, len(items))
	for i, it := range items {
		out[i] = ToGo(it)
	}
	return out
}
