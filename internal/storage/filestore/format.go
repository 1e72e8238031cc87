package filestore

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"gocell/internal/value"
)

const (
	fileMagic = "GCB1" // 4 bytes magic
)

// Value tags. The numbering is part of the file format.
const (
	tagNull uint8 = iota
	tagInt
	tagFloat
	tagDecimal
	tagString
	tagDate
	tagBool
	tagSequence
	tagRecord
	tagTable
	tagSet
)

// writeHeader writes the magic and the field names of a table.
func writeHeader(w io.Writer, s *value.Schema) error {
	if _, err := w.Write([]byte(fileMagic)); err != nil {
		return err
	}
	return writeSchema(w, s)
}

// readHeader reads the magic and schema and leaves r at the start of the first row.
func readHeader(r io.Reader) (*value.Schema, error) {
	magicBuf := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, err
	}
	if string(magicBuf) != fileMagic {
		return nil, fmt.Errorf("filestore: invalid file magic, not a gocell table file")
	}
	return readSchema(r)
}

func writeSchema(w io.Writer, s *value.Schema) error {
	if s.Len() > 0xFFFF {
		return fmt.Errorf("filestore: too many fields: %d", s.Len())
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(s.Len())); err != nil {
		return err
	}
	for _, name := range s.Fields() {
		if len(name) > 0xFFFF {
			return fmt.Errorf("filestore: field name too long: %s", name)
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(name))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, name); err != nil {
			return err
		}
	}
	return nil
}

func readSchema(r io.Reader) (*value.Schema, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	fields := make([]string, n)
	for i := range fields {
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, err
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		fields[i] = string(buf)
	}
	return value.NewSchema(fields...)
}

// writeRow encodes the values of a record in schema order.
func writeRow(w io.Writer, r *value.Record) error {
	for i := 0; i < r.Len(); i++ {
		if err := writeValue(w, r.At(i)); err != nil {
			return err
		}
	}
	return nil
}

// readRow decodes one record. It returns io.EOF when r is at the end of the rows.
func readRow(r io.Reader, s *value.Schema) (*value.Record, error) {
	vals := make([]value.Value, s.Len())
	for i := range vals {
		v, err := readValue(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// EOF at the first field ends the table; anywhere else the row is cut short.
				if i == 0 && err == io.EOF {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("filestore: truncated row")
			}
			return nil, err
		}
		vals[i] = v
	}
	return value.NewRecord(s, vals)
}

// writeValue writes a type tag followed by its payload:
//
//	INT:      int64
//	FLOAT:    float64 bits
//	DECIMAL:  uint32 length + decimal text
//	STRING:   uint32 length + bytes
//	DATE:     uint8 length + time.MarshalBinary
//	BOOL:     1 byte
//	SEQUENCE: uint32 count + values
//	SET:      uint32 count + values
//	RECORD:   schema + values
//	TABLE:    schema + uint32 rows + values
//	NULL:     no payload
func writeValue(w io.Writer, v value.Value) error {
	le := binary.LittleEndian
	switch v.Kind {
	case value.KindNull:
		return writeTag(w, tagNull)
	case value.KindInt:
		if err := writeTag(w, tagInt); err != nil {
			return err
		}
		return binary.Write(w, le, v.I64)
	case value.KindFloat:
		if err := writeTag(w, tagFloat); err != nil {
			return err
		}
		return binary.Write(w, le, math.Float64bits(v.F64))
	case value.KindDecimal:
		if err := writeTag(w, tagDecimal); err != nil {
			return err
		}
		return writeString(w, v.Dec.String())
	case value.KindString:
		if err := writeTag(w, tagString); err != nil {
			return err
		}
		return writeString(w, v.S)
	case value.KindDate:
		if err := writeTag(w, tagDate); err != nil {
			return err
		}
		b, err := v.T.MarshalBinary()
		if err != nil {
			return err
		}
		if err := binary.Write(w, le, uint8(len(b))); err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case value.KindBool:
		if err := writeTag(w, tagBool); err != nil {
			return err
		}
		var b byte
		if v.B {
			b = 1
		}
		return binary.Write(w, le, b)
	case value.KindSequence:
		if err := writeTag(w, tagSequence); err != nil {
			return err
		}
		return writeList(w, v.Seq.Items)
	case value.KindSet:
		if err := writeTag(w, tagSet); err != nil {
			return err
		}
		return writeList(w, v.Set.Items())
	case value.KindRecord:
		if err := writeTag(w, tagRecord); err != nil {
			return err
		}
		if err := writeSchema(w, v.Rec.Schema()); err != nil {
			return err
		}
		return writeRow(w, v.Rec)
	case value.KindTable:
		if err := writeTag(w, tagTable); err != nil {
			return err
		}
		if err := writeSchema(w, v.Tab.Schema()); err != nil {
			return err
		}
		if err := binary.Write(w, le, uint32(v.Tab.Len())); err != nil {
			return err
		}
		for _, r := range v.Tab.Rows() {
			if err := writeRow(w, r); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("filestore: %w: cannot store %s values", value.ErrTypeMismatch, v.Kind)
}

func writeTag(w io.Writer, t uint8) error {
	_, err := w.Write([]byte{t})
	return err
}

func writeString(w io.Writer, s string) error {
	if uint64(len(s)) > math.MaxUint32 {
		return fmt.Errorf("filestore: string too long")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeList(w io.Writer, items []value.Value) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(items))); err != nil {
		return err
	}
	for _, it := range items {
		if err := writeValue(w, it); err != nil {
			return err
		}
	}
	return nil
}

// readValue decodes one tagged value. A clean end of input before the tag is io.EOF.
func readValue(r io.Reader) (value.Value, error) {
	le := binary.LittleEndian
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return value.Null(), err
	}

	switch tag[0] {
	case tagNull:
		return value.Null(), nil
	case tagInt:
		var v int64
		if err := binary.Read(r, le, &v); err != nil {
			return value.Null(), unexpected(err)
		}
		return value.Int(v), nil
	case tagFloat:
		var bits uint64
		if err := binary.Read(r, le, &bits); err != nil {
			return value.Null(), unexpected(err)
		}
		return value.Float(math.Float64frombits(bits)), nil
	case tagDecimal:
		s, err := readString(r)
		if err != nil {
			return value.Null(), err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return value.Null(), fmt.Errorf("filestore: bad decimal %q: %w", s, err)
		}
		return value.Decimal(d), nil
	case tagString:
		s, err := readString(r)
		if err != nil {
			return value.Null(), err
		}
		return value.Str(s), nil
	case tagDate:
		var l uint8
		if err := binary.Read(r, le, &l); err != nil {
			return value.Null(), unexpected(err)
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return value.Null(), unexpected(err)
		}
		var t time.Time
		if err := t.UnmarshalBinary(buf); err != nil {
			return value.Null(), fmt.Errorf("filestore: bad date: %w", err)
		}
		return value.Date(t), nil
	case tagBool:
		var b byte
		if err := binary.Read(r, le, &b); err != nil {
			return value.Null(), unexpected(err)
		}
		return value.Bool(b != 0), nil
	case tagSequence, tagSet:
		items, err := readList(r)
		if err != nil {
			return value.Null(), err
		}
		if tag[0] == tagSet {
			return value.SetOf(value.NewSet(items...)), nil
		}
		return value.List(items...), nil
	case tagRecord:
		s, err := readSchema(r)
		if err != nil {
			return value.Null(), unexpected(err)
		}
		rec, err := readRow(r, s)
		if err != nil {
			return value.Null(), unexpected(err)
		}
		return value.Rec(rec), nil
	case tagTable:
		s, err := readSchema(r)
		if err != nil {
			return value.Null(), unexpected(err)
		}
		var n uint32
		if err := binary.Read(r, le, &n); err != nil {
			return value.Null(), unexpected(err)
		}
		rows := make([]*value.Record, 0, n)
		for i := uint32(0); i < n; i++ {
			rec, err := readRow(r, s)
			if err != nil {
				return value.Null(), unexpected(err)
			}
			rows = append(rows, rec)
		}
		t, err := value.NewTable(s, rows)
		if err != nil {
			return value.Null(), err
		}
		return value.Tab(t), nil
	}
	return value.Null(), fmt.Errorf("filestore: unsupported value tag %d", tag[0])
}

func readString(r io.Reader) (string, error) {
	var l uint32
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return "", unexpected(err)
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", unexpected(err)
	}
	return string(buf), nil
}

func readList(r io.Reader) ([]value.Value, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, unexpected(err)
	}
	items := make([]value.Value, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := readValue(r)
		if err != nil {
			return nil, unexpected(err)
		}
		items = append(items, v)
	}
	return items, nil
}

// unexpected turns a clean EOF inside a value into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
