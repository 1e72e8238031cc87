package codec

import (
	"bufio"
	"io"
	"strings"

	"gocell/internal/value"
)

// Text writes tab-separated lines: tables and records with a header line of field names,
// sequences and sets one item per line, anything else as a single line.
type Text struct{}

func (Text) Encode(w io.Writer, v value.Value) error {
	bw := bufio.NewWriter(w)
	switch v.Kind {
	case value.KindTable:
		writeLine(bw, v.Tab.Schema().Fields())
		for _, r := range v.Tab.Rows() {
			writeLine(bw, cells(r.Values()))
		}
	case value.KindRecord:
		writeLine(bw, v.Rec.Schema().Fields())
		writeLine(bw, cells(v.Rec.Values()))
	case value.KindSequence, value.KindSet:
		items, _ := v.Items()
		for _, it := range items {
			writeLine(bw, cells([]value.Value{it}))
		}
	default:
		writeLine(bw, cells([]value.Value{v}))
	}
	return bw.Flush()
}

func (Text) Decode(r io.Reader) (value.Value, error) {
	return value.Null(), ErrEncodeOnly
}

func writeLine(w *bufio.Writer, fields []string) {
	w.WriteString(strings.Join(fields, "\t"))
	w.WriteByte('\n')
}

// cells renders values with tabs and newlines escaped so every row stays on one line.
func cells(vals []value.Value) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		s := v.String()
		if v.Kind == value.KindNull {
			s = ""
		}
		out[i] = escaper.Replace(s)
	}
	return out
}

var escaper = strings.NewReplacer("\\", "\\\\", "\t", "\\t", "\n", "\\n", "\r", "\\r")
