package codec

import (
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"gocell/internal/value"
)

const (
	tagDecimal = "!decimal"
	tagSet     = "!set"
	tagDate    = "!date"
)

// YAML maps records to mappings and sequences and tables to sequences. Decimals, sets and
// dates carry local tags so they read back as the same kind. A sequence of records sharing
// one schema reads back as a table.
type YAML struct{}

func (YAML) Encode(w io.Writer, v value.Value) error {
	n, err := toNode(v)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return fmt.Errorf("codec: yaml encode: %w", err)
	}
	return enc.Close()
}

func (YAML) Decode(r io.Reader) (value.Value, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return value.Null(), nil
		}
		return value.Null(), fmt.Errorf("codec: yaml decode: %w", err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		return fromNode(doc.Content[0])
	}
	return fromNode(&doc)
}

func scalar(tag, s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: s}
}

func toNode(v value.Value) (*yaml.Node, error) {
	switch v.Kind {
	case value.KindNull:
		return scalar("!!null", "null"), nil
	case value.KindInt:
		return scalar("!!int", strconv.FormatInt(v.I64, 10)), nil
	case value.KindFloat:
		return scalar("!!float", strconv.FormatFloat(v.F64, 'g', -1, 64)), nil
	case value.KindDecimal:
		return scalar(tagDecimal, v.Dec.String()), nil
	case value.KindString:
		return scalar("!!str", v.S), nil
	case value.KindDate:
		return scalar(tagDate, value.FormatDate(v.T)), nil
	case value.KindBool:
		return scalar("!!bool", strconv.FormatBool(v.B)), nil
	case value.KindSequence:
		return listNode("", v.Seq.Items)
	case value.KindSet:
		return listNode(tagSet, v.Set.Items())
	case value.KindRecord:
		return recordNode(v.Rec)
	case value.KindTable:
		n := &yaml.Node{Kind: yaml.SequenceNode}
		for _, r := range v.Tab.Rows() {
			rn, err := recordNode(r)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, rn)
		}
		return n, nil
	}
	return nil, fmt.Errorf("codec: %w: cannot encode %s", value.ErrTypeMismatch, v.Kind)
}

func listNode(tag string, items []value.Value) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: tag}
	for _, it := range items {
		c, err := toNode(it)
		if err != nil {
			return nil, err
		}
		n.Content = append(n.Content, c)
	}
	return n, nil
}

func recordNode(r *value.Record) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for i, f := range r.Schema().Fields() {
		c, err := toNode(r.At(i))
		if err != nil {
			return nil, err
		}
		n.Content = append(n.Content, scalar("!!str", f), c)
	}
	return n, nil
}

func fromNode(n *yaml.Node) (value.Value, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return fromNode(n.Alias)
	case yaml.ScalarNode:
		return fromScalar(n)
	case yaml.MappingNode:
		r, err := fromMapping(n)
		if err != nil {
			return value.Null(), err
		}
		return value.Rec(r), nil
	case yaml.SequenceNode:
		items := make([]value.Value, len(n.Content))
		for i, c := range n.Content {
			v, err := fromNode(c)
			if err != nil {
				return value.Null(), err
			}
			items[i] = v
		}
		if n.Tag == tagSet {
			return value.SetOf(value.NewSet(items...)), nil
		}
		if t := asTable(items); t != nil {
			return value.Tab(t), nil
		}
		return value.List(items...), nil
	}
	return value.Null(), fmt.Errorf("codec: yaml line %d: unsupported node", n.Line)
}

func fromScalar(n *yaml.Node) (value.Value, error) {
	switch n.Tag {
	case tagDecimal:
		d, err := decimal.NewFromString(n.Value)
		if err != nil {
			return value.Null(), fmt.Errorf("codec: yaml line %d: %w", n.Line, err)
		}
		return value.Decimal(d), nil
	case tagDate, "!!timestamp":
		t, err := value.ParseDate(n.Value)
		if err != nil {
			return value.Null(), fmt.Errorf("codec: yaml line %d: %w", n.Line, err)
		}
		return value.Date(t), nil
	}
	var x interface{}
	if err := n.Decode(&x); err != nil {
		return value.Null(), fmt.Errorf("codec: yaml line %d: %w", n.Line, err)
	}
	return value.FromGo(x)
}

func fromMapping(n *yaml.Node) (*value.Record, error) {
	fields := make([]string, 0, len(n.Content)/2)
	vals := make([]value.Value, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		fields = append(fields, n.Content[i].Value)
		v, err := fromNode(n.Content[i+1])
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	s, err := value.NewSchema(fields...)
	if err != nil {
		return nil, fmt.Errorf("codec: yaml line %d: %w", n.Line, err)
	}
	return value.NewRecord(s, vals)
}

// asTable returns a table when items is a non-empty list of records sharing one schema.
func asTable(items []value.Value) *value.Table {
	if len(items) == 0 || items[0].Kind != value.KindRecord {
		return nil
	}
	s := items[0].Rec.Schema()
	rows := make([]*value.Record, len(items))
	for i, it := range items {
		if it.Kind != value.KindRecord || !it.Rec.Schema().Equal(s) {
			return nil
		}
		rows[i] = it.Rec
	}
	t, err := value.NewTable(s, rows)
	if err != nil {
		return nil
	}
	return t
}
