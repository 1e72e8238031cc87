// Package codec exports and imports values in external formats.
package codec

import (
	"fmt"
	"io"
	"sort"

	"gocell/internal/storage/filestore"
	"gocell/internal/value"
)

// Serializer writes and reads values. Field and row order are preserved on export.
type Serializer interface {
	Encode(w io.Writer, v value.Value) error
	Decode(r io.Reader) (value.Value, error)
}

// ErrEncodeOnly is returned by Decode of formats that only export.
var ErrEncodeOnly = fmt.Errorf("codec: format is encode-only")

var serializers = map[string]Serializer{
	"yaml":   YAML{},
	"text":   Text{},
	"binary": filestore.Codec{},
}

// ByName returns the serializer registered under name.
func ByName(name string) (Serializer, error) {
	s, ok := serializers[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown format %q", name)
	}
	return s, nil
}

// Names lists the available formats.
func Names() []string {
	out := make([]string, 0, len(serializers))
	for n := range serializers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
