package filestore

import (
	"bufio"
	"fmt"
	"io"

	"gocell/internal/value"
)

const valueMagic = "GCV1"

// Codec serializes single values in the table file's value encoding.
type Codec struct{}

// Encode writes v behind a magic marker.
func (Codec) Encode(w io.Writer, v value.Value) error {
	bw := bufio.NewWriter(w)
	if _, err := io.WriteString(bw, valueMagic); err != nil {
		return err
	}
	if err := writeValue(bw, v); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads one value written by Encode.
func (Codec) Decode(r io.Reader) (value.Value, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(valueMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return value.Null(), fmt.Errorf("filestore: read value header: %w", err)
	}
	if string(magic) != valueMagic {
		return value.Null(), fmt.Errorf("filestore: invalid value magic %q", magic)
	}
	v, err := readValue(br)
	if err != nil {
		return value.Null(), fmt.Errorf("filestore: decode value: %w", unexpected(err))
	}
	return v, nil
}
