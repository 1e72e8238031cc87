package filestore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"gocell/internal/value"
)

const runMagic = "GCR1"

// Run is a sorted run spilled to a temporary file. Values are read back in the order they
// were written; the file is removed on Close.
type Run struct {
	f    *os.File
	r    *bufio.Reader
	left uint32
}

// Spill writes items to a new run file in dir (the system temp dir when empty) and returns
// a reader positioned at the first item.
func Spill(dir string, items []value.Value) (*Run, error) {
	f, err := os.CreateTemp(dir, "gocell-run-*")
	if err != nil {
		return nil, fmt.Errorf("filestore: create run: %w", err)
	}
	fail := func(err error) (*Run, error) {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("filestore: write run: %w", err)
	}

	w := bufio.NewWriter(f)
	if _, err := io.WriteString(w, runMagic); err != nil {
		return fail(err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(items))); err != nil {
		return fail(err)
	}
	for _, v := range items {
		if err := writeValue(w, v); err != nil {
			return fail(err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}

	run := &Run{f: f, r: bufio.NewReader(f)}
	magic := make([]byte, len(runMagic))
	if _, err := io.ReadFull(run.r, magic); err != nil || string(magic) != runMagic {
		run.Close()
		return nil, fmt.Errorf("filestore: run %s: bad header", f.Name())
	}
	if err := binary.Read(run.r, binary.LittleEndian, &run.left); err != nil {
		run.Close()
		return nil, fmt.Errorf("filestore: run %s: %w", f.Name(), err)
	}
	return run, nil
}

// Next returns the next item, or io.EOF after the last one.
func (r *Run) Next() (value.Value, error) {
	if r.f == nil {
		return value.Null(), value.ErrCursorClosed
	}
	if r.left == 0 {
		return value.Null(), io.EOF
	}
	v, err := readValue(r.r)
	if err != nil {
		return value.Null(), fmt.Errorf("filestore: read run: %w", unexpected(err))
	}
	r.left--
	return v, nil
}

// Close removes the run file.
func (r *Run) Close() error {
	if r.f == nil {
		return nil
	}
	name := r.f.Name()
	err := r.f.Close()
	r.f, r.r = nil, nil
	if rerr := os.Remove(name); err == nil {
		err = rerr
	}
	return err
}
