package filestore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	walMagic = "GCBWAL01" // 8 bytes
	walName  = "wal.log"

	walRecAppend = 1
)

// walLogger is a redo journal for table appends. Before rows are appended to a table file
// the encoded rows are logged together with the table size they start at; after the append
// is synced the journal is reset. A complete record left behind by a crash is replayed on
// startup, a torn one is dropped because its append never started.
//
// File layout:
//
//	[magic "GCBWAL01"]
//	[record]
//
// Record:
//
//	recType:      uint8
//	tableNameLen: uint16
//	tableName:    tableNameLen bytes
//	baseSize:     uint64 (table file size before the append)
//	payloadLen:   uint32
//	payload:      payloadLen bytes (encoded rows)
type walLogger struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

type walRecord struct {
	table    string
	baseSize int64
	payload  []byte
}

// newWAL opens or creates the journal in dir and checks its magic.
func newWAL(dir string) (*walLogger, error) {
	path := filepath.Join(dir, walName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat: %w", err)
	}

	if info.Size() == 0 {
		if _, err := f.Write([]byte(walMagic)); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: write magic: %w", err)
		}
	} else {
		magicBuf := make([]byte, len(walMagic))
		if _, err := f.ReadAt(magicBuf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: read magic: %w", err)
		}
		if string(magicBuf) != walMagic {
			f.Close()
			return nil, fmt.Errorf("wal: invalid magic, not a gocell journal")
		}
	}

	return &walLogger{f: f, path: path}, nil
}

// Close closes the journal file.
func (w *walLogger) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// logAppend records a pending append and syncs it.
func (w *walLogger) logAppend(rec walRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("wal: closed")
	}
	if len(rec.table) > 0xFFFF {
		return fmt.Errorf("wal: table name too long")
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteByte(walRecAppend)
	_ = binary.Write(&buf, le, uint16(len(rec.table)))
	buf.WriteString(rec.table)
	_ = binary.Write(&buf, le, uint64(rec.baseSize))
	_ = binary.Write(&buf, le, uint32(len(rec.payload)))
	buf.Write(rec.payload)

	if _, err := w.f.WriteAt(buf.Bytes(), int64(len(walMagic))); err != nil {
		return fmt.Errorf("wal: write record: %w", err)
	}
	return w.f.Sync()
}

// reset drops the pending record once its append is durable.
func (w *walLogger) reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("wal: closed")
	}
	if err := w.f.Truncate(int64(len(walMagic))); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	return w.f.Sync()
}

// pending returns the logged record, or nil when the journal is empty or torn.
func (w *walLogger) pending() (*walRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil, fmt.Errorf("wal: closed")
	}

	r := io.NewSectionReader(w.f, int64(len(walMagic)), 1<<62)
	le := binary.LittleEndian

	var typ uint8
	if err := binary.Read(r, le, &typ); err != nil {
		return nil, torn(err)
	}
	if typ != walRecAppend {
		return nil, fmt.Errorf("wal: unknown record type %d", typ)
	}
	var nameLen uint16
	if err := binary.Read(r, le, &nameLen); err != nil {
		return nil, torn(err)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, torn(err)
	}
	var base uint64
	if err := binary.Read(r, le, &base); err != nil {
		return nil, torn(err)
	}
	var n uint32
	if err := binary.Read(r, le, &n); err != nil {
		return nil, torn(err)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, torn(err)
	}
	return &walRecord{table: string(name), baseSize: int64(base), payload: payload}, nil
}

// torn maps a short read to "no record".
func torn(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil
	}
	return err
}
