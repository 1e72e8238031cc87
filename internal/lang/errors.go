package lang

import "fmt"

// SyntaxError reports malformed cell text. Pos is a byte offset into the cell text.
type SyntaxError struct {
	Cell Coord
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Cell.Valid() {
		return fmt.Sprintf("syntax error in %s at %d: %s", e.Cell, e.Pos, e.Msg)
	}
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

func errorf(at Coord, pos int, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Cell: at, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
