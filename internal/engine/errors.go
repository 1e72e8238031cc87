package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"gocell/internal/lang"
)

// RuntimeError is the failure of one cell. A failed call nests the callee's RuntimeError
// as the Cause of the calling cell's.
type RuntimeError struct {
	Cellset string
	Cell    lang.Coord
	Cause   error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s!%s: %v", e.Cellset, e.Cell, e.Cause)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

// Format prints the cause chain with %+v, one failing cell per line.
func (e *RuntimeError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s!%s failed\n%+v", e.Cellset, e.Cell, e.Cause)
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// Failure returns the innermost RuntimeError of err: the cell where the failure began.
func Failure(err error) (*RuntimeError, bool) {
	var rt *RuntimeError
	if !errors.As(err, &rt) {
		return nil, false
	}
	for {
		var inner *RuntimeError
		if !errors.As(rt.Cause, &inner) {
			return rt, true
		}
		rt = inner
	}
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
