package fork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"gocell/internal/algebra"
	"gocell/internal/log"
	"gocell/internal/value"
)

func numbers(t *testing.T, n int) *value.Table {
	t.Helper()
	rows := make([][]value.Value, n)
	for i := range rows {
		rows[i] = []value.Value{value.Int(int64(i + 1)), value.Int(int64(i % 3))}
	}
	tab, err := value.TableOf(value.MustSchema("id", "grp"), rows...)
	if err != nil {
		t.Fatalf("TableOf: %v", err)
	}
	return tab
}

func even(elem value.Value, _ int) (value.Value, error) {
	v, _ := elem.Rec.Get("id")
	return value.Bool(v.I64%2 == 0), nil
}

// TestForkMatchesSerialForEveryN checks that filtering a cursor through N partitions gives
// the same records in the same order as filtering it serially.
func TestForkMatchesSerialForEveryN(t *testing.T) {
	ctx := context.Background()
	tab := numbers(t, 23)
	serial, err := algebra.FilterCursor(value.TableCursor(tab), even).Fetch(ctx, 0)
	if err != nil {
		t.Fatalf("serial filter: %v", err)
	}

	for n := 1; n <= 6; n++ {
		m := New(4, 3, &log.Testing{TB: t})
		got, err := m.Run(ctx, value.Cur(value.TableCursor(tab)), n, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
			return value.Cur(algebra.FilterCursor(sub.Cur, even)), nil
		})
		if err != nil {
			t.Fatalf("n=%d: Run: %v", n, err)
		}
		if got.Kind != value.KindCursor {
			t.Fatalf("n=%d: expected a cursor, got %s", n, got.Kind)
		}
		merged, err := got.Cur.Fetch(ctx, 0)
		if err != nil {
			t.Fatalf("n=%d: fetch: %v", n, err)
		}
		if value.Tab(merged).String() != value.Tab(serial).String() {
			t.Fatalf("n=%d: expected %s, got %s", n, value.Tab(serial), value.Tab(merged))
		}
	}
}

// TestForkBlockResultsKeepSourceOrder checks that table and scalar results of a cursor
// fork come back in source block order, not grouped by partition.
func TestForkBlockResultsKeepSourceOrder(t *testing.T) {
	ctx := context.Background()
	tab := numbers(t, 7)

	m := New(2, 1, &log.Testing{TB: t})
	got, err := m.Run(ctx, value.Cur(value.TableCursor(tab)), 2, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
		part1, err := sub.Cur.Fetch(ctx, 0)
		if err != nil {
			return value.Null(), err
		}
		return value.Tab(part1), nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.String() != value.Tab(tab).String() {
		t.Fatalf("expected %s, got %s", value.Tab(tab), got)
	}

	m = New(3, 3, nil)
	got, err = m.Run(ctx, value.Cur(value.TableCursor(tab)), 3, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
		return algebra.AggregateCursor(ctx, sub.Cur, algebra.AggCountAll, nil)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.String() != "[3, 3, 1]" {
		t.Fatalf("expected per-block counts [3, 3, 1], got %s", got)
	}

	// An empty source still runs the task once.
	empty := numbers(t, 0)
	got, err = m.Run(ctx, value.Cur(value.TableCursor(empty)), 3, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
		return algebra.AggregateCursor(ctx, sub.Cur, algebra.AggCountAll, nil)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.String() != "[0]" {
		t.Fatalf("expected [0] for an empty source, got %s", got)
	}
}

func TestForkRangesConcatenateInOrder(t *testing.T) {
	ctx := context.Background()
	tab := numbers(t, 10)
	for n := 1; n <= 12; n++ {
		m := New(16, 1024, nil)
		got, err := m.Run(ctx, value.Tab(tab), n, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
			return sub, nil
		})
		if err != nil {
			t.Fatalf("n=%d: Run: %v", n, err)
		}
		if got.String() != value.Tab(tab).String() {
			t.Fatalf("n=%d: partitions out of order: %s", n, got)
		}
	}

	m := New(3, 1024, nil)
	got, err := m.Run(ctx, value.List(value.Int(1), value.Int(2), value.Int(3), value.Int(4)), 0, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
		return algebra.Aggregate(sub.Seq.Items, algebra.AggSum, nil)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.String() != "[3, 3, 4]" {
		t.Fatalf("expected per-partition sums [3, 3, 4], got %s", got)
	}
}

func TestForkRejectsNesting(t *testing.T) {
	ctx := context.Background()
	m := New(2, 4, nil)
	_, err := m.Run(ctx, value.Tab(numbers(t, 4)), 2, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
		return m.Run(ctx, sub, 2, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
			return sub, nil
		})
	})
	var fe *ForkError
	if !errors.As(err, &fe) || !errors.Is(err, ErrNestedFork) {
		t.Fatalf("expected ForkError wrapping ErrNestedFork, got %v", err)
	}
}

type trackedSource struct {
	*value.MemSource
	closed *int32
}

func (s *trackedSource) Close() error {
	atomic.AddInt32(s.closed, 1)
	return s.MemSource.Close()
}

// TestForkFailureCancelsAndCloses checks that a failing partition cancels its siblings,
// and that the source cursor and every sub-cursor end up closed.
func TestForkFailureCancelsAndCloses(t *testing.T) {
	ctx := context.Background()
	tab := numbers(t, 100)
	var sourceClosed int32
	src := value.NewCursor(&trackedSource{MemSource: value.NewMemSource(tab.Schema(), tab.Rows()), closed: &sourceClosed})

	var mu sync.Mutex
	var subs []*value.Cursor
	boom := fmt.Errorf("boom")
	m := New(4, 2, &log.Testing{TB: t})
	_, err := m.Run(ctx, value.Cur(src), 4, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
		mu.Lock()
		subs = append(subs, sub.Cur)
		mu.Unlock()
		if part == 3 {
			return value.Null(), boom
		}
		for {
			if _, err := sub.Cur.Next(ctx); err != nil {
				if err == io.EOF {
					return value.Null(), nil
				}
				return value.Null(), err
			}
		}
	})
	var fe *ForkError
	if !errors.As(err, &fe) || fe.Partition != 3 || !errors.Is(err, boom) {
		t.Fatalf("expected partition 3 to fail with boom, got %v", err)
	}
	if atomic.LoadInt32(&sourceClosed) != 1 {
		t.Fatalf("source must be closed exactly once, got %d", sourceClosed)
	}
	for _, c := range subs {
		if c.State() == value.CursorOpen {
			t.Fatalf("sub-cursor left open")
		}
	}
}

func TestForkRejectsScalars(t *testing.T) {
	m := New(2, 2, nil)
	_, err := m.Run(context.Background(), value.Int(3), 2, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
		return sub, nil
	})
	if !errors.Is(err, value.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}
