// Package fork runs one computation over N partitions of a data source in parallel and
// merges the partition results back into a single ordered value.
package fork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"golang.org/x/sync/errgroup"

	"gocell/internal/log"
	"gocell/internal/value"
)

// ErrNestedFork is returned when a fork is started from inside a running partition.
var ErrNestedFork = errors.New("fork: nested fork is not allowed")

// ForkError reports the first partition that failed. Partition 0 stands for the splitter
// reading the source cursor.
type ForkError struct {
	Partition int
	Cause     error
}

func (e *ForkError) Error() string {
	if e.Partition == 0 {
		return fmt.Sprintf("fork source: %v", e.Cause)
	}
	return fmt.Sprintf("fork partition %d: %v", e.Partition, e.Cause)
}

func (e *ForkError) Unwrap() error { return e.Cause }

// Task computes the result of one partition. part is 1-based; sub is the partition's share
// of the source: a Table or Sequence slice, or a sub-cursor owned by the task.
type Task func(ctx context.Context, part int, sub value.Value) (value.Value, error)

// Manager runs forks on a bounded number of workers.
type Manager struct {
	workers   int
	blockSize int
	log       log.Logger
}

// New creates a manager. workers caps the partition count; cursor sources are dealt to
// partitions in blocks of blockSize records.
func New(workers, blockSize int, logger log.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	if blockSize < 1 {
		blockSize = 1
	}
	if logger == nil {
		logger = log.Discard{}
	}
	return &Manager{workers: workers, blockSize: blockSize, log: logger}
}

// ErrParentCursor is the failure of a pull on a cursor a partition inherited from the
// forking frame.
var ErrParentCursor = fmt.Errorf("%w: it belongs to the frame that forked", value.ErrCursorClosed)

// Detach returns v as a partition may see it. Cursors stay with the forking frame; the
// partition gets a stand-in whose pulls fail with ErrParentCursor.
func Detach(v value.Value) value.Value {
	if v.Kind != value.KindCursor {
		return v
	}
	return value.Cur(value.NewCursor(parentCursor{}))
}

type parentCursor struct{}

func (parentCursor) Schema() *value.Schema { return nil }

func (parentCursor) Next(context.Context) (*value.Record, error) { return nil, ErrParentCursor }

func (parentCursor) Close() error { return nil }

type activeKey struct{}

// Active reports whether ctx belongs to a running partition.
func Active(ctx context.Context) bool {
	v, _ := ctx.Value(activeKey{}).(bool)
	return v
}

// Run splits src into n partitions (n <= 0 means one per worker), runs task on each and
// merges the results. A table or sequence source is cut into n ranges and the task runs
// once per range. A cursor source is dealt in blocks and the task runs once per block, with
// part naming the partition that received it. Results are merged in source order:
//   - cursor results are drained by their worker and re-assembled into one in-memory cursor;
//   - table and sequence results are concatenated;
//   - any other results become a sequence of the per-run values.
//
// On the first failure every partition is cancelled and its cursors closed before Run
// returns a *ForkError; no partial output is returned.
func (m *Manager) Run(ctx context.Context, src value.Value, n int, task Task) (value.Value, error) {
	if Active(ctx) {
		if src.Kind == value.KindCursor {
			src.Cur.Close()
		}
		return value.Null(), ErrNestedFork
	}
	if n <= 0 || n > m.workers {
		n = m.workers
	}

	switch src.Kind {
	case value.KindCursor:
		return m.runBlocks(ctx, src.Cur, n, task)
	case value.KindTable, value.KindSequence, value.KindSet:
		return m.runRanges(ctx, src, n, task)
	}
	return value.Null(), fmt.Errorf("%w: cannot fork over %s", value.ErrTypeMismatch, src.Kind)
}

// runRanges splits an in-memory source into n contiguous ranges.
func (m *Manager) runRanges(ctx context.Context, src value.Value, n int, task Task) (value.Value, error) {
	parts := splitRanges(src, n)
	g, gctx := errgroup.WithContext(context.WithValue(ctx, activeKey{}, true))
	results := make([]partResult, len(parts))
	for i := range parts {
		i := i
		g.Go(func() error {
			m.log.Debug("fork partition start", "part", i+1, "mode", "range")
			r, err := runTask(gctx, task, i+1, parts[i], i)
			if err != nil {
				m.log.Debug("fork partition failed", "part", i+1, "err", err)
				return &ForkError{Partition: i + 1, Cause: err}
			}
			results[i] = r
			m.log.Debug("fork partition done", "part", i+1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return value.Null(), err
	}
	return merge(results)
}

func splitRanges(src value.Value, n int) []value.Value {
	items, _ := src.Items()
	total := len(items)
	if n > total {
		n = total
	}
	if n < 1 {
		n = 1
	}
	parts := make([]value.Value, n)
	from := 0
	for i := 0; i < n; i++ {
		size := total / n
		if i < total%n {
			size++
		}
		to := from + size
		if src.Kind == value.KindTable {
			parts[i] = value.Tab(src.Tab.Slice(from, to))
		} else {
			parts[i] = value.List(items[from:to:to]...)
		}
		from = to
	}
	return parts
}

// partResult is the outcome of one task run. block is the position of its input in the
// source: the source block for cursor splits, the range index for in-memory ones.
type partResult struct {
	block  int
	val    value.Value
	rows   []*value.Record
	schema *value.Schema
	cursor bool
}

// runTask runs task and drains a cursor result.
func runTask(ctx context.Context, task Task, part int, sub value.Value, block int) (partResult, error) {
	v, err := task(ctx, part, sub)
	if err != nil {
		if v.Kind == value.KindCursor {
			v.Cur.Close()
		}
		return partResult{}, err
	}
	if v.Kind != value.KindCursor {
		return partResult{block: block, val: v}, nil
	}

	c := v.Cur
	defer c.Close()
	res := partResult{block: block, cursor: true, schema: c.Schema()}
	for {
		r, err := c.Next(ctx)
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return partResult{}, err
		}
		if res.schema == nil {
			res.schema = r.Schema()
		}
		res.rows = append(res.rows, r)
	}
}

// merge combines task results in block order.
func merge(results []partResult) (value.Value, error) {
	sort.SliceStable(results, func(a, b int) bool { return results[a].block < results[b].block })

	switch {
	case allCursors(results):
		var rows []*value.Record
		var schema *value.Schema
		for _, r := range results {
			rows = append(rows, r.rows...)
			if schema == nil {
				schema = r.schema
			}
		}
		if schema == nil {
			schema = value.MustSchema()
		}
		t, err := value.NewTable(schema, rows)
		if err != nil {
			return value.Null(), err
		}
		return value.Cur(value.TableCursor(t)), nil

	case allKind(results, value.KindTable):
		t := results[0].val.Tab
		for _, r := range results[1:] {
			var err error
			if t, err = t.Append(r.val.Tab.Rows()...); err != nil {
				return value.Null(), err
			}
		}
		return value.Tab(t), nil

	case allKind(results, value.KindSequence):
		var items []value.Value
		for _, r := range results {
			items = append(items, r.val.Seq.Items...)
		}
		return value.List(items...), nil
	}

	items := make([]value.Value, len(results))
	for i, r := range results {
		if r.cursor {
			schema := r.schema
			if schema == nil {
				schema = value.MustSchema()
			}
			t, err := value.NewTable(schema, r.rows)
			if err != nil {
				return value.Null(), err
			}
			items[i] = value.Tab(t)
			continue
		}
		items[i] = r.val
	}
	return value.List(items...), nil
}

func allCursors(results []partResult) bool {
	for _, r := range results {
		if !r.cursor {
			return false
		}
	}
	return len(results) > 0
}

func allKind(results []partResult, k value.Kind) bool {
	for _, r := range results {
		if r.cursor || r.val.Kind != k {
			return false
		}
	}
	return len(results) > 0
}
