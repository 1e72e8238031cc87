package algebra

import (
	"container/heap"
	"context"
	"io"
	"sort"

	"gocell/internal/value"
)

// Run is a sorted run read back in order. Next returns io.EOF after the last item.
type Run interface {
	Next() (value.Value, error)
	Close() error
}

// Spill stores one sorted run outside memory and returns a reader over it.
type Spill func(items []value.Value) (Run, error)

// SortxCursor sorts in without holding it in memory. On the first pull the input is read in
// blocks of block records; each block is sorted and handed to spill, and the runs are then
// merged lazily. Input that fits in one block is never spilled. The order matches Sort:
// stable, nulls first ascending.
func SortxCursor(in *value.Cursor, keys []SortKey, block int, spill Spill) *value.Cursor {
	if len(keys) == 0 {
		keys = []SortKey{{}}
	}
	if block < 1 {
		block = 1
	}
	return value.Derive(&sortxSource{in: in, keys: keys, block: block, spill: spill}, in)
}

// Items of a run are [record, key1, key2, ...] so keys are evaluated once.
type sortxSource struct {
	in    *value.Cursor
	keys  []SortKey
	block int
	spill Spill
	built bool
	runs  []Run
	heads *runHeap
}

func (s *sortxSource) Schema() *value.Schema { return s.in.Schema() }

func (s *sortxSource) Next(ctx context.Context) (*value.Record, error) {
	if !s.built {
		if err := s.build(ctx); err != nil {
			return nil, err
		}
		s.built = true
	}
	h := s.heads
	if h.Len() == 0 {
		return nil, io.EOF
	}
	top := h.items[0]
	next, err := s.runs[top.run].Next()
	switch {
	case err == io.EOF:
		heap.Pop(h)
	case err != nil:
		return nil, err
	default:
		h.items[0].item = next
		heap.Fix(h, 0)
	}
	if h.err != nil {
		return nil, h.err
	}
	return top.item.Seq.Items[0].Rec, nil
}

func (s *sortxSource) build(ctx context.Context) error {
	pos := 0
	for {
		items := make([]value.Value, 0, s.block)
		for len(items) < s.block {
			r, err := s.in.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			pos++
			it, err := s.keyed(r, pos)
			if err != nil {
				return err
			}
			items = append(items, it)
		}
		if err := s.sortBlock(items); err != nil {
			return err
		}

		last := len(items) < s.block
		if last && len(s.runs) == 0 {
			s.runs = append(s.runs, &memRun{items: items})
			break
		}
		if len(items) > 0 {
			run, err := s.spill(items)
			if err != nil {
				return err
			}
			s.runs = append(s.runs, run)
		}
		if last {
			break
		}
	}

	s.heads = &runHeap{keys: s.keys}
	for i, r := range s.runs {
		v, err := r.Next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return err
		}
		s.heads.items = append(s.heads.items, runHead{run: i, item: v})
	}
	heap.Init(s.heads)
	return s.heads.err
}

func (s *sortxSource) keyed(r *value.Record, pos int) (value.Value, error) {
	elem := value.Rec(r)
	row := make([]value.Value, 1+len(s.keys))
	row[0] = elem
	for j, k := range s.keys {
		if k.Fn == nil {
			row[j+1] = elem
			continue
		}
		v, err := k.Fn(elem, pos)
		if err != nil {
			return value.Null(), err
		}
		row[j+1] = v
	}
	return value.List(row...), nil
}

func (s *sortxSource) sortBlock(items []value.Value) error {
	var cmpErr error
	sort.SliceStable(items, func(a, b int) bool {
		c, err := compareKeys(items[a].Seq.Items[1:], items[b].Seq.Items[1:], s.keys)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c < 0
	})
	return cmpErr
}

func (s *sortxSource) Close() error {
	err := s.in.Close()
	for _, r := range s.runs {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}
	s.runs = nil
	s.heads = &runHeap{}
	return err
}

// memRun serves the only run of an input that fit in one block.
type memRun struct {
	items []value.Value
}

func (m *memRun) Next() (value.Value, error) {
	if len(m.items) == 0 {
		return value.Null(), io.EOF
	}
	v := m.items[0]
	m.items = m.items[1:]
	return v, nil
}

func (m *memRun) Close() error {
	m.items = nil
	return nil
}

type runHead struct {
	run  int
	item value.Value
}

// runHeap orders run heads by key; equal keys come from the earlier run first, which keeps
// the merge stable.
type runHeap struct {
	keys  []SortKey
	items []runHead
	err   error
}

func (h *runHeap) Len() int { return len(h.items) }

func (h *runHeap) Less(a, b int) bool {
	c, err := compareKeys(h.items[a].item.Seq.Items[1:], h.items[b].item.Seq.Items[1:], h.keys)
	if err != nil && h.err == nil {
		h.err = err
	}
	if c != 0 {
		return c < 0
	}
	return h.items[a].run < h.items[b].run
}

func (h *runHeap) Swap(a, b int) { h.items[a], h.items[b] = h.items[b], h.items[a] }

func (h *runHeap) Push(x interface{}) { h.items = append(h.items, x.(runHead)) }

func (h *runHeap) Pop() interface{} {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}
