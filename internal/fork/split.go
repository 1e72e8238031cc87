package fork

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"gocell/internal/value"
)

type block struct {
	index int
	rows  []*value.Record
}

// runBlocks deals the source cursor to n partitions round-robin in blocks of blockSize
// records. A single splitter goroutine owns the source cursor. Each partition runs the task
// once per block it receives, on a sub-cursor over that block alone, so every result can be
// put back at its block's place in the source.
func (m *Manager) runBlocks(ctx context.Context, src *value.Cursor, n int, task Task) (value.Value, error) {
	g, gctx := errgroup.WithContext(context.WithValue(ctx, activeKey{}, true))
	schema := src.Schema()

	ins := make([]chan block, n)
	for i := range ins {
		ins[i] = make(chan block, 1)
	}

	g.Go(func() error {
		defer func() {
			for _, in := range ins {
				close(in)
			}
		}()
		err := m.split(gctx, src, ins)
		if cerr := src.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return &ForkError{Partition: 0, Cause: err}
		}
		return nil
	})

	results := make([][]partResult, n)
	for i := range ins {
		i := i
		g.Go(func() error {
			m.log.Debug("fork partition start", "part", i+1, "mode", "block")
			for {
				var blk block
				var ok bool
				select {
				case blk, ok = <-ins[i]:
				case <-gctx.Done():
					return &ForkError{Partition: i + 1, Cause: gctx.Err()}
				}
				if !ok {
					m.log.Debug("fork partition done", "part", i+1, "blocks", len(results[i]))
					return nil
				}
				sub := value.NewCursor(value.NewMemSource(schema, blk.rows))
				r, err := runTask(gctx, task, i+1, value.Cur(sub), blk.index)
				sub.Close()
				if err != nil {
					m.log.Debug("fork partition failed", "part", i+1, "block", blk.index, "err", err)
					return &ForkError{Partition: i + 1, Cause: err}
				}
				results[i] = append(results[i], r)
			}
		})
	}

	if err := g.Wait(); err != nil {
		return value.Null(), err
	}
	var all []partResult
	for _, rs := range results {
		all = append(all, rs...)
	}
	return merge(all)
}

// split reads src to the end, sending block k to partition k mod n. An empty source still
// sends one empty block so the task runs once.
func (m *Manager) split(ctx context.Context, src *value.Cursor, parts []chan block) error {
	idx := 0
	for {
		rows := make([]*value.Record, 0, m.blockSize)
		for len(rows) < m.blockSize {
			r, err := src.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			rows = append(rows, r)
		}
		if len(rows) == 0 && idx > 0 {
			return nil
		}

		select {
		case parts[idx%len(parts)] <- block{index: idx, rows: rows}:
		case <-ctx.Done():
			return ctx.Err()
		}
		idx++
		if len(rows) < m.blockSize {
			return nil
		}
	}
}
