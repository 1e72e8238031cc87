package cellset

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"gocell/internal/lang"
)

// MainName is the cellset name used for files without a header.
const MainName = "main"

const headerPrefix = "@cellset"

// Load parses a program file. A file holds one or more cellsets, each starting with a
// "@cellset name(p1, p2)" header line; a file without headers is one cellset named main.
// Rows are lines and cells are separated by tabs. Any syntax error aborts the whole load.
func Load(name, src string) (*Program, error) {
	p := &Program{Name: name, sets: make(map[string]*Cellset)}
	blocks, err := split(src)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", name)
	}
	for _, b := range blocks {
		if _, dup := p.sets[b.name]; dup {
			return nil, errors.Wrapf(&lang.SyntaxError{Msg: fmt.Sprintf("duplicate cellset %q", b.name)}, "load %s", name)
		}
		cs, err := build(b)
		if err != nil {
			return nil, errors.Wrapf(err, "load %s: cellset %s", name, b.name)
		}
		p.sets[b.name] = cs
		p.order = append(p.order, b.name)
	}
	if len(p.order) == 0 {
		return nil, errors.Errorf("load %s: no cellsets", name)
	}
	// Call targets can only be checked once every cellset is known.
	for _, n := range p.order {
		cs := p.sets[n]
		for _, c := range cs.cells {
			if c.Stmt.Kind != lang.StmtCall {
				continue
			}
			if _, ok := p.sets[c.Stmt.Cellset]; !ok {
				return nil, errors.Wrapf(&lang.SyntaxError{Cell: c.Coord, Msg: fmt.Sprintf("call to unknown cellset %q", c.Stmt.Cellset)},
					"load %s: cellset %s", name, n)
			}
		}
	}
	return p, nil
}

// block is the raw text of one cellset.
type block struct {
	name   string
	params []string
	rows   []string
}

func split(src string) ([]*block, error) {
	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	// A trailing newline does not start another row.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var out []*block
	cur := &block{name: MainName}
	implicit := true
	for i, line := range lines {
		if !strings.HasPrefix(line, headerPrefix) {
			cur.rows = append(cur.rows, line)
			continue
		}
		name, params, err := parseHeader(strings.TrimSpace(line[len(headerPrefix):]))
		if err != nil {
			return nil, &lang.SyntaxError{Msg: fmt.Sprintf("line %d: %v", i+1, err)}
		}
		// Blank lines ahead of the first header are not a cellset.
		if !implicit || !blank(cur.rows) {
			out = append(out, cur)
		}
		cur = &block{name: name, params: params}
		implicit = false
	}
	out = append(out, cur)
	return out, nil
}

func blank(rows []string) bool {
	for _, r := range rows {
		if strings.TrimSpace(r) != "" {
			return false
		}
	}
	return true
}

func parseHeader(s string) (string, []string, error) {
	name, rest := s, ""
	if i := strings.IndexByte(s, '('); i >= 0 {
		name, rest = strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
		if !strings.HasSuffix(rest, ")") {
			return "", nil, fmt.Errorf("unterminated parameter list")
		}
		rest = strings.TrimSuffix(rest, ")")
	}
	if !isName(name) {
		return "", nil, fmt.Errorf("invalid cellset name %q", name)
	}
	var params []string
	seen := map[string]bool{}
	if strings.TrimSpace(rest) != "" {
		for _, p := range strings.Split(rest, ",") {
			p = strings.TrimSpace(p)
			if !isName(p) {
				return "", nil, fmt.Errorf("invalid parameter name %q", p)
			}
			if seen[p] {
				return "", nil, fmt.Errorf("duplicate parameter %q", p)
			}
			seen[p] = true
			params = append(params, p)
		}
	}
	return name, params, nil
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// build parses every cell of a block and resolves its structure.
func build(b *block) (*Cellset, error) {
	cs := &Cellset{
		Name:   b.name,
		params: b.params,
		index:  make(map[lang.Coord]int),
	}
	for r, row := range b.rows {
		for c, text := range strings.Split(row, "\t") {
			at := lang.Coord{Row: r + 1, Col: c + 1}
			st, err := lang.ParseCell(text, at)
			if err != nil {
				return nil, err
			}
			if st.Kind == lang.StmtNone {
				continue
			}
			cell := &Cell{Coord: at, Text: text, Stmt: st, Index: len(cs.cells), End: -1, Else: -1, Owner: -1, Jump: -1}
			cs.index[at] = cell.Index
			cs.cells = append(cs.cells, cell)
		}
	}
	if err := cs.resolveBlocks(); err != nil {
		return nil, err
	}
	if err := cs.resolveJumps(); err != nil {
		return nil, err
	}
	cs.resolveRefs()
	return cs, nil
}

func structErr(c *Cell, format string, args ...interface{}) error {
	return &lang.SyntaxError{Cell: c.Coord, Msg: fmt.Sprintf(format, args...)}
}

// resolveBlocks matches for/if/fork with end, else with if and break/next with the
// innermost loop. Blocks still open at the end of the cellset are closed there.
func (cs *Cellset) resolveBlocks() error {
	var stack []*Cell
	for _, c := range cs.cells {
		switch k := c.Stmt.Kind; {
		case k.Opens():
			stack = append(stack, c)
		case k == lang.StmtElse:
			if len(stack) == 0 {
				return structErr(c, "else without if")
			}
			top := stack[len(stack)-1]
			if top.Stmt.Kind != lang.StmtIf {
				return structErr(c, "else inside %s block at %s", top.Stmt.Kind, top.Coord)
			}
			if top.Else >= 0 {
				return structErr(c, "second else for if at %s", top.Coord)
			}
			top.Else, c.Owner = c.Index, top.Index
		case k == lang.StmtEnd:
			if len(stack) == 0 {
				return structErr(c, "end without an open block")
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			top.End, c.Owner = c.Index, top.Index
		case k == lang.StmtBreak || k == lang.StmtNext:
			loop, err := innermostLoop(stack, c)
			if err != nil {
				return err
			}
			c.Owner = loop.Index
		}
	}
	for _, c := range stack {
		c.End = len(cs.cells)
	}
	return nil
}

func innermostLoop(stack []*Cell, c *Cell) (*Cell, error) {
	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i].Stmt.Kind {
		case lang.StmtFor:
			return stack[i], nil
		case lang.StmtFork:
			return nil, structErr(c, "%s crosses fork at %s", c.Stmt.Kind, stack[i].Coord)
		}
	}
	return nil, structErr(c, "%s outside a loop", c.Stmt.Kind)
}

// resolveJumps turns goto, onerror and cell-assignment targets into indices.
func (cs *Cellset) resolveJumps() error {
	for _, c := range cs.cells {
		st := c.Stmt
		switch {
		case st.Kind == lang.StmtGoto, st.Kind == lang.StmtOnError && st.HasTarget, st.Kind == lang.StmtAssign && st.HasTarget:
			i, ok := cs.index[st.Target]
			if !ok {
				return structErr(c, "%s target %s is an empty cell", st.Kind, st.Target)
			}
			c.Jump = i
		}
	}
	return nil
}

// resolveRefs computes reference edges, their transitive reverse closure and cycles.
func (cs *Cellset) resolveRefs() {
	n := len(cs.cells)
	direct := make([][]int, n)
	for _, c := range cs.cells {
		seen := map[int]bool{}
		for _, node := range stmtNodes(c.Stmt) {
			for _, target := range lang.CellRefs(node) {
				// Empty cells hold no value and carry no edge.
				if i, ok := cs.index[target]; ok && !seen[i] {
					seen[i] = true
					c.Refs = append(c.Refs, i)
					direct[i] = append(direct[i], c.Index)
				}
			}
		}
	}

	cs.dependents = make([][]int, n)
	for i := range cs.cells {
		visited := map[int]bool{i: true}
		queue := append([]int(nil), direct[i]...)
		var out []int
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if visited[j] {
				continue
			}
			visited[j] = true
			out = append(out, j)
			queue = append(queue, direct[j]...)
		}
		cs.dependents[i] = out
	}
	cs.cycles = findCycles(cs.cells)
}

func stmtNodes(st *lang.Statement) []lang.Node {
	var out []lang.Node
	if st.X != nil {
		out = append(out, st.X)
	}
	if st.N != nil {
		out = append(out, st.N)
	}
	for _, a := range st.Args {
		out = append(out, a.X)
	}
	return out
}

// findCycles returns the strongly connected components of the reference graph that form a
// cycle, using Tarjan's algorithm.
func findCycles(cells []*Cell) [][]lang.Coord {
	index := make([]int, len(cells))
	low := make([]int, len(cells))
	onStack := make([]bool, len(cells))
	next := 1
	var stack []int
	var out [][]lang.Coord

	var visit func(v int)
	visit = func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range cells[v].Refs {
			switch {
			case index[w] == 0:
				visit(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			case onStack[w] && index[w] < low[v]:
				low[v] = index[w]
			}
		}
		if low[v] != index[v] {
			return
		}
		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		if len(comp) > 1 || selfRef(cells[v]) {
			coords := make([]lang.Coord, len(comp))
			for i, w := range comp {
				// Components pop in reverse discovery order.
				coords[len(comp)-1-i] = cells[w].Coord
			}
			out = append(out, coords)
		}
	}
	for v := range cells {
		if index[v] == 0 {
			visit(v)
		}
	}
	return out
}

func selfRef(c *Cell) bool {
	for _, r := range c.Refs {
		if r == c.Index {
			return true
		}
	}
	return false
}
