// Package cellset assembles parsed cells into callable grid programs. Cells are kept in a
// flat row-major array; every jump target is resolved to an index into that array at load
// time so the interpreter only ever moves a program counter.
package cellset

import (
	"gocell/internal/lang"
)

// Cell is one non-empty grid cell with its resolved structure.
type Cell struct {
	Coord lang.Coord
	Text  string
	Stmt  *lang.Statement

	// Index is the cell's position in the flat array.
	Index int

	// Block links: for for/if/fork cells End is the index of the matching end (Len() when
	// the block is closed implicitly) and Else the index of an if's else (-1 if none). For
	// end, else, break and next cells Owner is the index of the block they belong to.
	End   int
	Else  int
	Owner int

	// Jump is the resolved target of goto, onerror and cell assignments, -1 otherwise.
	Jump int

	// Refs are the indices of the cells this cell reads.
	Refs []int
}

// After returns the index execution continues at once the block opened by c is done.
func (c *Cell) After(n int) int {
	if c.End >= n {
		return n
	}
	return c.End + 1
}

// Cellset is a grid program unit with named parameters.
type Cellset struct {
	Name   string
	params []string
	cells  []*Cell
	index  map[lang.Coord]int

	dependents [][]int
	cycles     [][]lang.Coord
}

// Len returns the number of non-empty cells.
func (cs *Cellset) Len() int { return len(cs.cells) }

// Cell returns the cell at flat index i.
func (cs *Cellset) Cell(i int) *Cell { return cs.cells[i] }

// Lookup resolves a coordinate to a flat index. Empty cells are not present.
func (cs *Cellset) Lookup(c lang.Coord) (int, bool) {
	i, ok := cs.index[c]
	return i, ok
}

// Next returns the structurally sequential successor of i in row-major order. Len() means
// the end of the cellset.
func (cs *Cellset) Next(i int) int {
	if i+1 > len(cs.cells) {
		return len(cs.cells)
	}
	return i + 1
}

// Dependents returns every cell that transitively reads cell i. The slice is shared.
func (cs *Cellset) Dependents(i int) []int { return cs.dependents[i] }

// Params returns the parameter names in declaration order.
func (cs *Cellset) Params() []string {
	out := make([]string, len(cs.params))
	copy(out, cs.params)
	return out
}

// Cycles lists the reference cycles found at load time. They are warnings only; execution
// order never follows references.
func (cs *Cellset) Cycles() [][]lang.Coord { return cs.cycles }

// Program is a loaded set of cellsets.
type Program struct {
	Name  string
	order []string
	sets  map[string]*Cellset
}

// Cellset returns the named cellset.
func (p *Program) Cellset(name string) (*Cellset, bool) {
	cs, ok := p.sets[name]
	return cs, ok
}

// Names lists the cellsets in source order.
func (p *Program) Names() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Main returns the cellset named main, or the first one.
func (p *Program) Main() *Cellset {
	if cs, ok := p.sets[MainName]; ok {
		return cs
	}
	return p.sets[p.order[0]]
}
