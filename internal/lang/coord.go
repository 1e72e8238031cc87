package lang

import (
	"fmt"
	"strconv"
	"strings"
)

// Coord addresses a cell by 1-based row and column. Column 1 is "A".
type Coord struct {
	Row int
	Col int
}

// Valid reports whether both parts are positive.
func (c Coord) Valid() bool { return c.Row > 0 && c.Col > 0 }

// String renders the A1-style name, e.g. {Row: 12, Col: 28} is "AB12".
func (c Coord) String() string {
	if !c.Valid() {
		return fmt.Sprintf("R%dC%d", c.Row, c.Col)
	}
	return ColumnName(c.Col) + strconv.Itoa(c.Row)
}

// ColumnName converts a 1-based column number to letters.
func ColumnName(col int) string {
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// ParseCoord parses an A1-style cell name. Column letters must be upper case.
func ParseCoord(s string) (Coord, error) {
	i := 0
	col := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		col = col*26 + int(s[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(s) {
		return Coord{}, fmt.Errorf("invalid cell name %q", s)
	}
	row, err := strconv.Atoi(s[i:])
	if err != nil || row < 1 || strings.HasPrefix(s[i:], "+") {
		return Coord{}, fmt.Errorf("invalid cell name %q", s)
	}
	return Coord{Row: row, Col: col}, nil
}

// isCellName reports whether an identifier has the shape of a cell name.
func isCellName(s string) bool {
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(s) || i > 3 || s[i] == '0' {
		return false
	}
	for _, c := range s[i:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
