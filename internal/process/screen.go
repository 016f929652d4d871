package process

import (
	"sync"

	"github.com/tuzig/vt10x"
)

// Screen maintains a live terminal-emulation buffer over a spawned
// terminal's PTY output, interpreting the child's escape sequences into
// a cell grid. It exists purely so an external UI consumer can ask
// "what does this terminal currently look like"; orchestration never
// reads Screen and never derives any decision from it.
type Screen struct {
	mu   sync.Mutex
	term vt10x.Terminal
	cols int
	rows int
}

// NewScreen creates a Screen sized cols x rows.
func NewScreen(cols, rows int) *Screen {
	return &Screen{
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
}

// Feed writes PTY output bytes into the terminal emulator. A PTY master
// has exactly one logical reader (the external streaming consumer), so
// Screen is updated by tapping that single read path (see teePTY in
// process.go) rather than by an independent reader goroutine that would
// race the real consumer for bytes.
func (s *Screen) Feed(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.term.Write(b)
}

// Resize updates the emulated terminal's size.
func (s *Screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term.Resize(cols, rows)
	s.cols, s.rows = cols, rows
}

// Snapshot renders the current screen contents as plain text lines.
func (s *Screen) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, s.rows)
	for row := 0; row < s.rows; row++ {
		chars := make([]rune, 0, s.cols)
		for col := 0; col < s.cols; col++ {
			g := s.term.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
			} else {
				chars = append(chars, g.Char)
			}
		}
		lines[row] = string(chars)
	}
	return lines
}
