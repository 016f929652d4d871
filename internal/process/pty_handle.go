package process

import "io"

// PtyHandle abstracts PTY operations across Unix and Windows: on Unix it
// wraps creack/pty's *os.File master; on Windows it wraps a ConPTY
// pseudo-console. The spawn responsibility is identical across
// platforms but the implementation is not.
type PtyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}
