package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScreenFeedAndSnapshot(t *testing.T) {
	s := NewScreen(20, 5)
	s.Feed([]byte("hello"))

	lines := s.Snapshot()
	assert.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "hello"))
}

func TestScreenResizeChangesSnapshotDimensions(t *testing.T) {
	s := NewScreen(10, 3)
	s.Resize(20, 6)

	lines := s.Snapshot()
	assert.Len(t, lines, 6)
	assert.Len(t, []rune(lines[0]), 20)
}
