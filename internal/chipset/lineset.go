package chipset

import (
	"fmt"
	"sync"
)

// IRQHandler receives level changes for the lines of a LineSet.
type IRQHandler interface {
	HandleIRQ(index int, level bool)
}

// IRQHandlerFunc adapts a function to IRQHandler.
type IRQHandlerFunc func(index int, level bool)

// HandleIRQ implements IRQHandler.
func (f IRQHandlerFunc) HandleIRQ(index int, level bool) {
	if f != nil {
		f(index, level)
	}
}

// LineSet is a fixed array of interrupt lines that share one handler. Every
// SetLevel call on a line invokes the handler synchronously, including calls
// that do not change the level.
type LineSet struct {
	mu sync.Mutex

	handler IRQHandler
	lines   []Line
}

// NewLineSet allocates n lines bound to handler.
func NewLineSet(n int, handler IRQHandler) *LineSet {
	if n < 0 {
		panic(fmt.Sprintf("chipset: negative line count %d", n))
	}
	if handler == nil {
		handler = IRQHandlerFunc(nil)
	}
	l := &LineSet{
		handler: handler,
		lines:   make([]Line, n),
	}
	for i := range l.lines {
		l.lines[i] = Line{owner: l, index: i}
	}
	return l
}

// Len returns the number of lines in the set.
func (l *LineSet) Len() int {
	return len(l.lines)
}

// Line returns the line at index. Indexing outside the set is a wiring bug.
func (l *LineSet) Line(index int) *Line {
	if index < 0 || index >= len(l.lines) {
		panic(fmt.Sprintf("chipset: line %d out of range [0,%d)", index, len(l.lines)))
	}
	return &l.lines[index]
}

// Levels returns a snapshot of every line level.
func (l *LineSet) Levels() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.lines))
	for i := range l.lines {
		out[i] = l.lines[i].level
	}
	return out
}

func (l *LineSet) setLevel(index int, high bool) {
	l.mu.Lock()
	l.lines[index].level = high
	handler := l.handler
	l.mu.Unlock()

	// The lock is released so the handler may drive further lines,
	// including lines of this set.
	handler.HandleIRQ(index, high)
}

// Line is a single interrupt line owned by a LineSet.
type Line struct {
	owner *LineSet
	index int
	level bool
}

// Index returns the position of the line within its set.
func (ln *Line) Index() int {
	return ln.index
}

// Level returns the last level written to the line.
func (ln *Line) Level() bool {
	ln.owner.mu.Lock()
	defer ln.owner.mu.Unlock()
	return ln.level
}

// SetLevel implements LineInterrupt.
func (ln *Line) SetLevel(high bool) {
	ln.owner.setLevel(ln.index, high)
}

// PulseInterrupt implements LineInterrupt.
func (ln *Line) PulseInterrupt() {
	ln.owner.setLevel(ln.index, true)
	ln.owner.setLevel(ln.index, false)
}

var _ LineInterrupt = (*Line)(nil)
