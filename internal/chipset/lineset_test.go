package chipset

import "testing"

type lineEvent struct {
	index int
	level bool
}

type recordingHandler struct {
	events []lineEvent
}

func (r *recordingHandler) HandleIRQ(index int, level bool) {
	r.events = append(r.events, lineEvent{index: index, level: level})
}

func TestLineSetInvokesHandlerPerSet(t *testing.T) {
	h := &recordingHandler{}
	set := NewLineSet(4, h)

	if got := set.Len(); got != 4 {
		t.Fatalf("Len = %d, want 4", got)
	}

	set.Line(2).SetLevel(true)
	set.Line(2).SetLevel(true)
	set.Line(0).SetLevel(false)

	want := []lineEvent{{2, true}, {2, true}, {0, false}}
	if len(h.events) != len(want) {
		t.Fatalf("events = %v, want %v", h.events, want)
	}
	for i := range want {
		if h.events[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, h.events[i], want[i])
		}
	}

	if !set.Line(2).Level() {
		t.Fatalf("line 2 should be high")
	}
	if set.Line(1).Level() {
		t.Fatalf("line 1 should be low")
	}
	if got := set.Line(3).Index(); got != 3 {
		t.Fatalf("Index = %d, want 3", got)
	}
}

func TestLineSetPulse(t *testing.T) {
	h := &recordingHandler{}
	set := NewLineSet(1, h)

	set.Line(0).PulseInterrupt()

	if len(h.events) != 2 || !h.events[0].level || h.events[1].level {
		t.Fatalf("pulse events = %v, want [high low]", h.events)
	}
	if set.Line(0).Level() {
		t.Fatalf("line should be low after pulse")
	}
}

func TestLineSetReentrantChain(t *testing.T) {
	var final []bool

	last := NewLineSet(1, IRQHandlerFunc(func(index int, level bool) {
		final = append(final, level)
	}))

	var set *LineSet
	set = NewLineSet(3, IRQHandlerFunc(func(index int, level bool) {
		// Each line forwards to the next one in the same set, the last
		// line leaves the set entirely.
		if index+1 < set.Len() {
			set.Line(index + 1).SetLevel(level)
			return
		}
		last.Line(0).SetLevel(level)
	}))

	set.Line(0).SetLevel(true)

	if len(final) != 1 || !final[0] {
		t.Fatalf("final = %v, want [true]", final)
	}
	for i, level := range set.Levels() {
		if !level {
			t.Fatalf("line %d not asserted by chain", i)
		}
	}
}

func TestLineSetNilHandler(t *testing.T) {
	set := NewLineSet(2, nil)
	set.Line(1).SetLevel(true)
	if !set.Line(1).Level() {
		t.Fatalf("level not recorded with nil handler")
	}
}

func TestLineSetOutOfRangePanics(t *testing.T) {
	set := NewLineSet(2, nil)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for out of range line")
		}
	}()
	set.Line(2)
}
