package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/dacapoday/blockalloc"
	"github.com/dacapoday/blockalloc/doubly"
	"github.com/dacapoday/blockalloc/layout"
	"github.com/dacapoday/blockalloc/singly"
)

type opKind uint8

const (
	opAcquire opKind = iota + 1
	opRelease
	opExpect
)

type op struct {
	kind opKind
	name string
	size int
	want string // expected layout
	line int
	text string
}

// parseScript reads one operation per line. Blank lines and lines starting
// with '#' are skipped.
func parseScript(r io.Reader) ([]op, error) {
	var ops []op
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		o := op{line: n, text: text}
		switch fields[0] {
		case "acquire", "a":
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: want \"acquire <name> <bytes>\"", n)
			}
			size, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			o.kind, o.name, o.size = opAcquire, fields[1], size
		case "release", "r":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: want \"release <name>\"", n)
			}
			o.kind, o.name = opRelease, fields[1]
		case "expect":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: want \"expect <layout>\"", n)
			}
			if _, err := layout.Parse(fields[1], layout.DefaultSymbols); err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			o.kind, o.want = opExpect, fields[1]
		default:
			return nil, fmt.Errorf("line %d: unknown command %q", n, fields[0])
		}
		ops = append(ops, o)
	}
	return ops, sc.Err()
}

// allocator is what the viewer needs from either variant.
type allocator interface {
	blockalloc.Allocator
	TryRelease(p blockalloc.Ptr) error
	Stats() blockalloc.Stats
	Verify() error
	Close() error
}

type linker interface {
	Links() iter.Seq[doubly.Link]
}

func newAllocator(variant string, capacity int, opts ...blockalloc.Option) (allocator, error) {
	switch variant {
	case "singly", "sla":
		a, err := singly.New(capacity, opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "doubly", "dla":
		a, err := doubly.New(capacity, opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("unknown variant %q", variant)
}

type step struct {
	op     op
	ptr    blockalloc.Ptr
	err    error
	layout string
	stats  blockalloc.Stats
	links  string
}

// replay runs ops against a and records the arena after each one. Step 0
// is the initial state.
func replay(a allocator, ops []op) ([]step, error) {
	snapshot := func(o op, p blockalloc.Ptr, err error) step {
		s := step{op: o, ptr: p, err: err, layout: fmt.Sprint(a), stats: a.Stats()}
		if l, ok := a.(linker); ok {
			var b strings.Builder
			for link := range l.Links() {
				if b.Len() > 0 {
					b.WriteString(" -> ")
				}
				fmt.Fprintf(&b, "%d", link.Index)
			}
			s.links = b.String()
		}
		return s
	}

	steps := []step{snapshot(op{}, blockalloc.Nil, nil)}
	names := make(map[string]blockalloc.Ptr)
	for _, o := range ops {
		var p blockalloc.Ptr
		var err error
		switch o.kind {
		case opAcquire:
			if _, ok := names[o.name]; ok {
				err = fmt.Errorf("%q is still held", o.name)
				break
			}
			p, err = a.Acquire(o.size)
			if err == nil {
				names[o.name] = p
			}
		case opRelease:
			var ok bool
			if p, ok = names[o.name]; !ok {
				err = fmt.Errorf("%q is not held", o.name)
				break
			}
			delete(names, o.name)
			err = a.TryRelease(p)
		case opExpect:
			if got := fmt.Sprint(a); got != o.want {
				err = fmt.Errorf("layout %s, want %s", got, o.want)
			}
		}
		if verr := a.Verify(); verr != nil {
			return steps, fmt.Errorf("line %d: %w", o.line, errors.Join(err, verr))
		}
		steps = append(steps, snapshot(o, p, err))
	}
	return steps, nil
}

func (s step) title() string {
	if s.op.kind == 0 {
		return "initial"
	}
	return fmt.Sprintf("%d: %s", s.op.line, s.op.text)
}

func (s step) result() string {
	switch {
	case s.op.kind == 0:
		return ""
	case s.err != nil:
		return "error: " + s.err.Error()
	case s.op.kind == opAcquire:
		return fmt.Sprintf("ptr %d", s.ptr)
	}
	return "ok"
}

func (s step) summary() string {
	st := s.stats
	return fmt.Sprintf("used %d/%d blocks, %d free runs, largest %d, utilization %.0f%%",
		st.UsedBlocks, st.TotalBlocks-1, st.FreeRuns, st.LargestFreeRun, st.Utilization()*100)
}
