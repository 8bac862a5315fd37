// arenaview replays an acquire/release script against a block allocator and
// shows the arena layout after every step.
//
// Usage:
//
//	arenaview <script>                   # print every step
//	arenaview -v doubly -c 320 <script>  # doubly linked variant, 320 bytes
//	arenaview -i <script>                # interactive stepping
//	arenaview -d -json <script>          # also log allocator events as JSON
//	arenaview < script                   # read the script from stdin
//
// Script lines:
//
//	acquire <name> <bytes>
//	release <name>
//	expect <layout>     # fail the step unless the layout matches
//	# comment
//
// Interactive mode:
//
//	j/→/space  next step
//	k/←        previous step
//	g          first step
//	G          last step
//	q/Esc      quit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dacapoday/blockalloc"
)

func main() {
	variant := flag.String("v", "singly", "allocator variant: singly or doubly")
	capacity := flag.Int("c", 160, "arena capacity in bytes")
	blockSize := flag.Int("b", blockalloc.DefaultBlockSize, "block size in bytes")
	interactive := flag.Bool("i", false, "interactive stepping")
	verbose := flag.Bool("d", false, "log allocator events to stderr")
	jsonLog := flag.Bool("json", false, "with -d, log as JSON")
	flag.Parse()

	if flag.NArg() > 1 || (*interactive && flag.NArg() == 0) {
		fmt.Fprintln(os.Stderr, "Usage: arenaview [-v singly|doubly] [-c capacity] [-b blocksize] [-d [-json]] [-i] [script]")
		os.Exit(1)
	}

	var in io.Reader = os.Stdin
	if flag.NArg() == 1 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		in = f
	}
	ops, err := parseScript(in)
	if err != nil {
		fatal(err)
	}

	opts := []blockalloc.Option{blockalloc.WithBlockSize(*blockSize)}
	if *verbose {
		logger := blockalloc.NewTextLogger(slog.LevelDebug)
		if *jsonLog {
			logger = blockalloc.NewJSONLogger(slog.LevelDebug)
		}
		opts = append(opts, blockalloc.WithLogger(logger))
	}
	a, err := newAllocator(*variant, *capacity, opts...)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	steps, err := replay(a, ops)
	if err != nil {
		printSteps(os.Stdout, steps)
		fatal(err)
	}

	if *interactive {
		runInteractive(*variant, steps)
		return
	}
	printSteps(os.Stdout, steps)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printSteps(w io.Writer, steps []step) {
	for _, s := range steps {
		fmt.Fprintln(w, s.title())
		if r := s.result(); r != "" {
			fmt.Fprintf(w, "  %s\n", r)
		}
		fmt.Fprintf(w, "  %s\n", s.layout)
		if s.links != "" {
			fmt.Fprintf(w, "  free list: %s\n", s.links)
		}
		fmt.Fprintf(w, "  %s\n", s.summary())
	}
}

func runInteractive(variant string, steps []step) {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fatal(err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	v := &viewer{variant: variant, steps: steps}
	v.updateSize()

	fmt.Print("\033[?25l\033[2J")             // hide cursor, clear screen once
	defer fmt.Print("\033[?25h\033[2J\033[H") // show cursor, clear screen

	reader := bufio.NewReader(os.Stdin)
	for {
		v.updateSize()
		v.render()

		b, err := reader.ReadByte()
		if err != nil {
			return
		}

		switch b {
		case 'q', 3, 27: // q, Ctrl+C, Esc
			if b == 27 && reader.Buffered() > 0 {
				// escape sequence
				b2, _ := reader.ReadByte()
				if b2 == '[' {
					b3, _ := reader.ReadByte()
					switch b3 {
					case 'C', 'B': // right, down
						v.move(1)
					case 'D', 'A': // left, up
						v.move(-1)
					}
				}
				continue
			}
			return
		case 'j', ' ':
			v.move(1)
		case 'k':
			v.move(-1)
		case 'g':
			v.pos = 0
		case 'G':
			v.pos = len(v.steps) - 1
		}
	}
}

type viewer struct {
	variant string
	steps   []step
	pos     int
	width   int
	height  int
}

func (v *viewer) updateSize() {
	w, h, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		w, h = 80, 24
	}
	v.width, v.height = w, h
}

func (v *viewer) move(delta int) {
	v.pos = max(0, min(len(v.steps)-1, v.pos+delta))
}

func (v *viewer) render() {
	var b strings.Builder
	s := v.steps[v.pos]

	b.WriteString("\033[H")
	fmt.Fprintf(&b, "[ arenaview %s ] step %d/%d\033[K\r\n", v.variant, v.pos, len(v.steps)-1)
	b.WriteString(strings.Repeat("─", v.width))
	b.WriteString("\033[K\r\n")

	lines := []string{s.title()}
	if r := s.result(); r != "" {
		lines = append(lines, r)
	}
	lines = append(lines, "")
	lines = append(lines, wrap(s.layout, v.width)...)
	lines = append(lines, "")
	if s.links != "" {
		lines = append(lines, wrap("free list: "+s.links, v.width)...)
	}
	lines = append(lines, s.summary())

	body := v.height - 4 // title + separator + separator + status
	for i := range body {
		if i < len(lines) {
			b.WriteString(lines[i])
		} else {
			b.WriteString("~")
		}
		b.WriteString("\033[K\r\n")
	}

	b.WriteString(strings.Repeat("─", v.width))
	b.WriteString("\033[K\r\n")
	b.WriteString(" j/k:step g/G:jump q:quit ")
	b.WriteString("\033[K")

	fmt.Print(b.String())
}

// wrap splits s into lines of at most width bytes.
func wrap(s string, width int) []string {
	if width <= 0 || len(s) <= width {
		return []string{s}
	}
	var lines []string
	for len(s) > width {
		lines = append(lines, s[:width])
		s = s[width:]
	}
	return append(lines, s)
}
