package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// ConsoleGate prompts on a terminal
type ConsoleGate struct {
	in      io.Reader
	out     io.Writer
	timeout time.Duration
	lines   chan string
}

// NewConsoleGate prompts on stdin/stdout and refuses to run without a TTY
func NewConsoleGate(timeout time.Duration) (*ConsoleGate, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, ErrNotInteractive
	}
	return newConsoleGate(os.Stdin, os.Stdout, timeout), nil
}

func newConsoleGate(in io.Reader, out io.Writer, timeout time.Duration) *ConsoleGate {
	g := &ConsoleGate{in: in, out: out, timeout: timeout, lines: make(chan string)}
	go g.read()
	return g
}

// read feeds lines to Await; it outlives timed-out prompts so no input is
// lost between batches
func (g *ConsoleGate) read() {
	sc := bufio.NewScanner(g.in)
	for sc.Scan() {
		g.lines <- sc.Text()
	}
	close(g.lines)
}

func (g *ConsoleGate) Await(ctx context.Context, s Summary) (Decision, error) {
	fmt.Fprintf(g.out, "\nBatch %d/%d finished:\n", s.Batch, s.Batches)
	for _, m := range s.Municipalities {
		line := fmt.Sprintf("  %-24s %-8s %6d rows", m.Name, m.State, m.Rows)
		if m.Reason != "" {
			line += "  " + m.Reason
		}
		fmt.Fprintln(g.out, line)
	}

	wctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	for {
		fmt.Fprintf(g.out, "%d municipalities remaining. Continue? [y]es / [s]top: ", s.Remaining)
		select {
		case <-wctx.Done():
			return "", expired(ctx, wctx)
		case line, ok := <-g.lines:
			if !ok {
				return Stop, nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes", "c", "continue":
				return Continue, nil
			case "s", "stop", "n", "no", "q":
				return Stop, nil
			}
		}
	}
}
