package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/xvisor-project/corehv/internal/log"
)

// ErrNoTTY is returned by NewRepl if standard input is not a terminal.
var ErrNoTTY = errors.New("cli: repl: not a tty")

// Repl is an interactive front end to a set of Commands: put the terminal in raw mode, wrap it
// in a *term.Terminal for line editing, then read one line at a time and dispatch it the same
// way Commander.Execute would.
type Repl struct {
	term  *term.Terminal
	state *term.State
	fd    int
}

// NewRepl constructs a Repl reading from in and writing prompts/echo to out. in must be a
// terminal.
func NewRepl(in *os.File, out io.Writer) (*Repl, error) {
	fd := int(in.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	return &Repl{
		term:  term.NewTerminal(readWriter{in, out}, "xvisorctl> "),
		state: state,
		fd:    fd,
	}, nil
}

// Restore returns the terminal to its initial state.
func (r *Repl) Restore() {
	_ = term.Restore(r.fd, r.state)
}

// Run reads lines from the terminal and dispatches each as a command invocation against commands,
// falling back to help when the first word names no known command. It returns when the terminal
// reaches EOF or the user types "exit"/"quit".
func (r *Repl) Run(ctx context.Context, commands []Command, help Command, logger *log.Logger) {
	for {
		line, err := r.term.ReadLine()
		if err != nil {
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if fields[0] == "exit" || fields[0] == "quit" {
			return
		}

		found := help
		for _, cmd := range commands {
			if fields[0] == cmd.FlagSet().Name() {
				found = cmd
			}
		}

		fs := found.FlagSet()

		if err := fs.Parse(fields[1:]); err != nil {
			logger.Error("parse error", "err", err)
			continue
		}

		found.Run(ctx, fs.Args(), r.term, logger)
	}
}

// readWriter adapts a separate reader and writer to the io.ReadWriter term.NewTerminal requires,
// since a Repl's input and output streams need not be the same file.
type readWriter struct {
	io.Reader
	io.Writer
}
