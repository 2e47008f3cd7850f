package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/xvisor-project/corehv/internal/cli"
	"github.com/xvisor-project/corehv/internal/log"
)

// Repl wraps the given commands (plus help) in an interactive prompt command. cmd/xvisorctl
// passes its diagnostic commands without the repl command itself, and a help built over that
// same set.
func Repl(commands []cli.Command, help cli.Command) cli.Command {
	return &repl{commands: commands, help: help}
}

type repl struct {
	commands []cli.Command
	help     cli.Command
}

var _ cli.Command = (*repl)(nil)

func (repl) Description() string {
	return "start an interactive command prompt"
}

func (repl) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `repl

Starts an interactive prompt over the controlling terminal. Each line is
dispatched the same way a command-line invocation would be; "exit" or "quit"
ends the session.`)

	return err
}

func (repl) FlagSet() *cli.FlagSet {
	return flag.NewFlagSet("repl", flag.ExitOnError)
}

func (r *repl) Run(ctx context.Context, _ []string, _ io.Writer, logger *log.Logger) int {
	console, err := cli.NewRepl(os.Stdin, os.Stdout)
	if err != nil {
		logger.Error("repl unavailable", "err", err)
		return 1
	}
	defer console.Restore()

	console.Run(ctx, r.commands, r.help, logger)

	return 0
}
