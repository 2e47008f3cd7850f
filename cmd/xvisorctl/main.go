// cmd/xvisorctl is the command-line diagnostic tool for the virtualisation core.
package main

import (
	"context"
	"os"

	"github.com/xvisor-project/corehv/internal/cli"
	"github.com/xvisor-project/corehv/internal/cli/cmd"
)

// Entry point.
func main() {
	base := []cli.Command{
		cmd.VCPUDump(),
		cmd.IOMMUSelfTest(),
		cmd.Stage2Dump(),
	}

	commands := append(base, cmd.Repl(base, cmd.Help(base)))
	help := cmd.Help(commands)

	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(help).
			Execute(os.Args[1:])

	os.Exit(result)
}
