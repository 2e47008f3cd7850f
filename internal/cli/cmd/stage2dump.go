package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/xvisor-project/corehv/internal/cli"
	"github.com/xvisor-project/corehv/internal/hypervisor/guest"
	"github.com/xvisor-project/corehv/internal/hypervisor/mmu"
	"github.com/xvisor-project/corehv/internal/log"
)

func Stage2Dump() cli.Command {
	return &stage2Dump{log: log.DefaultLogger(), poolSize: 8 * 1024 * 1024}
}

type stage2Dump struct {
	poolSize uint32

	log *log.Logger
}

var _ cli.Command = (*stage2Dump)(nil)

func (stage2Dump) Description() string {
	return "construct a guest and pretty-print its stage-2 translation table"
}

func (stage2Dump) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `stage2-dump [-pool-size bytes]

Builds an MMU core and a single guest over it, maps one identity section, and
prints the resulting stage-2 table.`)

	return err
}

func (d *stage2Dump) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("stage2-dump", flag.ExitOnError)
	fs.Func("pool-size", "page-table pool size in `bytes`", func(s string) error {
		var n uint32
		_, err := fmt.Sscanf(s, "%d", &n)
		d.poolSize = n

		return err
	})

	return fs
}

func (d *stage2Dump) Run(_ context.Context, _ []string, out io.Writer, logger *log.Logger) int {
	core, err := mmu.New(d.poolSize)
	if err != nil {
		logger.Error("mmu.New failed", "err", err)
		return 1
	}

	g, err := guest.New(1, core)
	if err != nil {
		logger.Error("guest.New failed", "err", err)
		return 1
	}

	page := mmu.Page{VA: 0x80000000, PA: 0x80000000, Size: mmu.SizeSection, AP: mmu.APSystemRWUserRW, Imp: 1}

	if err := core.MapPage(g.Stage2(), page); err != nil {
		logger.Error("map failed", "err", err)
		return 1
	}

	fmt.Fprintf(out, "guest %d stage-2 table:\n", g.ID)

	if err := core.Dump(out, g.Stage2()); err != nil {
		logger.Error("dump failed", "err", err)
		return 1
	}

	return 0
}
