package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/xvisor-project/corehv/internal/cli"
	"github.com/xvisor-project/corehv/internal/hypervisor/sysreg"
	"github.com/xvisor-project/corehv/internal/hypervisor/vcpu"
	"github.com/xvisor-project/corehv/internal/log"
)

func VCPUDump() cli.Command {
	return &vcpuDump{log: log.DefaultLogger()}
}

type vcpuDump struct {
	model      string
	vtlbSize   int
	vectorHigh bool

	log *log.Logger
}

var _ cli.Command = (*vcpuDump)(nil)

func (vcpuDump) Description() string {
	return "reset a vcpu with the given model and print its register/coprocessor state"
}

func (d *vcpuDump) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `vcpu-dump [-model id] [-vtlb-size n] [-vector-high]

Initialises a single vcpu with the given emulated CPU model and prints its
user frame, mode and CP15 shadow state after reset.`)

	return err
}

func (d *vcpuDump) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("vcpu-dump", flag.ExitOnError)
	fs.StringVar(&d.model, "model", "arm,cortex-a9", "emulated CPU model `id`")
	fs.IntVar(&d.vtlbSize, "vtlb-size", 8, "VTLB entry `count`")
	fs.BoolVar(&d.vectorHigh, "vector-high", false, "reset with the high vector base")

	return fs
}

func (d *vcpuDump) Run(_ context.Context, _ []string, out io.Writer, logger *log.Logger) int {
	v := vcpu.New(0, 0, true, 0x8000, 0x10000)

	if err := v.Init(d.model, sysreg.InitFunc(d.model, d.vtlbSize, d.vectorHigh)); err != nil {
		logger.Error("vcpu init failed", "err", err)
		return 1
	}

	fmt.Fprintf(out, "vcpu %d (guest %d), state:%s model:%s\n", v.ID, v.GuestID, v.State, d.model)
	fmt.Fprintf(out, "  pc:%s sp:%s lr:%s cpsr:%s\n", v.User.PC(), v.User.SP(), v.User.LR(), v.User.PSR)

	for r := vcpu.R0; r < vcpu.R13; r++ {
		fmt.Fprintf(out, "  r%d:%s\n", r, v.RegRead(r))
	}

	cp, ok := v.Private().Coproc.(*sysreg.CP15)
	if !ok {
		logger.Warn("vcpu has no cp15 shadow")
		return 0
	}

	fmt.Fprintf(out, "  vtlb: %d entries\n", d.vtlbSize)
	fmt.Fprintf(out, "  cp15: %+v\n", cp)

	return 0
}
