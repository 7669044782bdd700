// Command jodinvm loads and runs jodin bytecode assembly files against the
// core virtual machine in package vm. The CLI is structured as
// subcommands (google/subcommands), mirroring
// _examples/informatter-nilan/cmd_repl.go's Command implementation
// pattern and replacing KTStephano-GVM/main.go's flag-based dispatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"go.uber.org/zap"

	"jodinvm/vm"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&disasmCmd{}, "")
	subcommands.Register(&debugCmd{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func loadFile(path string) (vm.Assembly, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return vm.ParseAssembly(string(data))
}

// runCmd compiles and executes an assembly file (spec §4.2), mirroring
// KTStephano-GVM's RunProgram.
type runCmd struct {
	verbose bool
	label   string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "compile and execute an assembly file" }
func (*runCmd) Usage() string    { return "run [-v] [-label name] <file.asm>\n" }
func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.verbose, "v", false, "enable verbose structured logging")
	f.StringVar(&c.label, "label", "main", "entry label to run from")
}

func (c *runCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	asm, err := loadFile(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	machine := vm.NewVMBuilder().Logger(newLogger(c.verbose)).Build()
	if _, err := machine.Load(asm); err != nil {
		fmt.Fprintln(os.Stderr, "load error:", err)
		return subcommands.ExitFailure
	}
	code, duration, err := machine.RunTimed(c.label)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime error:", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("exit code %d (%s)\n", code, duration)
	return subcommands.ExitSuccess
}

// disasmCmd prints a loaded program's instructions, mirroring
// KTStephano-GVM's printProgram.
type disasmCmd struct{}

func (*disasmCmd) Name() string     { return "disasm" }
func (*disasmCmd) Synopsis() string { return "print the disassembly of an assembly file" }
func (*disasmCmd) Usage() string    { return "disasm <file.asm>\n" }
func (*disasmCmd) SetFlags(*flag.FlagSet) {}

func (*disasmCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, "disasm <file.asm>\n")
		return subcommands.ExitUsageError
	}
	asm, err := loadFile(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Print(vm.Disassemble(asm))
	return subcommands.ExitSuccess
}
