package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/subcommands"

	"jodinvm/vm"
)

// debugCmd is an interactive single-step session, the Go-native
// equivalent of KTStephano-GVM/vm/run.go's RunProgramDebugMode, rebuilt on
// github.com/chzyer/readline (grounded on
// _examples/informatter-nilan/cmd_repl.go's readline-backed REPL) for
// history and line editing instead of a raw bufio.Reader prompt loop. The
// command vocabulary (n/next, r/run, b/break <line>) is unchanged.
type debugCmd struct {
	label string
}

func (*debugCmd) Name() string     { return "debug" }
func (*debugCmd) Synopsis() string { return "step through an assembly file interactively" }
func (*debugCmd) Usage() string    { return "debug [-label name] <file.asm>\n" }
func (c *debugCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.label, "label", "main", "entry label to run from")
}

func (c *debugCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	asm, err := loadFile(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	machine := vm.NewVMBuilder().Logger(newLogger(true)).Build()
	if _, err := machine.Load(asm); err != nil {
		fmt.Fprintln(os.Stderr, "load error:", err)
		return subcommands.ExitFailure
	}

	rl, err := readline.New("-> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer rl.Close()

	fmt.Println("Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb or break <line>: break on line (or remove break on line)")

	breakAt := make(map[int]struct{})
	waitForInput := true

	printStack := func() {
		stack := machine.StackSnapshot()
		parts := make([]string, len(stack))
		for i, v := range stack {
			parts[i] = v.String()
		}
		fmt.Println("stack:", strings.Join(parts, ", "))
	}

	show := func() {
		instr, pc, ok := machine.CurrentInstruction()
		if !ok {
			fmt.Println("(program counter out of range)")
			return
		}
		fmt.Printf("pc=%d  %s\n", pc, instr.String())
		printStack()
	}

	if err := machine.SeedEntry(c.label); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	show()

	for {
		line := ""
		if waitForInput {
			input, err := rl.Readline()
			if err != nil {
				return subcommands.ExitSuccess
			}
			line = strings.ToLower(strings.TrimSpace(input))
		} else {
			_, pc, _ := machine.CurrentInstruction()
			if _, ok := breakAt[pc]; ok {
				fmt.Println("breakpoint")
				show()
				waitForInput = true
				continue
			}
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			done, err := machine.Step()
			if waitForInput {
				show()
			}
			if err != nil {
				fmt.Println("error:", err)
				return subcommands.ExitFailure
			}
			if done {
				fmt.Println("program finished")
				return subcommands.ExitSuccess
			}
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "b"))
			arg = strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(arg, "reak")), " ")
			n, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				fmt.Println("unknown line number:", err)
				continue
			}
			if _, ok := breakAt[n]; ok {
				delete(breakAt, n)
			} else {
				breakAt[n] = struct{}{}
			}
		}
	}
}
