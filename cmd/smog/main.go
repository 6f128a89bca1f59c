// Command smog is the out-of-scope external collaborator spec.md §1
// describes: it supplies a UTF-8 source string to the interpreter core and
// reports textual output plus an exit status. It owns nothing the core
// depends on — argument parsing, REPL line editing, file reading, and the
// exit-code convention all live here.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"gopkg.in/urfave/cli.v1"

	"github.com/kristofer/smog/internal/config"
	"github.com/kristofer/smog/pkg/heap"
	"github.com/kristofer/smog/pkg/vm"
)

// Exit codes mandated by spec.md §6.
const (
	exitOK           = 0
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
	exitUsage        = 64
)

var (
	errColor  = color.New(color.FgRed, color.Bold)
	replColor = color.New(color.FgCyan)
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "load VM/GC tuning knobs from a TOML `FILE`",
	}
	stressGCFlag = cli.BoolFlag{
		Name:  "stress-gc",
		Usage: "collect on every heap growth instead of only past the threshold",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "smog"
	app.Usage = "a bytecode virtual machine for a small class-based scripting language"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{configFlag, stressGCFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		if code, ok := err.(cli.ExitCoder); ok {
			os.Exit(code.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		errColor.Fprintf(os.Stderr, "smog: %v\n", err)
		return cli.NewExitError("", exitUsage)
	}

	args := ctx.Args()
	switch len(args) {
	case 0:
		runREPL(cfg)
		return nil
	case 1:
		return cli.NewExitError("", runFile(cfg, args[0]))
	default:
		errColor.Fprintln(os.Stderr, "smog: usage: smog [script]")
		return cli.NewExitError("", exitUsage)
	}
}

func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := ctx.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if ctx.Bool(stressGCFlag.Name) {
		cfg.VM.StressGC = true
	}
	return cfg, nil
}

// runFile reads and interprets one source file to completion, returning the
// exit code spec.md §6 prescribes for the outcome.
func runFile(cfg config.Config, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		errColor.Fprintf(os.Stderr, "smog: %v\n", err)
		return exitIOError
	}

	h := heap.New()
	cfg.Apply(h)
	machine := vm.New(h, os.Stdout, os.Stderr)

	return interpret(machine, string(data))
}

// runREPL reads one line at a time from stdin and interprets each against a
// VM and heap that persist for the whole session, so globals declared on
// one line remain visible on the next (spec.md §6 "interactive
// line-at-a-time REPL").
func runREPL(cfg config.Config) {
	h := heap.New()
	cfg.Apply(h)
	machine := vm.New(h, os.Stdout, os.Stderr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		replColor.Fprint(os.Stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(os.Stdout)
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		interpret(machine, line)
	}
}

// interpret runs source on machine and prints any diagnostic, returning the
// exit code that corresponds to what happened (spec.md §7).
func interpret(machine *vm.VM, source string) int {
	err := machine.Interpret(source)
	if err == nil {
		return exitOK
	}

	var compileErr *vm.CompileError
	if errors.As(err, &compileErr) {
		for _, msg := range compileErr.Messages {
			errColor.Fprintln(os.Stderr, msg)
		}
		return exitCompileError
	}

	printRuntimeError(os.Stderr, err)
	return exitRuntimeError
}

func printRuntimeError(w io.Writer, err error) {
	errColor.Fprintln(w, err.Error())
}
