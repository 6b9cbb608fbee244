// Command glox runs the glox interpreter: with no arguments it starts an
// interactive REPL, with a script path it compiles and runs the file.
// The disasm command dumps the compiled bytecode without running it.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/kristofer/glox/pkg/bytecode"
	"github.com/kristofer/glox/pkg/compiler"
	"github.com/kristofer/glox/pkg/vm"
)

const version = "0.1.0"

// Exit codes follow the BSD sysexits convention.
const (
	exitUsage        = 64 // command line usage error
	exitCompileError = 65 // data format error: the script does not compile
	exitNoInput      = 66 // input file does not exist or is not readable
	exitRuntimeError = 70 // internal software error: the program failed
	exitOOM          = 71 // system error: out of memory
	exitIOError      = 74 // input/output error while reading the script
)

var errColor = color.New(color.FgRed)

func main() {
	app := cli.NewApp()
	app.Name = "glox"
	app.Usage = "a bytecode interpreter for the lox language"
	app.Version = version
	app.ArgsUsage = "[script]"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "trace",
			Usage: "dump each instruction and the stack while executing",
		},
		cli.BoolFlag{
			Name:  "gc-stress",
			Usage: "collect on every allocation",
		},
		cli.BoolFlag{
			Name:  "gc-log",
			Usage: "log collector activity to stderr",
		},
	}
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:      "disasm",
			Usage:     "compile a script and dump its bytecode",
			ArgsUsage: "<script>",
			Action:    disasm,
		},
	}

	if err := app.Run(os.Args); err != nil {
		errColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVM(ctx *cli.Context) *vm.VM {
	var opts []vm.Option
	if ctx.GlobalBool("trace") {
		opts = append(opts, vm.WithTrace())
	}
	if ctx.GlobalBool("gc-stress") {
		opts = append(opts, vm.WithGCStress())
	}
	if ctx.GlobalBool("gc-log") {
		opts = append(opts, vm.WithGCLog(os.Stderr))
	}
	return vm.New(opts...)
}

func run(ctx *cli.Context) error {
	switch ctx.NArg() {
	case 0:
		return repl(ctx)
	case 1:
		return runFile(ctx, ctx.Args().First())
	default:
		errColor.Fprintf(os.Stderr, "Usage: %s [script]\n", ctx.App.Name)
		return cli.NewExitError("", exitUsage)
	}
}

// runFile loads and interprets one script, mapping the outcome to the
// process exit code.
func runFile(ctx *cli.Context, path string) error {
	source, err := readSource(path)
	if err != nil {
		return err
	}

	switch newVM(ctx).Interpret(source) {
	case vm.InterpretCompileError:
		return cli.NewExitError("", exitCompileError)
	case vm.InterpretRuntimeError:
		return cli.NewExitError("", exitRuntimeError)
	}
	return nil
}

func readSource(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		errColor.Fprintf(os.Stderr, "Could not open file %q.\n", path)
		return "", cli.NewExitError("", exitNoInput)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		errColor.Fprintf(os.Stderr, "Could not read file %q.\n", path)
		return "", cli.NewExitError("", exitIOError)
	}
	return string(content), nil
}

// repl reads a line at a time and interprets each one against the same
// VM, so globals persist across inputs.
func repl(ctx *cli.Context) error {
	machine := newVM(ctx)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			// ctrl-D or ctrl-C ends the session
			fmt.Println()
			return nil
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		machine.Interpret(input + "\n")
	}
}

// disasm compiles a script and dumps the constant pool and instruction
// stream of every function in it.
func disasm(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		errColor.Fprintln(os.Stderr, "Usage: glox disasm <script>")
		return cli.NewExitError("", exitUsage)
	}
	source, err := readSource(ctx.Args().First())
	if err != nil {
		return err
	}

	heap := bytecode.NewHeap()
	fn, err := compiler.Compile(source, heap, os.Stderr)
	if err != nil {
		return cli.NewExitError("", exitCompileError)
	}

	dumpFunction(fn, "script")
	return nil
}

func dumpFunction(fn *bytecode.FunctionObj, name string) {
	fmt.Printf("constants of %s:\n", name)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"index", "value"})
	for i, c := range fn.Chunk.Constants {
		table.Append([]string{fmt.Sprintf("%d", i), c.String()})
	}
	table.Render()

	bytecode.Disassemble(os.Stdout, &fn.Chunk, name)
	fmt.Println()

	// nested functions live in the constant pool
	for _, c := range fn.Chunk.Constants {
		if bytecode.IsFunction(c) {
			nested := bytecode.AsFunction(c)
			dumpFunction(nested, nested.Name.Str)
		}
	}
}
