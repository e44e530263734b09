// Command viua is the VM executable: it loads an ELF-like bytecode
// container (§4.2), spawns the main process on a pool of work-stealing
// schedulers (§4.7), and exits 0 on normal termination of the main
// process or 1 on load failure or an uncaught exception in main, per
// spec.md §6.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
	"gopkg.in/urfave/cli.v1"

	"github.com/viua-vm/viua/pkg/config"
	"github.com/viua-vm/viua/pkg/ffi"
	"github.com/viua-vm/viua/pkg/interp"
	"github.com/viua-vm/viua/pkg/kernel"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/scheduler"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/trace"
)

const mainFunction = "main"

func main() {
	app := cli.NewApp()
	app.Name = "viua"
	app.Usage = "run a Viua VM bytecode executable"
	app.ArgsUsage = "<binary>"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a viua.toml configuration file"},
		cli.IntFlag{Name: "proc-schedulers", Usage: "override VIUA_PROC_SCHEDULERS"},
		cli.IntFlag{Name: "ffi-schedulers", Usage: "override VIUA_FFI_SCHEDULERS"},
		cli.IntFlag{Name: "io-schedulers", Usage: "override VIUA_IO_SCHEDULERS"},
		cli.StringFlag{Name: "library-path", Usage: "override VIUA_LIBRARY_PATH"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		cli.ShowAppHelp(ctx)
		os.Exit(1)
	}
	binaryPath := ctx.Args().Get(0)

	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		os.Exit(1)
	}
	applyFlags(ctx, &cfg)

	sink, err := trace.Open(cfg.TraceSink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "viua: opening trace sink: %v\n", err)
		os.Exit(1)
	}
	if sink != nil {
		defer sink.Close()
	}

	k := kernel.New(cfg.LibraryPath)
	mod, err := k.LoadModule(binaryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "viua: %v\n", err)
		os.Exit(1)
	}

	entry, ok := mod.EntryPoint()
	if !ok {
		if addr, found := mod.FunctionAt(mainFunction); found {
			entry = addr
		} else {
			fmt.Fprintln(os.Stderr, "viua: binary has no entry point and no main function")
			os.Exit(1)
		}
	}

	ffiPool := ffi.NewPool(k, procCount(cfg.FFISchedulers, "VIUA_FFI_SCHEDULERS"))
	defer ffiPool.Close()

	interpreter := interp.New(k, ffiPool)
	if sink != nil {
		interpreter.SetTracer(sink)
	}

	schedCount := procCount(cfg.ProcSchedulers, "VIUA_PROC_SCHEDULERS")
	pool := scheduler.NewPool(k, interpreter, schedCount, scheduler.DefaultPreemptionThreshold)
	interpreter.AttachPool(pool)

	mainPid := process.NextPid()
	mainProc := process.New(mainPid, 0, binaryPath, entry, false)
	mainFrame := stack.NewFrame(mainFunction, stack.NewRegisterSet(0))
	mainFrame.EntryAddress = entry
	mainFrame.ModulePath = binaryPath
	if err := mainProc.Stack.Push(mainFrame); err != nil {
		fmt.Fprintf(os.Stderr, "viua: %v\n", err)
		os.Exit(1)
	}
	mainProc.Mailbox = k.CreateMailbox(mainPid)
	k.CreateResultSlotFor(mainPid, false)
	k.IncRunning()

	pool.Start(nil)
	mainProc.SetState(process.Runnable)
	pool.Spawn(mainProc)

	pool.Wait()

	result, _ := k.TransferResultOf(mainPid)
	if result.Ok {
		os.Exit(0)
	}
	reportUncaught(result.Value.String())
	os.Exit(1)
	return nil
}

// applyFlags overlays explicit CLI flags on top of the file/env-derived
// Config, the highest-precedence layer per spec.md §A.3.
func applyFlags(ctx *cli.Context, cfg *config.Config) {
	if v := ctx.Int("proc-schedulers"); v > 0 {
		cfg.ProcSchedulers = v
	}
	if v := ctx.Int("ffi-schedulers"); v > 0 {
		cfg.FFISchedulers = v
	}
	if v := ctx.Int("io-schedulers"); v > 0 {
		cfg.IOSchedulers = v
	}
	if v := ctx.String("library-path"); v != "" {
		cfg.LibraryPath = v
	}
}

// procCount prefers an explicit Config value, else falls back to the
// package-level default (which itself reads envVar).
func procCount(explicit int, envVar string) int {
	if explicit > 0 {
		return explicit
	}
	return ffi.SchedulerCount(envVar)
}

func reportUncaught(msg string) {
	useColor := term.IsTerminal(int(os.Stderr.Fd()))
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	if !useColor {
		fmt.Fprintf(os.Stderr, "viua: uncaught exception: %s\n", msg)
		return
	}
	fmt.Fprintf(os.Stderr, "viua: %s %s\n", yellow("uncaught exception:"), red(msg))
}
