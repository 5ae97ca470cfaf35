package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/kapitanov/chip8core/internal/disasm"
	"github.com/kapitanov/chip8core/internal/hal"
	"github.com/kapitanov/chip8core/internal/keypad"
	"github.com/kapitanov/chip8core/internal/runner"
	"github.com/kapitanov/chip8core/internal/tty"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func init() {
	// sdl calls must stay on the main thread
	runtime.LockOSThread()
}

type frontend interface {
	runner.Frontend
	Shutdown()
}

type options struct {
	verbose  bool
	frontend string
	speed    int
	scale    int
	seed     uint64
	quirks   vm.Quirks
}

func (o *options) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "enable verbose logging")
	fs.StringVar(&o.frontend, "frontend", "sdl", "frontend to use: sdl or tty")
	fs.IntVar(&o.speed, "speed", runner.DefaultSpeed, "instructions per second")
	fs.IntVar(&o.scale, "scale", hal.DefaultScale, "sdl window scale")
	fs.Uint64Var(&o.seed, "seed", 0, "random seed, 0 picks a random one")

	fs.BoolVar(&o.quirks.ClipSprites, "clip-sprites", false, "clip sprites at the screen edge instead of wrapping")
	fs.BoolVar(&o.quirks.LoadStoreIncrementsIndex, "increment-index", false, "advance I past the registers on FX55/FX65")
	fs.BoolVar(&o.quirks.StrictStack, "strict-stack", false, "fail on stack overflow and underflow")
	fs.BoolVar(&o.quirks.StrictMemory, "strict-memory", false, "fail on reads past the end of memory")
}

func (o *options) setupLogging() {
	loggerOpts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if o.verbose {
		loggerOpts.Level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, loggerOpts)))
}

func (o *options) newFrontend() (frontend, error) {
	switch o.frontend {
	case "sdl":
		h, err := hal.New(o.scale)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize hal: %w", err)
		}
		return h, nil

	case "tty":
		t, err := tty.Open(tty.DefaultDevice)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize terminal: %w", err)
		}
		return t, nil

	default:
		return nil, fmt.Errorf("unknown frontend %q", o.frontend)
	}
}

func (o *options) machineOptions() []vm.Option {
	opts := []vm.Option{vm.WithQuirks(o.quirks)}
	if o.seed != 0 {
		opts = append(opts, vm.WithRand(rand.New(rand.NewPCG(o.seed, o.seed))))
	}
	return opts
}

func readROM(path string) ([]byte, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load file %q: %w", path, err)
	}
	return bs, nil
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s PATH_TO_ROM_FILE", filepath.Base(os.Args[0])),
		Short:         "Run emulator",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	opts.register(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts.setupLogging()

		bs, err := readROM(args[0])
		if err != nil {
			return err
		}

		kb := keypad.New()
		machine := vm.New(kb, opts.machineOptions()...)
		if err := machine.LoadProgram(bs); err != nil {
			return fmt.Errorf("unable to load program: %w", err)
		}

		fe, err := opts.newFrontend()
		if err != nil {
			return err
		}
		defer fe.Shutdown()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runner.New(machine, kb, fe, runner.Config{Speed: opts.speed}).Run(ctx)
	}

	disasmCmd := &cobra.Command{
		Use:   "disasm PATH_TO_ROM_FILE",
		Short: "Print a listing of a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			opts.setupLogging()

			bs, err := readROM(args[0])
			if err != nil {
				return err
			}

			return disasm.Write(os.Stdout, disasm.Disassemble(bs, vm.ProgramStart))
		},
	}
	cmd.AddCommand(disasmCmd)

	cmd.SetArgs(os.Args[1:])
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}
