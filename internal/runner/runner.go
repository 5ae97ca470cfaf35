// Package runner drives a vm.VM: it steps the interpreter at a fixed
// instruction rate, ticks the timers at 60 Hz and moves frames, sound and
// key presses between the machine and a Frontend.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kapitanov/chip8core/internal/keypad"
	"github.com/kapitanov/chip8core/internal/vm"
)

const (
	TimerRate    = 60
	DefaultSpeed = 700
)

var (
	ErrReboot = errors.New("reboot")
	ErrQuit   = errors.New("quit")
)

// Frontend is the host side of the emulator. All its methods are called
// from the goroutine that called Run.
type Frontend interface {
	// ReadInput forwards pending host events to kb. It returns ErrQuit
	// or ErrReboot when the user asks for either.
	ReadInput(kb *keypad.Keyboard) error
	Draw(fb vm.Framebuffer) error
	Beep(on bool) error
}

type Config struct {
	// Speed is the number of instructions executed per second.
	Speed int
}

// Runner owns the machine while it runs. mu guards the machine: the CPU
// goroutine holds it for each step, the host tick holds it to forward input,
// count the timers down and snapshot the frame. A key wait happens outside
// the lock so the timers keep running and the last frame is shown.
type Runner struct {
	machine  *vm.VM
	keyboard *keypad.Keyboard
	frontend Frontend
	cfg      Config

	mu sync.Mutex
}

func New(machine *vm.VM, kb *keypad.Keyboard, frontend Frontend, cfg Config) *Runner {
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultSpeed
	}

	return &Runner{
		machine:  machine,
		keyboard: kb,
		frontend: frontend,
		cfg:      cfg,
	}
}

// Run executes the machine until the frontend quits, ctx is cancelled or
// the interpreter fails.
func (r *Runner) Run(ctx context.Context) error {
	for {
		err := r.runOnce(ctx)
		if !errors.Is(err, ErrReboot) {
			return err
		}

		slog.Info("reboot")
		r.keyboard.Reopen()
		if err := r.machine.Reset(); err != nil {
			return fmt.Errorf("unable to reset machine: %w", err)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	cpuErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cpuErr <- r.cpuLoop(ctx)
	}()

	// the cpu goroutine may be parked in a key wait
	stop := func() {
		cancel()
		r.keyboard.Close()
		wg.Wait()
	}

	ticker := time.NewTicker(time.Second / TimerRate)
	defer ticker.Stop()

	// the first frame is drawn even if the program never draws
	first := true
	for {
		select {
		case <-ctx.Done():
			stop()
			return ctx.Err()

		case err := <-cpuErr:
			stop()
			return err

		case <-ticker.C:
			if err := r.tick(first); err != nil {
				stop()
				if errors.Is(err, ErrQuit) {
					return nil
				}
				return err
			}
			first = false
		}
	}
}

// tick runs one 60 Hz host frame.
func (r *Runner) tick(redraw bool) error {
	r.mu.Lock()
	if err := r.frontend.ReadInput(r.keyboard); err != nil {
		r.mu.Unlock()
		return err
	}

	r.machine.DecrementTimers()

	dirty := redraw || r.machine.DrawFlag()
	frame := r.machine.Display()
	r.machine.ClearDrawFlag()
	sound := r.machine.SoundActive()
	r.mu.Unlock()

	if dirty {
		if err := r.frontend.Draw(frame); err != nil {
			return err
		}
	}

	return r.frontend.Beep(sound)
}

// cpuLoop runs batches of instructions, one batch per timer tick.
func (r *Runner) cpuLoop(ctx context.Context) error {
	perTick := r.cfg.Speed / TimerRate
	if perTick < 1 {
		perTick = 1
	}

	ticker := time.NewTicker(time.Second / TimerRate)
	defer ticker.Stop()

	halted := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for i := 0; i < perTick && !halted; i++ {
			var err error
			halted, err = r.step()
			if errors.Is(err, keypad.ErrClosed) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

// step executes one instruction and reports whether the program jumped to
// itself.
func (r *Runner) step() (bool, error) {
	r.mu.Lock()
	for r.machine.AwaitingKey() {
		r.mu.Unlock()
		if _, err := r.keyboard.Wait(); err != nil {
			return false, err
		}
		r.mu.Lock()
	}
	defer r.mu.Unlock()

	pc := r.machine.PC()
	if err := r.machine.Step(); err != nil {
		return false, err
	}

	if r.machine.PC() == pc {
		slog.Info("program looped", "pc", fmt.Sprintf("0x%04x", pc))
		return true, nil
	}
	return false, nil
}
