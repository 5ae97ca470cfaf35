package vm

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/kapitanov/chip8core/internal/keypad"
)

const (
	MemorySize    = 4096
	StackSize     = 16
	RegisterCount = 16

	ProgramStart    = uint16(0x200)
	InstructionSize = 2

	MaxProgramSize = MemorySize - int(ProgramStart)
)

var (
	ErrFetch           = errors.New("unable to fetch instruction")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrProgramTooLarge = errors.New("program too large")
)

// ExecError is returned by Step for any fatal condition. PC is the address
// of the instruction that failed.
type ExecError struct {
	PC     uint16
	Opcode uint16
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("pc 0x%03x opcode 0x%04X: %v", e.PC, e.Opcode, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Quirks select between historical interpretations. The zero value is the
// default behaviour.
type Quirks struct {
	// ClipSprites drops sprite pixels past the right and bottom edges
	// instead of wrapping them.
	ClipSprites bool

	// LoadStoreIncrementsIndex leaves I = I + X + 1 after FX55 and FX65,
	// as the COSMAC VIP interpreter did.
	LoadStoreIncrementsIndex bool

	// StrictStack turns stack wrap-around into an error.
	StrictStack bool

	// StrictMemory turns truncated reads into an error.
	StrictMemory bool
}

type Option func(*VM)

func WithQuirks(q Quirks) Option {
	return func(vm *VM) {
		vm.quirks = q
	}
}

// WithRand replaces the random source used by CXKK.
func WithRand(r *rand.Rand) Option {
	return func(vm *VM) {
		vm.rand = r
	}
}

type VM struct {
	memory    *Memory
	registers Registers
	stack     Stack

	pc    uint16 // Program counter
	index uint16 // Index register

	gfx      Framebuffer
	drawFlag bool // Indicates a draw has occurred

	keyboard *keypad.Keyboard
	rand     *rand.Rand
	quirks   Quirks

	program []byte
}

// New returns a machine ready to run from ProgramStart with an empty
// program. kb is shared with the input driver.
func New(kb *keypad.Keyboard, opts ...Option) *VM {
	if kb == nil {
		kb = keypad.New()
	}

	vm := &VM{
		memory:   NewMemory(),
		pc:       ProgramStart,
		keyboard: kb,
		rand:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}

	for _, opt := range opts {
		opt(vm)
	}

	return vm
}

// LoadProgram copies program into memory at ProgramStart.
func (vm *VM) LoadProgram(program []byte) error {
	if len(program) > MaxProgramSize {
		return fmt.Errorf("%d bytes, at most %d fit: %w", len(program), MaxProgramSize, ErrProgramTooLarge)
	}

	if err := vm.memory.Write(ProgramStart, program); err != nil {
		return err
	}
	vm.program = program

	slog.Info("load program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(program))
	return nil
}

// Reset restores the power-on state and reloads the last program.
func (vm *VM) Reset() error {
	vm.memory.reset()
	vm.registers = Registers{}
	vm.stack = Stack{}
	vm.pc = ProgramStart
	vm.index = 0
	vm.gfx.Clear()
	vm.drawFlag = true

	return vm.LoadProgram(vm.program)
}

// Step executes a single instruction. PC is advanced past the instruction
// before it executes, so jumps, calls and returns simply overwrite it and
// skips add one more InstructionSize.
func (vm *VM) Step() error {
	pc := vm.pc

	opcode, err := vm.fetchOpcode()
	if err != nil {
		return &ExecError{PC: pc, Err: err}
	}

	vm.pc += InstructionSize
	if err := vm.executeOpcode(opcode); err != nil {
		vm.pc = pc
		return &ExecError{PC: pc, Opcode: opcode, Err: err}
	}

	return nil
}

func (vm *VM) fetchOpcode() (uint16, error) {
	bs := vm.memory.Read(vm.pc, InstructionSize)
	if len(bs) != InstructionSize {
		return 0, fmt.Errorf("%w: got % x", ErrFetch, bs)
	}

	opcode := uint16(bs[0])<<8 | uint16(bs[1]) // Op code is two bytes
	return opcode, nil
}

// AwaitingKey reports whether the next Step would block in FX0A because no
// key is pressed.
func (vm *VM) AwaitingKey() bool {
	opcode, err := vm.fetchOpcode()
	if err != nil || opcode&0xF0FF != 0xF00A {
		return false
	}

	_, pressed := vm.keyboard.Current()
	return !pressed
}

// DecrementTimers counts both timers down by one. The driver calls it at
// 60 Hz.
func (vm *VM) DecrementTimers() {
	if vm.registers[DT] > 0 {
		vm.registers[DT]--
	}

	if vm.registers[ST] > 0 {
		vm.registers[ST]--
	}
}

// SoundActive reports whether the buzzer should be sounding.
func (vm *VM) SoundActive() bool {
	return vm.registers[ST] > 0
}

// Display returns a copy of the framebuffer.
func (vm *VM) Display() Framebuffer {
	return vm.gfx
}

// DrawFlag reports whether the framebuffer changed since ClearDrawFlag.
func (vm *VM) DrawFlag() bool {
	return vm.drawFlag
}

func (vm *VM) ClearDrawFlag() {
	vm.drawFlag = false
}

func (vm *VM) PC() uint16 {
	return vm.pc
}

func (vm *VM) Index() uint16 {
	return vm.index
}

func (vm *VM) Register(r Register) uint8 {
	return vm.registers.Get(r)
}

func (vm *VM) StackDepth() int {
	return vm.stack.Depth()
}
