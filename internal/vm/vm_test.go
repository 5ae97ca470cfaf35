package vm

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/kapitanov/chip8core/internal/keypad"
	"github.com/retroenv/retrogolib/assert"
)

func newTestVM(t *testing.T, program []uint16, opts ...Option) *VM {
	t.Helper()

	vm := New(keypad.New(), opts...)
	bs := make([]byte, 0, len(program)*2)
	for _, op := range program {
		bs = append(bs, byte(op>>8), byte(op))
	}
	assert.NoError(t, vm.LoadProgram(bs))
	return vm
}

func step(t *testing.T, vm *VM, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		assert.NoError(t, vm.Step())
	}
}

func TestNew(t *testing.T) {
	vm := New(nil)

	assert.Equal(t, ProgramStart, vm.PC())
	assert.Equal(t, uint16(0), vm.Index())
	assert.Equal(t, 0, vm.StackDepth())
	assert.Equal(t, Framebuffer{}, vm.Display())
	assert.Equal(t, uint8(0xF0), vm.memory.Read(FontStart, 1)[0])

	_, pressed := vm.keyboard.Current()
	assert.False(t, pressed)
}

func TestLoadProgramTooLarge(t *testing.T) {
	vm := New(nil)

	err := vm.LoadProgram(make([]byte, MaxProgramSize+1))
	assert.True(t, errors.Is(err, ErrProgramTooLarge))
	assert.NoError(t, vm.LoadProgram(make([]byte, MaxProgramSize)))
}

func TestJump(t *testing.T) {
	vm := newTestVM(t, []uint16{0x1123})
	step(t, vm, 1)
	assert.Equal(t, uint16(0x123), vm.PC())
}

func TestCallReturn(t *testing.T) {
	vm := newTestVM(t, []uint16{0x2206, 0x0000, 0x0000, 0x00EE})

	step(t, vm, 1)
	assert.Equal(t, uint16(0x206), vm.PC())
	assert.Equal(t, 1, vm.StackDepth())

	step(t, vm, 1)
	assert.Equal(t, uint16(0x202), vm.PC())
	assert.Equal(t, 0, vm.StackDepth())
}

func TestCallReturnRestoresPC(t *testing.T) {
	vm := New(nil)
	pc := vm.pc

	assert.NoError(t, vm.call(0x123))
	assert.Equal(t, uint16(0x123), vm.pc)
	assert.Equal(t, 1, vm.StackDepth())

	assert.NoError(t, vm.ret())
	assert.Equal(t, pc, vm.pc)
	assert.Equal(t, 0, vm.StackDepth())
}

func TestSkips(t *testing.T) {
	tests := []struct {
		name    string
		opcode  uint16
		v0, v1  uint8
		skipped bool
	}{
		{"skeq imm taken", 0x3042, 0x42, 0, true},
		{"skeq imm not taken", 0x3042, 0x41, 0, false},
		{"skne imm taken", 0x4042, 0x41, 0, true},
		{"skne imm not taken", 0x4042, 0x42, 0, false},
		{"skeq reg taken", 0x5010, 7, 7, true},
		{"skeq reg not taken", 0x5010, 7, 8, false},
		{"skne reg taken", 0x9010, 7, 8, true},
		{"skne reg not taken", 0x9010, 7, 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t, []uint16{tt.opcode})
			vm.registers.Set(V0, tt.v0)
			vm.registers.Set(V1, tt.v1)
			step(t, vm, 1)

			want := ProgramStart + InstructionSize
			if tt.skipped {
				want += InstructionSize
			}
			assert.Equal(t, want, vm.PC())
		})
	}
}

func TestArithmeticInstructions(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
		vx, vy uint8
		want   uint8
		flag   uint8
	}{
		{"mov", 0x8010, 1, 2, 2, 0},
		{"or", 0x8011, 0xF0, 0x0F, 0xFF, 0},
		{"and", 0x8012, 0x3F, 0xFC, 0x3C, 0},
		{"xor", 0x8013, 0xFF, 0x0F, 0xF0, 0},
		{"add no carry", 0x8014, 100, 100, 200, 0},
		{"add carry", 0x8014, 200, 100, 44, 1},
		{"sub", 0x8015, 223, 123, 100, 1},
		{"sub borrow", 0x8015, 100, 123, 233, 0},
		{"shr", 0x8016, 5, 0, 2, 1},
		{"subn", 0x8017, 50, 200, 150, 1},
		{"shl", 0x801E, 0x81, 0, 0x02, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t, []uint16{tt.opcode})
			vm.registers.Set(V0, tt.vx)
			vm.registers.Set(V1, tt.vy)
			step(t, vm, 1)

			assert.Equal(t, tt.want, vm.Register(V0))
			assert.Equal(t, tt.flag, vm.Register(VF))
		})
	}
}

func TestLoadAndAddImmediate(t *testing.T) {
	vm := newTestVM(t, []uint16{0x6AFE, 0x7A03, 0xA123})
	vm.registers.Set(VF, 0x55)
	step(t, vm, 3)

	assert.Equal(t, uint8(0x01), vm.Register(VA))
	assert.Equal(t, uint8(0x55), vm.Register(VF))
	assert.Equal(t, uint16(0x123), vm.Index())
}

func TestJumpWithOffset(t *testing.T) {
	vm := newTestVM(t, []uint16{0xB100})
	vm.registers.Set(V0, 0x23)
	step(t, vm, 1)
	assert.Equal(t, uint16(0x123), vm.PC())

	// the target is kept inside the 12-bit address space
	vm = newTestVM(t, []uint16{0xBFFF})
	vm.registers.Set(V0, 0x02)
	step(t, vm, 1)
	assert.Equal(t, uint16(0x001), vm.PC())
}

func TestRandom(t *testing.T) {
	const seed1, seed2 = 1, 2

	vm := newTestVM(t, []uint16{0xC30F, 0xC30F}, WithRand(rand.New(rand.NewPCG(seed1, seed2))))
	want := rand.New(rand.NewPCG(seed1, seed2))

	step(t, vm, 1)
	assert.Equal(t, uint8(want.IntN(256))&0x0F, vm.Register(V3))
	step(t, vm, 1)
	assert.Equal(t, uint8(want.IntN(256))&0x0F, vm.Register(V3))
}

func TestDrawSprite(t *testing.T) {
	// draw glyph 0 twice at (V0, V1)
	vm := newTestVM(t, []uint16{0xA000, 0xD015, 0xD015})
	vm.registers.Set(V0, 3)
	vm.registers.Set(V1, 2)

	step(t, vm, 2)
	assert.Equal(t, uint8(0), vm.Register(VF))
	assert.True(t, vm.DrawFlag())
	assert.True(t, vm.gfx.Pixel(3, 2))
	assert.True(t, vm.gfx.Pixel(6, 6))
	assert.False(t, vm.gfx.Pixel(4, 3))

	step(t, vm, 1)
	assert.Equal(t, uint8(1), vm.Register(VF))
	assert.Equal(t, Framebuffer{}, vm.Display())
	assert.Equal(t, uint16(0), vm.Index())
}

func TestDrawSpriteBalancedPixelsNoCollision(t *testing.T) {
	vm := newTestVM(t, []uint16{0xA300, 0xD001})
	assert.NoError(t, vm.memory.Write(0x300, []uint8{0xC0}))
	vm.gfx[0] = 0x80
	vm.registers.Set(VF, 0x55)

	// pixel 0 goes dark, pixel 1 lights up
	step(t, vm, 2)
	assert.Equal(t, uint8(0x40), vm.gfx[0])
	assert.Equal(t, uint8(0), vm.Register(VF))
}

func TestAwaitingKey(t *testing.T) {
	vm := newTestVM(t, []uint16{0x6001, 0xF20A})
	assert.False(t, vm.AwaitingKey())

	step(t, vm, 1)
	assert.True(t, vm.AwaitingKey())

	vm.keyboard.Set(keypad.Key9)
	assert.False(t, vm.AwaitingKey())

	step(t, vm, 1)
	assert.Equal(t, uint8(9), vm.Register(V2))
	assert.False(t, vm.AwaitingKey())
}

func TestClearScreen(t *testing.T) {
	vm := newTestVM(t, []uint16{0xD005, 0x00E0})
	step(t, vm, 1)
	assert.True(t, vm.gfx.Pixel(0, 0))

	vm.ClearDrawFlag()
	step(t, vm, 1)
	assert.Equal(t, Framebuffer{}, vm.Display())
	assert.True(t, vm.DrawFlag())
}

func TestSkipKey(t *testing.T) {
	kb := keypad.New()
	vm := New(kb)
	assert.NoError(t, vm.LoadProgram([]byte{0xE5, 0x9E, 0x00, 0x00, 0x00, 0x00, 0xE5, 0xA1}))
	vm.registers.Set(V5, 0x7)

	kb.Set(keypad.Key7)
	step(t, vm, 1)
	assert.Equal(t, uint16(0x204), vm.PC())

	vm.jump(0x206)
	step(t, vm, 1)
	assert.Equal(t, uint16(0x208), vm.PC())

	kb.Set(keypad.Key8)
	vm.jump(0x200)
	step(t, vm, 1)
	assert.Equal(t, uint16(0x202), vm.PC())

	kb.Clear()
	vm.jump(0x206)
	step(t, vm, 1)
	assert.Equal(t, uint16(0x20A), vm.PC())
}

func TestWaitKey(t *testing.T) {
	kb := keypad.New()
	vm := New(kb)
	assert.NoError(t, vm.LoadProgram([]byte{0xF4, 0x0A}))

	done := make(chan error, 1)
	go func() {
		done <- vm.Step()
	}()

	select {
	case <-done:
		t.Fatal("step returned before a key was pressed")
	case <-time.After(50 * time.Millisecond):
	}

	kb.Set(keypad.KeyB)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("step still blocked after key press")
	}

	assert.Equal(t, uint8(0xB), vm.Register(V4))
	assert.Equal(t, uint16(0x202), vm.PC())
}

func TestWaitKeyClosed(t *testing.T) {
	kb := keypad.New()
	vm := New(kb)
	assert.NoError(t, vm.LoadProgram([]byte{0xF4, 0x0A}))

	kb.Close()
	err := vm.Step()
	assert.True(t, errors.Is(err, keypad.ErrClosed))
	assert.Equal(t, ProgramStart, vm.PC())
}

func TestTimers(t *testing.T) {
	vm := newTestVM(t, []uint16{0xF015, 0xF118, 0xF207})
	vm.registers.Set(V0, 3)
	vm.registers.Set(V1, 1)
	step(t, vm, 2)

	assert.True(t, vm.SoundActive())
	vm.DecrementTimers()
	assert.False(t, vm.SoundActive())
	vm.DecrementTimers()
	vm.DecrementTimers()
	vm.DecrementTimers()

	step(t, vm, 1)
	assert.Equal(t, uint8(0), vm.Register(V2))
	assert.Equal(t, uint8(0), vm.Register(DT))
}

func TestGetDelay(t *testing.T) {
	vm := newTestVM(t, []uint16{0xF015, 0xF207})
	vm.registers.Set(V0, 0x23)
	step(t, vm, 1)
	vm.DecrementTimers()
	step(t, vm, 1)

	assert.Equal(t, uint8(0x22), vm.Register(V2))
}

func TestAddIndex(t *testing.T) {
	vm := newTestVM(t, []uint16{0xAFFF, 0xF01E})
	vm.registers.Set(V0, 0x23)
	vm.registers.Set(VF, 0x77)
	step(t, vm, 2)

	assert.Equal(t, uint16(0x1022), vm.Index())
	assert.Equal(t, uint8(0x77), vm.Register(VF))
}

func TestFontAddress(t *testing.T) {
	vm := newTestVM(t, []uint16{0xF029})
	vm.registers.Set(V0, 0xA)
	step(t, vm, 1)

	assert.Equal(t, uint16(50), vm.Index())
}

func TestBCD(t *testing.T) {
	vm := newTestVM(t, []uint16{0xA300, 0xF033})
	vm.registers.Set(V0, 123)
	step(t, vm, 2)

	got := vm.memory.Read(0x300, 3)
	assert.Equal(t, uint8(1), got[0])
	assert.Equal(t, uint8(2), got[1])
	assert.Equal(t, uint8(3), got[2])
	assert.Equal(t, uint16(0x300), vm.Index())
}

func TestBCDOverrun(t *testing.T) {
	vm := newTestVM(t, []uint16{0xAFFE, 0xF033})
	step(t, vm, 1)

	err := vm.Step()
	assert.True(t, errors.Is(err, ErrMemoryOverrun))

	var execErr *ExecError
	assert.True(t, errors.As(err, &execErr))
	assert.Equal(t, uint16(0x202), execErr.PC)
	assert.Equal(t, uint16(0xF033), execErr.Opcode)
}

func TestStoreLoadRegisters(t *testing.T) {
	vm := newTestVM(t, []uint16{0xA400, 0xF255, 0x6000, 0x6100, 0x6200, 0xF265})
	vm.registers.Set(V0, 1)
	vm.registers.Set(V1, 2)
	vm.registers.Set(V2, 3)
	vm.registers.Set(V3, 4)

	step(t, vm, 2)
	got := vm.memory.Read(0x400, 4)
	assert.Equal(t, uint8(1), got[0])
	assert.Equal(t, uint8(2), got[1])
	assert.Equal(t, uint8(3), got[2])
	assert.Equal(t, uint8(0), got[3])

	step(t, vm, 4)
	assert.Equal(t, uint8(1), vm.Register(V0))
	assert.Equal(t, uint8(2), vm.Register(V1))
	assert.Equal(t, uint8(3), vm.Register(V2))
	assert.Equal(t, uint8(4), vm.Register(V3))
	assert.Equal(t, uint16(0x400), vm.Index())
}

func TestStoreIncrementsIndexQuirk(t *testing.T) {
	vm := newTestVM(t, []uint16{0xA400, 0xF255, 0xF165},
		WithQuirks(Quirks{LoadStoreIncrementsIndex: true}))

	step(t, vm, 2)
	assert.Equal(t, uint16(0x403), vm.Index())
	step(t, vm, 1)
	assert.Equal(t, uint16(0x405), vm.Index())
}

func TestSysIsIgnored(t *testing.T) {
	vm := newTestVM(t, []uint16{0x0123})
	step(t, vm, 1)
	assert.Equal(t, uint16(0x202), vm.PC())
}

func TestUnknownOpcode(t *testing.T) {
	for _, opcode := range []uint16{0x5011, 0x8018, 0x901F, 0xE000, 0xF0FF} {
		vm := newTestVM(t, []uint16{opcode})

		err := vm.Step()
		assert.True(t, errors.Is(err, ErrUnknownOpcode))

		var execErr *ExecError
		assert.True(t, errors.As(err, &execErr))
		assert.Equal(t, opcode, execErr.Opcode)
		assert.Equal(t, ProgramStart, execErr.PC)
		assert.Equal(t, ProgramStart, vm.PC())
	}
}

func TestFetchAtEndOfMemory(t *testing.T) {
	vm := New(nil)
	vm.jump(0xFFF)

	err := vm.Step()
	assert.True(t, errors.Is(err, ErrFetch))
}

func TestStrictStack(t *testing.T) {
	vm := newTestVM(t, []uint16{0x00EE}, WithQuirks(Quirks{StrictStack: true}))
	assert.True(t, errors.Is(vm.Step(), ErrStackUnderflow))

	// a subroutine calling itself
	vm = newTestVM(t, []uint16{0x2200}, WithQuirks(Quirks{StrictStack: true}))
	step(t, vm, StackSize)
	assert.True(t, errors.Is(vm.Step(), ErrStackOverflow))
}

func TestStackWrapsByDefault(t *testing.T) {
	vm := newTestVM(t, []uint16{0x2200})
	step(t, vm, StackSize+4)
	assert.Equal(t, StackSize, vm.StackDepth())
}

func TestStrictMemory(t *testing.T) {
	vm := newTestVM(t, []uint16{0xAFFE, 0xD00F}, WithQuirks(Quirks{StrictMemory: true}))
	step(t, vm, 1)
	assert.True(t, errors.Is(vm.Step(), ErrMemoryOverrun))

	vm = newTestVM(t, []uint16{0xAFFE, 0xD00F})
	step(t, vm, 2)
}

func TestReset(t *testing.T) {
	vm := newTestVM(t, []uint16{0x6042, 0xA300, 0x2300})
	step(t, vm, 3)

	assert.NoError(t, vm.Reset())
	assert.Equal(t, ProgramStart, vm.PC())
	assert.Equal(t, uint16(0), vm.Index())
	assert.Equal(t, uint8(0), vm.Register(V0))
	assert.Equal(t, 0, vm.StackDepth())
	assert.Equal(t, uint8(0x60), vm.memory.Read(ProgramStart, 1)[0])
}

func TestDisassemble(t *testing.T) {
	tests := []struct {
		opcode uint16
		want   string
	}{
		{0x00E0, "cls"},
		{0x00EE, "rts"},
		{0x0123, "sys 0x0123"},
		{0x1234, "jmp 0x0234"},
		{0x3A42, "skeq va, 66"},
		{0x8AB4, "add va, vb"},
		{0xD125, "sprite v1, v2, 5"},
		{0xF30A, "key v3"},
		{0xF555, "str v0-v5"},
		{0x5121, "unknown 0x5121"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Disassemble(tt.opcode))
	}
}
