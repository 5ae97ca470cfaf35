package vm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kapitanov/chip8core/internal/keypad"
)

func (vm *VM) executeOpcode(opcode uint16) error {
	instr := decode(opcode)

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug(
			"exec",
			"pc", fmt.Sprintf("0x%04x", vm.pc-InstructionSize),
			"opcode", fmt.Sprintf("0x%04x", opcode),
			"instr", instr.Name(opcode),
		)
	}

	return instr.Execute(vm, opcode)
}

// Disassemble returns the mnemonic for a single opcode.
func Disassemble(opcode uint16) string {
	return decode(opcode).Name(opcode)
}

type instruction struct {
	Name    func(opcode uint16) string
	Execute func(vm *VM, opcode uint16) error
}

// Operand fields of an opcode.
func regX(opcode uint16) Register { return Register((opcode & 0x0F00) >> 8) }
func regY(opcode uint16) Register { return Register((opcode & 0x00F0) >> 4) }
func nibble(opcode uint16) uint8 { return uint8(opcode & 0x000F) }
func byteKK(opcode uint16) uint8 { return uint8(opcode & 0x00FF) }
func addrNNN(opcode uint16) uint16 { return opcode & 0x0FFF }

func decode(opcode uint16) instruction {
	switch opcode & 0xF000 {
	case 0x0000:
		switch opcode {
		case 0x00E0:
			// 00E0 - Clear screen
			return clsInstruction

		case 0x00EE:
			// 00EE - Return from subroutine
			return rtsInstruction
		}

		// 0NNN - Machine code routine, not emulated
		return sysInstruction

	case 0x1000:
		// 1NNN - Jumps to address NNN
		return jmpInstruction

	case 0x2000:
		// 2NNN - Calls subroutine at NNN
		return jsrInstruction

	case 0x3000:
		// 3XNN - Skips the next instruction if VX equals NN
		return skeq1Instruction

	case 0x4000:
		// 4XNN - Skips the next instruction if VX does not equal NN
		return skne1Instruction

	case 0x5000:
		if opcode&0x000F == 0 {
			// 5XY0 - Skips the next instruction if VX equals VY
			return skeq2Instruction
		}

	case 0x6000:
		// 6XNN - Sets VX to NN
		return mov1Instruction

	case 0x7000:
		// 7XNN - Adds NN to VX, carry flag untouched
		return add1Instruction

	case 0x8000:
		switch opcode & 0x000F {
		case 0x0000:
			// 8XY0 - Sets VX to the value of VY
			return mov2Instruction

		case 0x0001:
			// 8XY1 - Sets VX to (VX OR VY)
			return orInstruction

		case 0x0002:
			// 8XY2 - Sets VX to (VX AND VY)
			return andInstruction

		case 0x0003:
			// 8XY3 - Sets VX to (VX XOR VY)
			return xorInstruction

		case 0x0004:
			// 8XY4 - Adds VY to VX, VF = carry
			return add2Instruction

		case 0x0005:
			// 8XY5 - VX = VX - VY, VF = VX > VY
			return subInstruction

		case 0x0006:
			// 8XY6 - Shifts VX right by one, VF = old bit 0
			return shrInstruction

		case 0x0007:
			// 8XY7 - VX = VY - VX, VF = VY > VX
			return rsbInstruction

		case 0x000E:
			// 8XYE - Shifts VX left by one, VF = old bit 7
			return shlInstruction
		}

	case 0x9000:
		if opcode&0x000F == 0 {
			// 9XY0 - Skips the next instruction if VX doesn't equal VY
			return skne2Instruction
		}

	case 0xA000:
		// ANNN - Sets I to the address NNN
		return mviInstruction

	case 0xB000:
		// BNNN - Jumps to the address NNN plus V0
		return jmiInstruction

	case 0xC000:
		// CXNN - Sets VX to a random number, masked by NN
		return randInstruction

	case 0xD000:
		// DXYN - XORs an 8xN sprite from I onto the screen at (VX, VY),
		// VF = 1 if a lit pixel was turned off
		return spriteInstruction

	case 0xE000:
		switch opcode & 0x00FF {
		case 0x009E:
			// EX9E - Skips the next instruction if the key in VX is pressed
			return skprInstruction

		case 0x00A1:
			// EXA1 - Skips the next instruction if the key in VX isn't pressed
			return skupInstruction
		}

	case 0xF000:
		switch opcode & 0x00FF {
		case 0x0007:
			// FX07 - Sets VX to the value of the delay timer
			return gdelayInstruction

		case 0x000A:
			// FX0A - A key press is awaited, and then stored in VX
			return keyInstruction

		case 0x0015:
			// FX15 - Sets the delay timer to VX
			return sdelayInstruction

		case 0x0018:
			// FX18 - Sets the sound timer to VX
			return ssoundInstruction

		case 0x001E:
			// FX1E - Adds VX to I
			return adiInstruction

		case 0x0029:
			// FX29 - Sets I to the glyph for the hex digit in VX
			return fontInstruction

		case 0x0033:
			// FX33 - Stores the BCD representation of VX at I, I+1 and I+2
			return bcdInstruction

		case 0x0055:
			// FX55 - Stores V0 to VX in memory starting at address I
			return strInstruction

		case 0x0065:
			// FX65 - Reads memory starting at address I into V0...VX
			return ldrInstruction
		}
	}

	return unknownInstruction
}

var (
	// 0nnn	sys nnn	call machine code routine (ignored)
	sysInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("sys 0x%04x", addrNNN(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			slog.Warn("ignoring sys call",
				"pc", fmt.Sprintf("0x%04x", vm.pc-InstructionSize),
				"addr", fmt.Sprintf("0x%04x", addrNNN(opcode)),
			)
			return nil
		},
	}

	// 00E0	cls	Clear the screen
	clsInstruction = instruction{
		Name: func(opcode uint16) string {
			return "cls"
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.gfx.Clear()
			vm.drawFlag = true
			return nil
		},
	}

	// 00EE	rts	return from subroutine call
	rtsInstruction = instruction{
		Name: func(opcode uint16) string {
			return "rts"
		},
		Execute: func(vm *VM, opcode uint16) error {
			return vm.ret()
		},
	}

	// 1xxx	jmp xxx	jump to address xxx
	jmpInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("jmp 0x%04x", addrNNN(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.jump(addrNNN(opcode))
			return nil
		},
	}

	// 2xxx	jsr xxx	jump to subroutine at address xxx
	jsrInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("jsr 0x%04x", addrNNN(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			return vm.call(addrNNN(opcode))
		},
	}

	// 3rxx	skeq vr,xx	skip if register r = constant
	skeq1Instruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("skeq %s, %d", regX(opcode), byteKK(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers.CompareScalar(regX(opcode), byteKK(opcode)))
			return nil
		},
	}

	// 4rxx	skne vr,xx	skip if register r <> constant
	skne1Instruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("skne %s, %d", regX(opcode), byteKK(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(!vm.registers.CompareScalar(regX(opcode), byteKK(opcode)))
			return nil
		},
	}

	// 5ry0	skeq vr,vy	skip if register r = register y
	skeq2Instruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("skeq %s, %s", regX(opcode), regY(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers.Compare(regX(opcode), regY(opcode)))
			return nil
		},
	}

	// 6rxx	mov vr,xx	move constant to register r
	mov1Instruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("mov %s, %d", regX(opcode), byteKK(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.Set(regX(opcode), byteKK(opcode))
			return nil
		},
	}

	// 7rxx	add vr,xx	add constant to register r	No carry generated
	add1Instruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("add %s, %d", regX(opcode), byteKK(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.AddScalar(regX(opcode), byteKK(opcode))
			return nil
		},
	}

	// 8ry0	mov vr,vy	move register vy into vr
	mov2Instruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("mov %s, %s", regX(opcode), regY(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.Set(regX(opcode), vm.registers.Get(regY(opcode)))
			return nil
		},
	}

	// 8ry1	or rx,ry	or register vy into register vx
	orInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("or %s, %s", regX(opcode), regY(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.Or(regX(opcode), regY(opcode))
			return nil
		},
	}

	// 8ry2	and rx,ry	and register vy into register vx
	andInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("and %s, %s", regX(opcode), regY(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.And(regX(opcode), regY(opcode))
			return nil
		},
	}

	// 8ry3	xor rx,ry	exclusive or register ry into register rx
	xorInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("xor %s, %s", regX(opcode), regY(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.Xor(regX(opcode), regY(opcode))
			return nil
		},
	}

	// 8ry4	add vr,vy	add register vy to vr,carry in vf
	add2Instruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("add %s, %s", regX(opcode), regY(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.Add(regX(opcode), regY(opcode))
			return nil
		},
	}

	// 8ry5	sub vr,vy	subtract register vy from vr	vf set to 1 if vr > vy
	subInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("sub %s, %s", regX(opcode), regY(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.Sub(regX(opcode), regY(opcode))
			return nil
		},
	}

	// 8r06	shr vr	shift register vr right, bit 0 goes into register vf
	shrInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("shr %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.ShiftRight(regX(opcode))
			return nil
		},
	}

	// 8ry7	rsb vr,vy	subtract register vr from register vy, result in vr	vf set to 1 if vy > vr
	rsbInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("rsb %s, %s", regX(opcode), regY(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.SubN(regX(opcode), regY(opcode))
			return nil
		},
	}

	// 8r0e	shl vr	shift register vr left, bit 7 goes into register vf
	shlInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("shl %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.ShiftLeft(regX(opcode))
			return nil
		},
	}

	// 9ry0	skne vr,vy	skip if register r <> register y
	skne2Instruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("skne %s, %s", regX(opcode), regY(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(!vm.registers.Compare(regX(opcode), regY(opcode)))
			return nil
		},
	}

	// axxx	mvi xxx	Load index register with constant xxx
	mviInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("mvi 0x%04x", addrNNN(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.index = addrNNN(opcode)
			return nil
		},
	}

	// bxxx	jmi xxx	Jump to address xxx+register v0
	jmiInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("jmi 0x%04x", addrNNN(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.jump(addrNNN(opcode) + uint16(vm.registers.Get(V0)))
			return nil
		},
	}

	// crxx	rand vr,xx	vr = random byte AND xx
	randInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("rand %s, 0x%02x", regX(opcode), byteKK(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			x := uint8(vm.rand.IntN(256))
			vm.registers.Set(regX(opcode), x&byteKK(opcode))
			return nil
		},
	}

	// drys	sprite rx,ry,s	Draw sprite at screen location rx,ry height s
	// Sprites are read from the index register onwards, 8 pixels wide.
	// All drawing is xor drawing (e.g. it toggles the screen pixels).
	spriteInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("sprite %s, %s, %d", regX(opcode), regY(opcode), nibble(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			rows, err := vm.read(vm.index, int(nibble(opcode)))
			if err != nil {
				return err
			}

			x := vm.registers.Get(regX(opcode))
			y := vm.registers.Get(regY(opcode))

			collision := vm.gfx.blit(x, y, rows, vm.quirks.ClipSprites)
			vm.registers.Set(VF, boolToFlag(collision))
			vm.drawFlag = true
			return nil
		},
	}

	// ek9e	skpr k	skip if key (register rk) pressed
	skprInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("skpr %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.keyIs(regX(opcode)))
			return nil
		},
	}

	// eka1	skup k	skip if key (register rk) not pressed
	skupInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("skup %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(!vm.keyIs(regX(opcode)))
			return nil
		},
	}

	// fr07	gdelay vr	get delay timer into vr
	gdelayInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("gdelay %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.Set(regX(opcode), vm.registers.Get(DT))
			return nil
		},
	}

	// fr0a	key vr	wait for for keypress,put key in register vr
	keyInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("key %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			key, err := vm.keyboard.Wait()
			if err != nil {
				return fmt.Errorf("waiting for key: %w", err)
			}

			vm.registers.Set(regX(opcode), uint8(key))
			return nil
		},
	}

	// fr15	sdelay vr	set the delay timer to vr
	sdelayInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("sdelay %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.Set(DT, vm.registers.Get(regX(opcode)))
			return nil
		},
	}

	// fr18	ssound vr	set the sound timer to vr
	ssoundInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ssound %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers.Set(ST, vm.registers.Get(regX(opcode)))
			return nil
		},
	}

	// fr1e	adi vr	add register vr to the index register	No flag, wraps at 16 bits
	adiInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("adi %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.index += uint16(vm.registers.Get(regX(opcode)))
			return nil
		},
	}

	// fr29	font vr	point I to the sprite for hexadecimal character in vr	Sprite is 5 bytes high
	fontInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("font %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			x := uint16(vm.registers.Get(regX(opcode)))
			vm.index = FontStart + x*GlyphSize
			return nil
		},
	}

	// fr33	bcd vr	store the bcd representation of register vr at location I,I+1,I+2	Doesn't change I
	bcdInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("bcd %s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			x := vm.registers.Get(regX(opcode))
			return vm.memory.Write(vm.index, []uint8{x / 100, (x / 10) % 10, x % 10})
		},
	}

	// fr55	str v0-vr	store registers v0-vr at location I onwards
	strInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("str v0-%s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			n := regX(opcode)
			if err := vm.memory.Write(vm.index, vm.registers.Range(n)); err != nil {
				return err
			}

			if vm.quirks.LoadStoreIncrementsIndex {
				vm.index += uint16(n) + 1
			}
			return nil
		},
	}

	// fx65	ldr v0-vr	load registers v0-vr from location I onwards
	ldrInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ldr v0-%s", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			n := regX(opcode)
			values, err := vm.read(vm.index, int(n)+1)
			if err != nil {
				return err
			}
			vm.registers.SetRange(values)

			if vm.quirks.LoadStoreIncrementsIndex {
				vm.index += uint16(n) + 1
			}
			return nil
		},
	}

	unknownInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("unknown 0x%04X", opcode)
		},
		Execute: func(vm *VM, opcode uint16) error {
			return ErrUnknownOpcode
		},
	}
)

func (vm *VM) jump(addr uint16) {
	vm.pc = addr & addressMask
}

func (vm *VM) call(addr uint16) error {
	if vm.quirks.StrictStack {
		if err := vm.stack.PushStrict(vm.pc); err != nil {
			return err
		}
	} else {
		vm.stack.Push(vm.pc)
	}

	vm.jump(addr)
	return nil
}

func (vm *VM) ret() error {
	if !vm.quirks.StrictStack {
		vm.pc = vm.stack.Pop()
		return nil
	}

	addr, err := vm.stack.PopStrict()
	if err != nil {
		return err
	}
	vm.pc = addr
	return nil
}

func (vm *VM) skipIf(cond bool) {
	if cond {
		vm.pc += InstructionSize
	}
}

func (vm *VM) keyIs(reg Register) bool {
	key, pressed := vm.keyboard.Current()
	return pressed && key == keypad.Key(vm.registers.Get(reg))
}

func (vm *VM) read(addr uint16, n int) ([]uint8, error) {
	if vm.quirks.StrictMemory {
		return vm.memory.ReadStrict(addr, n)
	}
	return vm.memory.Read(addr, n), nil
}
