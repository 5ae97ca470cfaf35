// Package disasm produces a static listing of a CHIP-8 program. Opcodes are
// classified with the retrogolib CHIP-8 tables and rendered with the
// interpreter's own mnemonics, so a listing shows exactly what vm.Step would
// execute.
package disasm

import (
	"fmt"
	"io"

	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/retroenv/retrogolib/arch/cpu/chip8"
)

// Line is one listed word, or a trailing odd byte.
type Line struct {
	Address uint16
	Data    []byte

	// Instruction is nil for words that do not decode to a known opcode.
	Instruction *chip8.Instruction
	Text        string

	// Label is set when another instruction jumps to or calls Address.
	Label bool
}

// Disassemble lists program as if it was loaded at origin.
func Disassemble(program []byte, origin uint16) []Line {
	lines := make([]Line, 0, len(program)/vm.InstructionSize+1)
	targets := make(map[uint16]struct{})

	for i := 0; i < len(program); i += vm.InstructionSize {
		addr := origin + uint16(i)

		if i+1 >= len(program) {
			lines = append(lines, Line{
				Address: addr,
				Data:    program[i:],
				Text:    fmt.Sprintf("db 0x%02x", program[i]),
			})
			break
		}

		w := uint16(program[i])<<8 | uint16(program[i+1])
		line := Line{
			Address: addr,
			Data:    program[i : i+2],
		}

		op, ok := lookup(w)
		if ok {
			line.Instruction = op.Instruction
			line.Text = vm.Disassemble(w)

			if target, ok := branchTarget(op.Instruction, w); ok {
				targets[target] = struct{}{}
			}
		} else {
			line.Text = fmt.Sprintf("dw 0x%04x", w)
		}

		lines = append(lines, line)
	}

	for i := range lines {
		if _, ok := targets[lines[i].Address]; ok {
			lines[i].Label = true
		}
	}
	return lines
}

func lookup(w uint16) (chip8.Opcode, bool) {
	firstNibble := (w & 0xF000) >> 12
	for _, op := range chip8.Opcodes[int(firstNibble)] {
		if op.Info.Mask&w == op.Info.Value && op.Instruction != nil {
			return op, true
		}
	}
	return chip8.Opcode{}, false
}

// branchTarget returns the absolute destination of 1NNN and 2NNN. BNNN
// depends on V0 and is not followed.
func branchTarget(ins *chip8.Instruction, w uint16) (uint16, bool) {
	switch {
	case ins == chip8.Call:
		return w & 0x0FFF, true
	case ins == chip8.Jp && w&0xF000 == 0x1000:
		return w & 0x0FFF, true
	default:
		return 0, false
	}
}

// IsSkip reports whether the line conditionally skips the next instruction.
func (l Line) IsSkip() bool {
	return l.Instruction != nil && chip8.SkipInstructions.Contains(l.Instruction.Name)
}

// Write prints lines as an assembler-style listing.
func Write(w io.Writer, lines []Line) error {
	for i, line := range lines {
		if line.Label {
			if _, err := fmt.Fprintf(w, "L%03X:\n", line.Address); err != nil {
				return err
			}
		}

		// instructions that may be skipped are marked
		indent := "    "
		if i > 0 && lines[i-1].IsSkip() {
			indent = "  ? "
		}

		if _, err := fmt.Fprintf(w, "%03X  % -5x %s%s\n", line.Address, line.Data, indent, line.Text); err != nil {
			return err
		}
	}
	return nil
}
