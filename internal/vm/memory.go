package vm

import (
	"errors"
	"fmt"
)

var ErrMemoryOverrun = errors.New("memory overrun")

const (
	addressMask = uint16(MemorySize - 1)

	FontStart = uint16(0x000)
	GlyphSize = 5
)

// Hex digit glyphs 0-F, 4x5 pixels each, loaded at FontStart.
var chip8Font = []uint8{
	0xF0, 0x90, 0x90, 0x90, 0xF0, // 0
	0x20, 0x60, 0x20, 0x20, 0x70, // 1
	0xF0, 0x10, 0xF0, 0x80, 0xF0, // 2
	0xF0, 0x10, 0xF0, 0x10, 0xF0, // 3
	0x90, 0x90, 0xF0, 0x10, 0x10, // 4
	0xF0, 0x80, 0xF0, 0x10, 0xF0, // 5
	0xF0, 0x80, 0xF0, 0x90, 0xF0, // 6
	0xF0, 0x10, 0x20, 0x40, 0x40, // 7
	0xF0, 0x90, 0xF0, 0x90, 0xF0, // 8
	0xF0, 0x90, 0xF0, 0x10, 0xF0, // 9
	0xF0, 0x90, 0xF0, 0x90, 0x90, // A
	0xE0, 0x90, 0xE0, 0x90, 0xE0, // B
	0xF0, 0x80, 0x80, 0x80, 0xF0, // C
	0xE0, 0x90, 0x90, 0x90, 0xE0, // D
	0xF0, 0x80, 0xF0, 0x80, 0xF0, // E
	0xF0, 0x80, 0xF0, 0x80, 0x80, // F
}

// Memory is the 4K address space. Addresses are reduced modulo MemorySize
// before use.
type Memory struct {
	data [MemorySize]uint8
}

// NewMemory returns zeroed memory with the font glyphs in place.
func NewMemory() *Memory {
	m := &Memory{}
	copy(m.data[FontStart:], chip8Font)
	return m
}

// Read returns a copy of n bytes starting at addr. A range running past the
// end of memory is truncated rather than wrapped.
func (m *Memory) Read(addr uint16, n int) []uint8 {
	start := int(addr & addressMask)
	end := start + n
	if end > MemorySize {
		end = MemorySize
	}
	return append([]uint8(nil), m.data[start:end]...)
}

// ReadStrict is Read without truncation: an over-length range is an error.
func (m *Memory) ReadStrict(addr uint16, n int) ([]uint8, error) {
	start := int(addr & addressMask)
	if start+n > MemorySize {
		return nil, fmt.Errorf("read %d bytes at 0x%03x: %w", n, start, ErrMemoryOverrun)
	}
	return append([]uint8(nil), m.data[start:start+n]...), nil
}

// Write copies data to addr. Nothing is written if data would run past the
// end of memory.
func (m *Memory) Write(addr uint16, data []uint8) error {
	start := int(addr & addressMask)
	if start+len(data) > MemorySize {
		return fmt.Errorf("write %d bytes at 0x%03x: %w", len(data), start, ErrMemoryOverrun)
	}
	copy(m.data[start:], data)
	return nil
}

func (m *Memory) reset() {
	m.data = [MemorySize]uint8{}
	copy(m.data[FontStart:], chip8Font)
}
