package vm

import "fmt"

// Register indexes the register file. V0-VF are the general purpose
// registers, DT and ST the delay and sound timers.
type Register uint8

const (
	V0 Register = iota
	V1
	V2
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	VA
	VB
	VC
	VD
	VE
	VF // carry, borrow and collision flag
	DT
	ST

	registerSlots = int(ST) + 1
)

func (r Register) String() string {
	switch r {
	case DT:
		return "dt"
	case ST:
		return "st"
	default:
		return fmt.Sprintf("v%x", uint8(r))
	}
}

// Registers is the register file. All arithmetic wraps modulo 256.
type Registers [registerSlots]uint8

func (r *Registers) Get(reg Register) uint8 {
	return r[reg]
}

func (r *Registers) Set(reg Register, v uint8) {
	r[reg] = v
}

func (r *Registers) CompareScalar(reg Register, v uint8) bool {
	return r[reg] == v
}

func (r *Registers) Compare(x, y Register) bool {
	return r[x] == r[y]
}

// AddScalar adds v to reg without touching VF.
func (r *Registers) AddScalar(reg Register, v uint8) {
	r[reg] += v
}

// Add stores x+y into x, VF = 1 on carry.
func (r *Registers) Add(x, y Register) {
	sum := uint16(r[x]) + uint16(r[y])
	r[x] = uint8(sum)
	r[VF] = boolToFlag(sum > 0xFF)
}

// Sub stores x-y into x. VF is 1 when x was strictly greater than y before
// the subtraction, so equal operands clear it.
func (r *Registers) Sub(x, y Register) {
	vx, vy := r[x], r[y]
	r[x] = vx - vy
	r[VF] = boolToFlag(vx > vy)
}

// SubN stores y-x into x. VF is 1 when y was strictly greater than x.
func (r *Registers) SubN(x, y Register) {
	vx, vy := r[x], r[y]
	r[x] = vy - vx
	r[VF] = boolToFlag(vy > vx)
}

func (r *Registers) Or(x, y Register) {
	r[x] |= r[y]
}

func (r *Registers) And(x, y Register) {
	r[x] &= r[y]
}

func (r *Registers) Xor(x, y Register) {
	r[x] ^= r[y]
}

// ShiftRight shifts reg right by one, VF = the bit shifted out.
func (r *Registers) ShiftRight(reg Register) {
	v := r[reg]
	r[reg] = v >> 1
	r[VF] = v & 0x01
}

// ShiftLeft shifts reg left by one, VF = the bit shifted out.
func (r *Registers) ShiftLeft(reg Register) {
	v := r[reg]
	r[reg] = v << 1
	r[VF] = v >> 7
}

// Range returns a copy of V0 through last, inclusive.
func (r *Registers) Range(last Register) []uint8 {
	out := make([]uint8, int(last)+1)
	copy(out, r[:int(last)+1])
	return out
}

// SetRange loads values into V0 onwards.
func (r *Registers) SetRange(values []uint8) {
	copy(r[:RegisterCount], values)
}

func boolToFlag(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
