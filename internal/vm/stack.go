package vm

import "errors"

var (
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
)

// Stack holds subroutine return addresses. The cursor wraps modulo
// StackSize in both directions, so a 17th push overwrites the first entry
// and popping an empty stack returns whatever was left in the slot.
type Stack struct {
	data  [StackSize]uint16
	sp    uint16
	depth int
}

func (s *Stack) Push(addr uint16) {
	s.data[s.sp] = addr
	s.sp = (s.sp + 1) % StackSize
	if s.depth < StackSize {
		s.depth++
	}
}

func (s *Stack) Pop() uint16 {
	s.sp = (s.sp + StackSize - 1) % StackSize
	if s.depth > 0 {
		s.depth--
	}
	return s.data[s.sp]
}

// PushStrict is Push that refuses to wrap.
func (s *Stack) PushStrict(addr uint16) error {
	if s.depth == StackSize {
		return ErrStackOverflow
	}
	s.Push(addr)
	return nil
}

// PopStrict is Pop that refuses to wrap.
func (s *Stack) PopStrict() (uint16, error) {
	if s.depth == 0 {
		return 0, ErrStackUnderflow
	}
	return s.Pop(), nil
}

// Depth is the number of pushes not yet popped, clamped to 0..StackSize.
func (s *Stack) Depth() int {
	return s.depth
}
