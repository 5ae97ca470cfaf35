// Package keypad holds the 16-key input state shared between the
// interpreter and whatever drives input.
package keypad

import (
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("keyboard closed")

type Key uint8

const (
	Key0 = Key(iota)
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF

	KeyCount = 16
)

func (k Key) String() string {
	return fmt.Sprintf("%X", uint8(k))
}

// Keyboard is the current key, or none. Producers call Set and Clear,
// the interpreter calls Current to poll and Wait to block.
type Keyboard struct {
	mu      sync.Mutex
	cond    *sync.Cond
	key     Key
	pressed bool
	closed  bool
}

func New() *Keyboard {
	kb := &Keyboard{}
	kb.cond = sync.NewCond(&kb.mu)
	return kb
}

// Set marks key as pressed and wakes every waiter.
func (kb *Keyboard) Set(key Key) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.key = key & 0x0F
	kb.pressed = true
	kb.cond.Broadcast()
}

// Clear releases the current key.
func (kb *Keyboard) Clear() {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.pressed = false
	kb.cond.Broadcast()
}

// Release clears the current key only if it is key, so that releasing one
// key while another is held does not drop the held one.
func (kb *Keyboard) Release(key Key) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.pressed && kb.key == key&0x0F {
		kb.pressed = false
		kb.cond.Broadcast()
	}
}

// Current returns the pressed key without blocking.
func (kb *Keyboard) Current() (Key, bool) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	return kb.key, kb.pressed
}

// Wait blocks until a key is pressed and returns it. It returns ErrClosed
// once Close has been called.
func (kb *Keyboard) Wait() (Key, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for !kb.pressed && !kb.closed {
		kb.cond.Wait()
	}
	if kb.closed {
		return 0, ErrClosed
	}
	return kb.key, nil
}

// Close releases all current and future waiters.
func (kb *Keyboard) Close() {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.closed = true
	kb.cond.Broadcast()
}

// Reopen undoes Close, used when the machine is rebooted.
func (kb *Keyboard) Reopen() {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.closed = false
	kb.pressed = false
}
