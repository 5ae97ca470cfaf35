// Package tty is a frontend for text terminals. The display is drawn with
// half-block characters, two pixel rows per line, and keys are read from
// the terminal in raw mode.
//
// Terminals report key presses but not releases, so a key counts as held
// for holdTime after its last press (auto-repeat keeps it held).
package tty

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kapitanov/chip8core/internal/keypad"
	"github.com/kapitanov/chip8core/internal/runner"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/pkg/term"
)

const (
	DefaultDevice = "/dev/tty"

	holdTime = 150 * time.Millisecond
)

const (
	keyCtrlC     = 0x03
	keyBackspace = 0x08
	keyEscape    = 0x1b
	keyDelete    = 0x7f
)

type Terminal struct {
	tty  *term.Term
	out  io.Writer
	in   chan byte
	done chan struct{}

	key     keypad.Key
	held    bool
	pressed time.Time
	now     func() time.Time

	beeping bool
	buf     bytes.Buffer
}

var _ runner.Frontend = (*Terminal)(nil)

// Open switches device into raw mode and starts reading keys from it.
func Open(device string) (*Terminal, error) {
	tty, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open terminal %q: %w", device, err)
	}
	slog.Debug("tty: raw mode", "device", device)

	t := newTerminal(tty, tty)
	t.tty = tty

	// hide cursor, clear screen
	if _, err := io.WriteString(tty, "\x1b[?25l\x1b[2J"); err != nil {
		t.Shutdown()
		return nil, fmt.Errorf("failed to write to terminal: %w", err)
	}
	return t, nil
}

func newTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{
		out:  out,
		in:   make(chan byte, 64),
		done: make(chan struct{}),
		now:  time.Now,
	}

	go t.readLoop(in)

	return t
}

func (t *Terminal) readLoop(in io.Reader) {
	defer close(t.in)

	b := make([]byte, 16)
	for {
		n, err := in.Read(b)
		for _, c := range dropEscapeSequences(b[:n]) {
			select {
			case t.in <- c:
			case <-t.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// dropEscapeSequences removes the sequences sent for arrow and function keys
// from a single read. An escape byte ending the read is the Escape key.
func dropEscapeSequences(b []byte) []byte {
	out := b[:0]
	for i := 0; i < len(b); i++ {
		if b[i] != keyEscape || i+1 == len(b) {
			out = append(out, b[i])
			continue
		}

		// ESC [ ... final or ESC O final, otherwise ESC plus one byte
		i++
		if b[i] != '[' && b[i] != 'O' {
			continue
		}
		for i+1 < len(b) {
			i++
			if b[i] >= 0x40 && b[i] <= 0x7e {
				break
			}
		}
	}
	return out
}

// Shutdown restores the terminal to the state it was in before Open.
func (t *Terminal) Shutdown() {
	close(t.done)

	if t.tty == nil {
		return
	}

	if _, err := io.WriteString(t.tty, "\x1b[?25h\x1b[0m\r\n"); err != nil {
		slog.Error("failed to reset terminal", "err", err)
	}

	if err := t.tty.Restore(); err != nil {
		slog.Error("failed to restore terminal", "err", err)
	}

	if err := t.tty.Close(); err != nil {
		slog.Error("failed to close terminal", "err", err)
	}
}

func (t *Terminal) ReadInput(kb *keypad.Keyboard) error {
	for {
		select {
		case c, ok := <-t.in:
			if !ok {
				return runner.ErrQuit
			}
			if err := t.handle(c, kb); err != nil {
				return err
			}
			continue
		default:
		}
		break
	}

	if t.held && t.now().Sub(t.pressed) > holdTime {
		kb.Release(t.key)
		t.held = false
	}
	return nil
}

func (t *Terminal) handle(c byte, kb *keypad.Keyboard) error {
	switch c {
	case keyCtrlC, keyEscape:
		return runner.ErrQuit
	case keyBackspace, keyDelete:
		return runner.ErrReboot
	}

	key, ok := keyMap(c)
	if !ok {
		return nil
	}

	if t.held && t.key != key {
		kb.Release(t.key)
	}
	kb.Set(key)
	t.key = key
	t.held = true
	t.pressed = t.now()
	return nil
}

func keyMap(c byte) (keypad.Key, bool) {
	// Same physical layout as the SDL frontend:
	//
	// | 1 | 2 | 3 | 4 |       | 1 | 2 | 3 | C |
	// | q | w | e | r |       | 4 | 5 | 6 | D |
	// | a | s | d | f |  <=>  | 7 | 8 | 9 | E |
	// | z | x | c | v |       | A | 0 | B | F |

	if c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}

	switch c {
	case 'x':
		return keypad.Key0, true
	case '1':
		return keypad.Key1, true
	case '2':
		return keypad.Key2, true
	case '3':
		return keypad.Key3, true
	case 'q':
		return keypad.Key4, true
	case 'w':
		return keypad.Key5, true
	case 'e':
		return keypad.Key6, true
	case 'a':
		return keypad.Key7, true
	case 's':
		return keypad.Key8, true
	case 'd':
		return keypad.Key9, true
	case 'z':
		return keypad.KeyA, true
	case 'c':
		return keypad.KeyB, true
	case '4':
		return keypad.KeyC, true
	case 'r':
		return keypad.KeyD, true
	case 'f':
		return keypad.KeyE, true
	case 'v':
		return keypad.KeyF, true
	default:
		return 0, false
	}
}

func (t *Terminal) Draw(fb vm.Framebuffer) error {
	t.buf.Reset()
	t.buf.WriteString("\x1b[H")
	render(&t.buf, fb)

	if _, err := t.out.Write(t.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// render writes fb as ScreenHeight/2 lines of half-block characters.
func render(w *bytes.Buffer, fb vm.Framebuffer) {
	for y := 0; y < vm.ScreenHeight; y += 2 {
		for x := 0; x < vm.ScreenWidth; x++ {
			top, bottom := fb.Pixel(x, y), fb.Pixel(x, y+1)
			switch {
			case top && bottom:
				w.WriteRune('█')
			case top:
				w.WriteRune('▀')
			case bottom:
				w.WriteRune('▄')
			default:
				w.WriteByte(' ')
			}
		}
		w.WriteString("\r\n")
	}
}

// Beep rings the terminal bell when the sound timer starts.
func (t *Terminal) Beep(on bool) error {
	if on && !t.beeping {
		if _, err := io.WriteString(t.out, "\a"); err != nil {
			return fmt.Errorf("failed to ring bell: %w", err)
		}
	}
	t.beeping = on
	return nil
}
