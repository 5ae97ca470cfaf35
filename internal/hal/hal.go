package hal

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/kapitanov/chip8core/internal/keypad"
	"github.com/kapitanov/chip8core/internal/runner"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/veandco/go-sdl2/sdl"
)

const (
	DefaultScale = 16

	audioFrequency = 44100
	toneFrequency  = 440
)

type HAL struct {
	window          *sdl.Window
	renderer        *sdl.Renderer
	texture         *sdl.Texture
	backBuffer      []uint32
	backBufferPitch int

	audio   sdl.AudioDeviceID
	tone    []byte
	beeping bool
}

var _ runner.Frontend = (*HAL)(nil)

// New opens a window scale times the size of the CHIP-8 display.
func New(scale int) (*HAL, error) {
	if scale <= 0 {
		scale = DefaultScale
	}
	width, height := int32(vm.ScreenWidth*scale), int32(vm.ScreenHeight*scale)

	if err := sdl.Init(sdl.INIT_EVERYTHING); err != nil {
		return nil, fmt.Errorf("failed to init sdl: %w", err)
	}

	window, err := sdl.CreateWindow("CHIP-8", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, width, height, sdl.WINDOW_SHOWN|sdl.WINDOW_UTILITY)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl window: %w", err)
	}
	slog.Debug("hal: create window", "width", width, "height", height)
	window.Show()

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl renderer: %w", err)
	}
	err = renderer.SetLogicalSize(width, height)
	if err != nil {
		return nil, fmt.Errorf("failed to resize sdl renderer: %w", err)
	}
	slog.Debug("hal: create renderer")

	texture, err := renderer.CreateTexture(sdl.PIXELFORMAT_ARGB8888, sdl.TEXTUREACCESS_STREAMING, vm.ScreenWidth, vm.ScreenHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl texture: %w", err)
	}
	slog.Debug("hal: create texture")

	hal := &HAL{
		window:          window,
		renderer:        renderer,
		texture:         texture,
		backBuffer:      make([]uint32, vm.ScreenWidth*vm.ScreenHeight),
		backBufferPitch: int(vm.ScreenWidth) * int(unsafe.Sizeof(uint32(0))),
	}

	if err := hal.openAudio(); err != nil {
		// no sound is not fatal
		slog.Error("failed to open audio device", "err", err)
	}

	return hal, nil
}

func (hal *HAL) openAudio() error {
	spec := &sdl.AudioSpec{
		Freq:     audioFrequency,
		Format:   sdl.AUDIO_U8,
		Channels: 1,
		Samples:  1024,
	}

	dev, err := sdl.OpenAudioDevice("", false, spec, nil, 0)
	if err != nil {
		return err
	}
	slog.Debug("hal: open audio device")

	hal.audio = dev
	hal.tone = squareWave(audioFrequency, toneFrequency, audioFrequency/10)
	return nil
}

// squareWave returns n unsigned 8-bit samples of a tone at freq.
func squareWave(rate, freq, n int) []byte {
	samples := make([]byte, n)
	half := rate / freq / 2
	for i := range samples {
		if (i/half)%2 == 0 {
			samples[i] = 0xA0
		} else {
			samples[i] = 0x60
		}
	}
	return samples
}

func (hal *HAL) Shutdown() {
	if hal.audio != 0 {
		sdl.CloseAudioDevice(hal.audio)
	}

	if err := hal.texture.Destroy(); err != nil {
		slog.Error("failed to destroy sdl texture", "err", err)
	}

	if err := hal.renderer.Destroy(); err != nil {
		slog.Error("failed to destroy sdl renderer", "err", err)
	}

	if err := hal.window.Destroy(); err != nil {
		slog.Error("failed to destroy sdl window", "err", err)
	}

	sdl.Quit()
}

func (hal *HAL) ReadInput(kb *keypad.Keyboard) error {
	for e := sdl.PollEvent(); e != nil; e = sdl.PollEvent() {
		switch e.GetType() {
		case sdl.QUIT:
			slog.Debug("hal: exit requested")
			return runner.ErrQuit

		case sdl.KEYDOWN:
			ke := e.(*sdl.KeyboardEvent)
			if ke.Keysym.Scancode == sdl.SCANCODE_BACKSPACE {
				return runner.ErrReboot
			}
			if ke.Keysym.Scancode == sdl.SCANCODE_ESCAPE {
				return runner.ErrQuit
			}

			if key, ok := keyMap(ke.Keysym.Scancode); ok {
				kb.Set(key)
			}

		case sdl.KEYUP:
			ke := e.(*sdl.KeyboardEvent)
			if key, ok := keyMap(ke.Keysym.Scancode); ok {
				kb.Release(key)
			}
		}
	}

	return nil
}

func keyMap(code sdl.Scancode) (keypad.Key, bool) {
	// Physical                Logical
	// ================        =================
	// | 1 | 2 | 3 | 4 |       | 1 | 2 | 3 | C |
	// | q | w | e | r |       | 4 | 5 | 6 | D |
	// | a | s | d | f |  <=>  | 7 | 8 | 9 | E |
	// | z | x | c | v |       | A | 0 | B | F |
	// ================        =================

	switch code {
	case sdl.SCANCODE_X:
		return keypad.Key0, true
	case sdl.SCANCODE_1:
		return keypad.Key1, true
	case sdl.SCANCODE_2:
		return keypad.Key2, true
	case sdl.SCANCODE_3:
		return keypad.Key3, true
	case sdl.SCANCODE_Q:
		return keypad.Key4, true
	case sdl.SCANCODE_W:
		return keypad.Key5, true
	case sdl.SCANCODE_E:
		return keypad.Key6, true
	case sdl.SCANCODE_A:
		return keypad.Key7, true
	case sdl.SCANCODE_S:
		return keypad.Key8, true
	case sdl.SCANCODE_D:
		return keypad.Key9, true
	case sdl.SCANCODE_Z:
		return keypad.KeyA, true
	case sdl.SCANCODE_C:
		return keypad.KeyB, true
	case sdl.SCANCODE_4:
		return keypad.KeyC, true
	case sdl.SCANCODE_R:
		return keypad.KeyD, true
	case sdl.SCANCODE_F:
		return keypad.KeyE, true
	case sdl.SCANCODE_V:
		return keypad.KeyF, true
	default:
		return 0, false
	}
}

func (hal *HAL) Draw(fb vm.Framebuffer) error {
	const (
		bgColor = uint32(0x000000)
		fgColor = uint32(0xbea700)
	)

	for y := 0; y < vm.ScreenHeight; y++ {
		for x := 0; x < vm.ScreenWidth; x++ {
			color := bgColor
			if fb.Pixel(x, y) {
				color = fgColor
			}

			hal.backBuffer[x+y*vm.ScreenWidth] = color
		}
	}

	backBufferPtr := unsafe.Pointer(&hal.backBuffer[0])
	if err := hal.texture.Update(nil, backBufferPtr, hal.backBufferPitch); err != nil {
		return fmt.Errorf("failed to update sdl texture: %w", err)
	}

	if err := hal.renderer.Clear(); err != nil {
		return fmt.Errorf("failed to clear sdl renderer: %w", err)
	}

	if err := hal.renderer.Copy(hal.texture, nil, nil); err != nil {
		return fmt.Errorf("failed to copy sdl texture to renderer: %w", err)
	}

	hal.renderer.Present()
	return nil
}

// Beep keeps a tone queued on the audio device while on is set.
func (hal *HAL) Beep(on bool) error {
	if hal.audio == 0 {
		return nil
	}

	if !on {
		if hal.beeping {
			sdl.ClearQueuedAudio(hal.audio)
			sdl.PauseAudioDevice(hal.audio, true)
			hal.beeping = false
		}
		return nil
	}

	if sdl.GetQueuedAudioSize(hal.audio) < uint32(len(hal.tone)) {
		if err := sdl.QueueAudio(hal.audio, hal.tone); err != nil {
			return fmt.Errorf("failed to queue audio: %w", err)
		}
	}

	if !hal.beeping {
		sdl.PauseAudioDevice(hal.audio, false)
		hal.beeping = true
	}
	return nil
}
