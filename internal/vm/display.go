package vm

import "math/bits"

const (
	ScreenWidth  = 64
	ScreenHeight = 32

	// bytes per row
	screenPitch = ScreenWidth / 8

	FramebufferSize = screenPitch * ScreenHeight
)

// Framebuffer is the 64x32 display, one bit per pixel, most significant bit
// first. Pixel (0, 0) is bit 0x80 of byte 0.
type Framebuffer [FramebufferSize]uint8

func (fb *Framebuffer) Pixel(x, y int) bool {
	x %= ScreenWidth
	y %= ScreenHeight
	return fb[y*screenPitch+x/8]&(0x80>>(x%8)) != 0
}

func (fb *Framebuffer) Clear() {
	*fb = Framebuffer{}
}

// blit XORs sprite rows onto the display with the top-left corner at (x, y)
// and reports a collision: the number of lit pixels in the bytes the sprite
// touched went down.
//
// The start position wraps. Rows below the bottom edge and the part of a row
// past the right edge wrap too, unless clip is set, in which case they are
// dropped.
func (fb *Framebuffer) blit(x, y uint8, rows []uint8, clip bool) bool {
	px := int(x) % ScreenWidth
	py := int(y) % ScreenHeight

	col := px / 8
	shift := uint(px % 8)

	var before, after int
	for i, row := range rows {
		line := py + i
		if line >= ScreenHeight {
			if clip {
				break
			}
			line %= ScreenHeight
		}
		base := line * screenPitch

		b, a := fb.xor(base+col, row>>shift)
		before, after = before+b, after+a

		// the low bits of the row spill into the next byte
		if shift == 0 {
			continue
		}
		next := col + 1
		if next == screenPitch {
			if clip {
				continue
			}
			next = 0
		}
		b, a = fb.xor(base+next, row<<(8-shift))
		before, after = before+b, after+a
	}

	return after < before
}

// xor applies pattern to a single byte and returns its lit pixel count
// before and after.
func (fb *Framebuffer) xor(i int, pattern uint8) (int, int) {
	before := bits.OnesCount8(fb[i])
	fb[i] ^= pattern
	return before, bits.OnesCount8(fb[i])
}
