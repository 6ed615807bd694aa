package codec

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const (
	channelsPerPixel = 3
	minDecoySide     = 256
)

// MaxCarrierPixels bounds the carriers DecodePNG and RandomCarrier accept.
// A small compressed PNG can declare dimensions that take gigabytes to
// decode.
var MaxCarrierPixels = 4096 * 4096

var ErrCarrierTooLarge = errors.New("codec: carrier image too large")

// Carrier is an image whose RGB least significant bits hold hidden data.
// Alpha is never touched.
type Carrier struct {
	img *image.NRGBA
}

func NewCarrier(width, height int) *Carrier {
	return &Carrier{img: image.NewNRGBA(image.Rect(0, 0, width, height))}
}

// FromImage copies src into a zero-origin NRGBA carrier without going
// through premultiplied alpha.
func FromImage(src image.Image) *Carrier {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if n, ok := src.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			srcOff := n.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+4*b.Dx()], n.Pix[srcOff:srcOff+4*b.Dx()])
		}
		return &Carrier{img: dst}
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			dst.SetNRGBA(x, y, c)
		}
	}
	return &Carrier{img: dst}
}

func (c *Carrier) Image() image.Image {
	return c.img
}

func (c *Carrier) Width() int {
	return c.img.Rect.Dx()
}

func (c *Carrier) Height() int {
	return c.img.Rect.Dy()
}

// Capacity is the number of addressable bits.
func (c *Carrier) Capacity() int {
	return c.Width() * c.Height() * channelsPerPixel
}

func (c *Carrier) Clone() *Carrier {
	img := *c.img
	img.Pix = append([]byte(nil), c.img.Pix...)
	return &Carrier{img: &img}
}

// offset maps a bit position to the index of its byte in Pix.
func (c *Carrier) offset(pos uint32) int {
	pixel := int(pos / channelsPerPixel)
	channel := int(pos % channelsPerPixel)
	w := c.Width()
	return (pixel/w)*c.img.Stride + (pixel%w)*4 + channel
}

func (c *Carrier) bit(pos uint32) byte {
	return c.img.Pix[c.offset(pos)] & 1
}

func (c *Carrier) setBit(pos uint32, b byte) {
	off := c.offset(pos)
	c.img.Pix[off] = c.img.Pix[off]&^1 | b&1
}

// EncodePNG is the wire encoding. It must stay lossless.
func EncodePNG(c *Carrier) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, fmt.Errorf("encode carrier: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePNG reads the PNG header first and refuses images over
// MaxCarrierPixels before allocating any pixel data.
func DecodePNG(data []byte) (*Carrier, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode carrier: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(MaxCarrierPixels) {
		return nil, fmt.Errorf("%w: %dx%d", ErrCarrierTooLarge, cfg.Width, cfg.Height)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode carrier: %w", err)
	}
	return FromImage(img), nil
}

// RandomCarrier renders a QR code of a random token with a random tint and
// random low-bit noise, sized to hold at least minPayload bytes.
func RandomCarrier(minPayload int) (*Carrier, error) {
	if minPayload < 0 {
		minPayload = 0
	}
	needBits := HeaderBits + 8*minPayload
	pixels := (needBits + channelsPerPixel - 1) / channelsPerPixel
	side := max(minDecoySide, int(math.Ceil(math.Sqrt(float64(pixels)))))
	if side*side > MaxCarrierPixels {
		return nil, fmt.Errorf("%w: %d byte payload", ErrCarrierTooLarge, minPayload)
	}

	q, err := qrcode.New(uuid.NewString(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("random carrier: %w", err)
	}

	var tint [6]byte
	if _, err := rand.Read(tint[:]); err != nil {
		return nil, fmt.Errorf("random carrier: %w", err)
	}
	q.BackgroundColor = color.NRGBA{R: 192 | tint[0], G: 192 | tint[1], B: 192 | tint[2], A: 0xff}
	q.ForegroundColor = color.NRGBA{R: tint[3] >> 2, G: tint[4] >> 2, B: tint[5] >> 2, A: 0xff}

	c := FromImage(q.Image(side))
	if c.Capacity() < needBits {
		return nil, fmt.Errorf("random carrier: %w", ErrCapacityExceeded)
	}

	noise := make([]byte, len(c.img.Pix))
	if _, err := rand.Read(noise); err != nil {
		return nil, fmt.Errorf("random carrier: %w", err)
	}
	for i := range c.img.Pix {
		if i%4 == 3 {
			c.img.Pix[i] = 0xff
			continue
		}
		c.img.Pix[i] = c.img.Pix[i]&^1 | noise[i]&1
	}
	return c, nil
}
