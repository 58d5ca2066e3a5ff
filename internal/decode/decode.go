// Package decode locates and decodes one QR code within a single still frame.
//
// Decoding is pure with respect to the input image and carries no state.
// A frame with no code is the overwhelmingly common outcome and returns
// cheaply with ok=false; it is never an error.
package decode

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/image/draw"
)

// DefaultMaxWidth bounds per-frame decode cost: frames wider than this are
// downscaled before the locator runs, and corner coordinates are mapped
// back to the source resolution.
const DefaultMaxWidth = 1024

// Result is a successfully decoded code.
type Result struct {
	// Payload is the decoder output string, opaque at this layer.
	Payload string
	// Corners is the code's quadrilateral location in source image
	// coordinates (finder/alignment pattern centers).
	Corners []image.Point
}

// Decoder decodes QR codes from frames. The zero value is not usable;
// construct with New.
type Decoder struct {
	reader   gozxing.Reader
	maxWidth int
}

// New creates a frame decoder. maxWidth <= 0 selects DefaultMaxWidth.
func New(maxWidth int) *Decoder {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	return &Decoder{
		reader:   qrcode.NewQRCodeReader(),
		maxWidth: maxWidth,
	}
}

// DecodeFrame attempts to locate and decode one QR code in img.
//
// The underlying reader handles arbitrary code rotation. No inversion
// search is attempted (dark-on-light only) to keep the per-frame cost
// bounded; nil hints select exactly that default.
func (d *Decoder) DecodeFrame(img image.Image) (Result, bool) {
	scale := 1.0
	if w := img.Bounds().Dx(); w > d.maxWidth {
		scale = float64(w) / float64(d.maxWidth)
		img = imaging.Resize(img, d.maxWidth, 0, imaging.Lanczos)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return Result{}, false
	}

	res, err := d.reader.Decode(bmp, nil)
	if err != nil {
		// Not-found, bad checksum, unreadable format: all just mean
		// "no code this frame".
		return Result{}, false
	}

	points := res.GetResultPoints()
	corners := make([]image.Point, 0, len(points))
	for _, p := range points {
		corners = append(corners, image.Point{
			X: int(p.GetX() * scale),
			Y: int(p.GetY() * scale),
		})
	}

	return Result{Payload: res.GetText(), Corners: corners}, true
}

// DecodeRGBA decodes directly from an RGBA pixel buffer of known dimensions,
// the shape raw capture readback hands us.
func (d *Decoder) DecodeRGBA(pix []byte, width, height int) (Result, bool) {
	if width <= 0 || height <= 0 || len(pix) < width*height*4 {
		return Result{}, false
	}
	img := &image.RGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	return d.DecodeFrame(img)
}

// ToRGBA copies an arbitrary frame into a tightly packed RGBA buffer.
// Used by callers that capture frames in other color models.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
