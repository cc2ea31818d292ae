// Package imaging normalizes arbitrary chest-image uploads into the fixed
// tensor plane the classifier expects.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"io"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// DefaultEdge is the square edge length of the model input.
const DefaultEdge = 224

// ErrDecode marks malformed or unreadable image input.
var ErrDecode = errors.New("imaging: undecodable image")

// Decode reads and decodes a bitmap (JPEG, PNG or BMP). Undecodable bytes
// and zero-dimension images are rejected, never coerced.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has zero dimensions", ErrDecode)
	}
	return img, nil
}

// TensorPlane resizes img to edge×edge with bilinear interpolation and
// returns the grayscale plane scaled to the unit interval, row-major.
// Aspect ratio is intentionally not preserved; the model input contract is
// a fixed square.
func TensorPlane(img image.Image, edge int) ([]float32, error) {
	if edge <= 0 {
		return nil, fmt.Errorf("imaging: invalid edge length %d", edge)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has zero dimensions", ErrDecode)
	}

	// Scaling onto a Gray destination collapses RGB input to luminance via
	// the standard color model, matching the grayscale conversion the
	// classifier was trained against.
	dst := image.NewGray(image.Rect(0, 0, edge, edge))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	plane := make([]float32, edge*edge)
	for i, px := range dst.Pix {
		plane[i] = float32(px) / 255.0
	}
	return plane, nil
}
