// Package effects defines the closed set of image effects a frame can be
// rendered through, and the serialized form used to ship an effect chain
// to a worker process.
package effects

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
)

// Kind identifies an effect variant on the wire.
type Kind string

const (
	KindPixelate  Kind = "pixelate"
	KindGrayscale Kind = "grayscale"
	KindBlur      Kind = "blur"
)

// Kinds lists every supported effect kind in the order the editor applies them.
var Kinds = []Kind{KindPixelate, KindGrayscale, KindBlur}

var validate = validator.New()

// Effect is one image transformation in a chain.
type Effect interface {
	Kind() Kind
	Apply(img *image.NRGBA) *image.NRGBA
	Validate() error
}

// Pixelate snaps every pixel to the top-left sample of its cell. Granularity
// is the number of cells along each axis.
type Pixelate struct {
	Granularity float64 `json:"granularity" validate:"gte=3,lte=4096"`
}

// Grayscale blends each pixel towards its Rec. 709 luma. Intensity 0 leaves
// the image untouched, 1 is fully gray.
type Grayscale struct {
	Intensity float64 `json:"intensity" validate:"gte=0,lte=1"`
}

// Blur applies a gaussian blur with the given radius in pixels.
type Blur struct {
	Radius float64 `json:"radius" validate:"gte=0,lte=8"`
}

// DefaultPixelate returns a pixelate effect that is visually a no-op at
// common resolutions.
func DefaultPixelate() Pixelate { return Pixelate{Granularity: 4096} }

// DefaultGrayscale returns a grayscale effect with zero intensity.
func DefaultGrayscale() Grayscale { return Grayscale{Intensity: 0} }

// DefaultBlur returns a blur effect with zero radius.
func DefaultBlur() Blur { return Blur{Radius: 0} }

func (Pixelate) Kind() Kind  { return KindPixelate }
func (Grayscale) Kind() Kind { return KindGrayscale }
func (Blur) Kind() Kind      { return KindBlur }

func (p Pixelate) Validate() error  { return validateEffect(p) }
func (g Grayscale) Validate() error { return validateEffect(g) }
func (b Blur) Validate() error      { return validateEffect(b) }

func validateEffect(e Effect) error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid %s parameters: %w", e.Kind(), err)
	}
	return nil
}

// Apply samples the source at cell boundaries the same way the pixel shader
// floors its texture coordinates.
func (p Pixelate) Apply(img *image.NRGBA) *image.NRGBA {
	if img.Bounds().Min != (image.Point{}) {
		img = imaging.Clone(img)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || p.Granularity <= 0 {
		return img
	}

	cols := make([]int, w)
	for x := range cols {
		cols[x] = cellOrigin(x, w, p.Granularity)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := cellOrigin(y, h, p.Granularity)
		srcRow := img.Pix[sy*img.Stride:]
		dstRow := out.Pix[y*out.Stride:]
		for x, sx := range cols {
			copy(dstRow[x*4:x*4+4], srcRow[sx*4:sx*4+4])
		}
	}
	return out
}

func cellOrigin(i, size int, granularity float64) int {
	u := (float64(i) + 0.5) / float64(size)
	snapped := math.Floor(u*granularity) / granularity
	s := int(snapped * float64(size))
	if s >= size {
		s = size - 1
	}
	return s
}

// Apply blends every channel towards the pixel's luma by Intensity.
func (g Grayscale) Apply(img *image.NRGBA) *image.NRGBA {
	if g.Intensity == 0 {
		return img
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r, gr, b := float64(c.R), float64(c.G), float64(c.B)
		luma := r*0.2126 + gr*0.7152 + b*0.0722
		return color.NRGBA{
			R: clampChannel(r - (r-luma)*g.Intensity),
			G: clampChannel(gr - (gr-luma)*g.Intensity),
			B: clampChannel(b - (b-luma)*g.Intensity),
			A: c.A,
		}
	})
}

// Apply blurs the image. A zero radius returns the input unchanged.
func (b Blur) Apply(img *image.NRGBA) *image.NRGBA {
	if b.Radius <= 0 {
		return img
	}
	return imaging.Blur(img, b.Radius)
}

func clampChannel(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
