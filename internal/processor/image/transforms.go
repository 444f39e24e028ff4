package image

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/parallel"
	"github.com/disintegration/imaging"
	"github.com/not-nullexception/image-orchestrator/internal/db/models"
)

// ITU-R BT.601 luma weights.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Grayscale converts img to an 8-bit gray image using BT.601 weights.
// Fractions are truncated, not rounded.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return cloneGray(g)
	}

	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))

	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < w; x++ {
				i := y*src.Stride + x*4
				v := lumaR*float64(src.Pix[i]) + lumaG*float64(src.Pix[i+1]) + lumaB*float64(src.Pix[i+2])
				dst.Pix[y*dst.Stride+x] = uint8(v)
			}
		}
	})
	return dst
}

// GaussianBlur smooths every channel with a Gaussian of the given sigma.
// Gray input stays gray.
func GaussianBlur(img image.Image, sigma float64) (image.Image, error) {
	if sigma <= 0 {
		return nil, fmt.Errorf("blur sigma must be positive, got %v", sigma)
	}

	blurred := imaging.Blur(img, sigma)
	if _, ok := img.(*image.Gray); ok {
		return grayFromNRGBA(blurred), nil
	}
	return blurred, nil
}

// AdjustBrightness scales each channel's deviation from its mean by factor
// and clamps to [0,255]. Alpha is left untouched.
func AdjustBrightness(img image.Image, factor float64) (image.Image, error) {
	if factor < 0 {
		return nil, fmt.Errorf("brightness factor must not be negative, got %v", factor)
	}

	if g, ok := img.(*image.Gray); ok {
		dst := cloneGray(g)
		adjustChannels(dst.Pix, dst.Stride, dst.Rect.Dx(), dst.Rect.Dy(), 1, 1, factor)
		return dst, nil
	}

	dst := imaging.Clone(img)
	adjustChannels(dst.Pix, dst.Stride, dst.Rect.Dx(), dst.Rect.Dy(), 4, 3, factor)
	return dst, nil
}

// adjustChannels applies the brightness formula in place to the first
// channels of every pixel in a packed buffer with bpp bytes per pixel.
func adjustChannels(pix []uint8, stride, w, h, bpp, channels int, factor float64) {
	if w == 0 || h == 0 {
		return
	}

	means := make([]float64, channels)
	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < channels; c++ {
				means[c] += float64(row[x*bpp+c])
			}
		}
	}
	n := float64(w * h)
	for c := range means {
		means[c] /= n
	}

	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			row := pix[y*stride:]
			for x := 0; x < w; x++ {
				for c := 0; c < channels; c++ {
					i := x*bpp + c
					row[i] = clampUint8((float64(row[i])-means[c])*factor + means[c])
				}
			}
		}
	})
}

func clampUint8(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}

func cloneGray(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], g.Pix[y*g.Stride:y*g.Stride+w])
	}
	return dst
}

func grayFromNRGBA(src *image.NRGBA) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[y*dst.Stride+x] = src.Pix[y*src.Stride+x*4]
		}
	}
	return dst
}

// Apply runs the transformations in order, threading the buffer through.
func Apply(img image.Image, transformations []models.Transformation) (image.Image, error) {
	var err error
	for _, t := range transformations {
		switch t.Name {
		case models.TransformGrayscale:
			img = Grayscale(img)
		case models.TransformBlur:
			img, err = GaussianBlur(img, t.Level)
		case models.TransformBrightness:
			img, err = AdjustBrightness(img, t.Level)
		default:
			err = fmt.Errorf("unknown transformation %q", t.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("error applying %s: %w", t.Name, err)
		}
	}
	return img, nil
}
