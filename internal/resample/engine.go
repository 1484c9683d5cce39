package resample

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Engine is the deterministic resize path used whenever the generative
// backend is unavailable or under-delivers. It has no fallback of its own and
// must not fail for well-formed input.
type Engine struct {
	sharpenSigma  float64
	sharpenAmount float64
}

func NewEngine() *Engine {
	return &Engine{sharpenSigma: 0.8, sharpenAmount: 0.6}
}

// Resize scales img to the exact targetWidth x targetHeight using a Lanczos
// kernel, optionally followed by a light unsharp pass to compensate for
// enlargement softness.
func (e *Engine) Resize(img image.Image, targetWidth, targetHeight int, sharpen bool) image.Image {
	if targetWidth <= 0 || targetHeight <= 0 {
		return imaging.Clone(img)
	}
	bounds := img.Bounds()
	if bounds.Dx() == targetWidth && bounds.Dy() == targetHeight {
		return imaging.Clone(img)
	}
	out := imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos)
	if sharpen {
		out = imaging.Sharpen(out, e.sharpenSigma*e.sharpenAmount)
	}
	return out
}

// ScaleToWidth resizes img to targetWidth, deriving the height from the
// source aspect ratio.
func (e *Engine) ScaleToWidth(img image.Image, targetWidth int, sharpen bool) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 {
		return imaging.Clone(img)
	}
	targetHeight := int(math.Round(float64(bounds.Dy()) * float64(targetWidth) / float64(bounds.Dx())))
	return e.Resize(img, targetWidth, targetHeight, sharpen)
}
