package compose

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ExpansionMeta records how a target image was expanded with neighbor strips
// so the generated result can be cropped back to the original frame.
type ExpansionMeta struct {
	TopOffset      int
	BottomOffset   int
	TargetWidth    int
	TargetHeight   int
	ExpandedWidth  int
	ExpandedHeight int
}

// Expanded reports whether any neighbor context was folded in.
func (m ExpansionMeta) Expanded() bool {
	return m.TopOffset > 0 || m.BottomOffset > 0
}

// Expand stacks up to two neighbor edge strips around the target image:
// the bottom topOffset pixels of the top neighbor above, and the top
// bottomOffset pixels of the bottom neighbor below. Strips are resized on
// width only so their height is preserved. A nil neighbor or a zero offset
// contributes nothing on that side.
func Expand(target image.Image, topNeighbor, bottomNeighbor image.Image, topOffset, bottomOffset int) (*image.NRGBA, ExpansionMeta) {
	bounds := target.Bounds()
	meta := ExpansionMeta{
		TargetWidth:  bounds.Dx(),
		TargetHeight: bounds.Dy(),
	}

	topStrip := edgeStrip(topNeighbor, topOffset, meta.TargetWidth, true)
	if topStrip != nil {
		meta.TopOffset = topStrip.Bounds().Dy()
	}
	bottomStrip := edgeStrip(bottomNeighbor, bottomOffset, meta.TargetWidth, false)
	if bottomStrip != nil {
		meta.BottomOffset = bottomStrip.Bounds().Dy()
	}

	meta.ExpandedWidth = meta.TargetWidth
	meta.ExpandedHeight = meta.TopOffset + meta.TargetHeight + meta.BottomOffset

	canvas := imaging.New(meta.ExpandedWidth, meta.ExpandedHeight, image.Transparent.C)
	y := 0
	if topStrip != nil {
		canvas = imaging.Paste(canvas, topStrip, image.Pt(0, y))
		y += meta.TopOffset
	}
	canvas = imaging.Paste(canvas, target, image.Pt(0, y))
	y += meta.TargetHeight
	if bottomStrip != nil {
		canvas = imaging.Paste(canvas, bottomStrip, image.Pt(0, y))
	}
	return canvas, meta
}

// Crop extracts the region of generated that corresponds to the original
// target frame. The generated image may come back at a different absolute
// resolution; crop coordinates are scaled by generatedHeight/expandedHeight
// and clamped so the window never leaves the image.
func Crop(generated image.Image, meta ExpansionMeta) *image.NRGBA {
	genBounds := generated.Bounds()
	if !meta.Expanded() || meta.ExpandedHeight <= 0 {
		return imaging.Clone(generated)
	}

	scale := float64(genBounds.Dy()) / float64(meta.ExpandedHeight)
	cropTop := int(math.Round(float64(meta.TopOffset) * scale))
	cropHeight := int(math.Round(float64(meta.TargetHeight) * scale))

	if cropHeight < 1 {
		cropHeight = 1
	}
	if cropTop+cropHeight > genBounds.Dy() {
		cropTop = genBounds.Dy() - cropHeight
		if cropTop < 0 {
			cropTop = 0
			cropHeight = genBounds.Dy()
		}
	}
	rect := image.Rect(0, cropTop, genBounds.Dx(), cropTop+cropHeight)
	return imaging.Crop(generated, rect)
}

// edgeStrip cuts offset rows from the neighbor's touching edge and resizes the
// strip to the target width, height preserved.
func edgeStrip(neighbor image.Image, offset, targetWidth int, fromBottom bool) *image.NRGBA {
	if neighbor == nil || offset <= 0 {
		return nil
	}
	bounds := neighbor.Bounds()
	if offset > bounds.Dy() {
		offset = bounds.Dy()
	}
	var rect image.Rectangle
	if fromBottom {
		rect = image.Rect(bounds.Min.X, bounds.Max.Y-offset, bounds.Max.X, bounds.Max.Y)
	} else {
		rect = image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Min.Y+offset)
	}
	strip := imaging.Crop(neighbor, rect)
	if strip.Bounds().Dx() != targetWidth {
		strip = imaging.Resize(strip, targetWidth, strip.Bounds().Dy(), imaging.Lanczos)
	}
	return strip
}
