package regen

import (
	"image"
	"math"

	"server/internal/domain"
)

// TargetPlan is the resolution decision for one work item.
type TargetPlan struct {
	Width  int
	Height int
	// EnhanceOnly means the source already meets the requested resolution:
	// the generative call is still made for quality, but no geometric
	// upscaling is requested and the model's output size is accepted as-is.
	EnhanceOnly bool
}

// planTarget decides the target resolution for a source image. Upscale aims
// at the requested width (capped by maxWidth, default 4K); the other
// operations keep the source geometry unless an explicit resolution asks for
// more.
func planTarget(kind domain.ActionKind, srcW, srcH, requestedWidth, maxWidth int) TargetPlan {
	if srcW <= 0 || srcH <= 0 {
		return TargetPlan{Width: srcW, Height: srcH, EnhanceOnly: true}
	}

	width := requestedWidth
	if kind == domain.ActionUpscale && width <= 0 {
		width = maxWidth
	}
	if maxWidth > 0 && width > maxWidth {
		width = maxWidth
	}
	if width <= 0 || srcW >= width {
		return TargetPlan{Width: srcW, Height: srcH, EnhanceOnly: true}
	}

	height := int(math.Round(float64(srcH) * float64(width) / float64(srcW)))
	return TargetPlan{Width: width, Height: height}
}

// attemptOutcome classifies one fallback level's result: advance to the next
// level on Retryable, stop immediately on Fatal.
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeRetryable
	outcomeFatal
)

// attempt is one level of the ordered fallback chain the orchestrator walks
// for a work item.
type attempt struct {
	name   string
	status ItemStatus
	run    func() (image.Image, attemptOutcome, error)
}
