package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/domain"
)

// DefaultNegativePrompt captures artefacts the model should avoid regardless
// of operation.
const DefaultNegativePrompt = "low quality, blurry, distorted, washed out, text artefacts, watermark, visible seams"

// Style carries the user-adjustable style parameters of a regeneration
// request.
type Style struct {
	Preset       string
	Palette      string
	Instructions string
}

// Config is everything the builder needs to assemble one instruction. Each
// clause below is a pure function of this value, composed in a fixed order so
// individual clauses stay testable without matching the whole text.
type Config struct {
	Kind           domain.ActionKind
	Style          Style
	TargetWidth    int
	TargetHeight   int
	HasReference   bool
	HasTopStrip    bool
	HasBottomStrip bool
	EnhanceOnly    bool
}

type clause func(Config) string

var clauses = []clause{
	operationClause,
	styleClause,
	paletteClause,
	boundaryClause,
	referenceClause,
	resolutionClause,
	instructionsClause,
	qualityClause,
}

// Build assembles the model instruction for one work item.
func Build(cfg Config) string {
	var lines []string
	for _, c := range clauses {
		if line := c(cfg); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func operationClause(cfg Config) string {
	switch cfg.Kind {
	case domain.ActionUpscale:
		if cfg.EnhanceOnly {
			return "Enhance this landing page section image: increase detail and clarity without changing composition, layout, or text."
		}
		return "Upscale this landing page section image to a higher resolution. Keep composition, layout, and every text element exactly as they are."
	case domain.ActionStyle:
		return "Regenerate this landing page section image in a new visual style while keeping the layout, structure, and all text content intact."
	case domain.ActionSeam:
		return "Repair the visual transition in this image. The strips at the edges come from the neighboring sections of the same page; blend colors, lighting, and textures so the sections flow into each other without a visible cut."
	case domain.ActionRestore:
		return "This image was cropped from a taller original. Extend it naturally to restore the missing content, continuing backgrounds, gradients, and shapes beyond the current edges."
	default:
		return "Regenerate this landing page section image."
	}
}

func styleClause(cfg Config) string {
	preset := strings.TrimSpace(cfg.Style.Preset)
	if preset == "" {
		return ""
	}
	c := cases.Title(language.English)
	return fmt.Sprintf("Visual style: %s.", c.String(preset))
}

func paletteClause(cfg Config) string {
	palette := strings.TrimSpace(cfg.Style.Palette)
	if palette == "" {
		return ""
	}
	return fmt.Sprintf("Color palette: %s.", palette)
}

func boundaryClause(cfg Config) string {
	switch {
	case cfg.HasTopStrip && cfg.HasBottomStrip:
		return "The top and bottom strips of the image belong to the adjacent sections. Use them only as continuity context; the final result will be cropped back to the middle region."
	case cfg.HasTopStrip:
		return "The top strip of the image belongs to the section above. Use it only as continuity context; the final result will be cropped back to the region below it."
	case cfg.HasBottomStrip:
		return "The bottom strip of the image belongs to the section below. Use it only as continuity context; the final result will be cropped back to the region above it."
	default:
		return ""
	}
}

func referenceClause(cfg Config) string {
	if !cfg.HasReference {
		return ""
	}
	return "Use the first attached image as the style reference for colors, mood, and rendering."
}

func resolutionClause(cfg Config) string {
	if cfg.EnhanceOnly || cfg.TargetWidth <= 0 || cfg.TargetHeight <= 0 {
		return ""
	}
	return fmt.Sprintf("Target resolution: %dx%d pixels or higher.", cfg.TargetWidth, cfg.TargetHeight)
}

func instructionsClause(cfg Config) string {
	instr := strings.TrimSpace(cfg.Style.Instructions)
	if instr == "" {
		return ""
	}
	return fmt.Sprintf("Additional guidance: %s.", strings.TrimSuffix(instr, "."))
}

func qualityClause(Config) string {
	return "Avoid: " + DefaultNegativePrompt + "."
}
