package domain

import "time"

// ActionKind enumerates the regeneration operations that produce history.
type ActionKind string

const (
	ActionUpscale ActionKind = "upscale"
	ActionStyle   ActionKind = "style"
	ActionSeam    ActionKind = "seam"
	ActionRestore ActionKind = "restore"
	ActionUndo    ActionKind = "undo"
)

// RegenerationHistoryEntry is the append-only link between the image a section
// showed before a regeneration and the image it shows after. PreviousImageRef
// equals the section's reference at commit time, which is what makes undo a
// simple walk backwards.
type RegenerationHistoryEntry struct {
	ID               string
	SectionID        string
	Field            ImageField
	PreviousImageRef string
	NewImageRef      string
	ActionKind       ActionKind
	PromptText       string
	CreatedAt        time.Time
}
