package image

import "context"

// EditRequest asks a generative backend to transform one section image under
// a text instruction, optionally guided by a style reference image.
type EditRequest struct {
	Primary       []byte
	PrimaryMIME   string
	Reference     []byte
	ReferenceMIME string
	Instruction   string
	RequestID     string
	// UseUpscaleModel routes the call to the upscale-specialized model when
	// the backend has one. Only the upscale operation sets it.
	UseUpscaleModel bool
}

// EditResult is the raw image returned by the backend.
type EditResult struct {
	Data []byte
	MIME string
	// Model records which model produced the result, for attempt logging.
	Model string
}

// Editor is the generative invocation boundary. Implementations perform one
// outbound call and never retry; retry and fallback policy belong to the
// orchestrator.
type Editor interface {
	Edit(ctx context.Context, req EditRequest) (*EditResult, error)
}
