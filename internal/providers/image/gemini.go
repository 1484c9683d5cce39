package image

import (
	"context"

	"server/internal/providers/genai"
)

// GeminiEditor adapts the Gemini client to the Editor contract, routing
// upscale-flagged requests to the dedicated upscale model.
type GeminiEditor struct {
	client       *genai.Client
	model        string
	upscaleModel string
}

func NewGeminiEditor(client *genai.Client, model, upscaleModel string) *GeminiEditor {
	if model == "" {
		model = client.Model()
	}
	if upscaleModel == "" {
		upscaleModel = model
	}
	return &GeminiEditor{client: client, model: model, upscaleModel: upscaleModel}
}

// Ready reports whether a model credential is configured. The orchestrator
// rejects jobs up front when it is not, instead of degrading every item.
func (g *GeminiEditor) Ready() bool {
	return g.client.HasKey()
}

func (g *GeminiEditor) Edit(ctx context.Context, req EditRequest) (*EditResult, error) {
	model := g.model
	if req.UseUpscaleModel {
		model = g.upscaleModel
	}
	result, err := g.client.EditImage(ctx, genai.EditRequest{
		Primary:       req.Primary,
		PrimaryMIME:   req.PrimaryMIME,
		Reference:     req.Reference,
		ReferenceMIME: req.ReferenceMIME,
		Instruction:   req.Instruction,
		Model:         model,
		RequestID:     req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	return &EditResult{Data: result.Data, MIME: result.MIME, Model: model}, nil
}

var _ Editor = (*GeminiEditor)(nil)
