// Package client defines the vision model contract shared by the Ollama and
// llama.cpp backends, and the tolerant parser for their JSON replies.
package client

import (
	"context"

	"github.com/menta2k/thatcherizer/pkg/types"
)

// VisionClient is a chat-style model endpoint that accepts one image
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error)
}
