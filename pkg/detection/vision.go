package detection

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/thatcherizer/pkg/client"
	"github.com/menta2k/thatcherizer/pkg/geometry"
	"github.com/menta2k/thatcherizer/pkg/processing"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt is the default prompt for facial feature location
const DefaultPrompt = `You are a facial feature locator for a portrait photo.

Return JSON only:
{
  "features": [
    {"label": "left eye",  "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}},
    {"label": "right eye", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}},
    {"label": "mouth",     "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ],
  "description": "short neutral sentence (≤ 20 words)"
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- "left eye" is the eye on the left side of the image as it is displayed.
- Each box should tightly include the feature with a small margin.
- Omit a feature you cannot see instead of guessing.
- Description must be brief and factual. Do not guess real identities.
- If no face is found, return {"features": [], "description": "no face"}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// VisionDetector locates features with a vision language model
type VisionDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	config    VisionConfig
}

// VisionConfig holds configuration for model-backed detection
type VisionConfig struct {
	Model         string
	Prompt        string
	SendFormat    string
	SendSize      int
	SendQuality   int
	MinConfidence float64
}

// DefaultVisionConfig returns sensible defaults for small local models
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		Model:         "openbmb/minicpm-v4.5",
		Prompt:        DefaultPrompt,
		SendFormat:    "jpg",
		SendSize:      640,
		SendQuality:   85,
		MinConfidence: 0.3,
	}
}

// NewVisionDetector creates a new detector with a vision client
func NewVisionDetector(client client.VisionClient, config VisionConfig) *VisionDetector {
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	return &VisionDetector{client: client, processor: processing.NewProcessor(), config: config}
}

// Detect implements Detector
func (d *VisionDetector) Detect(ctx context.Context, photo image.Image) ([]types.Proposal, error) {
	imgB64, err := d.processor.PrepareImageForModel(photo, d.config.SendFormat, d.config.SendSize, d.config.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image for model: %w", err)
	}

	result, err := d.client.AnalyzeImage(ctx, d.config.Model, d.config.Prompt, imgB64)
	if err != nil {
		return nil, err
	}
	if IsFallback(result) {
		return nil, nil
	}

	b := photo.Bounds()
	return d.toProposals(result, b.Dx(), b.Dy()), nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *VisionDetector) TestVision(ctx context.Context, photo image.Image) (string, error) {
	imgB64, err := d.processor.PrepareImageForModel(photo, d.config.SendFormat, d.config.SendSize, d.config.SendQuality)
	if err != nil {
		return "", err
	}
	return d.client.SimpleQuery(ctx, d.config.Model, SimpleTestPrompt, imgB64)
}

func (d *VisionDetector) toProposals(result *types.AnalysisResult, imgW, imgH int) []types.Proposal {
	var out []types.Proposal
	for _, det := range result.Features {
		f, ok := types.ParseFeature(det.Label)
		if !ok || det.Confidence < d.config.MinConfidence {
			continue
		}
		box := normalizeBox(det.Box)
		r := geometry.ImageRect{
			X: int(box.X*float64(imgW) + 0.5),
			Y: int(box.Y*float64(imgH) + 0.5),
			W: int(box.W*float64(imgW) + 0.5),
			H: int(box.H*float64(imgH) + 0.5),
		}
		if r.Empty() {
			continue
		}
		out = append(out, types.Proposal{Feature: f, Rect: r})
	}
	return out
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox keeps the box inside the unit square
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

// IsFallback reports whether a model result is one of the parser fallbacks
func IsFallback(result *types.AnalysisResult) bool {
	d := strings.ToLower(result.Description)
	for _, indicator := range []string{"non-json", "parse", "no json", "fallback"} {
		if strings.Contains(d, indicator) {
			return true
		}
	}
	return false
}
