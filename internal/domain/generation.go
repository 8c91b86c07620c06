package domain

import (
	"context"
	"strings"
	"time"
)

// Provider identifies a remote image generation backend.
type Provider string

const (
	// ProviderGemini is the single-call Gemini image endpoint keyed by interchangeable API keys.
	ProviderGemini Provider = "gemini"
	// ProviderWhisk is the Google Labs upload/generate/fetch workflow.
	ProviderWhisk Provider = "whisk"
)

// Role tags a credential with the step it authenticates.
type Role string

const (
	RoleDefault    Role = "default"
	RoleUpload     Role = "upload"
	RoleGeneration Role = "generation"
)

// AspectRatio is the requested output shape. Unknown values are passed
// through and mapped by each provider to its own default.
type AspectRatio string

const (
	AspectPortrait  AspectRatio = "9:16"
	AspectLandscape AspectRatio = "16:9"
	AspectSquare    AspectRatio = "1:1"
)

// MaxReferenceImages caps how many reference images a request may carry.
const MaxReferenceImages = 3

// GenerationRequest is immutable once submitted to the orchestrator.
type GenerationRequest struct {
	Prompt          string
	ReferenceImages []string
	AspectRatio     AspectRatio
	Timeout         time.Duration
}

// HasReferences reports whether the request carries at least one reference image path.
func (r GenerationRequest) HasReferences() bool {
	for _, ref := range r.ReferenceImages {
		if strings.TrimSpace(ref) != "" {
			return true
		}
	}
	return false
}

// References returns the non-blank reference paths in input order, capped at MaxReferenceImages.
func (r GenerationRequest) References() []string {
	out := make([]string, 0, MaxReferenceImages)
	for _, ref := range r.ReferenceImages {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		out = append(out, ref)
		if len(out) == MaxReferenceImages {
			break
		}
	}
	return out
}

// GenerationResult is the successful outcome of one generation call.
type GenerationResult struct {
	Bytes    []byte
	Provider Provider
	Elapsed  time.Duration
}

// Generator is the contract shared by everything that turns a request into image bytes.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// PromptGenerator generates from a bare prompt. The Gemini client and its rate gate implement it.
type PromptGenerator interface {
	Generate(ctx context.Context, prompt string, timeout time.Duration) (GenerationResult, error)
}

// NormalizeAspectRatio trims free-form input. Empty input becomes portrait,
// which is what the scene outlines are authored for.
func NormalizeAspectRatio(value string) AspectRatio {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return AspectPortrait
	}
	return AspectRatio(trimmed)
}
