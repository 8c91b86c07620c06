// Package jsoncfg holds the JSON documents accepted by the batch entry points.
package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nguyen2715-hue/web/internal/batch"
	"github.com/nguyen2715-hue/web/internal/domain"
)

// SceneJSON is one scene of a script outline.
type SceneJSON struct {
	Index       int    `json:"index"`
	PromptImage string `json:"prompt_image"`

	indexSet bool
}

// UnmarshalJSON records whether the document carried an index so that an
// explicit 0 is kept rather than replaced by the scene position.
func (s *SceneJSON) UnmarshalJSON(data []byte) error {
	var raw struct {
		Index       *int   `json:"index"`
		PromptImage string `json:"prompt_image"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SceneJSON{PromptImage: raw.PromptImage}
	if raw.Index != nil {
		s.Index = *raw.Index
		s.indexSet = true
	}
	return nil
}

// ThumbnailVersion is one social media variant.
type ThumbnailVersion struct {
	ThumbnailPrompt      string `json:"thumbnail_prompt"`
	ThumbnailTextOverlay string `json:"thumbnail_text_overlay"`
}

type SocialMediaJSON struct {
	Versions []ThumbnailVersion `json:"versions"`
}

// Outline is the script outline produced upstream of image generation.
type Outline struct {
	Scenes      []SceneJSON     `json:"scenes"`
	SocialMedia SocialMediaJSON `json:"social_media"`
}

// MaxOutlineItems bounds a single batch.
const MaxOutlineItems = 50

// ItemOptions carries the per-batch inputs that are not part of the outline.
type ItemOptions struct {
	ModelImages   []string
	ProductImages []string
	AspectRatio   domain.AspectRatio
	Timeout       time.Duration
}

// ParseOutline decodes and normalizes an outline document.
func ParseOutline(data []byte) (Outline, error) {
	var o Outline
	if err := json.Unmarshal(data, &o); err != nil {
		return Outline{}, fmt.Errorf("decode outline: %w", err)
	}
	o.Normalize()
	if err := o.Validate(); err != nil {
		return Outline{}, err
	}
	return o, nil
}

// Normalize trims prompts and assigns the 1-based position to scenes that
// omit an index. Decoded indexes, including 0, are kept as given.
func (o *Outline) Normalize() {
	if o == nil {
		return
	}
	for i := range o.Scenes {
		sc := &o.Scenes[i]
		sc.PromptImage = strings.TrimSpace(sc.PromptImage)
		if !sc.indexSet && sc.Index == 0 {
			sc.Index = i + 1
		}
		sc.indexSet = true
	}
	for i := range o.SocialMedia.Versions {
		v := &o.SocialMedia.Versions[i]
		v.ThumbnailPrompt = strings.TrimSpace(v.ThumbnailPrompt)
		v.ThumbnailTextOverlay = strings.TrimSpace(v.ThumbnailTextOverlay)
	}
}

// Validate ensures the outline yields at least one item, stays within
// bounds, and that every scene with a prompt has a distinct index.
func (o Outline) Validate() error {
	count := 0
	seen := make(map[int]bool, len(o.Scenes))
	for _, s := range o.Scenes {
		if s.PromptImage == "" {
			continue
		}
		if s.Index < 0 {
			return fmt.Errorf("scene index %d is negative", s.Index)
		}
		if seen[s.Index] {
			return fmt.Errorf("duplicate scene index %d", s.Index)
		}
		seen[s.Index] = true
		count++
	}
	for _, v := range o.SocialMedia.Versions {
		if v.ThumbnailPrompt != "" {
			count++
		}
	}
	if count == 0 {
		return fmt.Errorf("outline has no scene or thumbnail prompts")
	}
	if count > MaxOutlineItems {
		return fmt.Errorf("outline has %d prompts, limit is %d", count, MaxOutlineItems)
	}
	return nil
}

// Items expands the outline into ordered batch items: scenes first, then
// thumbnails. Scenes reference the first model and first product image.
// Thumbnails are prompt-only and carry their caption for the overlay step.
// Entries with a blank prompt are skipped.
func (o Outline) Items(opts ItemOptions) []batch.Item {
	refs := make([]string, 0, 2)
	if first := firstNonBlank(opts.ModelImages); first != "" {
		refs = append(refs, first)
	}
	if first := firstNonBlank(opts.ProductImages); first != "" {
		refs = append(refs, first)
	}

	items := make([]batch.Item, 0, len(o.Scenes)+len(o.SocialMedia.Versions))
	for _, s := range o.Scenes {
		if s.PromptImage == "" {
			continue
		}
		items = append(items, batch.Item{
			ID:    fmt.Sprintf("scene-%d", s.Index),
			Kind:  batch.KindScene,
			Index: s.Index,
			Request: domain.GenerationRequest{
				Prompt:          s.PromptImage,
				ReferenceImages: append([]string(nil), refs...),
				AspectRatio:     opts.AspectRatio,
				Timeout:         opts.Timeout,
			},
		})
	}
	for i, v := range o.SocialMedia.Versions {
		if v.ThumbnailPrompt == "" {
			continue
		}
		items = append(items, batch.Item{
			ID:          fmt.Sprintf("thumbnail-v%d", i+1),
			Kind:        batch.KindThumbnail,
			Index:       i + 1,
			OverlayText: v.ThumbnailTextOverlay,
			Request: domain.GenerationRequest{
				Prompt:      v.ThumbnailPrompt,
				AspectRatio: opts.AspectRatio,
				Timeout:     opts.Timeout,
			},
		})
	}
	return items
}

func firstNonBlank(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
