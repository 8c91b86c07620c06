package jsoncfg

import (
	"testing"
	"time"

	"github.com/nguyen2715-hue/web/internal/batch"
	"github.com/nguyen2715-hue/web/internal/domain"
)

const sampleOutline = `{
  "scenes": [
    {"index": 1, "prompt_image": "  model holding the bag  "},
    {"prompt_image": "close-up of stitching"},
    {"index": 5, "prompt_image": ""}
  ],
  "social_media": {
    "versions": [
      {"thumbnail_prompt": "bag on a table", "thumbnail_text_overlay": " SALE 50% "},
      {"thumbnail_prompt": "", "thumbnail_text_overlay": "skipped"},
      {"thumbnail_prompt": "bag outdoors"}
    ]
  }
}`

func TestParseOutlineNormalizes(t *testing.T) {
	o, err := ParseOutline([]byte(sampleOutline))
	if err != nil {
		t.Fatalf("ParseOutline error: %v", err)
	}
	if o.Scenes[0].PromptImage != "model holding the bag" {
		t.Fatalf("prompt not trimmed: %q", o.Scenes[0].PromptImage)
	}
	if o.Scenes[1].Index != 2 {
		t.Fatalf("positional index = %d, want 2", o.Scenes[1].Index)
	}
	if o.SocialMedia.Versions[0].ThumbnailTextOverlay != "SALE 50%" {
		t.Fatalf("overlay not trimmed: %q", o.SocialMedia.Versions[0].ThumbnailTextOverlay)
	}
}

func TestOutlineItems(t *testing.T) {
	o, err := ParseOutline([]byte(sampleOutline))
	if err != nil {
		t.Fatalf("ParseOutline error: %v", err)
	}
	items := o.Items(ItemOptions{
		ModelImages:   []string{" ", "/in/model-a.png", "/in/model-b.png"},
		ProductImages: []string{"/in/product.jpg"},
		AspectRatio:   domain.AspectPortrait,
		Timeout:       time.Minute,
	})

	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	scene := items[0]
	if scene.Kind != batch.KindScene || scene.Index != 1 || scene.ID != "scene-1" {
		t.Fatalf("unexpected first item: %+v", scene)
	}
	refs := scene.Request.ReferenceImages
	if len(refs) != 2 || refs[0] != "/in/model-a.png" || refs[1] != "/in/product.jpg" {
		t.Fatalf("scene refs = %v", refs)
	}
	if scene.Request.Timeout != time.Minute || scene.Request.AspectRatio != domain.AspectPortrait {
		t.Fatalf("scene request options not applied: %+v", scene.Request)
	}
	if items[1].Index != 2 {
		t.Fatalf("second scene index = %d", items[1].Index)
	}

	thumb := items[2]
	if thumb.Kind != batch.KindThumbnail || thumb.Index != 1 || thumb.OverlayText != "SALE 50%" {
		t.Fatalf("unexpected thumbnail: %+v", thumb)
	}
	if thumb.Request.HasReferences() {
		t.Fatal("thumbnails must be prompt-only")
	}
	if items[3].Index != 3 || items[3].ID != "thumbnail-v3" {
		t.Fatalf("thumbnail numbering should follow version position: %+v", items[3])
	}
}

func TestOutlineItemsWithoutReferenceImages(t *testing.T) {
	o := Outline{Scenes: []SceneJSON{{Index: 1, PromptImage: "p"}}}
	items := o.Items(ItemOptions{})
	if len(items) != 1 || items[0].Request.HasReferences() {
		t.Fatalf("expected one prompt-only scene, got %+v", items)
	}
}

func TestParseOutlineRejects(t *testing.T) {
	cases := map[string]string{
		"malformed": `{"scenes": [`,
		"empty":     `{}`,
		"blank":     `{"scenes":[{"prompt_image":"  "}]}`,
		"duplicate": `{"scenes":[{"index":2,"prompt_image":"a"},{"index":2,"prompt_image":"b"}]}`,
		"negative":  `{"scenes":[{"index":-1,"prompt_image":"a"}]}`,
		"collision": `{"scenes":[{"prompt_image":"a"},{"index":1,"prompt_image":"b"}]}`,
	}
	for name, doc := range cases {
		if _, err := ParseOutline([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseOutlineKeepsZeroBasedIndexes(t *testing.T) {
	doc := `{"scenes":[
		{"index":0,"prompt_image":"first"},
		{"index":1,"prompt_image":"second"},
		{"index":2,"prompt_image":"third"}
	]}`
	o, err := ParseOutline([]byte(doc))
	if err != nil {
		t.Fatalf("ParseOutline error: %v", err)
	}
	items := o.Items(ItemOptions{})
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	ids := map[string]bool{}
	for i, item := range items {
		if item.Index != i {
			t.Fatalf("item %d index = %d, want %d", i, item.Index, i)
		}
		if ids[item.ID] {
			t.Fatalf("duplicate item id %q", item.ID)
		}
		ids[item.ID] = true
	}
	if items[0].ID != "scene-0" || items[0].Request.Prompt != "first" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
}
