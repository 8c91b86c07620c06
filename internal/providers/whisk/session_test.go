package whisk

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/nguyen2715-hue/web/internal/domain"
)

func TestAspectValueKnownRatios(t *testing.T) {
	cases := map[domain.AspectRatio]string{
		"9:16":   "IMAGE_ASPECT_RATIO_PORTRAIT",
		"16:9":   "IMAGE_ASPECT_RATIO_LANDSCAPE",
		"1:1":    "IMAGE_ASPECT_RATIO_SQUARE",
		" 16:9 ": "IMAGE_ASPECT_RATIO_LANDSCAPE",
		"4:5":    "IMAGE_ASPECT_RATIO_PORTRAIT",
		"":       "IMAGE_ASPECT_RATIO_PORTRAIT",
	}
	for in, want := range cases {
		if got := AspectValue(in); got != want {
			t.Fatalf("AspectValue(%q) mismatch: got %q want %q", in, got, want)
		}
	}
}

func TestAspectValueUnknownIsPortrait(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ratio := rapid.String().Draw(t, "ratio")
		got := AspectValue(domain.AspectRatio(ratio))
		switch strings.TrimSpace(ratio) {
		case "16:9":
			if got != aspectLandscape {
				t.Fatalf("AspectValue(%q) = %q, want landscape", ratio, got)
			}
		case "1:1":
			if got != aspectSquare {
				t.Fatalf("AspectValue(%q) = %q, want square", ratio, got)
			}
		default:
			if got != aspectPortrait {
				t.Fatalf("AspectValue(%q) = %q, want portrait", ratio, got)
			}
		}
	})
}

func TestMimeForPath(t *testing.T) {
	cases := map[string]string{
		"a.jpg":  "image/jpeg",
		"a.JPEG": "image/jpeg",
		"a.png":  "image/png",
		"a.webp": "image/webp",
		"a.gif":  "image/jpeg",
		"noext":  "image/jpeg",
	}
	for in, want := range cases {
		if got := mimeForPath(in); got != want {
			t.Fatalf("mimeForPath(%q) mismatch: got %q want %q", in, got, want)
		}
	}
}
