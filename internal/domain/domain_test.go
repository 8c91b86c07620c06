package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCredentialPreviewNeverLeaksShortSecrets(t *testing.T) {
	assert.Equal(t, "***", Credential("abc").Preview())
	assert.Equal(t, "...456789", Credential("AIza123456789").Preview())

	rapid.Check(t, func(t *rapid.T) {
		secret := rapid.StringMatching(`[A-Za-z0-9_\-]{0,64}`).Draw(t, "secret")
		preview := Credential(secret).Preview()
		if len(secret) <= 6 {
			if preview != "***" {
				t.Fatalf("short secret leaked: %q", preview)
			}
			return
		}
		if !strings.HasSuffix(secret, strings.TrimPrefix(preview, "...")) || len(preview) != 9 {
			t.Fatalf("preview %q is not a 6 char suffix of %q", preview, secret)
		}
	})
}

func TestReferencesProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		refs := rapid.SliceOf(rapid.SampledFrom([]string{"", "  ", "/a.png", " /b.jpg ", "/c.webp", "/d.png"})).Draw(t, "refs")
		req := GenerationRequest{ReferenceImages: refs}
		got := req.References()

		if len(got) > MaxReferenceImages {
			t.Fatalf("references not capped: %v", got)
		}
		for _, ref := range got {
			if ref == "" || ref != strings.TrimSpace(ref) {
				t.Fatalf("reference not trimmed or blank: %q", ref)
			}
		}
		if req.HasReferences() != (len(got) > 0) {
			t.Fatalf("HasReferences disagrees with References: %v", refs)
		}
	})
}

func TestReferencesKeepInputOrder(t *testing.T) {
	req := GenerationRequest{ReferenceImages: []string{" ", "/m.png", "", "/p.png", "/x.png", "/y.png"}}
	assert.Equal(t, []string{"/m.png", "/p.png", "/x.png"}, req.References())
}

func TestParseProgress(t *testing.T) {
	cases := []struct {
		in   string
		want ProgressEvent
	}{
		{"[WARNING] waiting 60s", ProgressEvent{SeverityWarning, "waiting 60s"}},
		{"[warn] lower case", ProgressEvent{SeverityWarning, "lower case"}},
		{"[ERROR] boom", ProgressEvent{SeverityError, "boom"}},
		{"[SUCCESS] done", ProgressEvent{SeveritySuccess, "done"}},
		{"[DEBUG] payload", ProgressEvent{SeverityInfo, "payload"}},
		{"  plain line ", ProgressEvent{SeverityInfo, "plain line"}},
		{"[custom] kept", ProgressEvent{SeverityInfo, "[custom] kept"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseProgress(tc.in), tc.in)
	}
}

func TestProgressSinkRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		severity := rapid.SampledFrom([]Severity{SeverityInfo, SeverityWarning, SeverityError, SeveritySuccess}).Draw(t, "severity")
		msg := rapid.StringMatching(`[a-z][a-z ]{0,30}[a-z]`).Draw(t, "msg")

		var got string
		ProgressSink(func(m string) { got = m }).Emit(severity, "%s", msg)

		parsed := ParseProgress(got)
		if parsed.Severity != severity || parsed.Message != msg {
			t.Fatalf("round trip mismatch: %+v from %q", parsed, got)
		}
	})
}

func TestProgressSinkNilAndPanicking(t *testing.T) {
	var nilSink ProgressSink
	assert.NotPanics(t, func() { nilSink.Info("x") })

	panicking := ProgressSink(func(string) { panic("observer bug") })
	assert.NotPanics(t, func() {
		panicking.Warn("x")
		panicking.Debug("y")
	})
}

func TestIsRateLimit(t *testing.T) {
	assert.True(t, IsRateLimit(fmt.Errorf("gemini: %w", ErrRateLimited)))
	assert.True(t, IsRateLimit(fmt.Errorf("gemini: %w", ErrAllKeysExhausted)))
	assert.False(t, IsRateLimit(errors.New("timeout")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "hi", Truncate("hi", 10))
	assert.Equal(t, "hi", Truncate("hi", 0))
}

func TestNormalizeAspectRatio(t *testing.T) {
	assert.Equal(t, AspectPortrait, NormalizeAspectRatio("  "))
	assert.Equal(t, AspectLandscape, NormalizeAspectRatio(" 16:9 "))
	assert.Equal(t, AspectRatio("4:5"), NormalizeAspectRatio("4:5"))
}
