package whisk

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nguyen2715-hue/web/internal/domain"
)

// Session scopes one request's uploads and generate call. Media IDs from
// one session are not valid in another.
type Session struct {
	WorkflowID string
	SessionID  string
}

// NewSession derives fresh identifiers; SessionID is ";" plus unix millis.
func NewSession(now time.Time) Session {
	return Session{
		WorkflowID: uuid.NewString(),
		SessionID:  ";" + strconv.FormatInt(now.UnixMilli(), 10),
	}
}

const (
	aspectPortrait  = "IMAGE_ASPECT_RATIO_PORTRAIT"
	aspectLandscape = "IMAGE_ASPECT_RATIO_LANDSCAPE"
	aspectSquare    = "IMAGE_ASPECT_RATIO_SQUARE"
)

// AspectValue maps an aspect ratio to the recipe enum. Unknown ratios are portrait.
func AspectValue(ratio domain.AspectRatio) string {
	switch domain.AspectRatio(strings.TrimSpace(string(ratio))) {
	case domain.AspectLandscape:
		return aspectLandscape
	case domain.AspectSquare:
		return aspectSquare
	default:
		return aspectPortrait
	}
}

// mimeForPath infers an upload MIME type from the file extension.
func mimeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
