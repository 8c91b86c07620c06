package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// PreviewDir holds generated scene and thumbnail images.
const PreviewDir = "preview"

// PreviewKey names a generated image: preview/scene_<index>.<ext> or
// preview/thumbnail_v<index>.<ext>.
func PreviewKey(kind string, index int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "png"
	}
	if kind == "thumbnail" {
		return fmt.Sprintf("%s/thumbnail_v%d.%s", PreviewDir, index, ext)
	}
	return fmt.Sprintf("%s/scene_%d.%s", PreviewDir, index, ext)
}

// ImageExtension detects the file extension of image bytes. Non-image
// content falls back to png, which is what both providers return.
func ImageExtension(data []byte) string {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") || mt.Extension() == "" {
		return "png"
	}
	return strings.TrimPrefix(mt.Extension(), ".")
}

// SaveImage writes a generated image under the preview directory.
func (s *FileStore) SaveImage(ctx context.Context, kind string, index int, data []byte) (string, error) {
	return s.Write(ctx, PreviewKey(kind, index, ImageExtension(data)), data)
}
