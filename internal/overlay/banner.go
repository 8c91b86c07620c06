// Package overlay draws caption banners onto generated thumbnails.
package overlay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"strings"
	"unicode"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	glyphWidth  = 7
	glyphHeight = 13
	maxLines    = 3
)

// Banner renders text in a translucent strip along the bottom edge and
// re-encodes the result as PNG.
type Banner struct {
	Background color.Color
	Foreground color.Color
}

func NewBanner() *Banner {
	return &Banner{
		Background: color.NRGBA{A: 170},
		Foreground: color.White,
	}
}

func (b *Banner) Apply(ctx context.Context, data []byte, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(Fold(text))
	if text == "" {
		return data, nil
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("overlay: decode image: %w", err)
	}
	bounds := src.Bounds()
	if bounds.Dx() < glyphWidth*4 || bounds.Dy() < glyphHeight*4 {
		return nil, errors.New("overlay: image too small for caption")
	}

	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	scale := max(2, bounds.Dx()/240)
	pad := glyphHeight * scale / 2
	perLine := max(1, (bounds.Dx()-2*pad)/(glyphWidth*scale))
	lines := wrap(text, perLine, maxLines)

	lineHeight := glyphHeight * scale
	stripHeight := len(lines)*lineHeight + 2*pad
	strip := image.Rect(bounds.Min.X, bounds.Max.Y-stripHeight, bounds.Max.X, bounds.Max.Y)
	draw.Draw(dst, strip, image.NewUniform(b.Background), image.Point{}, draw.Over)

	for i, line := range lines {
		glyphs := renderLine(line, b.Foreground)
		w := glyphs.Bounds().Dx() * scale
		x := bounds.Min.X + (bounds.Dx()-w)/2
		y := strip.Min.Y + pad + i*lineHeight
		target := image.Rect(x, y, x+w, y+lineHeight)
		xdraw.NearestNeighbor.Scale(dst, target, glyphs, glyphs.Bounds(), draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("overlay: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func renderLine(line string, fg color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, len(line)*glyphWidth, glyphHeight))
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(0, basicfont.Face7x13.Ascent),
	}
	d.DrawString(line)
	return img
}

// wrap splits text greedily on spaces. Words longer than width are cut.
// Overflow beyond limit lines is dropped with a trailing ellipsis.
func wrap(text string, width, limit int) []string {
	var lines []string
	current := ""
	for _, word := range strings.Fields(text) {
		for len(word) > width {
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			lines = append(lines, word[:width])
			word = word[width:]
		}
		switch {
		case current == "":
			current = word
		case len(current)+1+len(word) <= width:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	if len(lines) > limit {
		lines = lines[:limit]
		last := lines[limit-1]
		if len(last) > width-3 {
			last = last[:max(0, width-3)]
		}
		lines[limit-1] = last + "..."
	}
	return lines
}

var foldReplacer = strings.NewReplacer("đ", "d", "Đ", "D")

// Fold strips diacritics so captions render with the ASCII bitmap font.
// Remaining non-ASCII runes become '?'.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = foldReplacer.Replace(folded)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return ' '
		case r > unicode.MaxASCII || !unicode.IsPrint(r):
			return '?'
		}
		return r
	}, folded)
}
