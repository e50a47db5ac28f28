package interviewmatch

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"otterbot/internal/transport"
)

const (
	imageMaxWidth  = 2048
	imageMaxHeight = 4096
	imagePadding   = 24
	imageLineGap   = 10
	imageFontSize  = 18
	imageName      = "pairs.png"
)

var (
	imageBackground = color.RGBA{0x2b, 0x2d, 0x31, 0xff}
	imageTitle      = color.RGBA{0x4e, 0xc9, 0xb0, 0xff}
	imageText       = color.RGBA{0xf2, 0xf3, 0xf5, 0xff}
)

var (
	goRegularOnce sync.Once
	goRegular     *opentype.Font
	goRegularErr  error
)

// newLabelFace returns a fresh Go Regular face. Faces are not safe for
// concurrent use; the parsed font is shared.
func newLabelFace() (font.Face, error) {
	goRegularOnce.Do(func() {
		goRegular, goRegularErr = opentype.Parse(goregular.TTF)
	})
	if goRegularErr != nil {
		return nil, fmt.Errorf("parse label font: %w", goRegularErr)
	}
	return opentype.NewFace(goRegular, &opentype.FaceOptions{Size: imageFontSize, DPI: 72, Hinting: font.HintingFull})
}

// RenderPairs draws one "A <-> B" line per pair. It fails with
// transport.ErrValidation when the result exceeds the upload limits.
func RenderPairs(pairs []Pair) ([]byte, error) {
	face, err := newLabelFace()
	if err != nil {
		return nil, err
	}
	defer face.Close()

	lines := make([]string, 0, len(pairs)+1)
	lines = append(lines, "Interview Match pairs")
	for _, p := range pairs {
		lines = append(lines, fmt.Sprintf("%s  <->  %s", p[0].DisplayName, p[1].DisplayName))
	}

	lineH := face.Metrics().Height.Ceil() + imageLineGap
	width := 0
	for _, l := range lines {
		width = max(width, font.MeasureString(face, l).Ceil())
	}
	width += 2 * imagePadding
	height := len(lines)*lineH + 2*imagePadding
	if width > imageMaxWidth || height > imageMaxHeight {
		return nil, fmt.Errorf("pairs image %dx%d exceeds %dx%d: %w", width, height, imageMaxWidth, imageMaxHeight, transport.ErrValidation)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: imageBackground}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Face: face}
	for i, l := range lines {
		d.Src = image.NewUniform(imageText)
		if i == 0 {
			d.Src = image.NewUniform(imageTitle)
		}
		d.Dot = fixed.P(imagePadding, imagePadding+i*lineH+face.Metrics().Ascent.Ceil())
		d.DrawString(l)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode pairs image: %w", err)
	}
	return buf.Bytes(), nil
}
