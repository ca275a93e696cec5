package integrations

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

type ImageSettings struct {
	MaxWidth  int
	MaxHeight int
	Quality   int // JPEG quality, 1-100
	Grayscale bool
	Contrast  float64 // 1.0 leaves the image unchanged
}

// ImageProcessor fits page images to a screen and re-encodes them as JPEG.
type ImageProcessor struct {
	settings ImageSettings
}

func NewImageProcessor(settings ImageSettings) *ImageProcessor {
	if settings.Quality <= 0 || settings.Quality > 100 {
		settings.Quality = 85
	}
	if settings.Contrast == 0 {
		settings.Contrast = 1.0
	}
	return &ImageProcessor{settings: settings}
}

func (p *ImageProcessor) Process(input io.Reader) ([]byte, error) {
	img, _, err := image.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := p.fit(bounds.Dx(), bounds.Dy())
	if width != bounds.Dx() || height != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}
	if p.settings.Grayscale {
		img = toGray(img)
	}
	if p.settings.Contrast != 1.0 {
		img = adjustContrast(img, p.settings.Contrast)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.settings.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales width and height down to the screen, keeping the aspect ratio.
func (p *ImageProcessor) fit(width, height int) (int, int) {
	maxW, maxH := p.settings.MaxWidth, p.settings.MaxHeight
	if maxW <= 0 || maxH <= 0 || (width <= maxW && height <= maxH) {
		return width, height
	}
	scale := min(float64(maxW)/float64(width), float64(maxH)/float64(height))
	return max(int(float64(width)*scale), 1), max(int(float64(height)*scale), 1)
}

func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	return gray
}

func adjustContrast(img image.Image, factor float64) image.Image {
	var lut [256]uint8
	for i := range lut {
		lut[i] = clamp((float64(i)-128)*factor + 128)
	}

	bounds := img.Bounds()
	if gray, ok := img.(*image.Gray); ok {
		out := image.NewGray(bounds)
		for i, v := range gray.Pix {
			out.Pix[i] = lut[v]
		}
		return out
	}
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			out.SetRGBA(x, y, color.RGBA{lut[r>>8], lut[g>>8], lut[b>>8], uint8(a >> 8)})
		}
	}
	return out
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}
