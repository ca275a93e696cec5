package integrations

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageProcessorFit(t *testing.T) {
	p := NewImageProcessor(ImageSettings{MaxWidth: 800, MaxHeight: 1200})

	tests := []struct {
		name       string
		width      int
		height     int
		wantWidth  int
		wantHeight int
	}{
		{"no resize needed", 600, 800, 600, 800},
		{"resize width", 1000, 800, 800, 640},
		{"resize height", 800, 1500, 640, 1200},
		{"resize both", 1600, 2400, 800, 1200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := p.fit(tt.width, tt.height)
			if w != tt.wantWidth || h != tt.wantHeight {
				t.Errorf("fit() = (%d, %d), want (%d, %d)", w, h, tt.wantWidth, tt.wantHeight)
			}
		})
	}
}

func TestImageProcessorProcess(t *testing.T) {
	p := NewImageProcessor(Devices["kindle"].ImageSettings())

	out, err := p.Process(bytes.NewReader(encodePNG(t, 1516, 2048, color.RGBA{255, 0, 0, 255})))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 758, img.Bounds().Dx())
	assert.Equal(t, 1024, img.Bounds().Dy())
	_, isGray := img.(*image.Gray)
	assert.True(t, isGray, "e-ink pages are grayscale")
}

func TestImageProcessorRejectsGarbage(t *testing.T) {
	_, err := NewImageProcessor(ImageSettings{}).Process(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func TestAdjustContrast(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.Pix[0], gray.Pix[1] = 100, 200

	out := adjustContrast(gray, 2).(*image.Gray)
	assert.Equal(t, uint8(72), out.Pix[0])
	assert.Equal(t, uint8(255), out.Pix[1])
}

func TestLookupDevice(t *testing.T) {
	d, ok := LookupDevice("Kindle-Paperwhite")
	require.True(t, ok)
	assert.Equal(t, 1072, d.Width)
	assert.Equal(t, 1.1, d.ImageSettings().Contrast)

	_, ok = LookupDevice("walkman")
	assert.False(t, ok)

	ids := DeviceIDs()
	assert.Len(t, ids, len(Devices))
	assert.IsIncreasing(t, ids)
}
