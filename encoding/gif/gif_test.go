package gif

import (
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorgonia/cyclegan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestEncoder(t *testing.T) {
	assert := assert.New(t)
	dir := filepath.Join(t.TempDir(), "anim")
	enc := NewEncoder(dir)

	green := color.RGBA{0, 200, 0, 255}
	for step := 0; step < 3; step++ {
		s := cyclegan.Sample{Direction: cyclegan.ToHealthy, Epoch: 0, Step: step * 200, Image: frame(32, 32, green)}
		require.NoError(t, enc.Encode(s))
	}
	require.NoError(t, enc.Encode(cyclegan.Sample{Direction: cyclegan.ToDiseased, Image: frame(32, 32, green)}))
	err := enc.Encode(cyclegan.Sample{Direction: cyclegan.ToHealthy, Image: frame(16, 16, green)})
	assert.Error(err, "frames of an animation have one size")

	require.NoError(t, enc.Flush())

	f, err := os.Open(filepath.Join(dir, Filename(cyclegan.ToHealthy)))
	require.NoError(t, err)
	defer f.Close()
	anim, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Len(anim.Image, 3)
	b := anim.Image[0].Bounds()
	assert.True(b.Dy() > 32, "the caption is below the image")
	assert.True(b.Dx() >= 32)

	r, g, bl, _ := anim.Image[0].At(16, 16).RGBA()
	assert.True(g > r && g > bl, "the image is drawn at the top left")

	assert.FileExists(filepath.Join(dir, Filename(cyclegan.ToDiseased)))
}
