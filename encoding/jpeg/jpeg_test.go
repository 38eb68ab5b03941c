package jpeg

import (
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorgonia/cyclegan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saved_images")
	enc, err := NewEncoder(dir)
	require.NoError(t, err)

	s := cyclegan.Sample{Direction: cyclegan.ToHealthy, Epoch: 1, Step: 200, Image: image.NewRGBA(image.Rect(0, 0, 8, 6))}
	require.NoError(t, enc.Encode(s))
	require.NoError(t, enc.Flush())

	assert.Equal(t, "healthy_(200).jpg", Filename(s))
	f, err := os.Open(filepath.Join(dir, "healthy_(200).jpg"))
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())

	enc.Dir = filepath.Join(dir, "missing")
	assert.Error(t, enc.Encode(s))
}
