package services

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizeFileStretchesToExactSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "portrait.jpg")

	img := image.NewRGBA(image.Rect(0, 0, 300, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 300; x++ {
			img.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())

	dst := filepath.Join(dir, "resized.png")
	require.NoError(t, NewImageService().ResizeFile(src, dst, SlideWidth, SlideHeight))

	out, err := os.Open(dst)
	require.NoError(t, err)
	defer out.Close()

	cfg, format, err := image.DecodeConfig(out)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, SlideWidth, cfg.Width)
	assert.Equal(t, SlideHeight, cfg.Height)
}

func TestResizeFileUnreadable(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(src, []byte("definitely not an image"), 0644))

	err := NewImageService().ResizeFile(src, filepath.Join(dir, "out.png"), 10, 10)
	assert.ErrorIs(t, err, ErrDecode)

	_, statErr := os.Stat(filepath.Join(dir, "out.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestResizeFileMissing(t *testing.T) {
	dir := t.TempDir()
	err := NewImageService().ResizeFile(filepath.Join(dir, "missing.jpg"), filepath.Join(dir, "out.png"), 10, 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDecode)
}

func TestResize(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	dst := NewImageService().Resize(src, 16, 9)
	assert.Equal(t, image.Rect(0, 0, 16, 9), dst.Bounds())
}
