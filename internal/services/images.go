package services

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

	// Register image format decoders
	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"

	// BMP, TIFF and WebP support from x/image
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when an input file is not a readable image.
var ErrDecode = errors.New("unreadable image")

// ImageService resizes uploaded photos to the slideshow frame size.
type ImageService struct {
	scaler draw.Scaler
}

func NewImageService() *ImageService {
	return &ImageService{scaler: draw.CatmullRom}
}

// ResizeFile decodes srcPath, stretches it to exactly width x height (the
// aspect ratio is not preserved) and writes the result as PNG to dstPath.
func (s *ImageService) ResizeFile(srcPath, dstPath string, width, height int) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("%w: %s (format=%q): %v", ErrDecode, srcPath, format, err)
	}

	resized := s.Resize(src, width, height)

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dstPath, err)
	}

	if err := png.Encode(out, resized); err != nil {
		out.Close()
		os.Remove(dstPath)
		return fmt.Errorf("failed to encode %s: %w", dstPath, err)
	}

	return out.Close()
}

// Resize scales img to exactly width x height.
func (s *ImageService) Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	s.scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
