package services

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/bobarin/memorial/internal/storage"
)

const qrCodeSize = 256

// QRCodeService renders viewer-page QR codes into the public qrcodes directory.
type QRCodeService struct {
	dir string
}

func NewQRCodeService(publicRoot string) *QRCodeService {
	return &QRCodeService{dir: filepath.Join(publicRoot, storage.QRCodesDir)}
}

// EncodeQR returns a PNG QR code for the given URL.
func EncodeQR(url string) ([]byte, error) {
	png, err := qrcode.Encode(url, qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}

// Generate writes qr_{id}.png encoding viewURL and returns its path relative
// to the public root, always with forward slashes.
func (s *QRCodeService) Generate(personID int64, viewURL string) (string, error) {
	png, err := EncodeQR(viewURL)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create QR directory: %w", err)
	}

	filename := fmt.Sprintf("qr_%d.png", personID)
	if err := os.WriteFile(filepath.Join(s.dir, filename), png, 0644); err != nil {
		return "", fmt.Errorf("failed to write QR code: %w", err)
	}

	return path.Join(storage.QRCodesDir, filename), nil
}
