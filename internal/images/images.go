// Package images validates uploaded shelf photographs.
package images

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
)

var (
	ErrPayloadTooLarge = errors.New("image exceeds maximum upload size")
	ErrInvalidImage    = errors.New("invalid image")
)

// Info describes an accepted image.
type Info struct {
	MIMEType string
	Width    int
	Height   int
	Size     int
	SHA256   string
}

var allowed = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// Read consumes r up to max bytes, failing with ErrPayloadTooLarge beyond it.
func Read(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read image: %w", err)
	}
	if int64(len(data)) > max {
		return nil, ErrPayloadTooLarge
	}
	return data, nil
}

// Inspect sniffs and decodes the image header.
func Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	mimeType := http.DetectContentType(data)
	if !allowed[mimeType] {
		return Info{}, fmt.Errorf("%w: unsupported content type %s", ErrInvalidImage, mimeType)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return Info{}, fmt.Errorf("%w: zero dimensions", ErrInvalidImage)
	}
	sum := sha256.Sum256(data)
	return Info{
		MIMEType: mimeType,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Size:     len(data),
		SHA256:   hex.EncodeToString(sum[:]),
	}, nil
}
