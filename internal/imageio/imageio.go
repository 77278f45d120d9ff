// Package imageio validates uploaded source images and renders previews.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	MaxFileSize   = 50 * 1024 * 1024
	ThumbnailSize = 256
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrTooLarge          = errors.New("file size too large")
	ErrEmpty             = errors.New("image is empty")
)

// SupportedExtensions lists the accepted upload extensions.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// Validate checks an upload by filename and size.
func Validate(filename string, size int64) error {
	if size <= 0 {
		return ErrEmpty
	}
	if size > MaxFileSize {
		return fmt.Errorf("%w: maximum size is %s", ErrTooLarge, FormatSize(MaxFileSize))
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return nil
		}
	}
	return fmt.Errorf("%w: supported formats: %s", ErrUnsupportedFormat, strings.Join(SupportedExtensions, ", "))
}

// DeriveName turns an upload filename into a job name by dropping the
// directory and extension.
func DeriveName(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}

// ContentType maps a supported extension to its MIME type.
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Thumbnail decodes data and returns a PNG that fits in a size x size box.
// Images already smaller than the box are not upscaled.
func Thumbnail(data []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = ThumbnailSize
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("imageio: decode: %w", err)
	}
	thumb := imaging.Fit(src, size, size, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return nil, fmt.Errorf("imageio: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatSize renders a byte count for humans, e.g. "1.5 MB".
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(units) {
		i = len(units) - 1
	}
	value := float64(bytes) / math.Pow(1024, float64(i))
	return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.2f", value), "0"), ".0") + " " + units[i]
}
