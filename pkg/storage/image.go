package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
)

// ImageStats describes a stored image.
type ImageStats struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Size   int64  `json:"size"`

	// Buffer holds the raw bytes when they were requested.
	Buffer []byte `json:"-"`
}

// ReadImageStats decodes the image header from r. The whole stream is read
// so Size is exact; Buffer is kept only when keepBuffer is set.
func ReadImageStats(r io.Reader, keepBuffer bool) (*ImageStats, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrNotAnImage
		}
		return nil, fmt.Errorf("storage: decode image: %w", err)
	}

	stats := &ImageStats{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
		Size:   int64(len(data)),
	}
	if keepBuffer {
		stats.Buffer = data
	}
	return stats, nil
}
