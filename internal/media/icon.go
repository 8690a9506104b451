package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
)

const (
	iconSize    = 256
	iconQuality = 85
)

// ErrUnsupportedImage is returned when the input cannot be decoded as an image.
var ErrUnsupportedImage = errors.New("media: unsupported image format")

// ResizeIcon decodes an uploaded server or role icon and resizes it to a square iconSize x iconSize JPEG, run
// synchronously on the request goroutine rather than dispatched to a worker queue, since icon uploads are
// infrequent and resizing a single small image is cheap enough not to need offloading.
func ResizeIcon(r io.Reader) ([]byte, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	resized := imaging.Fill(img, iconSize, iconSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: iconQuality}); err != nil {
		return nil, fmt.Errorf("encode icon: %w", err)
	}
	return buf.Bytes(), nil
}
