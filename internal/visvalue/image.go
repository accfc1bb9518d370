// Package visvalue holds media values logged to a run.
package visvalue

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"slices"

	"github.com/wandb/simplejsonext"

	// Import image codecs.
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
)

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Image is an image logged to a run.
//
// Backends store the PNG bytes as a file or upload, and keep metadata
// about it in the run history.
type Image struct {
	// PNG is the PNG encoding of the image.
	PNG []byte

	// Width is the image's width in pixels.
	Width int

	// Height is the image's height in pixels.
	Height int
}

// FromData returns an Image from encoded data in any registered
// format. Non-PNG data is re-encoded as PNG.
func FromData(encoded []byte) (Image, error) {
	// PNG data can be kept as-is; only its dimensions are needed.
	if len(encoded) >= 8 && slices.Equal(encoded[:8], pngMagic) {
		config, err := png.DecodeConfig(bytes.NewReader(encoded))
		if err != nil {
			return Image{}, fmt.Errorf("visvalue: failed to parse PNG: %v", err)
		}
		return Image{
			PNG:    encoded,
			Width:  config.Width,
			Height: config.Height,
		}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return Image{}, fmt.Errorf("visvalue: failed to decode image: %v", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, fmt.Errorf("visvalue: failed to encode PNG: %v", err)
	}

	bounds := img.Bounds()
	return Image{
		PNG:    buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// FromImage returns an Image by PNG-encoding a decoded image.
func FromImage(img image.Image) (Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, fmt.Errorf("visvalue: failed to encode PNG: %v", err)
	}

	bounds := img.Bounds()
	return Image{
		PNG:    buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// SHA256 returns the hex digest of the PNG bytes.
func (img Image) SHA256() string {
	sum := sha256.Sum256(img.PNG)
	return hex.EncodeToString(sum[:])
}

// HistoryValueJSON is the image metadata kept in the run history.
//
// The filePath is the run-relative path the image was saved under,
// with forward slashes.
func (img Image) HistoryValueJSON(filePath string) (string, error) {
	return simplejsonext.MarshalToString(map[string]any{
		"_type":  "image-file",
		"path":   filePath,
		"sha256": img.SHA256(),
		"format": "png",
		"size":   len(img.PNG),
		"width":  img.Width,
		"height": img.Height,
	})
}
