// Package fingerprint computes deterministic content digests of reference
// photos. Images are normalized to a canonical encoding first so that the
// same photo always hashes to the same value regardless of how the client
// encoded it on upload.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

const (
	// MaxDimension is the canonical bounding box for normalized images.
	MaxDimension = 512
	// Quality is the canonical JPEG re-encoding quality.
	Quality = 85
)

// ErrDecode indicates the input bytes are not a decodable image.
var ErrDecode = errors.New("fingerprint: undecodable image")

// Compute normalizes the image and returns its sha-256 digest as lowercase
// hex. Identical input bytes always produce the same digest; the digest is a
// content fingerprint, not a perceptual hash.
func Compute(data []byte) (string, error) {
	canonical, err := Normalize(data, MaxDimension)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Normalize decodes the image, scales it down to fit within maxSize while
// keeping aspect ratio, and re-encodes it as JPEG at the canonical quality.
// Images already within bounds are still re-encoded so the output format is
// uniform.
func Normalize(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width > maxSize || height > maxSize {
		var newWidth, newHeight int
		if width > height {
			newWidth = maxSize
			newHeight = int(float64(height) * float64(maxSize) / float64(width))
		} else {
			newHeight = maxSize
			newWidth = int(float64(width) * float64(maxSize) / float64(height))
		}
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("encode normalized image: %w", err)
	}
	return buf.Bytes(), nil
}
