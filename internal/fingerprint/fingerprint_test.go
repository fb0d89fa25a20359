package fingerprint

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestComputeDeterministic(t *testing.T) {
	data := encodeJPEG(createGradientImage(200, 150))

	first, err := Compute(data)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	second, err := Compute(data)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if first != second {
		t.Errorf("digest should be stable across calls: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("digest should be 64 hex characters, got %d: %s", len(first), first)
	}
}

func TestComputeDifferentContent(t *testing.T) {
	white := encodeJPEG(createSolidImage(100, 100, color.White))
	gradient := encodeJPEG(createGradientImage(100, 100))

	whiteDigest, err := Compute(white)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	gradientDigest, err := Compute(gradient)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if whiteDigest == gradientDigest {
		t.Error("different visual content should produce different digests")
	}
}

func TestComputeNormalizesLargeImages(t *testing.T) {
	data := encodeJPEG(createGradientImage(1600, 1200))

	digest, err := Compute(data)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	again, err := Compute(data)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if digest != again {
		t.Error("large images should still hash deterministically")
	}
}

func TestComputeInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("not an image")},
		{"truncated jpeg", encodeJPEG(createSolidImage(50, 50, color.Black))[:10]},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(tc.data)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestNormalizeBounds(t *testing.T) {
	data := encodeJPEG(createGradientImage(1024, 256))

	canonical, err := Normalize(data, 512)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(canonical))
	if err != nil {
		t.Fatalf("normalized output should decode: %v", err)
	}
	if img.Bounds().Dx() != 512 {
		t.Errorf("width should be scaled to 512, got %d", img.Bounds().Dx())
	}
	if img.Bounds().Dy() != 128 {
		t.Errorf("aspect ratio should be kept, got height %d", img.Bounds().Dy())
	}
}

func TestNormalizeCanonicalAcrossEncodings(t *testing.T) {
	// The same pixels arriving as PNG and JPEG will not hash identically
	// (lossy decode differs), but each encoding must be stable on its own.
	img := createGradientImage(64, 64)

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}

	first, err := Compute(pngBuf.Bytes())
	if err != nil {
		t.Fatalf("Compute on png failed: %v", err)
	}
	second, err := Compute(pngBuf.Bytes())
	if err != nil {
		t.Fatalf("Compute on png failed: %v", err)
	}
	if first != second {
		t.Error("png input should hash deterministically")
	}
}

func createSolidImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func createGradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			gray := uint8((x + y) * 255 / (width + height))
			img.Set(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}
