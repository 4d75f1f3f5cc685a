package diffusion

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// ValidateImageContentType checks the declared MIME type of an upload.
// Anything outside the image/ family is rejected before decoding.
// This is a pure function with no side effects.
func ValidateImageContentType(contentType string) error {
	mediaType := strings.TrimSpace(strings.ToLower(contentType))
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("%w: content type %q", ErrNotAnImage, contentType)
	}
	return nil
}

// DecodeImage decodes image bytes in any of the registered formats
// (PNG, JPEG, GIF). This is a pure function with no side effects.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrImageEmpty
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return img, nil
}

// ResizeExact scales an image to exactly width x height using
// high-quality Catmull-Rom interpolation. Aspect ratio is not
// preserved; the pipelines require their fixed working resolution.
// This is a pure function with no side effects.
func ResizeExact(img image.Image, width, height int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// RGBAPixels flattens an image into a tightly packed RGBA byte slice
// (4 bytes per pixel, row-major). This is a pure function with no
// side effects.
func RGBAPixels(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == width*4 {
		out := make([]byte, len(rgba.Pix))
		copy(out, rgba.Pix)
		return out
	}

	out := make([]byte, width*height*4)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			out[i] = byte(r >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(b >> 8)
			out[i+3] = byte(a >> 8)
			i += 4
		}
	}
	return out
}

// PixelsToImage reconstructs an image from packed RGBA pixels.
// Returns an error when the pixel count does not match the dimensions.
// This is a pure function with no side effects.
func PixelsToImage(pixels []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidPixels, width, height)
	}
	expected := width * height * 4
	if len(pixels) != expected {
		return nil, fmt.Errorf("%w: expected %d bytes for %dx%d RGBA, got %d",
			ErrInvalidPixels, expected, width, height, len(pixels))
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, pixels)
	return img, nil
}

// EncodePNG serializes an image to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG serializes an image to a base64 string of its PNG
// encoding, the wire format of the JSON responses.
func EncodeBase64PNG(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Base64PNG encodes already-serialized PNG bytes.
// This is a pure function with no side effects.
func Base64PNG(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
