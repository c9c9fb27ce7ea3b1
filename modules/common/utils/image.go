package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	"image/png"
	"log"
	"math"
	"strings"

	_ "github.com/kolesa-team/go-webp/decoder" // register WebP decoder
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// Longest-edge caps applied before transmission to the generation API
const (
	MaxBaseEdge      = 2048
	MaxReferenceEdge = 1024
	MaxUpscaleEdge   = 1536
)

// ResizeForTransmission - downsample so the longest edge is at most maxEdge,
// preserving aspect ratio. Returns the input unchanged when it is already
// within bound or cannot be decoded.
func ResizeForTransmission(imageData []byte, maxEdge int) []byte {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		log.Printf("⚠️  Resize skipped, decode failed: %v", err)
		return imageData
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	longest := width
	if height > longest {
		longest = height
	}
	if longest <= maxEdge {
		return imageData
	}

	scale := float64(maxEdge) / float64(longest)
	newWidth := int(math.Round(float64(width) * scale))
	newHeight := int(math.Round(float64(height) * scale))
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	resized := scaleImage(img, newWidth, newHeight)

	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		log.Printf("⚠️  Resize skipped, re-encode failed: %v", err)
		return imageData
	}

	log.Printf("🔧 Resized %s image %dx%d → %dx%d (max edge %d)",
		format, width, height, newWidth, newHeight, maxEdge)
	return buf.Bytes()
}

// scaleImage - nearest-neighbor scale to an exact target size
func scaleImage(src image.Image, targetWidth, targetHeight int) image.Image {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))

	scaleX := float64(srcWidth) / float64(targetWidth)
	scaleY := float64(srcHeight) / float64(targetHeight)

	for y := 0; y < targetHeight; y++ {
		for x := 0; x < targetWidth; x++ {
			srcX := int(float64(x) * scaleX)
			srcY := int(float64(y) * scaleY)
			dst.Set(x, y, src.At(srcBounds.Min.X+srcX, srcBounds.Min.Y+srcY))
		}
	}

	return dst
}

// supportedAspectRatios - the ratio strings the generation API accepts
var supportedAspectRatios = []struct {
	Name  string
	Value float64
}{
	{"16:9", 16.0 / 9.0},
	{"4:3", 4.0 / 3.0},
	{"1:1", 1.0},
	{"3:4", 3.0 / 4.0},
	{"9:16", 9.0 / 16.0},
}

// ClosestAspectRatio - pick the supported ratio string closest to width/height
func ClosestAspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}

	ratio := float64(width) / float64(height)
	best := supportedAspectRatios[0].Name
	bestDiff := math.Abs(ratio - supportedAspectRatios[0].Value)

	for _, candidate := range supportedAspectRatios[1:] {
		diff := math.Abs(ratio - candidate.Value)
		if diff < bestDiff {
			best = candidate.Name
			bestDiff = diff
		}
	}

	return best
}

// ImageDimensions - decode just enough to report width/height
func ImageDimensions(imageData []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// ConvertImageToBase64 - raw image bytes to base64
func ConvertImageToBase64(imageData []byte) string {
	return base64.StdEncoding.EncodeToString(imageData)
}

// ToDataURI - wrap raw image bytes as a data URI
func ToDataURI(imageData []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))
}

// FromDataURI - decode a data URI (or bare base64) back to raw bytes and MIME type
func FromDataURI(dataURI string) ([]byte, string, error) {
	mimeType := "image/png"
	payload := dataURI

	if strings.HasPrefix(dataURI, "data:") {
		comma := strings.Index(dataURI, ",")
		if comma < 0 {
			return nil, "", fmt.Errorf("malformed data URI")
		}
		header := dataURI[len("data:"):comma]
		payload = dataURI[comma+1:]
		if semi := strings.Index(header, ";"); semi >= 0 {
			header = header[:semi]
		}
		if header != "" {
			mimeType = header
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return data, mimeType, nil
}

// ConvertPNGToWebP - PNG bytes to lossy WebP
func ConvertPNGToWebP(pngData []byte, quality float32) ([]byte, error) {
	pngReader := bytes.NewReader(pngData)
	img, err := png.Decode(pngReader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	webpData := webpBuffer.Bytes()
	log.Printf("✅ PNG converted to WebP: %d bytes → %d bytes (%.1f%% reduction)",
		len(pngData), len(webpData),
		float64(len(pngData)-len(webpData))/float64(len(pngData))*100)

	return webpData, nil
}
