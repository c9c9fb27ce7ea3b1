package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResizeForTransmissionWithinBound(t *testing.T) {
	data := makePNG(t, 800, 600)
	out := ResizeForTransmission(data, MaxBaseEdge)
	assert.Equal(t, data, out, "images already within bound must pass through untouched")
}

func TestResizeForTransmissionDownsamples(t *testing.T) {
	data := makePNG(t, 4096, 2048)
	out := ResizeForTransmission(data, MaxBaseEdge)

	w, h, err := ImageDimensions(out)
	require.NoError(t, err)
	assert.Equal(t, 2048, w, "longest edge must land exactly on the cap")
	assert.Equal(t, 1024, h, "aspect ratio must be preserved")
}

func TestResizeForTransmissionPortrait(t *testing.T) {
	data := makePNG(t, 1000, 3000)
	out := ResizeForTransmission(data, MaxReferenceEdge)

	w, h, err := ImageDimensions(out)
	require.NoError(t, err)
	assert.Equal(t, 1024, h)
	assert.Equal(t, 341, w)
}

func TestResizeForTransmissionUndecodable(t *testing.T) {
	garbage := []byte("not an image at all")
	out := ResizeForTransmission(garbage, MaxBaseEdge)
	assert.Equal(t, garbage, out, "undecodable input must be returned unchanged")
}

func TestClosestAspectRatio(t *testing.T) {
	tests := []struct {
		width, height int
		want          string
	}{
		{1920, 1080, "16:9"},
		{4096, 2048, "16:9"}, // 2.0 is closest to 16:9
		{800, 600, "4:3"},
		{1000, 1000, "1:1"},
		{600, 800, "3:4"},
		{1080, 1920, "9:16"},
		{0, 100, "1:1"},
		{100, 0, "1:1"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClosestAspectRatio(tt.width, tt.height),
			"ClosestAspectRatio(%d, %d)", tt.width, tt.height)
	}
}

func TestImageDimensions(t *testing.T) {
	data := makePNG(t, 123, 456)
	w, h, err := ImageDimensions(data)
	require.NoError(t, err)
	assert.Equal(t, 123, w)
	assert.Equal(t, 456, h)

	_, _, err = ImageDimensions([]byte("garbage"))
	assert.Error(t, err)
}

func TestDataURIRoundTrip(t *testing.T) {
	data := makePNG(t, 10, 10)

	uri := ToDataURI(data, "image/png")
	assert.Contains(t, uri, "data:image/png;base64,")

	decoded, mimeType, err := FromDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
	assert.Equal(t, "image/png", mimeType)
}

func TestFromDataURIBareBase64(t *testing.T) {
	data := makePNG(t, 4, 4)
	decoded, mimeType, err := FromDataURI(ConvertImageToBase64(data))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
	assert.Equal(t, "image/png", mimeType, "bare payloads default to PNG")
}

func TestFromDataURIMalformed(t *testing.T) {
	_, _, err := FromDataURI("data:image/png;base64")
	assert.Error(t, err, "a data URI without a comma is malformed")

	_, _, err = FromDataURI("data:image/png;base64,!!!not-base64!!!")
	assert.Error(t, err)
}
