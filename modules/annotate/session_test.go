package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func loadedSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession()
	require.NoError(t, s.LoadBaseImage(basePNG(t, 200, 160)))
	return s
}

func drawStroke(s *Session, x1, y1, x2, y2 float64) {
	s.BeginGesture(x1, y1, false)
	s.MoveGesture(x2, y2)
	s.Flush()
	s.EndGesture()
}

func TestStrokeLeavesAnnotation(t *testing.T) {
	s := loadedSession(t)
	assert.False(t, s.HasAnnotations())

	drawStroke(s, 20, 20, 80, 80)
	assert.True(t, s.HasAnnotations())
	assert.Equal(t, 1, s.UndoDepth(), "one stroke means one undo snapshot")
}

func TestUndoRedo(t *testing.T) {
	s := loadedSession(t)

	for i := 0; i < 5; i++ {
		drawStroke(s, float64(10+i*20), 10, float64(10+i*20), 100)
	}
	assert.Equal(t, 5, s.UndoDepth())

	for i := 0; i < 5; i++ {
		assert.True(t, s.Undo())
	}
	assert.False(t, s.HasAnnotations(), "undoing every stroke restores a pristine layer")
	assert.False(t, s.Undo(), "undo past the beginning is a no-op")
	assert.Equal(t, 5, s.RedoDepth())

	assert.True(t, s.Redo())
	assert.True(t, s.HasAnnotations())
	assert.Equal(t, 4, s.RedoDepth())
}

func TestNewStrokeClearsRedo(t *testing.T) {
	s := loadedSession(t)

	drawStroke(s, 20, 20, 80, 80)
	drawStroke(s, 30, 30, 90, 90)
	require.True(t, s.Undo())
	assert.Equal(t, 1, s.RedoDepth())

	drawStroke(s, 40, 40, 100, 100)
	assert.Equal(t, 0, s.RedoDepth(), "a committed stroke invalidates the redo branch")
	assert.False(t, s.Redo())
}

func TestUndoDepthCapped(t *testing.T) {
	s := loadedSession(t)

	for i := 0; i < MaxUndoDepth+5; i++ {
		drawStroke(s, 10, 10, 50, 50)
	}
	assert.Equal(t, MaxUndoDepth, s.UndoDepth(), "oldest snapshots are dropped beyond the cap")
}

func TestLoadBaseImageResetsHistory(t *testing.T) {
	s := loadedSession(t)

	drawStroke(s, 20, 20, 80, 80)
	require.True(t, s.Undo())
	require.Equal(t, 1, s.RedoDepth())

	require.NoError(t, s.LoadBaseImage(basePNG(t, 100, 100)))
	assert.Equal(t, 0, s.UndoDepth())
	assert.Equal(t, 0, s.RedoDepth())
	assert.False(t, s.HasAnnotations())
}

func TestLoadBaseImageRejectsGarbage(t *testing.T) {
	s := NewSession()
	assert.Error(t, s.LoadBaseImage([]byte("not an image")))
}

func TestEraserRemovesStroke(t *testing.T) {
	s := loadedSession(t)

	drawStroke(s, 100, 80, 100, 80)
	require.True(t, s.HasAnnotations())

	require.NoError(t, s.SetTool(ToolEraser))
	// eraser radius covers the pencil dot at the same spot
	drawStroke(s, 100, 80, 100, 80)
	assert.False(t, s.HasAnnotations(), "erasing over the stroke clears its pixels")
}

func TestPanDoesNotDraw(t *testing.T) {
	s := loadedSession(t)

	s.BeginGesture(50, 50, true)
	s.MoveGesture(70, 90)
	s.EndGesture()

	assert.False(t, s.HasAnnotations(), "pan gestures never touch the layer")
	assert.Equal(t, 0, s.UndoDepth(), "pan gestures take no snapshot")

	x, y := s.Offset()
	assert.Equal(t, 20.0, x)
	assert.Equal(t, 40.0, y)
}

func TestPanToolGesture(t *testing.T) {
	s := loadedSession(t)
	require.NoError(t, s.SetTool(ToolPan))

	s.BeginGesture(0, 0, false)
	s.MoveGesture(15, -5)
	s.EndGesture()

	x, y := s.Offset()
	assert.Equal(t, 15.0, x)
	assert.Equal(t, -5.0, y)
	assert.False(t, s.HasAnnotations())
}

func TestZoomClamped(t *testing.T) {
	s := loadedSession(t)

	s.SetZoom(100)
	assert.Equal(t, MaxZoom, s.Zoom())

	s.SetZoom(0.0001)
	assert.Equal(t, MinZoom, s.Zoom())

	s.SetZoom(2.5)
	assert.Equal(t, 2.5, s.Zoom())
}

func TestViewTransformIsPresentational(t *testing.T) {
	s := loadedSession(t)
	drawStroke(s, 20, 20, 80, 80)

	before, err := s.Composite()
	require.NoError(t, err)

	s.SetZoom(3)
	s.SetOffset(40, -25)

	after, err := s.Composite()
	require.NoError(t, err)
	assert.Equal(t, before, after, "zoom and offset never change the flattened pixels")

	s.ResetView()
	assert.Equal(t, 1.0, s.Zoom())
	x, y := s.Offset()
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 0.0, y)
}

func TestScreenToCanvasUnderTransform(t *testing.T) {
	s := loadedSession(t)

	// at zoom 2 with offset (100, 40), screen (140, 80) is canvas (20, 20)
	s.SetZoom(2)
	s.SetOffset(100, 40)
	drawStroke(s, 140, 80, 140, 80)

	s.ResetView()
	require.True(t, s.Undo())
	require.True(t, s.Redo())
	assert.True(t, s.HasAnnotations())
}

func TestClearIsUndoable(t *testing.T) {
	s := loadedSession(t)

	drawStroke(s, 20, 20, 80, 80)
	s.Clear()
	assert.False(t, s.HasAnnotations())
	assert.Equal(t, 2, s.UndoDepth(), "clear snapshots like a stroke")

	require.True(t, s.Undo())
	assert.True(t, s.HasAnnotations(), "undoing a clear restores the strokes")
}

func TestCompositeWithoutBase(t *testing.T) {
	s := NewSession()
	_, err := s.Composite()
	assert.Error(t, err)
}

func TestCompositeMergesLayer(t *testing.T) {
	s := loadedSession(t)
	drawStroke(s, 50, 50, 50, 50)

	out, err := s.Composite()
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 160, img.Bounds().Dy())

	// the pencil dot shows through at full opacity
	r, g, b, _ := img.At(50, 50).RGBA()
	assert.Greater(t, r>>8, g>>8, "annotated pixel reads red, not the grey base")
	assert.Greater(t, r>>8, b>>8)
}

func TestDrawWithoutBaseIgnored(t *testing.T) {
	s := NewSession()
	s.BeginGesture(10, 10, false)
	s.MoveGesture(50, 50)
	s.EndGesture()
	assert.Equal(t, 0, s.UndoDepth())
}

func TestSetToolValidation(t *testing.T) {
	s := NewSession()
	assert.Error(t, s.SetTool("airbrush"))
	assert.NoError(t, s.SetTool(ToolMarker))
	assert.Equal(t, ToolMarker, s.Tool())
}
