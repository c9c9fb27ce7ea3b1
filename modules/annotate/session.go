package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"math"
	"sync"

	_ "image/jpeg"
)

// Tool - active annotation tool
type Tool string

const (
	ToolPencil Tool = "pencil"
	ToolMarker Tool = "marker"
	ToolEraser Tool = "eraser"
	ToolPan    Tool = "pan"
)

// view transform bounds
const (
	MinZoom = 0.1
	MaxZoom = 10.0
)

// MaxUndoDepth - stroke snapshots kept; the oldest is dropped first
const MaxUndoDepth = 20

// Point - canvas-space coordinate
type Point struct {
	X float64
	Y float64
}

// Session - one base image plus a transparent annotation layer on top.
// The view transform (zoom/offset) is presentational only: it never touches
// the pixel data and never shows up in Composite output.
type Session struct {
	mu sync.Mutex

	base  image.Image
	layer *image.RGBA

	tool        Tool
	strokeWidth float64

	// view transform
	zoom    float64
	offsetX float64
	offsetY float64

	// gesture state
	drawing      bool
	panning      bool
	lastPoint    Point
	pendingPoint *Point
	panAnchor    Point

	undoStack []*image.RGBA
	redoStack []*image.RGBA
}

// NewSession - empty session with defaults
func NewSession() *Session {
	return &Session{
		tool:        ToolPencil,
		strokeWidth: 3,
		zoom:        1.0,
	}
}

// LoadBaseImage - decode and install a new base image. The annotation layer
// is recreated transparent at the base size and both history stacks reset.
func (s *Session) LoadBaseImage(data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode base image: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.base = img
	s.layer = image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	s.undoStack = nil
	s.redoStack = nil
	s.drawing = false
	s.panning = false
	s.pendingPoint = nil
	s.resetViewLocked()

	log.Printf("🖼️  Annotation base loaded: %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}

// SetTool - switch the active tool. Ignored mid-gesture.
func (s *Session) SetTool(tool Tool) error {
	switch tool {
	case ToolPencil, ToolMarker, ToolEraser, ToolPan:
	default:
		return fmt.Errorf("unknown tool: %q", tool)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawing || s.panning {
		return nil
	}
	s.tool = tool
	return nil
}

// SetStrokeWidth - base stroke width before per-tool and per-size scaling
func (s *Session) SetStrokeWidth(w float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w > 0 {
		s.strokeWidth = w
	}
}

// Tool - currently active tool
func (s *Session) Tool() Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tool
}

// BeginGesture - pointer down in screen coordinates. forcePan routes the
// gesture to panning regardless of the active tool (spacebar/middle-button).
// A drawing gesture snapshots the layer exactly once and clears redo.
func (s *Session) BeginGesture(screenX, screenY float64, forcePan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drawing || s.panning {
		return
	}

	if forcePan || s.tool == ToolPan {
		s.panning = true
		s.panAnchor = Point{X: screenX, Y: screenY}
		return
	}

	if s.layer == nil {
		log.Println("⚠️  Draw gesture ignored: no base image loaded")
		return
	}

	s.pushUndoLocked()
	s.redoStack = nil
	s.drawing = true
	s.lastPoint = s.toCanvasLocked(screenX, screenY)
	s.pendingPoint = nil

	// a tap with no movement still leaves a dot
	s.stampLocked(s.lastPoint)
}

// MoveGesture - pointer move. Only the latest point is latched; segments are
// rasterized on Flush so a burst of move events costs one draw.
func (s *Session) MoveGesture(screenX, screenY float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.panning {
		s.offsetX += screenX - s.panAnchor.X
		s.offsetY += screenY - s.panAnchor.Y
		s.panAnchor = Point{X: screenX, Y: screenY}
		return
	}
	if !s.drawing {
		return
	}

	p := s.toCanvasLocked(screenX, screenY)
	s.pendingPoint = &p
}

// Flush - rasterize the latched point, if any, as a segment from the last
// committed point.
func (s *Session) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// EndGesture - pointer up: flush the tail segment and close the gesture
func (s *Session) EndGesture() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.panning {
		s.panning = false
		return
	}
	if !s.drawing {
		return
	}
	s.flushLocked()
	s.drawing = false
}

// Undo - restore the layer to the snapshot before the latest stroke
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.undoStack) == 0 || s.drawing {
		return false
	}

	s.redoStack = append(s.redoStack, cloneRGBA(s.layer))
	s.layer = s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	return true
}

// Redo - reapply the latest undone stroke
func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.redoStack) == 0 || s.drawing {
		return false
	}

	s.undoStack = append(s.undoStack, cloneRGBA(s.layer))
	s.layer = s.redoStack[len(s.redoStack)-1]
	s.redoStack = s.redoStack[:len(s.redoStack)-1]
	return true
}

// Clear - wipe the annotation layer. Undoable like a stroke.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.layer == nil || s.drawing {
		return
	}
	s.pushUndoLocked()
	s.redoStack = nil
	s.layer = image.NewRGBA(s.layer.Bounds())
}

// UndoDepth - snapshots currently available to Undo
func (s *Session) UndoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undoStack)
}

// RedoDepth - snapshots currently available to Redo
func (s *Session) RedoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redoStack)
}

// SetZoom - clamp into [MinZoom, MaxZoom]
func (s *Session) SetZoom(z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = math.Min(MaxZoom, math.Max(MinZoom, z))
}

// Zoom - current zoom factor
func (s *Session) Zoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

// SetOffset - absolute pan offset in screen pixels
func (s *Session) SetOffset(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsetX, s.offsetY = x, y
}

// Offset - current pan offset
func (s *Session) Offset() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsetX, s.offsetY
}

// ResetView - zoom 1.0, offset zero
func (s *Session) ResetView() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetViewLocked()
}

// Composite - base plus annotation layer flattened to PNG at base resolution.
// The view transform is not applied.
func (s *Session) Composite() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.base == nil {
		log.Println("⚠️  Composite skipped: no base image loaded")
		return nil, fmt.Errorf("no base image loaded")
	}

	bounds := image.Rect(0, 0, s.base.Bounds().Dx(), s.base.Bounds().Dy())
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, s.base, s.base.Bounds().Min, draw.Src)
	if s.layer != nil {
		draw.Draw(out, bounds, s.layer, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode composite: %w", err)
	}
	return buf.Bytes(), nil
}

// HasAnnotations - whether any layer pixel is non-transparent
func (s *Session) HasAnnotations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.layer == nil {
		return false
	}
	for i := 3; i < len(s.layer.Pix); i += 4 {
		if s.layer.Pix[i] != 0 {
			return true
		}
	}
	return false
}

func (s *Session) resetViewLocked() {
	s.zoom = 1.0
	s.offsetX = 0
	s.offsetY = 0
}

// toCanvasLocked - invert the view transform: screen -> canvas pixels
func (s *Session) toCanvasLocked(screenX, screenY float64) Point {
	return Point{
		X: (screenX - s.offsetX) / s.zoom,
		Y: (screenY - s.offsetY) / s.zoom,
	}
}

func (s *Session) flushLocked() {
	if !s.drawing || s.pendingPoint == nil {
		return
	}
	s.drawSegmentLocked(s.lastPoint, *s.pendingPoint)
	s.lastPoint = *s.pendingPoint
	s.pendingPoint = nil
}

func (s *Session) pushUndoLocked() {
	s.undoStack = append(s.undoStack, cloneRGBA(s.layer))
	if len(s.undoStack) > MaxUndoDepth {
		s.undoStack = append([]*image.RGBA(nil), s.undoStack[len(s.undoStack)-MaxUndoDepth:]...)
	}
}

// brushLocked - per-tool radius and paint. Widths scale with the base image
// so strokes keep their apparent size on large renders.
func (s *Session) brushLocked() (radius float64, paint color.RGBA, erase bool) {
	baseW := float64(s.layer.Bounds().Dx())
	scale := math.Max(1, baseW/2000)

	switch s.tool {
	case ToolMarker:
		// translucent red, premultiplied at 50% alpha
		return s.strokeWidth * 4 * scale / 2, color.RGBA{R: 128, G: 0, B: 0, A: 128}, false
	case ToolEraser:
		return math.Max(10, baseW/50) / 2, color.RGBA{}, true
	default:
		// pencil: opaque darker red
		return s.strokeWidth * scale / 2, color.RGBA{R: 204, G: 34, B: 34, A: 255}, false
	}
}

func (s *Session) stampLocked(p Point) {
	radius, paint, erase := s.brushLocked()
	stampCircle(s.layer, p, radius, paint, erase)
}

// drawSegmentLocked - stamp the brush along the segment at sub-radius steps
func (s *Session) drawSegmentLocked(from, to Point) {
	radius, paint, erase := s.brushLocked()

	dx, dy := to.X-from.X, to.Y-from.Y
	dist := math.Hypot(dx, dy)
	step := math.Max(1, radius/2)
	steps := int(dist/step) + 1

	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stampCircle(s.layer, Point{X: from.X + dx*t, Y: from.Y + dy*t}, radius, paint, erase)
	}
}

// stampCircle - one circular brush stamp. Paint writes the pixel directly so
// re-stamping within a stroke never stacks translucency; erase drops alpha
// to zero (destination-out).
func stampCircle(layer *image.RGBA, center Point, radius float64, paint color.RGBA, erase bool) {
	if layer == nil {
		return
	}
	bounds := layer.Bounds()

	minX := int(math.Floor(center.X - radius))
	maxX := int(math.Ceil(center.X + radius))
	minY := int(math.Floor(center.Y - radius))
	maxY := int(math.Ceil(center.Y + radius))

	if minX < bounds.Min.X {
		minX = bounds.Min.X
	}
	if minY < bounds.Min.Y {
		minY = bounds.Min.Y
	}
	if maxX >= bounds.Max.X {
		maxX = bounds.Max.X - 1
	}
	if maxY >= bounds.Max.Y {
		maxY = bounds.Max.Y - 1
	}

	r2 := radius * radius
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			ddx := float64(x) + 0.5 - center.X
			ddy := float64(y) + 0.5 - center.Y
			if ddx*ddx+ddy*ddy > r2 {
				continue
			}
			i := layer.PixOffset(x, y)
			if erase {
				layer.Pix[i] = 0
				layer.Pix[i+1] = 0
				layer.Pix[i+2] = 0
				layer.Pix[i+3] = 0
				continue
			}
			layer.Pix[i] = paint.R
			layer.Pix[i+1] = paint.G
			layer.Pix[i+2] = paint.B
			layer.Pix[i+3] = paint.A
		}
	}
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	if src == nil {
		return nil
	}
	out := image.NewRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	return out
}
