package annotate

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"archiviz-render-server/modules/common/utils"
)

// Manager - annotation sessions keyed by session id. One session per image
// slot; loading a new base image into an existing id replaces its state.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager - empty session registry
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

func (m *Manager) getOrCreate(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		session = NewSession()
		m.sessions[sessionID] = session
		log.Printf("✏️  Created annotation session: %s", sessionID)
	}
	return session
}

// Handler - HTTP surface over annotation sessions
type Handler struct {
	manager *Manager
}

// NewHandler - wire the handler
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes - mount the annotation API
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/annotate/{sessionId}/image", h.HandleLoadImage).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/annotate/{sessionId}/tool", h.HandleSetTool).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/annotate/{sessionId}/gesture", h.HandleGesture).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/annotate/{sessionId}/undo", h.HandleUndo).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/annotate/{sessionId}/redo", h.HandleRedo).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/annotate/{sessionId}/clear", h.HandleClear).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/annotate/{sessionId}/view", h.HandleView).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/annotate/{sessionId}/composite", h.HandleComposite).Methods("GET", "OPTIONS")
}

func (h *Handler) session(r *http.Request) *Session {
	return h.manager.getOrCreate(mux.Vars(r)["sessionId"])
}

// LoadImageBody - new base image for a session
type LoadImageBody struct {
	Image string `json:"image"` // data URI
}

// HandleLoadImage - POST /api/annotate/{sessionId}/image
func (h *Handler) HandleLoadImage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body LoadImageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	data, _, err := utils.FromDataURI(body.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image data")
		return
	}

	if err := h.session(r).LoadBaseImage(data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w)
}

// SetToolBody - tool switch with optional stroke width
type SetToolBody struct {
	Tool        string  `json:"tool"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
}

// HandleSetTool - POST /api/annotate/{sessionId}/tool
func (h *Handler) HandleSetTool(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body SetToolBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session := h.session(r)
	if err := session.SetTool(Tool(body.Tool)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.StrokeWidth > 0 {
		session.SetStrokeWidth(body.StrokeWidth)
	}
	writeOK(w)
}

// GesturePoint - one pointer sample in screen coordinates
type GesturePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GestureBody - a begin/move/end phase with its pointer samples. Move phases
// may batch many samples; only the latest is rasterized per flush.
type GestureBody struct {
	Phase  string         `json:"phase"` // begin | move | end
	Pan    bool           `json:"pan"`   // transient pan override
	Points []GesturePoint `json:"points"`
}

// HandleGesture - POST /api/annotate/{sessionId}/gesture
func (h *Handler) HandleGesture(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body GestureBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session := h.session(r)

	switch body.Phase {
	case "begin":
		if len(body.Points) == 0 {
			writeError(w, http.StatusBadRequest, "begin phase requires a point")
			return
		}
		session.BeginGesture(body.Points[0].X, body.Points[0].Y, body.Pan)

	case "move":
		for _, p := range body.Points {
			session.MoveGesture(p.X, p.Y)
		}
		session.Flush()

	case "end":
		for _, p := range body.Points {
			session.MoveGesture(p.X, p.Y)
		}
		session.EndGesture()

	default:
		writeError(w, http.StatusBadRequest, "phase must be begin, move, or end")
		return
	}

	writeOK(w)
}

// HandleUndo - POST /api/annotate/{sessionId}/undo
func (h *Handler) HandleUndo(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	applied := h.session(r).Undo()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "applied": applied})
}

// HandleRedo - POST /api/annotate/{sessionId}/redo
func (h *Handler) HandleRedo(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	applied := h.session(r).Redo()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "applied": applied})
}

// HandleClear - POST /api/annotate/{sessionId}/clear
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.session(r).Clear()
	writeOK(w)
}

// ViewBody - view transform update; Reset wins over the explicit values
type ViewBody struct {
	Zoom    *float64 `json:"zoom,omitempty"`
	OffsetX *float64 `json:"offsetX,omitempty"`
	OffsetY *float64 `json:"offsetY,omitempty"`
	Reset   bool     `json:"reset,omitempty"`
}

// HandleView - POST /api/annotate/{sessionId}/view
func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body ViewBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session := h.session(r)
	if body.Reset {
		session.ResetView()
	} else {
		if body.Zoom != nil {
			session.SetZoom(*body.Zoom)
		}
		if body.OffsetX != nil || body.OffsetY != nil {
			x, y := session.Offset()
			if body.OffsetX != nil {
				x = *body.OffsetX
			}
			if body.OffsetY != nil {
				y = *body.OffsetY
			}
			session.SetOffset(x, y)
		}
	}

	x, y := session.Offset()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"zoom":    session.Zoom(),
		"offsetX": x,
		"offsetY": y,
	})
}

// HandleComposite - GET /api/annotate/{sessionId}/composite
func (h *Handler) HandleComposite(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	data, err := h.session(r).Composite()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"image":   utils.ToDataURI(data, "image/png"),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
