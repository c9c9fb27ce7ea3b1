package render

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"archiviz-render-server/modules/common/credit"
	geminiclient "archiviz-render-server/modules/common/gemini"
	"archiviz-render-server/modules/common/utils"
	"archiviz-render-server/modules/history"
)

// Handler - synchronous HTTP surface over the render service
type Handler struct {
	service *Service
}

// NewHandler - wire the handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - mount the render API
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/upscale", h.HandleUpscale).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/analyze", h.HandleAnalyze).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/style-images", h.HandleStyleImages).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/history", h.HandleHistory).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/history/feedback", h.HandleFeedback).Methods("POST", "OPTIONS")
}

// GenerateRequestBody - one batch of generations over data-URI images
type GenerateRequestBody struct {
	TaskType        string   `json:"taskType"`
	BaseImages      []string `json:"baseImages"` // data URIs, one generation each
	ReferenceImages []string `json:"referenceImages"`
	Instruction     string   `json:"instruction"`
	AspectRatio     string   `json:"aspectRatio"`
	Resolution      string   `json:"resolution"`
	ProjectContext  string   `json:"projectContext"`
	UserID          string   `json:"userId"`
}

// HandleGenerate - synchronous batch generation; the whole batch succeeds or
// nothing is returned
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body GenerateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	task, err := ParseTaskType(body.TaskType)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.BaseImages) == 0 {
		respondError(w, http.StatusBadRequest, "At least one base image is required")
		return
	}
	if len(body.ReferenceImages) > MaxReferenceImages {
		respondError(w, http.StatusBadRequest, "Too many reference images")
		return
	}

	references := make([][]byte, 0, len(body.ReferenceImages))
	for _, uri := range body.ReferenceImages {
		data, _, err := utils.FromDataURI(uri)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid reference image data")
			return
		}
		references = append(references, data)
	}

	reqs := make([]*GenerationRequest, 0, len(body.BaseImages))
	for _, uri := range body.BaseImages {
		data, _, err := utils.FromDataURI(uri)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid base image data")
			return
		}
		reqs = append(reqs, &GenerationRequest{
			Task:            task,
			BaseImage:       data,
			ReferenceImages: references,
			Instruction:     body.Instruction,
			AspectRatio:     body.AspectRatio,
			Resolution:      ResolutionTier(body.Resolution),
			ProjectContext:  body.ProjectContext,
		})
	}

	batch, err := h.service.GenerateBatch(r.Context(), body.UserID, reqs)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"batch":   batch,
	})
}

// UpscaleRequestBody - single image upscale
type UpscaleRequestBody struct {
	Image  string `json:"image"` // data URI
	UserID string `json:"userId"`
}

// HandleUpscale - reproduce one image at the 2K tier
func (h *Handler) HandleUpscale(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body UpscaleRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	data, _, err := utils.FromDataURI(body.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid image data")
		return
	}

	result, err := h.service.Upscale(r.Context(), body.UserID, data)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"image":    utils.ToDataURI(result.ImageData, result.MIMEType),
		"fileName": result.FileName,
	})
}

// AnalyzeRequestBody - vision analysis over one image
type AnalyzeRequestBody struct {
	Image    string `json:"image"` // data URI
	Question string `json:"question"`
	UserID   string `json:"userId"`
}

// HandleAnalyze - free-text analysis of an architectural render
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body AnalyzeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	data, _, err := utils.FromDataURI(body.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid image data")
		return
	}

	text, err := h.service.Analyze(r.Context(), body.UserID, data, body.Question)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"analysis": text,
	})
}

// StyleImagesRequestBody - text-to-image style reference batch
type StyleImagesRequestBody struct {
	Descriptions []string `json:"descriptions"`
	AspectRatio  string   `json:"aspectRatio"`
	UserID       string   `json:"userId"`
}

// HandleStyleImages - sequential style-image synthesis
func (h *Handler) HandleStyleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body StyleImagesRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.Descriptions) == 0 {
		respondError(w, http.StatusBadRequest, "At least one style description is required")
		return
	}

	results, err := h.service.GenerateStyleImages(r.Context(), body.UserID, body.Descriptions, body.AspectRatio)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	images := make([]string, 0, len(results))
	for _, result := range results {
		images = append(images, utils.ToDataURI(result.ImageData, result.MIMEType))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"images":  images,
	})
}

// HandleHistory - newest-first snapshot of the in-memory batch history
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"batches": h.service.History().List(),
	})
}

// FeedbackRequestBody - like/dislike on one history result
type FeedbackRequestBody struct {
	BatchID  string `json:"batchId"`
	ResultID string `json:"resultId"`
	Feedback string `json:"feedback"` // like | dislike
}

// HandleFeedback - record result feedback
func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body FeedbackRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fb := history.Feedback(body.Feedback)
	if fb != history.FeedbackLike && fb != history.FeedbackDislike {
		respondError(w, http.StatusBadRequest, "Feedback must be like or dislike")
		return
	}

	if err := h.service.History().SetFeedback(body.BatchID, body.ResultID, fb); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, credit.ErrInsufficientCredits) {
		status = http.StatusPaymentRequired
	}
	respondError(w, status, geminiclient.UserMessage(err))
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
