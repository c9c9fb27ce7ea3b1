package worker

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"archiviz-render-server/modules/common/database"
	"archiviz-render-server/modules/common/model"
	redisutil "archiviz-render-server/modules/common/redis"
)

// CancelHandler - sets the cancel flag a running job checks between images.
// A generation already in flight always finishes; the batch stops before the
// next one starts.
type CancelHandler struct {
	rdb *redis.Client
	db  *database.Client
}

// NewCancelHandler - wire the handler
func NewCancelHandler(rdb *redis.Client, db *database.Client) *CancelHandler {
	if rdb == nil || db == nil {
		log.Println("❌ [CancelHandler] Missing Redis or Database connection")
		return nil
	}
	return &CancelHandler{rdb: rdb, db: db}
}

// RegisterRoutes - mount the cancel endpoint
func (h *CancelHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/jobs/{jobId}/cancel", h.CancelJob).Methods("POST", "OPTIONS")
	log.Println("✅ [CancelHandler] Routes registered: POST /api/jobs/{jobId}/cancel")
}

// CancelJob - POST /api/jobs/{jobId}/cancel
func (h *CancelHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	vars := mux.Vars(r)
	jobID := vars["jobId"]

	if jobID == "" {
		http.Error(w, `{"error": "jobId is required"}`, http.StatusBadRequest)
		return
	}

	log.Printf("🛑 [CancelHandler] Cancel requested for job: %s", jobID)

	if err := redisutil.SetJobCancelled(h.rdb, jobID); err != nil {
		log.Printf("❌ [CancelHandler] Failed to set cancel flag: %v", err)
		http.Error(w, `{"error": "Failed to set cancel flag"}`, http.StatusInternalServerError)
		return
	}

	job, err := h.db.FetchJob(jobID)
	if err != nil {
		log.Printf("❌ [CancelHandler] Job not found: %s", jobID)
		http.Error(w, `{"error": "Job not found"}`, http.StatusNotFound)
		return
	}

	// completed or already-cancelled jobs cannot be cancelled
	if job.JobStatus == model.StatusCompleted || job.JobStatus == model.StatusUserCancelled {
		log.Printf("⚠️ [CancelHandler] Job already %s: %s", job.JobStatus, jobID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":          false,
			"message":          "Job already " + job.JobStatus,
			"job_id":           jobID,
			"job_status":       job.JobStatus,
			"completed_images": job.CompletedImages,
		})
		return
	}

	log.Printf("✅ [CancelHandler] Cancel flag set for job: %s (current status: %s, completed: %d)",
		jobID, job.JobStatus, job.CompletedImages)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":          true,
		"message":          "Cancel request sent. Job will stop after current image.",
		"job_id":           jobID,
		"current_status":   job.JobStatus,
		"completed_images": job.CompletedImages,
		"total_images":     job.TotalImages,
	})
}
