package model

import "time"

// RenderJob - archi_render_jobs table row
type RenderJob struct {
	JobID              string                 `json:"job_id"`
	JobType            string                 `json:"job_type"` // generate | upscale | analyze | style_image
	TaskType           *string                `json:"task_type"`
	JobStatus          string                 `json:"job_status"`
	TotalImages        int                    `json:"total_images"`
	CompletedImages    int                    `json:"completed_images"`
	FailedImages       int                    `json:"failed_images"`
	JobInputData       map[string]interface{} `json:"job_input_data"`
	GeneratedAttachIDs []interface{}          `json:"generated_attach_ids"`
	ErrorMessage       *string                `json:"error_message"`
	RetryCount         int                    `json:"retry_count"`
	EstimatedCredits   int                    `json:"estimated_credits"`
	MemberID           *string                `json:"member_id"`
	CreatedAt          time.Time              `json:"created_at"`
	StartedAt          *time.Time             `json:"started_at"`
	CompletedAt        *time.Time             `json:"completed_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// Attach - archi_attach table row
type Attach struct {
	AttachID           int64     `json:"attach_id"`
	CreatedAt          time.Time `json:"created_at"`
	AttachOriginalName *string   `json:"attach_original_name"`
	AttachFileName     *string   `json:"attach_file_name"`
	AttachFilePath     *string   `json:"attach_file_path"`
	AttachFileSize     *int64    `json:"attach_file_size"`
	AttachFileType     *string   `json:"attach_file_type"`
	AttachDirectory    *string   `json:"attach_directory"`
	AttachStorageType  *string   `json:"attach_storage_type"`
}

const (
	StatusPending       = "pending"
	StatusProcessing    = "processing"
	StatusCompleted     = "completed"
	StatusFailed        = "failed"
	StatusUserCancelled = "user_cancelled"
)
