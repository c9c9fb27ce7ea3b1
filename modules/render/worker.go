package render

import (
	"context"
	"fmt"
	"log"

	redislib "github.com/redis/go-redis/v9"

	"archiviz-render-server/modules/common/credit"
	"archiviz-render-server/modules/common/database"
	"archiviz-render-server/modules/common/fallback"
	geminiclient "archiviz-render-server/modules/common/gemini"
	"archiviz-render-server/modules/common/model"
	redisutil "archiviz-render-server/modules/common/redis"
	"archiviz-render-server/modules/common/storage"
)

// ProgressPublisher - where per-item progress events go (websocket hub)
type ProgressPublisher interface {
	Publish(jobID string, event interface{})
}

// ProgressEvent - one item-level progress update
type ProgressEvent struct {
	Type      string `json:"type"` // item_completed | job_completed | job_failed | job_cancelled
	JobID     string `json:"jobId"`
	Completed int    `json:"completed,omitempty"`
	Total     int    `json:"total,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Deps - everything a queued render job needs
type Deps struct {
	DB       *database.Client
	Storage  *storage.Client
	Redis    *redislib.Client
	Service  *Service
	Progress ProgressPublisher
}

// ProcessJob - run one queued job end to end. Jobs are batch-or-nothing:
// a failure at item k discards everything already produced.
func ProcessJob(ctx context.Context, deps *Deps, job *model.RenderJob) {
	log.Printf("🚀 Processing job: %s (type: %s)", job.JobID, job.JobType)

	if err := deps.DB.UpdateJobStatus(ctx, job.JobID, model.StatusProcessing); err != nil {
		log.Printf("❌ Failed to mark job processing: %v", err)
		return
	}

	var err error
	switch job.JobType {
	case OpGenerate:
		err = processGenerateJob(ctx, deps, job)
	case OpUpscale:
		err = processUpscaleJob(ctx, deps, job)
	case OpAnalyze:
		err = processAnalyzeJob(ctx, deps, job)
	case OpStyleImage:
		err = processStyleJob(ctx, deps, job)
	default:
		log.Printf("⚠️  Unknown job_type: %s, using generate", job.JobType)
		err = processGenerateJob(ctx, deps, job)
	}

	redisutil.ClearJobCancelled(deps.Redis, job.JobID)

	if err != nil {
		message := geminiclient.UserMessage(err)
		log.Printf("❌ Job %s failed: %v", job.JobID, err)
		if dbErr := deps.DB.FailJob(ctx, job.JobID, message); dbErr != nil {
			log.Printf("❌ Failed to record job failure: %v", dbErr)
		}
		publish(deps, job.JobID, ProgressEvent{Type: "job_failed", JobID: job.JobID, Error: message})
		return
	}

	log.Printf("✅ Job %s completed", job.JobID)
}

// processGenerateJob - N sequential generations over the input images
func processGenerateJob(ctx context.Context, deps *Deps, job *model.RenderJob) error {
	input := job.JobInputData

	taskStr := fallback.SafeString(input["taskType"], string(TaskPerspective))
	if job.TaskType != nil && *job.TaskType != "" {
		taskStr = *job.TaskType
	}
	task, err := ParseTaskType(taskStr)
	if err != nil {
		return err
	}

	instruction := fallback.SafeString(input["instruction"], "")
	aspectRatio := fallback.SafeString(input["aspectRatio"], "")
	resolution := fallback.SafeString(input["resolution"], string(Resolution1K))
	projectContext := fallback.SafeString(input["projectContext"], "")
	userID := fallback.SafeString(input["userId"], "")

	inputAttachIDs := fallback.SafeIntSlice(input["inputAttachIds"])
	if len(inputAttachIDs) == 0 {
		return fmt.Errorf("no input images in job %s", job.JobID)
	}

	referenceAttachIDs := fallback.SafeIntSlice(input["referenceAttachIds"])
	if len(referenceAttachIDs) > MaxReferenceImages {
		referenceAttachIDs = referenceAttachIDs[:MaxReferenceImages]
	}

	// shared reference images download once
	references := make([][]byte, 0, len(referenceAttachIDs))
	for _, refID := range referenceAttachIDs {
		data, err := deps.Storage.DownloadImage(refID)
		if err != nil {
			return fmt.Errorf("failed to download reference %d: %w", refID, err)
		}
		references = append(references, data)
	}

	// build every request up front so validation failures beat any dispatch
	reqs := make([]*GenerationRequest, 0, len(inputAttachIDs))
	for _, attachID := range inputAttachIDs {
		data, err := deps.Storage.DownloadImage(attachID)
		if err != nil {
			return fmt.Errorf("failed to download input %d: %w", attachID, err)
		}
		reqs = append(reqs, &GenerationRequest{
			Task:            task,
			BaseImage:       data,
			ReferenceImages: references,
			Instruction:     instruction,
			AspectRatio:     aspectRatio,
			Resolution:      ResolutionTier(resolution),
			ProjectContext:  projectContext,
		})
	}

	// credits are verified before the first dispatch, debited after the last
	if userID != "" {
		cost := OperationCost(deps.Service.cfg, OpGenerate, len(reqs))
		if err := credit.EnsureSufficient(ctx, deps.Service.credits, userID, cost); err != nil {
			return err
		}
	}

	// strictly sequential: item i+1 does not begin until item i settled
	outputs := make([]*GenerationResult, 0, len(reqs))
	for i, req := range reqs {
		if redisutil.IsJobCancelled(deps.Redis, job.JobID) {
			log.Printf("🛑 Job %s cancelled before item %d, discarding batch", job.JobID, i+1)
			publish(deps, job.JobID, ProgressEvent{Type: "job_cancelled", JobID: job.JobID})
			return deps.DB.UpdateJobStatus(ctx, job.JobID, model.StatusUserCancelled)
		}

		result, err := deps.Service.GenerateOne(ctx, req)
		if err != nil {
			return fmt.Errorf("batch failed at image %d: %w", i+1, err)
		}
		outputs = append(outputs, result)

		publish(deps, job.JobID, ProgressEvent{
			Type: "item_completed", JobID: job.JobID, Completed: i + 1, Total: len(reqs),
		})
	}

	// the whole batch succeeded: only now do uploads, bookkeeping, and debit
	attachIDs := make([]int, 0, len(outputs))
	for _, output := range outputs {
		_, attachID, err := deps.Storage.UploadGeneratedImage(ctx, output.ImageData, userID)
		if err != nil {
			return fmt.Errorf("failed to store generated image: %w", err)
		}
		attachIDs = append(attachIDs, attachID)
	}

	if err := deps.DB.UpdateJobProgress(ctx, job.JobID, len(attachIDs), attachIDs); err != nil {
		log.Printf("⚠️  Failed to update job progress: %v", err)
	}

	if userID != "" {
		cost := OperationCost(deps.Service.cfg, OpGenerate, len(attachIDs))
		if err := deps.Service.credits.Deduct(ctx, userID, job.JobID, cost, "Render generation batch"); err != nil {
			log.Printf("⚠️  Failed to deduct credits for job %s: %v", job.JobID, err)
		}
	}

	if err := deps.DB.UpdateJobStatus(ctx, job.JobID, model.StatusCompleted); err != nil {
		return err
	}

	publish(deps, job.JobID, ProgressEvent{
		Type: "job_completed", JobID: job.JobID, Completed: len(attachIDs), Total: len(attachIDs),
	})
	return nil
}

// processUpscaleJob - single-image upscale to the 2K tier
func processUpscaleJob(ctx context.Context, deps *Deps, job *model.RenderJob) error {
	input := job.JobInputData
	userID := fallback.SafeString(input["userId"], "")

	attachIDs := fallback.SafeIntSlice(input["inputAttachIds"])
	if len(attachIDs) == 0 {
		return fmt.Errorf("no input image in upscale job %s", job.JobID)
	}

	data, err := deps.Storage.DownloadImage(attachIDs[0])
	if err != nil {
		return err
	}

	result, err := deps.Service.Upscale(ctx, userID, data)
	if err != nil {
		return err
	}

	_, attachID, err := deps.Storage.UploadGeneratedImage(ctx, result.ImageData, userID)
	if err != nil {
		return fmt.Errorf("failed to store upscaled image: %w", err)
	}

	if err := deps.DB.UpdateJobProgress(ctx, job.JobID, 1, []int{attachID}); err != nil {
		log.Printf("⚠️  Failed to update job progress: %v", err)
	}

	if err := deps.DB.UpdateJobStatus(ctx, job.JobID, model.StatusCompleted); err != nil {
		return err
	}

	publish(deps, job.JobID, ProgressEvent{Type: "job_completed", JobID: job.JobID, Completed: 1, Total: 1})
	return nil
}

// processAnalyzeJob - vision analysis; the text lands on the job row
func processAnalyzeJob(ctx context.Context, deps *Deps, job *model.RenderJob) error {
	input := job.JobInputData
	userID := fallback.SafeString(input["userId"], "")
	question := fallback.SafeString(input["question"], "")

	attachIDs := fallback.SafeIntSlice(input["inputAttachIds"])
	if len(attachIDs) == 0 {
		return fmt.Errorf("no input image in analyze job %s", job.JobID)
	}

	data, err := deps.Storage.DownloadImage(attachIDs[0])
	if err != nil {
		return err
	}

	text, err := deps.Service.Analyze(ctx, userID, data, question)
	if err != nil {
		return err
	}

	log.Printf("📄 Analysis result for job %s: %d chars", job.JobID, len(text))
	if err := deps.DB.UpdateJobStatus(ctx, job.JobID, model.StatusCompleted); err != nil {
		return err
	}

	// the analysis text rides on the completion event
	publish(deps, job.JobID, ProgressEvent{Type: "job_completed", JobID: job.JobID, Completed: 1, Total: 1, Text: text})
	return nil
}

// processStyleJob - sequential style-image synthesis with rate pacing
func processStyleJob(ctx context.Context, deps *Deps, job *model.RenderJob) error {
	input := job.JobInputData
	userID := fallback.SafeString(input["userId"], "")
	aspectRatio := fallback.SafeString(input["aspectRatio"], "1:1")

	descriptions := fallback.SafeStringSlice(input["styleDescriptions"])
	if len(descriptions) == 0 {
		return fmt.Errorf("no style descriptions in job %s", job.JobID)
	}

	results, err := deps.Service.GenerateStyleImages(ctx, userID, descriptions, aspectRatio)
	if err != nil {
		return err
	}

	attachIDs := make([]int, 0, len(results))
	for _, result := range results {
		_, attachID, err := deps.Storage.UploadGeneratedImage(ctx, result.ImageData, userID)
		if err != nil {
			return fmt.Errorf("failed to store style image: %w", err)
		}
		attachIDs = append(attachIDs, attachID)
	}

	if err := deps.DB.UpdateJobProgress(ctx, job.JobID, len(attachIDs), attachIDs); err != nil {
		log.Printf("⚠️  Failed to update job progress: %v", err)
	}

	if err := deps.DB.UpdateJobStatus(ctx, job.JobID, model.StatusCompleted); err != nil {
		return err
	}

	publish(deps, job.JobID, ProgressEvent{
		Type: "job_completed", JobID: job.JobID, Completed: len(attachIDs), Total: len(attachIDs),
	})
	return nil
}

func publish(deps *Deps, jobID string, event ProgressEvent) {
	if deps.Progress != nil {
		deps.Progress.Publish(jobID, event)
	}
}
