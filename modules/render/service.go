package render

import (
	"context"
	"fmt"
	"log"
	"time"

	"google.golang.org/genai"

	"archiviz-render-server/modules/common/config"
	"archiviz-render-server/modules/common/credit"
	geminiclient "archiviz-render-server/modules/common/gemini"
	"archiviz-render-server/modules/common/utils"
	"archiviz-render-server/modules/history"
)

// Dispatcher - the single upstream call slot the service retries over
type Dispatcher interface {
	Dispatch(ctx context.Context, req *geminiclient.Request) (*geminiclient.Result, error)
}

// stylePacing - fixed pause between style-reference generations, tuned to the
// upstream per-minute rate limit
const stylePacing = 1000 * time.Millisecond

// Service - translates user intents into upstream calls with preprocessing,
// prompt assembly, retry, credits, and history bookkeeping
type Service struct {
	cfg        *config.Config
	dispatcher Dispatcher
	credits    credit.Store
	history    *history.Store
	pacing     time.Duration
}

// NewService - wire the render service
func NewService(cfg *config.Config, dispatcher Dispatcher, credits credit.Store, historyStore *history.Store) *Service {
	return &Service{
		cfg:        cfg,
		dispatcher: dispatcher,
		credits:    credits,
		history:    historyStore,
		pacing:     stylePacing,
	}
}

// History - the history store this service appends to
func (s *Service) History() *history.Store {
	return s.history
}

// buildRequest - preprocess images and assemble the upstream payload
func (s *Service) buildRequest(req *GenerationRequest) (*geminiclient.Request, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	aspectRatio := req.AspectRatio
	var parts []*genai.Part

	if req.BaseImage != nil {
		resized := utils.ResizeForTransmission(req.BaseImage, utils.MaxBaseEdge)
		if aspectRatio == "" {
			if w, h, err := utils.ImageDimensions(resized); err == nil {
				aspectRatio = utils.ClosestAspectRatio(w, h)
			}
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: "image/png", Data: resized},
		})
	}

	for _, ref := range req.ReferenceImages {
		resized := utils.ResizeForTransmission(ref, utils.MaxReferenceEdge)
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: "image/png", Data: resized},
		})
	}

	if aspectRatio == "" {
		aspectRatio = "16:9"
	}

	prompt := BuildPrompt(req.Task, req.Instruction, req.ProjectContext)
	parts = append(parts, genai.NewPartFromText(prompt))

	imageSize := string(req.Resolution)
	if imageSize == "" {
		imageSize = string(Resolution1K)
	}

	genConfig := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
		ImageConfig: &genai.ImageConfig{
			AspectRatio: aspectRatio,
			ImageSize:   imageSize,
		},
	}

	// web-search grounding only when a project context link is supplied
	if req.ProjectContext != "" {
		genConfig.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	return &geminiclient.Request{
		Model:  s.cfg.GeminiImageModel,
		Parts:  parts,
		Config: genConfig,
	}, nil
}

// GenerateOne - one request, one upstream call (with retry). No credit
// bookkeeping; batch-level operations own that.
func (s *Service) GenerateOne(ctx context.Context, req *GenerationRequest) (*GenerationResult, error) {
	payload, err := s.buildRequest(req)
	if err != nil {
		return nil, err
	}

	result, err := geminiclient.DispatchWithRetry(ctx, func(ctx context.Context) (*geminiclient.Result, error) {
		return s.dispatcher.Dispatch(ctx, payload)
	}, geminiclient.DefaultMaxRetries, geminiclient.DefaultInitialDelay)
	if err != nil {
		return nil, err
	}

	if result.ImageData == nil {
		return nil, geminiclient.ErrNoContent
	}

	return &GenerationResult{
		ImageData: result.ImageData,
		MIMEType:  result.MIMEType,
		FileName:  resultFileName(string(req.Task)),
	}, nil
}

// GenerateBatch - process N requests strictly sequentially; batch-or-nothing.
// Credits are checked before the first call and debited once after the whole
// batch succeeds, scaled by item count.
func (s *Service) GenerateBatch(ctx context.Context, userID string, reqs []*GenerationRequest) (*history.Batch, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}

	cost := OperationCost(s.cfg, OpGenerate, len(reqs))
	if userID != "" {
		if err := credit.EnsureSufficient(ctx, s.credits, userID, cost); err != nil {
			return nil, err
		}
	}

	log.Printf("🎨 Starting batch: task=%s items=%d cost=%d", reqs[0].Task, len(reqs), cost)

	results := make([]history.Result, 0, len(reqs))
	for i, req := range reqs {
		log.Printf("🎨 Batch item %d/%d", i+1, len(reqs))

		generated, err := s.GenerateOne(ctx, req)
		if err != nil {
			// batch-or-nothing: partials already produced are discarded
			log.Printf("❌ Batch aborted at item %d/%d: %v", i+1, len(reqs), err)
			return nil, fmt.Errorf("batch failed at image %d: %w", i+1, err)
		}

		results = append(results, history.Result{
			ID:          history.NewID("result"),
			InputImage:  utils.ToDataURI(req.BaseImage, "image/png"),
			OutputImage: utils.ToDataURI(generated.ImageData, generated.MIMEType),
		})
	}

	refs := make([]string, 0, len(reqs[0].ReferenceImages))
	for _, ref := range reqs[0].ReferenceImages {
		refs = append(refs, utils.ToDataURI(ref, "image/png"))
	}

	prompt := reqs[0].Instruction
	if prompt == "" {
		prompt = DefaultInstruction(reqs[0].Task)
	}

	batch := history.Batch{
		ID:              history.NewID("batch"),
		TaskType:        string(reqs[0].Task),
		Prompt:          prompt,
		CreatedAt:       time.Now(),
		Results:         results,
		ReferenceImages: refs,
	}

	if s.history != nil {
		s.history.AddBatch(batch)
	}

	// debit only after the whole batch succeeded
	if userID != "" {
		if err := s.credits.Deduct(ctx, userID, batch.ID, cost, "Render generation batch"); err != nil {
			log.Printf("⚠️  Failed to deduct credits for batch %s: %v", batch.ID, err)
		}
	}

	log.Printf("✅ Batch completed: %s (%d results)", batch.ID, len(results))
	return &batch, nil
}

// Upscale - reproduce an image at a higher resolution tier (fixed 2K output)
func (s *Service) Upscale(ctx context.Context, userID string, imageData []byte) (*GenerationResult, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("no image to upscale")
	}

	cost := OperationCost(s.cfg, OpUpscale, 1)
	if userID != "" {
		if err := credit.EnsureSufficient(ctx, s.credits, userID, cost); err != nil {
			return nil, err
		}
	}

	resized := utils.ResizeForTransmission(imageData, utils.MaxUpscaleEdge)

	aspectRatio := "16:9"
	if w, h, err := utils.ImageDimensions(resized); err == nil {
		aspectRatio = utils.ClosestAspectRatio(w, h)
	}

	payload := &geminiclient.Request{
		Model: s.cfg.GeminiImageModel,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: resized}},
			genai.NewPartFromText(UpscalePrompt()),
		},
		Config: &genai.GenerateContentConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
			ImageConfig: &genai.ImageConfig{
				AspectRatio: aspectRatio,
				ImageSize:   string(Resolution2K),
			},
		},
	}

	result, err := geminiclient.DispatchWithRetry(ctx, func(ctx context.Context) (*geminiclient.Result, error) {
		return s.dispatcher.Dispatch(ctx, payload)
	}, geminiclient.DefaultMaxRetries, geminiclient.DefaultInitialDelay)
	if err != nil {
		return nil, err
	}
	if result.ImageData == nil {
		return nil, geminiclient.ErrNoContent
	}

	if userID != "" {
		if err := s.credits.Deduct(ctx, userID, "", cost, "Render upscale"); err != nil {
			log.Printf("⚠️  Failed to deduct upscale credits: %v", err)
		}
	}

	return &GenerationResult{
		ImageData: result.ImageData,
		MIMEType:  result.MIMEType,
		FileName:  resultFileName("upscale"),
	}, nil
}

// Analyze - vision analysis over an image; returns free text
func (s *Service) Analyze(ctx context.Context, userID string, imageData []byte, question string) (string, error) {
	if len(imageData) == 0 {
		return "", fmt.Errorf("no image to analyze")
	}
	if question == "" {
		question = "Describe this architectural render: style, materials, lighting, and suggested improvements."
	}

	cost := OperationCost(s.cfg, OpAnalyze, 1)
	if userID != "" {
		if err := credit.EnsureSufficient(ctx, s.credits, userID, cost); err != nil {
			return "", err
		}
	}

	resized := utils.ResizeForTransmission(imageData, utils.MaxReferenceEdge)

	payload := &geminiclient.Request{
		Model: s.cfg.GeminiAnalysisModel,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: resized}},
			genai.NewPartFromText(question),
		},
		Config: &genai.GenerateContentConfig{
			ResponseModalities: []string{"TEXT"},
		},
	}

	result, err := geminiclient.DispatchWithRetry(ctx, func(ctx context.Context) (*geminiclient.Result, error) {
		return s.dispatcher.Dispatch(ctx, payload)
	}, geminiclient.DefaultMaxRetries, geminiclient.DefaultInitialDelay)
	if err != nil {
		return "", err
	}
	if result.Text == "" {
		return "", geminiclient.ErrNoContent
	}

	if userID != "" {
		if err := s.credits.Deduct(ctx, userID, "", cost, "Render analysis"); err != nil {
			log.Printf("⚠️  Failed to deduct analysis credits: %v", err)
		}
	}

	return result.Text, nil
}

// GenerateStyleImages - synthesize style/reference images from descriptions.
// Strictly sequential with a fixed pause between calls to respect the
// upstream per-minute rate limit. Batch-or-nothing like generation.
func (s *Service) GenerateStyleImages(ctx context.Context, userID string, descriptions []string, aspectRatio string) ([]*GenerationResult, error) {
	if len(descriptions) == 0 {
		return nil, fmt.Errorf("no style descriptions")
	}
	if aspectRatio == "" {
		aspectRatio = "1:1"
	}

	cost := OperationCost(s.cfg, OpStyleImage, len(descriptions))
	if userID != "" {
		if err := credit.EnsureSufficient(ctx, s.credits, userID, cost); err != nil {
			return nil, err
		}
	}

	results := make([]*GenerationResult, 0, len(descriptions))
	for i, description := range descriptions {
		if i > 0 && s.pacing > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.pacing):
			}
		}

		log.Printf("🖼️  Style image %d/%d", i+1, len(descriptions))

		payload := &geminiclient.Request{
			Model: s.cfg.GeminiImageModel,
			Parts: []*genai.Part{genai.NewPartFromText(BuildStylePrompt(description))},
			Config: &genai.GenerateContentConfig{
				ResponseModalities: []string{"IMAGE", "TEXT"},
				ImageConfig: &genai.ImageConfig{
					AspectRatio: aspectRatio,
					ImageSize:   string(Resolution1K),
				},
			},
		}

		result, err := geminiclient.DispatchWithRetry(ctx, func(ctx context.Context) (*geminiclient.Result, error) {
			return s.dispatcher.Dispatch(ctx, payload)
		}, geminiclient.DefaultMaxRetries, geminiclient.DefaultInitialDelay)
		if err != nil {
			return nil, fmt.Errorf("style batch failed at image %d: %w", i+1, err)
		}
		if result.ImageData == nil {
			return nil, geminiclient.ErrNoContent
		}

		results = append(results, &GenerationResult{
			ImageData: result.ImageData,
			MIMEType:  result.MIMEType,
			FileName:  resultFileName("style"),
		})
	}

	if userID != "" {
		if err := s.credits.Deduct(ctx, userID, "", cost, fmt.Sprintf("Style image batch (%d)", len(descriptions))); err != nil {
			log.Printf("⚠️  Failed to deduct style batch credits: %v", err)
		}
	}

	return results, nil
}

// resultFileName - timestamped download filename suggestion
func resultFileName(kind string) string {
	return fmt.Sprintf("archiviz_%s_%s.png", kind, time.Now().Format("20060102_150405"))
}

// SetPacing - test hook for the style batch pause
func (s *Service) SetPacing(d time.Duration) {
	s.pacing = d
}
