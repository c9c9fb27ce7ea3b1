package render

import (
	"fmt"

	"archiviz-render-server/modules/common/config"
)

// TaskType - the five generation modes
type TaskType string

const (
	TaskPerspective     TaskType = "perspective"
	TaskFacade          TaskType = "facade"
	TaskMasterplan      TaskType = "masterplan"
	TaskMaterial        TaskType = "material"
	TaskTechnicalDetail TaskType = "technical_detail"
)

// ParseTaskType - validate an incoming task type string
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TaskPerspective, TaskFacade, TaskMasterplan, TaskMaterial, TaskTechnicalDetail:
		return TaskType(s), nil
	}
	return "", fmt.Errorf("unknown task type: %q", s)
}

// ResolutionTier - requested output size class
type ResolutionTier string

const (
	Resolution1K ResolutionTier = "1K"
	Resolution2K ResolutionTier = "2K"
	Resolution4K ResolutionTier = "4K"
)

// Operation - job types the worker processes
const (
	OpGenerate   = "generate"
	OpUpscale    = "upscale"
	OpAnalyze    = "analyze"
	OpStyleImage = "style_image"
)

// MaxReferenceImages - reference/style images accepted per request
const MaxReferenceImages = 3

// GenerationRequest - one user intent, translated into one upstream call
type GenerationRequest struct {
	Task            TaskType
	BaseImage       []byte   // optional; raw encoded raster
	ReferenceImages [][]byte // ordered, at most MaxReferenceImages
	Instruction     string
	AspectRatio     string
	Resolution      ResolutionTier
	ProjectContext  string // optional external link, enables search grounding
}

// GenerationResult - image output (or text for analysis)
type GenerationResult struct {
	ImageData []byte
	MIMEType  string
	Text      string
	FileName  string // timestamped download suggestion
}

// Validate - input validation before any credit check or dispatch
func (r *GenerationRequest) Validate() error {
	if _, err := ParseTaskType(string(r.Task)); err != nil {
		return err
	}
	if len(r.ReferenceImages) > MaxReferenceImages {
		return fmt.Errorf("at most %d reference images allowed, got %d", MaxReferenceImages, len(r.ReferenceImages))
	}
	if r.BaseImage == nil && r.Instruction == "" {
		return fmt.Errorf("either a base image or an instruction is required")
	}
	switch r.Resolution {
	case "", Resolution1K, Resolution2K, Resolution4K:
	default:
		return fmt.Errorf("unknown resolution tier: %q", r.Resolution)
	}
	return nil
}

// OperationCost - credit cost for an operation covering itemCount inputs
func OperationCost(cfg *config.Config, operation string, itemCount int) int {
	if itemCount < 1 {
		itemCount = 1
	}
	switch operation {
	case OpUpscale:
		return cfg.CreditCostUpscale * itemCount
	case OpAnalyze:
		return cfg.CreditCostAnalysis * itemCount
	case OpStyleImage:
		return cfg.CreditCostStyleImage * itemCount
	default:
		return cfg.CreditCostGeneration * itemCount
	}
}
