package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPromptContainsGeometryLock(t *testing.T) {
	tasks := []TaskType{TaskPerspective, TaskFacade, TaskMasterplan, TaskMaterial, TaskTechnicalDetail}

	for _, task := range tasks {
		prompt := BuildPrompt(task, "make it rainy", "")
		assert.Contains(t, prompt, "[GEOMETRY LOCK", "task %s must carry the geometry lock", task)
		assert.Contains(t, prompt, "[MATERIAL & LIGHTING ENHANCEMENT]")
		assert.Contains(t, prompt, "make it rainy")
	}
}

func TestBuildPromptTaskTemplates(t *testing.T) {
	assert.Contains(t, BuildPrompt(TaskPerspective, "x", ""), "[TASK - PERSPECTIVE RENDER]")
	assert.Contains(t, BuildPrompt(TaskFacade, "x", ""), "[TASK - FACADE ELEVATION]")
	assert.Contains(t, BuildPrompt(TaskMasterplan, "x", ""), "[TASK - MASTERPLAN / AERIAL]")
	assert.Contains(t, BuildPrompt(TaskMaterial, "x", ""), "[TASK - MATERIAL STUDY]")
	assert.Contains(t, BuildPrompt(TaskTechnicalDetail, "x", ""), "[TASK - TECHNICAL DETAIL]")
}

func TestBuildPromptDefaultInstruction(t *testing.T) {
	for task, want := range defaultInstructions {
		prompt := BuildPrompt(task, "", "")
		assert.Contains(t, prompt, want, "empty instruction must fall back to the task default for %s", task)

		prompt = BuildPrompt(task, "   ", "")
		assert.Contains(t, prompt, want, "whitespace-only instruction must fall back for %s", task)
	}
}

func TestBuildPromptProjectContext(t *testing.T) {
	withContext := BuildPrompt(TaskPerspective, "enhance", "https://example.com/project-brief")
	assert.Contains(t, withContext, "[PROJECT CONTEXT]")
	assert.Contains(t, withContext, "https://example.com/project-brief")

	withoutContext := BuildPrompt(TaskPerspective, "enhance", "")
	assert.NotContains(t, withoutContext, "[PROJECT CONTEXT]")
}

func TestBuildPromptSectionOrder(t *testing.T) {
	prompt := BuildPrompt(TaskFacade, "brick facade", "")

	taskIdx := strings.Index(prompt, "[TASK - FACADE ELEVATION]")
	lockIdx := strings.Index(prompt, "[GEOMETRY LOCK")
	enhanceIdx := strings.Index(prompt, "[MATERIAL & LIGHTING ENHANCEMENT]")
	instrIdx := strings.Index(prompt, "[INSTRUCTION]")

	assert.True(t, taskIdx >= 0 && taskIdx < lockIdx, "task template comes first")
	assert.True(t, lockIdx < enhanceIdx, "geometry lock precedes enhancement directives")
	assert.True(t, enhanceIdx < instrIdx, "instruction comes last")
}

func TestBuildStylePrompt(t *testing.T) {
	prompt := BuildStylePrompt("  scandinavian minimalism, pale wood  ")
	assert.Contains(t, prompt, "[STYLE]")
	assert.True(t, strings.HasSuffix(prompt, "scandinavian minimalism, pale wood"), "description must be trimmed")
	assert.NotContains(t, prompt, "[GEOMETRY LOCK", "text-to-image style prompts have no geometry to lock")
}

func TestUpscalePromptFixed(t *testing.T) {
	prompt := UpscalePrompt()
	assert.Contains(t, prompt, "[TASK - UPSCALE]")
	assert.Contains(t, prompt, "higher resolution")
}

func TestParseTaskType(t *testing.T) {
	for _, valid := range []string{"perspective", "facade", "masterplan", "material", "technical_detail"} {
		task, err := ParseTaskType(valid)
		assert.NoError(t, err)
		assert.Equal(t, TaskType(valid), task)
	}

	_, err := ParseTaskType("interior")
	assert.Error(t, err)
	_, err = ParseTaskType("")
	assert.Error(t, err)
}
