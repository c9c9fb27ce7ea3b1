package render

import "strings"

// geometryLock - the contract shared by every task template: the output must
// stay pixel-overlayable on the input.
const geometryLock = "[GEOMETRY LOCK - ABSOLUTELY CRITICAL]\n" +
	"The output image MUST be pixel-overlayable on the input render.\n" +
	"✓ Keep the exact camera position, focal length, and viewing angle\n" +
	"✓ Keep every building edge, opening, and volume exactly where it is\n" +
	"✓ Keep the horizon line and all vanishing points unchanged\n" +
	"✓ Modify ONLY surface appearance: materials, lighting, vegetation, entourage\n" +
	"❌ DO NOT move, add, or remove any architectural element\n" +
	"❌ DO NOT crop, rotate, or reframe the composition\n" +
	"❌ DO NOT change proportions or perspective\n\n"

// enhancementDirectives - shared material/lighting block appended after the
// task-specific template.
const enhancementDirectives = "[MATERIAL & LIGHTING ENHANCEMENT]\n" +
	"✓ Replace flat CG shading with physically plausible materials\n" +
	"✓ Add realistic global illumination, soft shadows, and ambient occlusion\n" +
	"✓ Introduce natural imperfections: weathering, reflections, subtle grime\n" +
	"✓ Match a professional architectural photography look (35mm, f/8, golden hour unless stated otherwise)\n\n"

// taskTemplates - fixed system instruction per task type
var taskTemplates = map[TaskType]string{
	TaskPerspective: "[TASK - PERSPECTIVE RENDER]\n" +
		"Transform this 3D perspective render of a building into a photorealistic photograph.\n" +
		"Treat the input as a finished design: the architecture is final, only its depiction improves.\n\n",
	TaskFacade: "[TASK - FACADE ELEVATION]\n" +
		"Transform this facade elevation render into a photorealistic straight-on photograph.\n" +
		"Preserve the orthographic reading of the elevation; depth cues may appear only in materials and shadows.\n\n",
	TaskMasterplan: "[TASK - MASTERPLAN / AERIAL]\n" +
		"Transform this masterplan or aerial render into a photorealistic aerial photograph.\n" +
		"Keep every block, road, and landscape figure in place; enrich ground textures, tree canopies, water, and traffic.\n\n",
	TaskMaterial: "[TASK - MATERIAL STUDY]\n" +
		"Re-render the surfaces in this image with the requested material palette at photographic fidelity.\n" +
		"Material changes apply to surfaces only; every form stays untouched.\n\n",
	TaskTechnicalDetail: "[TASK - TECHNICAL DETAIL]\n" +
		"Transform this construction detail render into a photorealistic close-up photograph of the built assembly.\n" +
		"Every junction, fastener, and layer shown in the input must remain legible in the output.\n\n",
}

// defaultInstructions - fallback sentence when the user leaves the prompt empty
var defaultInstructions = map[TaskType]string{
	TaskPerspective:     "Enhance this perspective into a photorealistic architectural photograph with natural daylight.",
	TaskFacade:          "Enhance this facade into a photorealistic elevation photograph with realistic materials and shadows.",
	TaskMasterplan:      "Enhance this masterplan into a photorealistic aerial photograph with rich landscape detail.",
	TaskMaterial:        "Apply a realistic material finish to all surfaces while keeping the design unchanged.",
	TaskTechnicalDetail: "Render this technical detail as a photorealistic construction photograph.",
}

// BuildPrompt - deterministic prompt assembly: task template + geometry lock +
// enhancement directives + user instruction (or the task default) + optional
// project context reference.
func BuildPrompt(task TaskType, userInstruction string, projectContext string) string {
	var sb strings.Builder

	template, ok := taskTemplates[task]
	if !ok {
		template = taskTemplates[TaskPerspective]
	}
	sb.WriteString(template)
	sb.WriteString(geometryLock)
	sb.WriteString(enhancementDirectives)

	instruction := strings.TrimSpace(userInstruction)
	if instruction == "" {
		instruction = defaultInstructions[task]
	}
	sb.WriteString("[INSTRUCTION]\n")
	sb.WriteString(instruction)

	if projectContext != "" {
		sb.WriteString("\n\n[PROJECT CONTEXT]\n")
		sb.WriteString("Additional project reference: ")
		sb.WriteString(projectContext)
	}

	return sb.String()
}

// DefaultInstruction - exposed for the result payload and the UI echo
func DefaultInstruction(task TaskType) string {
	return defaultInstructions[task]
}

// stylePromptPreamble - style-image synthesis is text-to-image; no geometry to lock
const stylePromptPreamble = "[TASK - STYLE REFERENCE IMAGE]\n" +
	"Generate a single photographic style reference image for architectural visualization.\n" +
	"✓ Professional photography look, coherent lighting and palette\n" +
	"❌ No text, no watermarks, no collage layouts\n\n[STYLE]\n"

// BuildStylePrompt - prompt for a style/reference image synthesis call
func BuildStylePrompt(description string) string {
	return stylePromptPreamble + strings.TrimSpace(description)
}

// upscalePrompt - fixed instruction for the upscale operation
const upscalePrompt = "[TASK - UPSCALE]\n" +
	"Reproduce this exact image at higher resolution and fidelity.\n" +
	"✓ Sharpen materials, edges, and fine detail\n" +
	"❌ Do not alter composition, geometry, color grading, or content\n"

// UpscalePrompt - exposed for the upscale pipeline
func UpscalePrompt() string {
	return upscalePrompt
}
