package diffusion

import "strings"

// Prompt composition appends a per-operation quality suffix to the
// user's prompt and supplies a per-operation negative default when the
// caller sends none. The user's text always comes first so the model
// weights it highest.

const promptSeparator = ", "

var qualitySuffixes = map[Operation]string{
	OpGenerate: "highly detailed, sharp focus, professional photography, 8k",
	OpInpaint:  "seamless blending, consistent lighting, high detail",
	OpErase:    "clean background, natural continuation of surroundings, photorealistic",
	OpSketch:   "refined details, coherent composition, high quality render",
}

var negativeDefaults = map[Operation]string{
	OpGenerate: "ugly, deformed, blurry, low quality, watermark, text",
	OpInpaint:  "blurry, low quality, distorted, artifacts, bad anatomy",
	OpErase:    "object, person, artifact, hard edges, smudge, blur",
	OpSketch:   "messy lines, low quality, distorted proportions",
}

// ComposePrompt builds the final prompt for an operation. This is a
// pure function with no side effects.
func ComposePrompt(op Operation, userPrompt string) string {
	trimmed := strings.TrimSpace(userPrompt)
	suffix, ok := qualitySuffixes[op]
	if !ok || suffix == "" {
		return trimmed
	}
	if trimmed == "" {
		return suffix
	}
	return trimmed + promptSeparator + suffix
}

// ComposeNegative returns the negative prompt for an operation. A
// non-empty user value is used verbatim, otherwise the per-operation
// default applies. This is a pure function with no side effects.
func ComposeNegative(op Operation, userNegative string) string {
	trimmed := strings.TrimSpace(userNegative)
	if trimmed != "" {
		return trimmed
	}
	return negativeDefaults[op]
}
