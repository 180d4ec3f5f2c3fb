package workspace

import "strings"

// PromptData holds the per-user values substituted into the system
// prompt template.
type PromptData struct {
	Persona       string
	Memory        string
	UserName      string
	Language      string
	CompanionName string
	CurrentModel  string
}

// RenderSystemPrompt substitutes placeholders into the variant template.
// {{persona}} is replaced first: personas themselves may contain
// {{user_name}} and friends, and those must resolve in the same pass.
func RenderSystemPrompt(vc VariantConfig, data PromptData) string {
	persona := data.Persona
	if persona == "" {
		persona = vc.Persona
	}
	companion := data.CompanionName
	if companion == "" {
		companion = vc.CompanionName
	}
	userName := data.UserName
	if userName == "" {
		userName = "Friend"
	}
	language := data.Language
	if language == "" {
		language = "en"
	}

	prompt := strings.ReplaceAll(vc.Template, "{{persona}}", persona)
	prompt = strings.ReplaceAll(prompt, "{{memory}}", data.Memory)
	prompt = strings.ReplaceAll(prompt, "{{user_name}}", userName)
	prompt = strings.ReplaceAll(prompt, "{{language}}", language)
	prompt = strings.ReplaceAll(prompt, "{{companion_name}}", companion)
	prompt = strings.ReplaceAll(prompt, "{{current_model}}", data.CurrentModel)
	return prompt
}
