package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSystemPrompt(t *testing.T) {
	vc := VariantConfig{
		Template:      "You are {{companion_name}}. {{persona}} Memory: {{memory}} Lang: {{language}} Model: {{current_model}}",
		Persona:       "Friendly persona.",
		CompanionName: "Abigail",
	}

	got := RenderSystemPrompt(vc, PromptData{
		Memory:       "- likes tea",
		UserName:     "Alex",
		Language:     "de",
		CurrentModel: "llama3.1:70b",
	})

	assert.Equal(t, "You are Abigail. Friendly persona. Memory: - likes tea Lang: de Model: llama3.1:70b", got)
}

func TestRenderResolvesPlaceholdersInsidePersona(t *testing.T) {
	// Personas may themselves reference the user; persona substitution
	// runs first so those resolve too.
	vc := VariantConfig{
		Template:      "{{persona}}",
		Persona:       "You call {{user_name}} by name and answer in {{language}}.",
		CompanionName: "Abigail",
	}

	got := RenderSystemPrompt(vc, PromptData{UserName: "Sam", Language: "fr"})
	assert.Equal(t, "You call Sam by name and answer in fr.", got)
}

func TestRenderDefaults(t *testing.T) {
	vc := VariantConfig{
		Template:      "{{companion_name}} greets {{user_name}} ({{language}}).",
		CompanionName: "Abigail",
	}

	got := RenderSystemPrompt(vc, PromptData{})
	assert.Equal(t, "Abigail greets Friend (en).", got)
}

func TestRenderOverridesPersonaAndCompanion(t *testing.T) {
	vc := VariantConfig{
		Template:      "{{companion_name}}: {{persona}}",
		Persona:       "default persona",
		CompanionName: "Abigail",
	}

	got := RenderSystemPrompt(vc, PromptData{
		Persona:       "custom persona",
		CompanionName: "Luna",
	})
	assert.Equal(t, "Luna: custom persona", got)
}
