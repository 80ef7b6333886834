package chat

import (
	"strings"
	"testing"
)

func TestBuildSystemPromptDefaults(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{SiteName: "Mug World", CommerceEnabled: true})

	if !strings.Contains(prompt, "shopping assistant for Mug World") {
		t.Errorf("expected commerce persona with site name, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "no human handoff") {
		t.Errorf("expected the handoff-disabled instruction")
	}
	if !strings.Contains(prompt, "same language the customer writes in") {
		t.Errorf("expected the mirror-language instruction")
	}
	if strings.Contains(prompt, "Frequently asked questions") {
		t.Errorf("FAQ block must be omitted when no FAQs are configured")
	}
}

func TestBuildSystemPromptCustomPersonaWins(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{
		SiteName: "Mug World",
		Persona:  "You are Captain Mug, a pirate barista.",
	})
	if !strings.HasPrefix(prompt, "You are Captain Mug") {
		t.Errorf("custom persona must lead the prompt, got:\n%s", prompt)
	}
	if strings.Contains(prompt, "shopping assistant") {
		t.Errorf("default persona must not appear alongside a custom one")
	}
}

func TestBuildSystemPromptFAQsVerbatim(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{
		SiteName: "Mug World",
		FAQs: []FAQ{
			{Question: "Do you ship to Mars?", Answer: "Not yet."},
			{Question: "Returns?", Answer: "30 days."},
		},
	})
	if !strings.Contains(prompt, "Q: Do you ship to Mars?\nA: Not yet.") {
		t.Errorf("expected first FAQ verbatim")
	}
	faqIdx := strings.Index(prompt, "Do you ship to Mars?")
	secondIdx := strings.Index(prompt, "Returns?")
	if faqIdx > secondIdx {
		t.Errorf("FAQs must keep their configured order")
	}
}

func TestBuildSystemPromptFixedLanguage(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{SiteName: "MundoTaza", Language: "Spanish"})
	if !strings.Contains(prompt, "Always answer in Spanish") {
		t.Errorf("expected the fixed-language instruction, got:\n%s", prompt)
	}
}

func TestBuildSystemPromptHandoffEnabled(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{SiteName: "Mug World", HandoffEnabled: true})
	if !strings.Contains(prompt, "handoff tool") {
		t.Errorf("expected the handoff instruction, got:\n%s", prompt)
	}
}

func TestBuildSystemPromptDeterministic(t *testing.T) {
	cfg := PromptConfig{
		SiteName: "Mug World", CommerceEnabled: true, HandoffEnabled: true,
		Language: "French",
		FAQs:     []FAQ{{Question: "q", Answer: "a"}},
	}
	if BuildSystemPrompt(cfg) != BuildSystemPrompt(cfg) {
		t.Error("prompt assembly must be deterministic")
	}
}
