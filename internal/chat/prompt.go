package chat

import (
	"fmt"
	"strings"
)

// FAQ is a question/answer pair injected verbatim into the system prompt.
type FAQ struct {
	Question string `koanf:"question" json:"question"`
	Answer   string `koanf:"answer" json:"answer"`
}

// PromptConfig controls system prompt assembly.
type PromptConfig struct {
	SiteName string
	// Persona overrides the default assistant persona when set.
	Persona string
	// Language is empty to mirror the user's language, or a language name
	// the assistant must always answer in.
	Language        string
	HandoffEnabled  bool
	CommerceEnabled bool
	FAQs            []FAQ
}

// BuildSystemPrompt assembles the system prompt deterministically. Section
// order matters: persona, FAQ block, tool-output presentation rule, handoff
// instruction, language instruction.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	if cfg.Persona != "" {
		b.WriteString(cfg.Persona)
	} else {
		site := cfg.SiteName
		if site == "" {
			site = "this store"
		}
		if cfg.CommerceEnabled {
			fmt.Fprintf(&b, "You are a helpful shopping assistant for %s. "+
				"Help customers find products, answer questions about the catalog, "+
				"and check order status when asked.", site)
		} else {
			fmt.Fprintf(&b, "You are a helpful assistant for %s. "+
				"Answer visitors' questions about the site.", site)
		}
	}

	if len(cfg.FAQs) > 0 {
		b.WriteString("\n\nFrequently asked questions you should answer from directly:\n")
		for _, faq := range cfg.FAQs {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", faq.Question, faq.Answer)
		}
	}

	b.WriteString("\n\nWhen a tool result carries product data, the interface renders it " +
		"as rich cards. Introduce such results with a single short sentence and never " +
		"repeat prices, descriptions or other product fields in your own words.")

	if cfg.HandoffEnabled {
		b.WriteString("\n\nIf the customer asks for a human, or you cannot help after a " +
			"genuine attempt, collect their name, email and a short summary and use the " +
			"handoff tool to pass the conversation to the support team.")
	} else {
		b.WriteString("\n\nThere is no human handoff available. If you cannot help, say so " +
			"politely and suggest the store's regular contact channels.")
	}

	if cfg.Language != "" {
		fmt.Fprintf(&b, "\n\nAlways answer in %s, regardless of the language the customer writes in.", cfg.Language)
	} else {
		b.WriteString("\n\nAnswer in the same language the customer writes in.")
	}

	return b.String()
}
