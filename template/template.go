// Package template implements the Chat template external interface
// (spec.md §6): rendering a message list into the flat prompt string the
// tokenizer consumes, with the two named variants selected by model
// directory name.
package template

import "strings"

// Role is a chat message's speaker, matching the dialog parity spec.md §9
// describes (even=user, odd=assistant), plus the optional leading system
// message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn rendered by a Template.
type Message struct {
	Role    Role
	Content string
}

// Template is spec.md §6's consumed Chat template interface.
type Template interface {
	Render(messages []Message, bos, eos string, addGenerationPrompt bool) string
}

// Detect selects a Template by directory name substring match, per spec.md
// §6: "tinyllama" (case-insensitive) anywhere in modelDir selects the
// TinyLlama template; otherwise the CJK-style template is used.
func Detect(modelDir string) Template {
	if strings.Contains(strings.ToLower(modelDir), "tinyllama") {
		return TinyLlama{}
	}
	return CJK{}
}

// TinyLlama renders the `<|system|>/<|user|>/<|assistant|>` template.
type TinyLlama struct{}

func (TinyLlama) Render(messages []Message, bos, eos string, addGenerationPrompt bool) string {
	var sb strings.Builder
	sb.WriteString(bos)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			sb.WriteString("<|system|>\n")
		case RoleUser:
			sb.WriteString("<|user|>\n")
		case RoleAssistant:
			sb.WriteString("<|assistant|>\n")
		}
		sb.WriteString(m.Content)
		sb.WriteString(eos)
		sb.WriteByte('\n')
	}
	if addGenerationPrompt {
		sb.WriteString("<|assistant|>\n")
	}
	return sb.String()
}

// CJK renders the `<用户>…<AI>` template used for every model whose
// directory name doesn't match the TinyLlama family.
type CJK struct{}

func (CJK) Render(messages []Message, bos, eos string, addGenerationPrompt bool) string {
	var sb strings.Builder
	sb.WriteString(bos)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			sb.WriteString("<系统>")
		case RoleUser:
			sb.WriteString("<用户>")
		case RoleAssistant:
			sb.WriteString("<AI>")
		}
		sb.WriteString(m.Content)
		sb.WriteString(eos)
	}
	if addGenerationPrompt {
		sb.WriteString("<AI>")
	}
	return sb.String()
}
