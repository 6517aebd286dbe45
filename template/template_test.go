package template

import (
	"strings"
	"testing"
)

func TestDetectMatchesTinyLlamaCaseInsensitively(t *testing.T) {
	for _, dir := range []string{"models/TinyLlama-1.1B", "models/tinyllama", "/data/TINYLLAMA-chat"} {
		if _, ok := Detect(dir).(TinyLlama); !ok {
			t.Errorf("Detect(%q) did not select TinyLlama", dir)
		}
	}
}

func TestDetectFallsBackToCJK(t *testing.T) {
	if _, ok := Detect("models/qwen-7b").(CJK); !ok {
		t.Errorf("Detect(non-tinyllama dir) did not select CJK")
	}
}

func TestTinyLlamaRenderIncludesRoleMarkersAndBosEos(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hi"},
	}
	got := TinyLlama{}.Render(msgs, "<s>", "</s>", true)

	if !strings.HasPrefix(got, "<s>") {
		t.Errorf("Render does not start with bos: %q", got)
	}
	for _, want := range []string{"<|system|>\n", "be terse</s>", "<|user|>\n", "hi</s>", "<|assistant|>\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("Render output %q missing %q", got, want)
		}
	}
}

func TestTinyLlamaRenderOmitsGenerationPromptWhenNotRequested(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	got := TinyLlama{}.Render(msgs, "<s>", "</s>", false)
	if strings.Count(got, "<|assistant|>\n") != 0 {
		t.Errorf("Render with addGenerationPrompt=false should not emit a trailing assistant marker, got %q", got)
	}
}

func TestCJKRenderUsesCJKRoleMarkers(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "S"},
		{Role: RoleUser, Content: "U"},
		{Role: RoleAssistant, Content: "A"},
	}
	got := CJK{}.Render(msgs, "<bos>", "<eos>", true)
	want := "<bos>" + "<系统>" + "S" + "<eos>" + "<用户>" + "U" + "<eos>" + "<AI>" + "A" + "<eos>" + "<AI>"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}
