package openai

import (
	"testing"

	"github.com/omegacore/agentrun/internal/loop"
	openailib "github.com/sashabaranov/go-openai"
)

func TestToOpenAIMessage_TextContent(t *testing.T) {
	msg := loop.ChatMessage{Role: loop.RoleUser, Content: loop.TextContent("hello there")}
	out := toOpenAIMessage(msg)

	if out.Role != openailib.ChatMessageRoleUser {
		t.Errorf("role = %q, want user", out.Role)
	}
	if out.Content != "hello there" {
		t.Errorf("content = %q", out.Content)
	}
	if len(out.MultiContent) != 0 {
		t.Errorf("expected no MultiContent for plain text, got %v", out.MultiContent)
	}
}

func TestToOpenAIMessage_PartsContentWithImage(t *testing.T) {
	msg := loop.ChatMessage{
		Role: loop.RoleUser,
		Content: loop.PartsContent{
			loop.TextPart("describe this"),
			loop.ImagePart{URL: "https://example.com/a.png", Detail: loop.DetailHigh},
		},
	}
	out := toOpenAIMessage(msg)

	if out.Content != "" {
		t.Errorf("expected empty Content for multi-part message, got %q", out.Content)
	}
	if len(out.MultiContent) != 2 {
		t.Fatalf("got %d parts, want 2", len(out.MultiContent))
	}
	if out.MultiContent[0].Type != openailib.ChatMessagePartTypeText || out.MultiContent[0].Text != "describe this" {
		t.Errorf("part 0 = %+v", out.MultiContent[0])
	}
	img := out.MultiContent[1]
	if img.Type != openailib.ChatMessagePartTypeImageURL {
		t.Fatalf("part 1 type = %v, want image_url", img.Type)
	}
	if img.ImageURL == nil || img.ImageURL.URL != "https://example.com/a.png" {
		t.Errorf("image url = %+v", img.ImageURL)
	}
	if img.ImageURL.Detail != openailib.ImageURLDetailHigh {
		t.Errorf("detail = %q, want high", img.ImageURL.Detail)
	}
}

func TestToOpenAIMessage_AssistantRole(t *testing.T) {
	msg := loop.ChatMessage{Role: loop.RoleAssistant, Content: loop.TextContent("ack")}
	out := toOpenAIMessage(msg)
	if out.Role != openailib.ChatMessageRoleAssistant {
		t.Errorf("role = %q, want assistant", out.Role)
	}
}
