package ollama

import (
	"github.com/kirillkom/docsense/internal/core/domain"
)

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// buildChatRequest lays the conversation out as: the image with the opening
// instruction, the prior turns, then the new prompt. Without an instruction
// the image rides on the prompt itself.
func buildChatRequest(model string, req domain.InferenceRequest) chatRequest {
	var images []string
	if !req.Features.Empty() {
		images = []string{req.Features.Encoded}
	}

	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.Instruction != "" {
		messages = append(messages, chatMessage{Role: "user", Content: req.Instruction, Images: images})
		images = nil
	}
	for _, m := range req.History {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Text})
	}
	if req.Prompt != "" {
		messages = append(messages, chatMessage{Role: "user", Content: req.Prompt, Images: images})
	}

	options := map[string]any{"temperature": 0}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	return chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	}
}
