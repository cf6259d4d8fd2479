package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/infrastructure/resilience"
)

// Client talks to an Ollama server hosting a vision-language chat model.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// Deadlines come from the caller's context; this only bounds stuck connections.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		executor:   executor,
	}
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Generate runs one non-streaming chat completion grounded in the request image.
func (c *Client) Generate(ctx context.Context, req domain.InferenceRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.Instruction) == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}

	payload := buildChatRequest(c.model, req)

	var answer string
	call := func(ctx context.Context) error {
		var response chatResponse
		if err := c.postJSON(ctx, "/api/chat", payload, &response, "chat"); err != nil {
			return normalizeOllamaError("ollama chat", err)
		}
		text := strings.TrimSpace(response.Message.Content)
		if text == "" {
			return domain.WrapError(domain.ErrTemporary, "ollama chat", fmt.Errorf("empty completion"))
		}
		answer = text
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama_chat", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ollama ping status: %s", resp.Status)
	}
	return nil
}
