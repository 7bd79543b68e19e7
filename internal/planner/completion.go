package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

// HTTPCompletion is a CompletionClient backed by an OpenAI-compatible
// chat completions endpoint. JSON mode is requested, and the response
// content is unmarshalled straight into the caller's target.
type HTTPCompletion struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewHTTPCompletion creates a completion client. endpoint is the API
// base (e.g. https://api.openai.com/v1); apiKey may be empty for local
// servers that do not check it.
func NewHTTPCompletion(endpoint, apiKey, model string, timeout time.Duration) *HTTPCompletion {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPCompletion{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Model          string               `json:"model"`
	Messages       []models.ChatMessage `json:"messages"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
	Temperature    float64              `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *HTTPCompletion) CompleteJSON(ctx context.Context, messages []models.ChatMessage, out any) error {
	body, _ := json.Marshal(completionRequest{
		Model:          c.model,
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})

	url := c.endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("completion: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("completion: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("completion: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp completionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("completion: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("completion: empty response")
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("completion: parse structured output: %w", err)
	}
	return nil
}

// stripCodeFence removes a surrounding markdown fence some models emit
// even in JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
