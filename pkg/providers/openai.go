// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elajbot/elaj/pkg/config"
)

const defaultOpenAIAPIBase = "https://api.openai.com/v1"

// OpenAIAssistant drives the OpenAI Assistants API: each Submit creates a
// fresh thread seeded with the assembled context and starts a run on the
// configured assistant.
type OpenAIAssistant struct {
	apiKey      string
	apiBase     string
	assistantID string
	httpClient  *http.Client
}

func NewOpenAIAssistant(apiKey, apiBase, assistantID, proxy string) *OpenAIAssistant {
	client := &http.Client{Timeout: 60 * time.Second}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	if apiBase == "" {
		apiBase = defaultOpenAIAPIBase
	}
	return &OpenAIAssistant{
		apiKey:      apiKey,
		apiBase:     strings.TrimRight(apiBase, "/"),
		assistantID: assistantID,
		httpClient:  client,
	}
}

func (o *OpenAIAssistant) Submit(ctx context.Context, input string) (JobHandle, error) {
	var thread struct {
		ID string `json:"id"`
	}
	err := o.apiCall(ctx, http.MethodPost, "/threads", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": input}},
	}, &thread)
	if err != nil {
		return JobHandle{}, fmt.Errorf("create thread: %w", err)
	}

	var run struct {
		ID string `json:"id"`
	}
	err = o.apiCall(ctx, http.MethodPost, "/threads/"+thread.ID+"/runs", map[string]interface{}{
		"assistant_id": o.assistantID,
	}, &run)
	if err != nil {
		return JobHandle{}, fmt.Errorf("create run: %w", err)
	}

	return JobHandle{ThreadID: thread.ID, RunID: run.ID}, nil
}

func (o *OpenAIAssistant) Poll(ctx context.Context, handle JobHandle) (RunStatus, error) {
	var run struct {
		Status string `json:"status"`
	}
	err := o.apiCall(ctx, http.MethodGet, "/threads/"+handle.ThreadID+"/runs/"+handle.RunID, nil, &run)
	if err != nil {
		return StatusFailed, fmt.Errorf("retrieve run: %w", err)
	}

	switch run.Status {
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "cancelled", "cancelling":
		return StatusCancelled, nil
	case "expired":
		return StatusExpired, nil
	default:
		// queued, in_progress, requires_action all mean keep waiting.
		return StatusPending, nil
	}
}

func (o *OpenAIAssistant) Fetch(ctx context.Context, handle JobHandle) (string, error) {
	var msgs struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text *struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	err := o.apiCall(ctx, http.MethodGet,
		"/threads/"+handle.ThreadID+"/messages?order=desc&limit=1", nil, &msgs)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	for _, m := range msgs.Data {
		if m.Role != "assistant" {
			continue
		}
		for _, part := range m.Content {
			if part.Type == "text" && part.Text != nil {
				return part.Text.Value, nil
			}
		}
	}
	return "", fmt.Errorf("run %s completed without assistant text", handle.RunID)
}

func (o *OpenAIAssistant) apiCall(ctx context.Context, method, path string, payload, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.apiBase+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OpenAI API request failed:\n  Status: %d\n  Body:   %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// CreateBackend builds the configured assistant backend.
func CreateBackend(cfg *config.Config) (AssistantBackend, error) {
	apiKey := strings.TrimSpace(cfg.Providers.OpenAI.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set providers.openai.api_key or ELAJ_PROVIDERS_OPENAI_API_KEY)")
	}
	assistantID := strings.TrimSpace(cfg.Providers.OpenAI.AssistantID)
	if assistantID == "" {
		return nil, fmt.Errorf("OpenAI assistant id is required (set providers.openai.assistant_id or ELAJ_PROVIDERS_OPENAI_ASSISTANT_ID)")
	}

	return NewOpenAIAssistant(apiKey, cfg.GetAPIBase(), assistantID, ""), nil
}
