// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPCompletionClient calls a remote text-completion service. Any non-2xx
// response is a failure; the evaluator handles it with the fallback.
type HTTPCompletionClient struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPCompletionClient creates a completion client. An empty url yields
// nil so the evaluator runs fallback-only.
func NewHTTPCompletionClient(url, apiKey string, client *http.Client) *HTTPCompletionClient {
	if url == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCompletionClient{url: url, apiKey: apiKey, client: client}
}

type completionRequest struct {
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Completion string `json:"completion"`
}

// Complete sends the prompt and returns the raw completion text.
func (c *HTTPCompletionClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	// Local or keyless endpoints simply get no Authorization header.
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("completion service returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Completion == "" {
		// Some backends return bare text instead of a JSON envelope.
		return string(raw), nil
	}
	return parsed.Completion, nil
}
