package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaEncoder calls Ollama's /api/embed with a whole batch per request.
type OllamaEncoder struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// OllamaLoader returns a Loader that treats its location as a model name.
func OllamaLoader(baseURL string, client *http.Client) Loader {
	return func(_ context.Context, model string) (Encoder, error) {
		if strings.TrimSpace(baseURL) == "" {
			return nil, errors.New("ollama base url not set")
		}
		return NewOllamaEncoder(baseURL, model, client), nil
	}
}

func NewOllamaEncoder(baseURL, model string, client *http.Client) *OllamaEncoder {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OllamaEncoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
	}
}

func (e *OllamaEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create embed request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama embed failed: %w", err)
	}
	defer resp.Body.Close()

	var body ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode embed response failed (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed returned status %d: %s", resp.StatusCode, body.Error)
	}
	if len(body.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(body.Embeddings), len(texts))
	}
	return body.Embeddings, nil
}
