package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	remoteMaxRetries   = 3
	remoteInitialDelay = 500 * time.Millisecond
)

// RemoteEmbedder talks to an Ollama-compatible /api/embed endpoint. It uses
// nomic task prefixes: "search_document: " for indexing, "search_query: "
// for queries. Document text only reaches it through Service.docEmbedder,
// which requires the subject's remote_inference grant; the pipeline never
// requires it to function.
type RemoteEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewRemoteEmbedder creates a remote embedding client.
func NewRemoteEmbedder(baseURL, model string) *RemoteEmbedder {
	return &RemoteEmbedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *RemoteEmbedder) Name() string { return "remote:" + e.model }

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *RemoteEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, "search_document: "+text)
}

func (e *RemoteEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, "search_query: "+text)
}

func (e *RemoteEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < remoteMaxRetries; attempt++ {
		if attempt > 0 {
			delay := remoteInitialDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("embed request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read embed response: %w", err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("embed endpoint returned %d", resp.StatusCode)
			continue
		}

		var parsed embedResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			lastErr = fmt.Errorf("decode embed response: %w", err)
			continue
		}
		if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
			lastErr = fmt.Errorf("embed endpoint returned no vector")
			continue
		}
		return normalizeVec(parsed.Embeddings[0]), nil
	}
	return nil, lastErr
}
