package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"adaptivememory/internal/config"
	"adaptivememory/internal/observability"
	"adaptivememory/internal/resilience"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// HTTPProvider calls a REST embedding endpoint, wrapped in a circuit breaker
// and retry policy so a failing provider degrades the ranker rather than
// hanging requests.
type HTTPProvider struct {
	cfg      config.EmbeddingConfig
	client   *http.Client
	upstream *resilience.Upstream
	retry    resilience.Config
}

func NewHTTPProvider(cfg config.EmbeddingConfig) *HTTPProvider {
	retry := resilience.DefaultConfig("embedding-provider")
	if cfg.Timeout > 0 {
		retry.CallTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &HTTPProvider{
		cfg:      cfg,
		client:   observability.NewHTTPClient(nil),
		upstream: resilience.New(retry),
		retry:    retry,
	}
}

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}
	var result [][]float32
	err := p.upstream.Call(ctx, p.retry, func(cctx context.Context) error {
		out, err := p.doRequest(cctx, texts)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *HTTPProvider) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedReq{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}
	url := p.cfg.BaseURL + p.cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	if p.cfg.APIHeader != "" && req.Header.Get(p.cfg.APIHeader) == "" {
		if p.cfg.APIHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		} else {
			req.Header.Set(p.cfg.APIHeader, p.cfg.APIKey)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding endpoint %s: %s", resp.Status, string(raw))
	}
	var er embedResp
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(er.Data), len(texts))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}
