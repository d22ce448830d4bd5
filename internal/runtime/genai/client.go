// Package genai adapts the generative-text API. It walks an ordered list of
// API keys crossed with an ordered list of model identifiers, streams the
// first successful generation straight to the caller, and never caches:
// generation is neither idempotent nor deterministic.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/d3vh/omnifeed/internal/config"
)

// ErrExhausted reports that every credential/model combination failed.
var ErrExhausted = errors.New("genai: all credential/model combinations failed")

// TerminalMarker is written into the partial stream when the fallback chain
// is exhausted. By that point the response status is already committed, so an
// in-band marker is the only error channel left.
const TerminalMarker = "\n[generation failed: all upstream options exhausted]"

type attempt struct {
	key   string
	index int
	model string
}

// Client drives the fallback chain over a shared HTTP client.
type Client struct {
	baseURL   string
	maxTokens int
	attempts  []attempt
	http      *http.Client
	logger    *slog.Logger
}

// New wires the generative adapter. The attempt order is fixed at
// construction: all models under the first key, then all models under the
// second, and so on.
func New(cfg config.GenaiConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	attempts := make([]attempt, 0, len(cfg.APIKeys)*len(cfg.Models))
	for i, key := range cfg.APIKeys {
		for _, model := range cfg.Models {
			attempts = append(attempts, attempt{key: key, index: i, model: model})
		}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		maxTokens: maxTokens,
		attempts:  attempts,
		http:      httpClient,
		logger:    logger.With(slog.String("adapter", "genai")),
	}
}

// Enabled reports whether at least one credential/model pair is configured.
func (c *Client) Enabled() bool {
	return len(c.attempts) > 0
}

type generateRequest struct {
	Contents []content `json:"contents"`
	Config   genConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type genConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens"`
}

// Generate streams a completion for prompt into w, chunk by chunk in arrival
// order. Combinations are tried in fixed order; the first one whose response
// opens successfully wins and no later combination is attempted. Nothing is
// written to w until a combination succeeds, so failed attempts cannot leak
// partial output. When every combination fails the terminal marker is written
// and ErrExhausted returned.
func (c *Client) Generate(ctx context.Context, prompt string, w io.Writer) error {
	if !c.Enabled() {
		_, _ = io.WriteString(w, TerminalMarker)
		return ErrExhausted
	}

	for _, att := range c.attempts {
		started := time.Now()
		err := c.stream(ctx, att, prompt, w)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		var relayErr *relayError
		if errors.As(err, &relayErr) {
			// Bytes already reached the caller; falling back now would splice
			// two generations together.
			c.logger.Error("generation stream broke mid-relay",
				slog.String("model", att.model), slog.Any("error", relayErr.err))
			return relayErr.err
		}
		c.logger.Warn("generation attempt failed, advancing",
			slog.Int("key_index", att.index),
			slog.String("model", att.model),
			slog.Duration("took", time.Since(started)),
			slog.Any("error", err))
	}

	_, _ = io.WriteString(w, TerminalMarker)
	return ErrExhausted
}

// relayError marks a failure that happened after output was already relayed.
type relayError struct {
	err error
}

func (e *relayError) Error() string { return e.err.Error() }
func (e *relayError) Unwrap() error { return e.err }

func (c *Client) stream(ctx context.Context, att attempt, prompt string, w io.Writer) error {
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		Config:   genConfig{MaxOutputTokens: c.maxTokens},
	})
	if err != nil {
		return fmt.Errorf("genai: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, att.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("genai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", att.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("genai: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("genai: model %s status %d: %s", att.model, resp.StatusCode, bytes.TrimSpace(detail))
	}

	if err := relay(resp.Body, w); err != nil {
		return &relayError{err: fmt.Errorf("genai: relay: %w", err)}
	}
	return nil
}

// relay forwards upstream chunks to w as they arrive, flushing after each
// write so the transport pushes bytes out instead of buffering the stream.
func relay(r io.Reader, w io.Writer) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
